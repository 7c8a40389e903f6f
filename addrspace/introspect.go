package addrspace

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/slices"

	"github.com/drmkit/gemkit/gem"
)

// IntrospectJSON implements Allocator.IntrospectJSON. Full mode appends
// every live record, ordered by offset.
func (a *RelocAllocator) IntrospectJSON(json jwriter.ObjectState, full bool) {
	stats := a.Statistics()

	json.Name("Backend").String(a.Backend().String())
	json.Name("Start").String(fmt.Sprintf("%#x", stats.Start))
	json.Name("End").String(fmt.Sprintf("%#x", stats.End))
	json.Name("Cursor").String(fmt.Sprintf("%#x", stats.Cursor))
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("AllocatedBytes").Int(int(stats.AllocationBytes))
	json.Name("Reservations").Int(stats.ReservationCount)

	if !full {
		return
	}

	type recordRow struct {
		handle gem.Handle
		offset uint64
		size   uint64
	}
	rows := make([]recordRow, 0, stats.AllocationCount)
	a.records.Iter(func(handle gem.Handle, record *allocationRecord) bool {
		rows = append(rows, recordRow{handle: handle, offset: record.offset, size: record.size})
		return false
	})
	slices.SortFunc(rows, func(x, y recordRow) bool {
		return x.offset < y.offset
	})

	arrayState := json.Name("Records").Array()
	defer arrayState.End()

	for _, row := range rows {
		obj := arrayState.Object()

		obj.Name("Handle").Int(int(row.handle))
		obj.Name("Offset").String(fmt.Sprintf("%#x", row.offset))
		obj.Name("Size").Int(int(row.size))

		obj.End()
	}
}

// DumpString renders an allocator's introspection dump as a JSON string,
// for logging and failure messages.
func DumpString(allocator Allocator, full bool) string {
	writer := jwriter.NewWriter()

	obj := writer.Object()
	allocator.IntrospectJSON(obj, full)
	obj.End()

	err := writer.Error()
	if err != nil {
		return fmt.Sprintf("allocator dump failed: %+v", err)
	}
	return string(writer.Bytes())
}
