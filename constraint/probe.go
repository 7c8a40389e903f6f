package constraint

import (
	"encoding/binary"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/exp/slog"

	"github.com/drmkit/gemkit/gem"
	"github.com/drmkit/gemkit/memutils"
)

const (
	// maxProbeOffset bounds the start-offset search. Hardware demanding a
	// start offset beyond 1<<48 is outside the addressable range this
	// harness models and cannot be characterized.
	maxProbeOffset uint64 = 1 << 48

	// maxProbeAlignment bounds the alignment search.
	maxProbeAlignment uint64 = 2 << 30
)

// Prober discovers placement constraints a device does not advertise, by
// submitting trial command buffers. Implementations block on hardware I/O.
type Prober interface {
	// MinStartOffset finds the smallest offset at which the region accepts
	// a pinned object.
	MinStartOffset(device gem.Device, region gem.RegionID) (uint64, error)

	// MinAlignment finds the smallest placement alignment required between
	// a command stream in region1 and an object in region2. batchOffset is
	// region1's previously discovered minimum start offset; the command
	// stream is pinned there.
	MinAlignment(device gem.Device, region1, region2 gem.RegionID, batchOffset uint64) (uint64, error)
}

// HardwareProber runs constraint probes against live hardware. One probe
// performs several blocking command submissions; cache results rather than
// re-running them.
type HardwareProber struct {
	logger *slog.Logger
}

var _ Prober = &HardwareProber{}

// NewHardwareProber creates a HardwareProber logging through logger.
func NewHardwareProber(logger *slog.Logger) *HardwareProber {
	return &HardwareProber{logger: logger}
}

// MinStartOffset probes the smallest pinned offset region accepts, trying
// offset 0, then one page, then doubling, until the device accepts the
// submission. Rejections drive the search; any other submission error
// aborts it. Candidates beyond maxProbeOffset panic: that hardware cannot
// be characterized.
func (p *HardwareProber) MinStartOffset(device gem.Device, region gem.RegionID) (offset uint64, err error) {
	p.logger.Debug("HardwareProber::MinStartOffset",
		slog.String("region", region.String()))

	ctx, destroyCtx, err := p.probeContext(device)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = combineCleanup(err, destroyCtx())
	}()

	handle, err := p.createProbeObject(device, region)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = combineCleanup(err, device.DestroyBuffer(handle))
	}()

	err = p.writeBatchTerminator(device, handle)
	if err != nil {
		return 0, err
	}

	obj := gem.ExecObject{Handle: handle, Flags: gem.ExecPinned}
	for {
		submitErr := device.Submit([]gem.ExecObject{obj}, ctx)
		if submitErr == nil {
			p.logger.Debug("HardwareProber::MinStartOffset found",
				slog.String("region", region.String()),
				slog.Uint64("offset", obj.Offset))
			return obj.Offset, nil
		}
		if !gem.IsRejected(submitErr) {
			return 0, errors.Wrapf(submitErr, "probe submission failed at offset %#x in region %s", obj.Offset, region)
		}

		p.logger.Debug("HardwareProber::MinStartOffset rejected",
			slog.Uint64("offset", obj.Offset))

		if obj.Offset == 0 {
			obj.Offset = gem.PageSize
		} else {
			obj.Offset *= 2
		}
		if obj.Offset >= 1<<32 {
			obj.Flags |= gem.ExecSupports48B
		}
		if obj.Offset > maxProbeOffset {
			panic(fmt.Sprintf("minimum start offset for region %s exceeds %#x: this hardware cannot be characterized", region, maxProbeOffset))
		}
	}
}

// MinAlignment probes the smallest alignment at which a command stream in
// region1 and a second object in region2 may be placed together. The
// command stream sits at batchOffset; the second object is placed at the
// end of the command stream aligned up to each candidate, one page first,
// then doubling, until the device accepts the submission. Candidates
// beyond maxProbeAlignment panic.
func (p *HardwareProber) MinAlignment(device gem.Device, region1, region2 gem.RegionID, batchOffset uint64) (alignment uint64, err error) {
	p.logger.Debug("HardwareProber::MinAlignment",
		slog.String("region1", region1.String()),
		slog.String("region2", region2.String()),
		slog.Uint64("batchOffset", batchOffset))

	ctx, destroyCtx, err := p.probeContext(device)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = combineCleanup(err, destroyCtx())
	}()

	batch, err := p.createProbeObject(device, region1)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = combineCleanup(err, device.DestroyBuffer(batch))
	}()

	err = p.writeBatchTerminator(device, batch)
	if err != nil {
		return 0, err
	}

	second, err := p.createProbeObject(device, region2)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = combineCleanup(err, device.DestroyBuffer(second))
	}()

	batchObj := gem.ExecObject{Handle: batch, Offset: batchOffset, Flags: gem.ExecPinned}
	if batchObj.Offset+gem.PageSize > 1<<32 {
		batchObj.Flags |= gem.ExecSupports48B
	}
	secondObj := gem.ExecObject{Handle: second, Flags: gem.ExecPinned}

	for candidate := gem.PageSize; ; candidate *= 2 {
		secondObj.Offset = memutils.AlignUp(batchObj.Offset+gem.PageSize, candidate)
		if secondObj.Offset+gem.PageSize > 1<<32 {
			secondObj.Flags |= gem.ExecSupports48B
		}

		submitErr := device.Submit([]gem.ExecObject{batchObj, secondObj}, ctx)
		if submitErr == nil {
			p.logger.Debug("HardwareProber::MinAlignment found",
				slog.String("region1", region1.String()),
				slog.String("region2", region2.String()),
				slog.Uint64("alignment", candidate))
			return candidate, nil
		}
		if !gem.IsRejected(submitErr) {
			return 0, errors.Wrapf(submitErr, "probe submission failed at alignment %#x between regions %s and %s", candidate, region1, region2)
		}

		p.logger.Debug("HardwareProber::MinAlignment rejected",
			slog.Uint64("alignment", candidate))

		if candidate*2 > maxProbeAlignment {
			panic(fmt.Sprintf("minimum alignment between regions %s and %s exceeds %#x: this hardware cannot be characterized", region1, region2, maxProbeAlignment))
		}
	}
}

// probeContext creates an isolated context so trial placements cannot
// collide with unrelated work sharing the default address space. Fixed
// systems without context support fall back to the default context.
func (p *HardwareProber) probeContext(device gem.Device) (gem.ContextID, func() error, error) {
	ctx, err := device.CreateContext()
	if err != nil {
		if !gem.IsNotSupported(err) {
			return 0, nil, errors.Wrap(err, "error creating probe context")
		}
		return gem.DefaultContext, func() error { return nil }, nil
	}
	return ctx, func() error { return device.DestroyContext(ctx) }, nil
}

// createProbeObject creates a one-page buffer in the given region, falling
// back to a plain allocation on drivers without region placement.
func (p *HardwareProber) createProbeObject(device gem.Device, region gem.RegionID) (gem.Handle, error) {
	handle, err := device.CreateBuffer(gem.PageSize, []gem.RegionID{region}, 0)
	if err != nil && gem.IsNotSupported(err) {
		handle, err = device.CreateBuffer(gem.PageSize, nil, 0)
	}
	if err != nil {
		return 0, errors.Wrapf(err, "error creating probe object for region %s", region)
	}
	return handle, nil
}

// writeBatchTerminator writes the end-of-batch token at the head of the
// buffer, making it the smallest command stream a device will accept.
func (p *HardwareProber) writeBatchTerminator(device gem.Device, handle gem.Handle) error {
	data, err := device.MapCPU(handle, 0, gem.PageSize, gem.ProtWrite)
	if err != nil {
		return errors.Wrap(err, "error mapping probe object")
	}

	binary.LittleEndian.PutUint32(data, gem.EndOfBatch)

	err = device.Unmap(data)
	if err != nil {
		return errors.Wrap(err, "error unmapping probe object")
	}
	return nil
}

func combineCleanup(err, cleanupErr error) error {
	if cleanupErr == nil {
		return err
	}
	return multierror.Append(err, cleanupErr).ErrorOrNil()
}
