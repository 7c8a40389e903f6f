package constraint_test

import (
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"

	"github.com/drmkit/gemkit/constraint"
	mock_constraint "github.com/drmkit/gemkit/constraint/mocks"
	"github.com/drmkit/gemkit/gem"
	"github.com/drmkit/gemkit/gem/gemtest"
)

func TestCacheMinStartOffsetMemoized(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := gemtest.NewSimDevice(gemtest.Options{Regions: twoRegionTable()})
	prober := mock_constraint.NewMockProber(ctrl)
	prober.EXPECT().MinStartOffset(device, system0).Return(uint64(0x10000), nil).Times(1)

	cache := constraint.NewCache(logger, prober)
	for i := 0; i < 3; i++ {
		offset, err := cache.MinStartOffset(device, system0)
		require.NoError(t, err)
		require.Equal(t, uint64(0x10000), offset)
	}
}

func TestCacheKeysAreDistinct(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := gemtest.NewSimDevice(gemtest.Options{Regions: twoRegionTable()})
	other := gemtest.NewSimDevice(gemtest.Options{
		HardwareID: 7,
		Regions:    twoRegionTable(),
	})
	prober := mock_constraint.NewMockProber(ctrl)
	prober.EXPECT().MinStartOffset(device, system0).Return(uint64(0x1000), nil).Times(1)
	prober.EXPECT().MinStartOffset(device, device0).Return(uint64(0x20000), nil).Times(1)
	prober.EXPECT().MinStartOffset(other, system0).Return(uint64(0x4000), nil).Times(1)

	cache := constraint.NewCache(logger, prober)

	offset, err := cache.MinStartOffset(device, system0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), offset)

	offset, err = cache.MinStartOffset(device, device0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x20000), offset)

	offset, err = cache.MinStartOffset(other, system0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x4000), offset)

	// All three again, from cache this time.
	offset, err = cache.MinStartOffset(device, system0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), offset)

	offset, err = cache.MinStartOffset(device, device0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x20000), offset)

	offset, err = cache.MinStartOffset(other, system0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x4000), offset)
}

func TestCacheFailedProbeNotCached(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := gemtest.NewSimDevice(gemtest.Options{Regions: twoRegionTable()})
	probeErr := errors.New("probe environment broken")
	prober := mock_constraint.NewMockProber(ctrl)
	gomock.InOrder(
		prober.EXPECT().MinStartOffset(device, system0).Return(uint64(0), probeErr),
		prober.EXPECT().MinStartOffset(device, system0).Return(uint64(0x8000), nil),
	)

	cache := constraint.NewCache(logger, prober)

	_, err := cache.MinStartOffset(device, system0)
	require.Error(t, err)
	require.ErrorIs(t, err, probeErr)

	// The failure was not cached; the next caller re-probes and succeeds.
	offset, err := cache.MinStartOffset(device, system0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x8000), offset)
}

func TestCacheMinAlignment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := gemtest.NewSimDevice(gemtest.Options{Regions: twoRegionTable()})
	prober := mock_constraint.NewMockProber(ctrl)
	prober.EXPECT().MinStartOffset(device, system0).Return(uint64(0x4000), nil).Times(1)
	prober.EXPECT().MinAlignment(device, system0, device0, uint64(0x4000)).Return(uint64(0x10000), nil).Times(1)

	cache := constraint.NewCache(logger, prober)

	alignment, err := cache.MinAlignment(device, system0, device0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x10000), alignment)

	alignment, err = cache.MinAlignment(device, system0, device0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x10000), alignment)

	// The alignment path already discovered region1's start offset; a
	// direct lookup reuses it without another probe.
	offset, err := cache.MinStartOffset(device, system0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x4000), offset)
}

func TestCacheSingleWriter(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := gemtest.NewSimDevice(gemtest.Options{Regions: twoRegionTable()})

	// Every probe invocation returns a different value, so if more than
	// one result were ever retained, some caller would observe it.
	var probes int32
	prober := mock_constraint.NewMockProber(ctrl)
	prober.EXPECT().MinStartOffset(device, device0).DoAndReturn(
		func(gem.Device, gem.RegionID) (uint64, error) {
			n := atomic.AddInt32(&probes, 1)
			time.Sleep(time.Millisecond)
			return uint64(n) * gem.PageSize, nil
		}).AnyTimes()

	cache := constraint.NewCache(logger, prober)

	const workers = 8
	results := make([]uint64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			offset, err := cache.MinStartOffset(device, device0)
			require.NoError(t, err)
			results[i] = offset
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		require.Equal(t, results[0], results[i])
	}

	ran := atomic.LoadInt32(&probes)
	require.GreaterOrEqual(t, ran, int32(1))

	// The retained value is final: later lookups hit the cache.
	offset, err := cache.MinStartOffset(device, device0)
	require.NoError(t, err)
	require.Equal(t, results[0], offset)
	require.Equal(t, ran, atomic.LoadInt32(&probes))
}

func TestSafeStartOffset(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := gemtest.NewSimDevice(gemtest.Options{Regions: twoRegionTable()})
	prober := mock_constraint.NewMockProber(ctrl)
	prober.EXPECT().MinStartOffset(device, system0).Return(uint64(0x1000), nil).Times(1)
	prober.EXPECT().MinStartOffset(device, device0).Return(uint64(0x20000), nil).Times(1)

	cache := constraint.NewCache(logger, prober)

	safe, err := cache.SafeStartOffset(device)
	require.NoError(t, err)
	require.Equal(t, uint64(0x20000), safe)

	safe, err = cache.SafeStartOffset(device)
	require.NoError(t, err)
	require.Equal(t, uint64(0x20000), safe)

	// The per-region minimums discovered along the way are cached too.
	offset, err := cache.MinStartOffset(device, system0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x1000), offset)
}

func TestSafeAlignment(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := gemtest.NewSimDevice(gemtest.Options{Regions: twoRegionTable()})
	prober := mock_constraint.NewMockProber(ctrl)
	prober.EXPECT().MinStartOffset(device, system0).Return(uint64(0), nil).Times(1)
	prober.EXPECT().MinStartOffset(device, device0).Return(uint64(0x10000), nil).Times(1)
	prober.EXPECT().MinAlignment(device, system0, system0, uint64(0)).Return(uint64(0x1000), nil).Times(1)
	prober.EXPECT().MinAlignment(device, system0, device0, uint64(0)).Return(uint64(0x10000), nil).Times(1)
	prober.EXPECT().MinAlignment(device, device0, system0, uint64(0x10000)).Return(uint64(0x2000), nil).Times(1)
	prober.EXPECT().MinAlignment(device, device0, device0, uint64(0x10000)).Return(uint64(0x8000), nil).Times(1)

	cache := constraint.NewCache(logger, prober)

	safe, err := cache.SafeAlignment(device)
	require.NoError(t, err)
	require.Equal(t, uint64(0x10000), safe)

	safe, err = cache.SafeAlignment(device)
	require.NoError(t, err)
	require.Equal(t, uint64(0x10000), safe)
}

func TestSafeAlignmentSystemOnly(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := gemtest.NewSimDevice(gemtest.Options{})

	// No expectations: a device without device-local memory must not be
	// probed at all.
	prober := mock_constraint.NewMockProber(ctrl)
	cache := constraint.NewCache(logger, prober)

	safe, err := cache.SafeAlignment(device)
	require.NoError(t, err)
	require.Equal(t, gem.PageSize, safe)
}

func TestSafeAlignmentEndToEnd(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout))
	device := gemtest.NewSimDevice(gemtest.Options{
		Regions: twoRegionTable(),
		MinStartOffsets: map[gem.RegionID]uint64{
			device0: 0x10000,
		},
		MinAlignments: map[gemtest.RegionPair]uint64{
			{First: system0, Second: device0}: 0x10000,
			{First: device0, Second: device0}: 0x10000,
		},
	})

	cache := constraint.NewCache(logger, constraint.NewHardwareProber(logger))

	safe, err := cache.SafeAlignment(device)
	require.NoError(t, err)
	require.Equal(t, uint64(0x10000), safe)

	require.Equal(t, 0, device.OpenBuffers())
	require.Equal(t, 0, device.OpenContexts())
}

func TestDefaultCacheAccessors(t *testing.T) {
	require.Same(t, constraint.DefaultCache(), constraint.DefaultCache())

	device := gemtest.NewSimDevice(gemtest.Options{
		HardwareID: 0xd00d,
		MinStartOffsets: map[gem.RegionID]uint64{
			system0: 0x2000,
		},
	})

	offset, err := constraint.MinStartOffset(device, system0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x2000), offset)

	probed := device.SubmitCalls()
	offset, err = constraint.MinStartOffset(device, system0)
	require.NoError(t, err)
	require.Equal(t, uint64(0x2000), offset)
	require.Equal(t, probed, device.SubmitCalls())

	safe, err := constraint.SafeStartOffset(device)
	require.NoError(t, err)
	require.Equal(t, uint64(0x2000), safe)

	alignment, err := constraint.MinAlignment(device, system0, system0)
	require.NoError(t, err)
	require.Equal(t, gem.PageSize, alignment)

	safeAlignment, err := constraint.SafeAlignment(device)
	require.NoError(t, err)
	require.Equal(t, gem.PageSize, safeAlignment)
}
