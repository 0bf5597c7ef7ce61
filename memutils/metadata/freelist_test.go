package metadata_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/deferred/memutils"
	"github.com/vkngwrapper/deferred/memutils/metadata"
)

func allocate(t *testing.T, md *metadata.FreeListBlockMetadata, size int, alignment uint) metadata.AllocationRequest {
	success, request, err := md.CreateAllocationRequest(size, alignment)
	require.NoError(t, err)
	require.True(t, success)

	err = md.Alloc(request, nil)
	require.NoError(t, err)
	require.NoError(t, md.Validate())

	return request
}

func TestFreeListAlloc(t *testing.T) {
	md := metadata.NewFreeListBlockMetadata()
	md.Init(1000)

	var stats memutils.DetailedStatistics
	stats.Clear()
	md.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount: 1,
			BlockBytes: 1000,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1000,
		UnusedRangeSizeMax: 1000,
	}, stats)

	request := allocate(t, md, 100, 1)
	require.Equal(t, 0, request.Item.Offset)
	require.Equal(t, 0, request.Item.Padding)

	stats.Clear()
	md.AddDetailedStatistics(&stats)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1000,
			AllocationCount: 1,
			AllocationBytes: 100,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  100,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 900,
		UnusedRangeSizeMax: 900,
	}, stats)

	require.Equal(t, []metadata.FreeRegion{{Offset: 100, Size: 900}}, md.FreeRegions())
	require.Equal(t, 900, md.SumFreeSize())
	require.Equal(t, 1, md.AllocationCount())
	require.False(t, md.IsEmpty())
}

func TestFreeListAlignmentPadding(t *testing.T) {
	md := metadata.NewFreeListBlockMetadata()
	md.Init(4096)

	a := allocate(t, md, 1000, 256)
	b := allocate(t, md, 1000, 256)
	c := allocate(t, md, 1000, 256)

	require.Equal(t, 0, a.Item.Offset)
	require.Equal(t, 1024, b.Item.Offset)
	require.Equal(t, 24, b.Item.Padding)
	require.Equal(t, 2048, c.Item.Offset)
	require.Equal(t, 24, c.Item.Padding)

	require.Equal(t, []metadata.FreeRegion{{Offset: 3048, Size: 1048}}, md.FreeRegions())

	offset, err := md.AllocationOffset(b.BlockAllocationHandle)
	require.NoError(t, err)
	require.Equal(t, 1024, offset)
}

func TestFreeListCoalesce(t *testing.T) {
	testCases := map[string]struct {
		freeOrder       []int
		expectedRegions [][]metadata.FreeRegion
	}{
		"MergeLeft": {
			freeOrder: []int{0, 1},
			expectedRegions: [][]metadata.FreeRegion{
				{{Offset: 0, Size: 100}, {Offset: 300, Size: 700}},
				{{Offset: 0, Size: 200}, {Offset: 300, Size: 700}},
			},
		},
		"MergeRight": {
			freeOrder: []int{1, 0},
			expectedRegions: [][]metadata.FreeRegion{
				{{Offset: 100, Size: 100}, {Offset: 300, Size: 700}},
				{{Offset: 0, Size: 200}, {Offset: 300, Size: 700}},
			},
		},
		"MergeBoth": {
			freeOrder: []int{0, 2, 1},
			expectedRegions: [][]metadata.FreeRegion{
				{{Offset: 0, Size: 100}, {Offset: 300, Size: 700}},
				{{Offset: 0, Size: 100}, {Offset: 200, Size: 800}},
				{{Offset: 0, Size: 1000}},
			},
		},
		"InsertSorted": {
			freeOrder: []int{1},
			expectedRegions: [][]metadata.FreeRegion{
				{{Offset: 100, Size: 100}, {Offset: 300, Size: 700}},
			},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			md := metadata.NewFreeListBlockMetadata()
			md.Init(1000)

			requests := []metadata.AllocationRequest{
				allocate(t, md, 100, 1),
				allocate(t, md, 100, 1),
				allocate(t, md, 100, 1),
			}

			for i, index := range testCase.freeOrder {
				require.NoError(t, md.Free(requests[index].BlockAllocationHandle))
				require.NoError(t, md.Validate())
				require.Equal(t, testCase.expectedRegions[i], md.FreeRegions())
			}
		})
	}
}

func TestFreeListFreeReturnsPadding(t *testing.T) {
	md := metadata.NewFreeListBlockMetadata()
	md.Init(4096)

	a := allocate(t, md, 1000, 1)
	b := allocate(t, md, 1000, 256)
	require.Equal(t, 24, b.Item.Padding)

	require.NoError(t, md.Free(b.BlockAllocationHandle))
	require.Equal(t, []metadata.FreeRegion{{Offset: 1000, Size: 3096}}, md.FreeRegions())

	require.NoError(t, md.Free(a.BlockAllocationHandle))
	require.Equal(t, []metadata.FreeRegion{{Offset: 0, Size: 4096}}, md.FreeRegions())
	require.True(t, md.IsEmpty())
}

func TestFreeListNoFit(t *testing.T) {
	md := metadata.NewFreeListBlockMetadata()
	md.Init(1024)

	allocate(t, md, 1000, 1)

	success, _, err := md.CreateAllocationRequest(24, 16)
	require.NoError(t, err)
	require.False(t, success)

	_, _, err = md.CreateAllocationRequest(0, 1)
	require.Error(t, err)
}

func TestFreeListUnknownHandle(t *testing.T) {
	md := metadata.NewFreeListBlockMetadata()
	md.Init(1024)

	request := allocate(t, md, 100, 1)
	require.NoError(t, md.Free(request.BlockAllocationHandle))
	require.Error(t, md.Free(request.BlockAllocationHandle))

	_, err := md.AllocationOffset(request.BlockAllocationHandle)
	require.Error(t, err)
}

func TestFreeListStaleRequest(t *testing.T) {
	md := metadata.NewFreeListBlockMetadata()
	md.Init(1024)

	success, request, err := md.CreateAllocationRequest(1000, 1)
	require.NoError(t, err)
	require.True(t, success)

	allocate(t, md, 100, 1)

	require.Error(t, md.Alloc(request, nil))
}

func TestFreeListUserData(t *testing.T) {
	md := metadata.NewFreeListBlockMetadata()
	md.Init(1024)

	success, request, err := md.CreateAllocationRequest(100, 1)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, md.Alloc(request, "first"))

	userData, err := md.AllocationUserData(request.BlockAllocationHandle)
	require.NoError(t, err)
	require.Equal(t, "first", userData)

	require.NoError(t, md.SetAllocationUserData(request.BlockAllocationHandle, "second"))
	userData, err = md.AllocationUserData(request.BlockAllocationHandle)
	require.NoError(t, err)
	require.Equal(t, "second", userData)
}

func TestFreeListVisitAllRegions(t *testing.T) {
	md := metadata.NewFreeListBlockMetadata()
	md.Init(1024)

	a := allocate(t, md, 100, 1)
	allocate(t, md, 100, 64)
	require.NoError(t, md.Free(a.BlockAllocationHandle))

	type region struct {
		offset, size int
		free         bool
	}
	var regions []region
	err := md.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		regions = append(regions, region{offset, size, free})
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []region{
		{0, 100, true},
		{100, 128, false},
		{228, 796, true},
	}, regions)
}

func TestFreeListClear(t *testing.T) {
	md := metadata.NewFreeListBlockMetadata()
	md.Init(1024)

	allocate(t, md, 100, 1)
	allocate(t, md, 100, 1)
	md.Clear()

	require.True(t, md.IsEmpty())
	require.Equal(t, []metadata.FreeRegion{{Offset: 0, Size: 1024}}, md.FreeRegions())
	require.NoError(t, md.Validate())
}

func TestFreeListRandomized(t *testing.T) {
	md := metadata.NewFreeListBlockMetadata()
	md.Init(1 << 16)

	random := rand.New(rand.NewSource(1))
	alignments := []uint{1, 4, 16, 64, 256}

	var live []metadata.AllocationRequest
	for i := 0; i < 2000; i++ {
		if len(live) > 0 && random.Intn(3) == 0 {
			index := random.Intn(len(live))
			require.NoError(t, md.Free(live[index].BlockAllocationHandle))
			live = append(live[:index], live[index+1:]...)
		} else {
			alignment := alignments[random.Intn(len(alignments))]
			success, request, err := md.CreateAllocationRequest(random.Intn(512)+1, alignment)
			require.NoError(t, err)
			if !success {
				continue
			}
			require.Zero(t, request.Item.Offset%int(alignment))
			require.NoError(t, md.Alloc(request, nil))
			live = append(live, request)
		}

		require.NoError(t, md.Validate())
	}

	for _, request := range live {
		require.NoError(t, md.Free(request.BlockAllocationHandle))
	}

	require.True(t, md.IsEmpty())
	require.Equal(t, []metadata.FreeRegion{{Offset: 0, Size: 1 << 16}}, md.FreeRegions())
}
