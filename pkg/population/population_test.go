package population

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objpop3d/internal/models"
	"objpop3d/pkg/geometry"
)

var testCal = &models.Calibration{PixelSizeXY: 0.5, PixelSizeZ: 2, Unit: "µm"} // 0.5 µm³ per voxel

func TestFromLabelVolume(t *testing.T) {
	vol := models.NewLabelVolume(4, 4, 2)
	vol.Set(0, 0, 0, 9)
	vol.Set(1, 0, 0, 9)
	vol.Set(3, 3, 1, 2)
	vol.Set(2, 1, 1, 9)

	pop, err := FromLabelVolume(vol, testCal)
	require.NoError(t, err)
	require.NoError(t, pop.Validate())

	assert.Equal(t, []uint32{2, 9}, pop.Labels())
	assert.Equal(t, 1, pop.ByLabel(2).Size())
	assert.Equal(t, 3, pop.ByLabel(9).Size())
	assert.Nil(t, pop.ByLabel(0))

	ext, ok := pop.Extent()
	require.True(t, ok)
	assert.Equal(t, vol.Extent(), ext)
}

func TestFromLabelVolumeBadInput(t *testing.T) {
	_, err := FromLabelVolume(nil, testCal)
	assert.True(t, IsConfigurationError(err))

	vol := models.NewLabelVolume(3, 3, 3)
	vol.Data = vol.Data[:10]
	_, err = FromLabelVolume(vol, testCal)
	assert.True(t, IsConfigurationError(err))
}

func TestResetLabelsIsDense(t *testing.T) {
	pop := New(testCal)
	for _, label := range []uint32{12, 40, 3} {
		require.NoError(t, pop.Add(cube(t, label, geometry.Point3d{int32(label), 0, 0}, 1)))
	}
	pop.ResetLabels()
	assertDenseLabels(t, pop)
}

func TestAddLabelHandling(t *testing.T) {
	pop := New(nil)
	require.NoError(t, pop.Add(cube(t, 5, geometry.Point3d{0, 0, 0}, 1)))

	err := pop.Add(cube(t, 5, geometry.Point3d{3, 0, 0}, 1))
	require.Error(t, err)
	assert.True(t, IsGeometryError(err))

	unlabeled := cube(t, 0, geometry.Point3d{6, 0, 0}, 1)
	require.NoError(t, pop.Add(unlabeled))
	assert.Equal(t, uint32(6), unlabeled.Label())
}

func TestValidateDetectsLabelCollision(t *testing.T) {
	pop := New(nil)
	require.NoError(t, pop.Add(cube(t, 1, geometry.Point3d{0, 0, 0}, 1)))
	require.NoError(t, pop.Add(cube(t, 2, geometry.Point3d{5, 0, 0}, 1)))
	pop.objects[1].label = 1

	assert.True(t, IsGeometryError(pop.Validate()))

	_, err := pop.FilterSinglePlane()
	assert.True(t, IsGeometryError(err))
	assert.Equal(t, 2, pop.Len())
}

func TestTotalVolumeConservation(t *testing.T) {
	pop := New(testCal)
	sizes := []int32{1, 2, 3}
	var voxels int
	for i, n := range sizes {
		require.NoError(t, pop.Add(cube(t, uint32(i+1), geometry.Point3d{int32(10 * i), 0, 0}, n)))
		voxels += int(n * n * n)
	}
	total, err := pop.TotalVolume()
	require.NoError(t, err)
	assert.InDelta(t, float64(voxels)*testCal.VoxelVolume(), total, 1e-9)

	var sum float64
	for _, obj := range pop.Objects() {
		v, err := pop.Volume(obj)
		require.NoError(t, err)
		sum += v
	}
	assert.InDelta(t, total, sum, 1e-9)

	_, err = New(nil).TotalVolume()
	assert.True(t, IsConfigurationError(err))
}

func TestTotalIntensity(t *testing.T) {
	pop, vol := intensityFixture(t)
	total, err := pop.TotalIntensity(voxelSumMeasurer{}, vol)
	require.NoError(t, err)
	// object 1: 8 voxels at 10, object 2: 8 voxels at 100
	assert.InDelta(t, 880.0, total, 1e-9)
}

func TestForRangesCoversAllIndices(t *testing.T) {
	for _, workers := range []int{0, 1, 3, 64} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			const n = 1000
			hits := make([]int32, n)
			var calls int32
			err := ForRanges(n, workers, func(start, end int) error {
				atomic.AddInt32(&calls, 1)
				for i := start; i < end; i++ {
					hits[i]++
				}
				return nil
			})
			require.NoError(t, err)
			for i, h := range hits {
				require.Equal(t, int32(1), h, "index %d", i)
			}
			if workers > 0 {
				assert.LessOrEqual(t, int(calls), workers)
			}
		})
	}

	err := ForRanges(10, 2, func(start, end int) error {
		if start > 0 {
			return fmt.Errorf("range %d-%d failed", start, end)
		}
		return nil
	})
	assert.EqualError(t, err, "range 5-10 failed")
}

func assertDenseLabels(t *testing.T, pop *Population) {
	t.Helper()
	for i, label := range pop.Labels() {
		assert.Equal(t, uint32(i+1), label)
	}
}
