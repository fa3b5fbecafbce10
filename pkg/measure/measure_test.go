package measure

import (
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objpop3d/internal/models"
	"objpop3d/pkg/geometry"
	"objpop3d/pkg/population"
)

func fixture(t *testing.T) (*population.Object, *models.IntensityVolume) {
	t.Helper()
	vol := models.NewIntensityVolume(4, 4, 4)
	pts := []geometry.Point3d{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}}
	for i, pt := range pts {
		vol.Set(int(pt[0]), int(pt[1]), int(pt[2]), float64(2*(i+1))) // 2, 4, 6, 8
	}
	obj, err := population.NewObject(1, pts)
	require.NoError(t, err)
	return obj, vol
}

func TestIntensityStatistics(t *testing.T) {
	obj, vol := fixture(t)
	tests := []struct {
		stat population.Statistic
		want float64
	}{
		{population.IntensitySum, 20},
		{population.IntensityMean, 5},
		{population.IntensityMax, 8},
		{population.IntensityMin, 2},
		{population.IntensityStdDev, math.Sqrt(20.0 / 3.0)},
	}
	for _, tc := range tests {
		t.Run(tc.stat.String(), func(t *testing.T) {
			got, err := Intensity{}.Measure(obj, vol, tc.stat)
			require.NoError(t, err)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestIntensitySingleVoxelStdDev(t *testing.T) {
	vol := models.NewIntensityVolume(2, 2, 2)
	obj, err := population.NewObject(1, []geometry.Point3d{{1, 1, 1}})
	require.NoError(t, err)
	v, err := Intensity{}.Measure(obj, vol, population.IntensityStdDev)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
}

func TestIntensityOutsideVolume(t *testing.T) {
	vol := models.NewIntensityVolume(2, 2, 2)
	obj, err := population.NewObject(1, []geometry.Point3d{{1, 1, 1}, {2, 1, 1}})
	require.NoError(t, err)
	_, err = Intensity{}.Measure(obj, vol, population.IntensityMax)
	assert.True(t, population.IsConfigurationError(err))
}

type countingMeasurer struct {
	calls int32
}

func (c *countingMeasurer) Measure(obj *population.Object, vol *models.IntensityVolume, s population.Statistic) (float64, error) {
	atomic.AddInt32(&c.calls, 1)
	return Intensity{}.Measure(obj, vol, s)
}

func TestCachedMeasurer(t *testing.T) {
	obj, vol := fixture(t)
	inner := &countingMeasurer{}
	cached := NewCached(inner, 0)

	for i := 0; i < 3; i++ {
		v, err := cached.Measure(obj, vol, population.IntensityMax)
		require.NoError(t, err)
		assert.Equal(t, 8.0, v)
	}
	assert.Equal(t, int32(1), inner.calls)
	assert.Greater(t, cached.HitRate(), 0.5)

	// A different statistic or volume is a different entry.
	_, err := cached.Measure(obj, vol, population.IntensitySum)
	require.NoError(t, err)
	other := models.NewIntensityVolume(4, 4, 4)
	v, err := cached.Measure(obj, other, population.IntensityMax)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)
	assert.Equal(t, int32(3), inner.calls)

	// Mutating the object invalidates its entries.
	obj.AddVoxels(geometry.Point3d{3, 3, 3})
	_, err = cached.Measure(obj, vol, population.IntensityMax)
	require.NoError(t, err)
	assert.Equal(t, int32(4), inner.calls)

	cached.Clear()
	_, err = cached.Measure(obj, vol, population.IntensityMax)
	require.NoError(t, err)
	assert.Equal(t, int32(5), inner.calls)
}

func TestCachedMeasurerMissesMutatedReference(t *testing.T) {
	vol := models.NewIntensityVolume(4, 4, 1)
	vol.Set(1, 0, 0, 100)
	obj, err := population.NewObject(1, []geometry.Point3d{{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {0, 1, 0}, {2, 1, 0}})
	require.NoError(t, err)

	cached := NewCached(Intensity{}, MinCacheBytes)
	v, err := cached.Measure(obj, vol, population.IntensityMax)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	// An untouched reference shares the entry.
	ref := obj.Reference()
	v, err = cached.Measure(ref, vol, population.IntensityMax)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)

	// Same size and bounds, different voxels.
	ref.AddVoxels(geometry.Point3d{1, 1, 0})
	_, err = ref.RemoveVoxels(func(pt geometry.Point3d) bool { return pt == geometry.Point3d{1, 0, 0} })
	require.NoError(t, err)
	require.Equal(t, obj.Size(), ref.Size())
	require.Equal(t, obj.BoundingBox(), ref.BoundingBox())

	v, err = cached.Measure(ref, vol, population.IntensityMax)
	require.NoError(t, err)
	assert.Equal(t, 0.0, v)

	v, err = cached.Measure(obj, vol, population.IntensityMax)
	require.NoError(t, err)
	assert.Equal(t, 100.0, v)
}

func TestCachedMeasurerWithFilter(t *testing.T) {
	obj, vol := fixture(t)
	pop := population.New(&models.Calibration{PixelSizeXY: 1, PixelSizeZ: 1})
	require.NoError(t, pop.Add(obj))

	cached := NewCached(Intensity{}, MinCacheBytes)
	for i := 0; i < 2; i++ {
		report, err := pop.FilterIntensity(cached, vol, 5, population.IntensityMax)
		require.NoError(t, err)
		assert.Equal(t, 0, report.Removed)
	}
	assert.Equal(t, 0.5, cached.HitRate())
}

func TestDescribe(t *testing.T) {
	obj, vol := fixture(t)
	pop := population.New(&models.Calibration{PixelSizeXY: 0.5, PixelSizeZ: 1})
	require.NoError(t, pop.Add(obj))

	rows, err := Describe(pop, Intensity{}, vol)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, ObjectStats{Label: 1, Voxels: 4, Volume: 1, Sum: 20, Mean: 5, Max: 8}, rows[0])

	rows, err = Describe(population.New(nil), Intensity{}, nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	uncalibrated := population.New(nil)
	require.NoError(t, uncalibrated.Add(obj.Reference()))
	_, err = Describe(uncalibrated, Intensity{}, vol)
	assert.True(t, population.IsConfigurationError(err))
}
