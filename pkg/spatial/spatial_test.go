package spatial

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objpop3d/internal/models"
	"objpop3d/pkg/geometry"
	"objpop3d/pkg/population"
)

func pointPop(t *testing.T, cal *models.Calibration, pts ...geometry.Point3d) *population.Population {
	t.Helper()
	pop := population.New(cal)
	for i, pt := range pts {
		obj, err := population.NewObject(uint32(i+1), []geometry.Point3d{pt})
		require.NoError(t, err)
		require.NoError(t, pop.Add(obj))
	}
	return pop
}

func TestNearestNeighbourDistances(t *testing.T) {
	cal := &models.Calibration{PixelSizeXY: 0.5, PixelSizeZ: 2}
	pop := pointPop(t, cal,
		geometry.Point3d{0, 0, 0},
		geometry.Point3d{4, 0, 0}, // 2 away from the first
		geometry.Point3d{4, 0, 3}, // 6 away from the second
	)
	dists, err := NearestNeighbourDistances(pop)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{2, 2, 6}, dists, 1e-12)

	mean, err := MeanNearestNeighbourDistance(pop)
	require.NoError(t, err)
	assert.InDelta(t, 10.0/3.0, mean, 1e-12)
}

func TestNearestNeighbourDuplicateCentroids(t *testing.T) {
	pop := pointPop(t, &models.Calibration{PixelSizeXY: 1, PixelSizeZ: 1})
	a, err := population.NewObject(1, []geometry.Point3d{{0, 0, 0}, {2, 0, 0}})
	require.NoError(t, err)
	b, err := population.NewObject(2, []geometry.Point3d{{1, 1, 0}, {1, -1, 0}})
	require.NoError(t, err)
	require.NoError(t, pop.Add(a))
	require.NoError(t, pop.Add(b))

	dists, err := NearestNeighbourDistances(pop)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, dists)
}

func TestNearestNeighbourAgreesWithBruteForce(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	var pts []geometry.Point3d
	seen := map[geometry.Point3d]bool{}
	for len(pts) < 200 {
		pt := geometry.Point3d{int32(rng.Intn(100)), int32(rng.Intn(100)), int32(rng.Intn(20))}
		if !seen[pt] {
			seen[pt] = true
			pts = append(pts, pt)
		}
	}
	cal := &models.Calibration{PixelSizeXY: 0.2, PixelSizeZ: 1}
	dists, err := NearestNeighbourDistances(pointPop(t, cal, pts...))
	require.NoError(t, err)

	for i, p := range pts {
		best := math.Inf(1)
		for j, q := range pts {
			if i == j {
				continue
			}
			dx := float64(p[0]-q[0]) * 0.2
			dy := float64(p[1]-q[1]) * 0.2
			dz := float64(p[2]-q[2]) * 1
			best = math.Min(best, math.Sqrt(dx*dx+dy*dy+dz*dz))
		}
		assert.InDelta(t, best, dists[i], 1e-9, "object %d", i)
	}
}

func TestNearestNeighbourEdgeCases(t *testing.T) {
	_, err := NearestNeighbourDistances(pointPop(t, nil, geometry.Point3d{1, 1, 1}))
	assert.True(t, population.IsConfigurationError(err))

	cal := &models.Calibration{PixelSizeXY: 1, PixelSizeZ: 1}
	dists, err := NearestNeighbourDistances(pointPop(t, cal, geometry.Point3d{1, 1, 1}))
	require.NoError(t, err)
	require.Len(t, dists, 1)
	assert.True(t, math.IsNaN(dists[0]))

	mean, err := MeanNearestNeighbourDistance(pointPop(t, cal))
	require.NoError(t, err)
	assert.True(t, math.IsNaN(mean))
}
