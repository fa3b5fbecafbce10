// Package spatial places object centroids in physical space and answers
// nearest-neighbour queries over them with a k-d tree.
package spatial

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/stat"

	"objpop3d/internal/logging"
	"objpop3d/pkg/population"
)

// Centroid is an object centroid in physical units.  Index is the object's
// position in its population.
type Centroid struct {
	X, Y, Z float64
	Index   int
}

// Compare implements kdtree.Comparable.
func (c Centroid) Compare(o kdtree.Comparable, d kdtree.Dim) float64 {
	q := o.(Centroid)
	switch d {
	case 0:
		return c.X - q.X
	case 1:
		return c.Y - q.Y
	case 2:
		return c.Z - q.Z
	default:
		panic("illegal dimension")
	}
}

// Dims returns 3.
func (c Centroid) Dims() int { return 3 }

// Distance returns the squared Euclidean distance.
func (c Centroid) Distance(o kdtree.Comparable) float64 {
	q := o.(Centroid)
	dx, dy, dz := c.X-q.X, c.Y-q.Y, c.Z-q.Z
	return dx*dx + dy*dy + dz*dz
}

// Centroids satisfies kdtree.Interface.
type Centroids []Centroid

func (p Centroids) Index(i int) kdtree.Comparable         { return p[i] }
func (p Centroids) Len() int                              { return len(p) }
func (p Centroids) Slice(start, end int) kdtree.Interface { return p[start:end] }

func (p Centroids) Pivot(d kdtree.Dim) int {
	return kdtree.Partition(plane{Centroids: p, Dim: d}, kdtree.MedianOfRandoms(plane{Centroids: p, Dim: d}, 100))
}

type plane struct {
	Centroids
	kdtree.Dim
}

func (p plane) Less(i, j int) bool {
	return p.Centroids[i].Compare(p.Centroids[j], p.Dim) < 0
}

func (p plane) Slice(start, end int) kdtree.SortSlicer {
	return plane{Centroids: p.Centroids[start:end], Dim: p.Dim}
}

func (p plane) Swap(i, j int) {
	p.Centroids[i], p.Centroids[j] = p.Centroids[j], p.Centroids[i]
}

// PhysicalCentroids returns the centroid of every object of pop scaled by
// its calibration, in population order.
func PhysicalCentroids(pop *population.Population) (Centroids, error) {
	cal, ok := pop.Calibration()
	if !ok || !cal.Valid() {
		return nil, population.ConfigErrorf("PhysicalCentroids", "population has no calibration")
	}
	out := make(Centroids, pop.Len())
	for i, obj := range pop.Objects() {
		c := obj.Centroid()
		out[i] = Centroid{
			X:     c[0] * cal.PixelSizeXY,
			Y:     c[1] * cal.PixelSizeXY,
			Z:     c[2] * cal.PixelSizeZ,
			Index: i,
		}
	}
	return out, nil
}

// NearestNeighbourDistances returns, in population order, the physical
// distance from each object's centroid to the closest other centroid.  The
// distance is NaN when the population holds a single object.
func NearestNeighbourDistances(pop *population.Population) ([]float64, error) {
	centroids, err := PhysicalCentroids(pop)
	if err != nil {
		return nil, err
	}
	dists := make([]float64, len(centroids))
	if len(centroids) < 2 {
		for i := range dists {
			dists[i] = math.NaN()
		}
		logging.Warningf("NearestNeighbourDistances: %d objects, no neighbours\n", len(centroids))
		return dists, nil
	}

	// The tree reorders its backing slice.
	points := make(Centroids, len(centroids))
	copy(points, centroids)
	tree := kdtree.New(points, false)

	for _, c := range centroids {
		keeper := kdtree.NewNKeeper(2)
		tree.NearestSet(keeper, c)
		best := math.Inf(1)
		for _, item := range keeper.Heap {
			if item.Comparable == nil || item.Comparable.(Centroid).Index == c.Index {
				continue
			}
			if item.Dist < best {
				best = item.Dist
			}
		}
		dists[c.Index] = math.Sqrt(best)
	}
	return dists, nil
}

// MeanNearestNeighbourDistance returns the mean of NearestNeighbourDistances,
// or NaN for fewer than two objects.
func MeanNearestNeighbourDistance(pop *population.Population) (float64, error) {
	dists, err := NearestNeighbourDistances(pop)
	if err != nil {
		return 0, err
	}
	if len(dists) < 2 {
		return math.NaN(), nil
	}
	return stat.Mean(dists, nil), nil
}
