package background

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"objpop3d/internal/logging"
	"objpop3d/internal/models"
	"objpop3d/pkg/population"
)

// FocusParams selects in-focus planes by normalized variance.
type FocusParams struct {
	// Percent is the minimum variance of a kept plane relative to the best
	// plane, in percent.
	Percent float64

	// VarianceThreshold is the variance a kept plane must exceed.
	VarianceThreshold float64

	// Edge runs a Sobel edge filter over each plane before measuring.
	Edge bool

	// Consecutive stops at the first rejected plane on either side of the
	// best plane, so the result is a contiguous run.
	Consecutive bool
}

// NormalizedVariance returns the population variance of the plane's pixels
// divided by their mean.  A plane with zero mean has variance zero.
func NormalizedVariance(plane []float64) float64 {
	mean, variance := stat.PopMeanVariance(plane, nil)
	if mean == 0 {
		return 0
	}
	return variance / mean
}

// FocusedPlanes returns the ascending Z indices of the planes whose
// normalized variance exceeds the threshold and reaches Percent of the
// sharpest plane.  A single-plane volume, or one whose sharpest plane does
// not reach the threshold, is a configuration error.
func FocusedPlanes(vol *models.IntensityVolume, params FocusParams) ([]int, error) {
	const op = "FocusedPlanes"
	if vol == nil || vol.Width <= 0 || vol.Height <= 0 {
		return nil, population.ConfigErrorf(op, "empty intensity volume")
	}
	if vol.Depth < 2 {
		return nil, population.ConfigErrorf(op, "a stack of at least two planes is required")
	}
	if params.Percent < 0 || params.Percent > 100 || math.IsNaN(params.Percent) {
		return nil, population.ConfigErrorf(op, "percent %g outside [0, 100]", params.Percent)
	}

	size := vol.Width * vol.Height
	variances := make([]float64, vol.Depth)
	best := -1
	for z := range variances {
		plane := vol.Data[z*size : (z+1)*size]
		if params.Edge {
			plane = sobel(plane, vol.Width, vol.Height)
		}
		variances[z] = NormalizedVariance(plane)
		if best < 0 || variances[z] > variances[best] {
			best = z
		}
	}
	vMax := variances[best]
	if vMax < params.VarianceThreshold {
		return nil, population.ConfigErrorf(op, "all planes are below the variance threshold %g", params.VarianceThreshold)
	}

	keep := func(z int) bool {
		return vMax > 0 && variances[z]/vMax >= params.Percent/100 && variances[z] > params.VarianceThreshold
	}
	var below []int
	for z := best - 1; z >= 0; z-- {
		if keep(z) {
			below = append(below, z)
		} else if params.Consecutive {
			break
		}
	}
	planes := make([]int, 0, vol.Depth)
	for i := len(below) - 1; i >= 0; i-- {
		planes = append(planes, below[i])
	}
	for z := best; z < vol.Depth; z++ {
		if keep(z) {
			planes = append(planes, z)
		} else if params.Consecutive {
			break
		}
	}
	logging.Debugf("Sharpest plane %d (normalized variance %g), %d planes in focus\n", best, vMax, len(planes))
	return planes, nil
}

// sobel returns the gradient magnitude of a plane, replicating edge pixels.
func sobel(plane []float64, width, height int) []float64 {
	at := func(x, y int) float64 {
		x = min(max(x, 0), width-1)
		y = min(max(y, 0), height-1)
		return plane[y*width+x]
	}
	out := make([]float64, len(plane))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gy := at(x-1, y-1) + 2*at(x, y-1) + at(x+1, y-1) -
				at(x-1, y+1) - 2*at(x, y+1) - at(x+1, y+1)
			gx := at(x-1, y-1) + 2*at(x-1, y) + at(x-1, y+1) -
				at(x+1, y-1) - 2*at(x+1, y) - at(x+1, y+1)
			out[y*width+x] = math.Sqrt(gx*gx + gy*gy)
		}
	}
	return out
}
