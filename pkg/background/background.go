// Package background estimates the background intensity of a volume from
// its minimum intensity projection along Z, and picks the in-focus planes
// of a stack.
package background

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"objpop3d/internal/logging"
	"objpop3d/internal/models"
	"objpop3d/pkg/population"
)

// MinProjection returns the Width x Height minimum of the volume over Z.
func MinProjection(vol *models.IntensityVolume) ([]float64, error) {
	if vol == nil || vol.Width <= 0 || vol.Height <= 0 || vol.Depth <= 0 {
		return nil, population.ConfigErrorf("MinProjection", "empty intensity volume")
	}
	if len(vol.Data) != vol.Width*vol.Height*vol.Depth {
		return nil, population.ConfigErrorf("MinProjection", "volume data holds %d values, want %d",
			len(vol.Data), vol.Width*vol.Height*vol.Depth)
	}
	plane := vol.Width * vol.Height
	proj := make([]float64, plane)
	copy(proj, vol.Data[:plane])
	for z := 1; z < vol.Depth; z++ {
		for i, v := range vol.Data[z*plane : (z+1)*plane] {
			if v < proj[i] {
				proj[i] = v
			}
		}
	}
	return proj, nil
}

// MeanStd returns the mean plus one standard deviation of the minimum
// projection.
func MeanStd(vol *models.IntensityVolume) (float64, error) {
	proj, err := MinProjection(vol)
	if err != nil {
		return 0, err
	}
	if len(proj) < 2 {
		return proj[0], nil
	}
	mean, std := stat.MeanStdDev(proj, nil)
	return mean + std, nil
}

// Median returns the median of the minimum projection.
func Median(vol *models.IntensityVolume) (float64, error) {
	proj, err := MinProjection(vol)
	if err != nil {
		return 0, err
	}
	return median(proj), nil
}

// median sorts values in place.
func median(values []float64) float64 {
	sort.Float64s(values)
	n := len(values)
	if n%2 == 1 {
		return values[n/2]
	}
	return (values[n/2-1] + values[n/2]) / 2
}

// Method selects the statistic summarizing a background region.
type Method int

const (
	// MeanMethod averages the region.
	MeanMethod Method = iota
	// MedianMethod takes the region's median.
	MedianMethod
)

func (m Method) String() string {
	if m == MedianMethod {
		return "median"
	}
	return "mean"
}

// ParseMethod accepts "mean" or "median".
func ParseMethod(s string) (Method, error) {
	switch s {
	case "mean":
		return MeanMethod, nil
	case "median":
		return MedianMethod, nil
	}
	return MeanMethod, fmt.Errorf("unknown background method %q", s)
}

// Window is a square XY region of the minimum projection.
type Window struct {
	X, Y int
	Size int
}

// Center returns the window's center pixel.
func (w Window) Center() (x, y int) {
	return w.X + w.Size/2, w.Y + w.Size/2
}

func (w Window) String() string {
	cx, cy := w.Center()
	return fmt.Sprintf("%dx%d window centered at (%d, %d)", w.Size, w.Size, cx, cy)
}

// values returns the projection pixels inside w in row order.
func (w Window) values(proj []float64, width int) []float64 {
	out := make([]float64, 0, w.Size*w.Size)
	for y := w.Y; y < w.Y+w.Size; y++ {
		out = append(out, proj[y*width+w.X:y*width+w.X+w.Size]...)
	}
	return out
}

func checkWindow(op string, vol *models.IntensityVolume, w *Window) error {
	if w == nil {
		return nil
	}
	if w.Size <= 0 || w.X < 0 || w.Y < 0 || w.X+w.Size > vol.Width || w.Y+w.Size > vol.Height {
		return population.ConfigErrorf(op, "window %+v outside %dx%d image", *w, vol.Width, vol.Height)
	}
	return nil
}

// InWindow returns the background of the minimum projection restricted to
// w, or of the whole projection when w is nil.
func InWindow(vol *models.IntensityVolume, w *Window, method Method) (float64, error) {
	proj, err := MinProjection(vol)
	if err != nil {
		return 0, err
	}
	if err := checkWindow("InWindow", vol, w); err != nil {
		return 0, err
	}
	values := proj
	if w != nil {
		values = w.values(proj, vol.Width)
	}
	return summarize(values, method), nil
}

// StdDevInWindow returns the standard deviation of the minimum projection
// restricted to w, or of the whole projection when w is nil.
func StdDevInWindow(vol *models.IntensityVolume, w *Window) (float64, error) {
	proj, err := MinProjection(vol)
	if err != nil {
		return 0, err
	}
	if err := checkWindow("StdDevInWindow", vol, w); err != nil {
		return 0, err
	}
	values := proj
	if w != nil {
		values = w.values(proj, vol.Width)
	}
	if len(values) < 2 {
		return 0, nil
	}
	return stat.StdDev(values, nil), nil
}

func summarize(values []float64, method Method) float64 {
	if method == MedianMethod {
		return median(values)
	}
	return stat.Mean(values, nil)
}

// AutoWindow tiles the minimum projection with size x size windows and
// returns the one with the lowest background together with that value.
// Tiles start every size pixels and stop short of the right and bottom
// edges; ties go to the first tile in column-major scan order.
func AutoWindow(vol *models.IntensityVolume, size int, method Method) (Window, float64, error) {
	proj, err := MinProjection(vol)
	if err != nil {
		return Window{}, 0, err
	}
	if size <= 0 || size >= vol.Width || size >= vol.Height {
		return Window{}, 0, population.ConfigErrorf("AutoWindow", "window size %d does not fit a %dx%d image",
			size, vol.Width, vol.Height)
	}
	var best Window
	lowest := math.Inf(1)
	for x := 0; x < vol.Width-size; x += size {
		for y := 0; y < vol.Height-size; y += size {
			w := Window{X: x, Y: y, Size: size}
			if bg := summarize(w.values(proj, vol.Width), method); bg < lowest {
				best, lowest = w, bg
			}
		}
	}
	logging.Debugf("Auto background (%s) %g in %s\n", method, lowest, best)
	return best, lowest, nil
}
