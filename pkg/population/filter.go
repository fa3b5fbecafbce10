package population

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"objpop3d/internal/logging"
	"objpop3d/internal/models"
	"objpop3d/pkg/geometry"
)

// Statistic selects the per-object intensity measurement.
type Statistic int

const (
	IntensitySum    Statistic = iota // sum of voxel intensities
	IntensityMean                    // arithmetic mean
	IntensityMax                     // brightest voxel
	IntensityMin                     // dimmest voxel
	IntensityStdDev                  // sample standard deviation, zero for a single voxel
)

func (s Statistic) String() string {
	switch s {
	case IntensitySum:
		return "sum"
	case IntensityMean:
		return "mean"
	case IntensityMax:
		return "max"
	case IntensityMin:
		return "min"
	case IntensityStdDev:
		return "stddev"
	default:
		return fmt.Sprintf("statistic(%d)", int(s))
	}
}

// ParseStatistic converts a name produced by Statistic.String back.
func ParseStatistic(name string) (Statistic, error) {
	for s := IntensitySum; s <= IntensityStdDev; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown intensity statistic %q", name)
}

// Measurer measures the intensity of an object's voxels in an intensity
// volume.  Implementations must be safe for concurrent use.
type Measurer interface {
	Measure(obj *Object, vol *models.IntensityVolume, stat Statistic) (float64, error)
}

// FilterSize removes objects whose physical volume lies outside [min, max].
// The population must be calibrated.
func (p *Population) FilterSize(min, max float64) (Report, error) {
	const op = "FilterSize"
	if math.IsNaN(min) || math.IsNaN(max) || min < 0 || min > max {
		return Report{Op: op}, ConfigErrorf(op, "invalid size range [%g, %g]", min, max)
	}
	voxVol, err := p.VoxelVolume(op)
	if err != nil {
		return Report{Op: op}, err
	}
	return p.filter(op, func(obj *Object) (bool, error) {
		vol := float64(obj.Size()) * voxVol
		return vol >= min && vol <= max, nil
	})
}

// FilterSinglePlane removes objects whose voxels all share one Z index.
// The test runs on the voxel set, not only the bounding box.
func (p *Population) FilterSinglePlane() (Report, error) {
	return p.filter("FilterSinglePlane", func(obj *Object) (bool, error) {
		return !singlePlane(obj), nil
	})
}

func singlePlane(obj *Object) bool {
	z := obj.voxels[0][2]
	for _, pt := range obj.voxels[1:] {
		if pt[2] != z {
			return false
		}
	}
	return true
}

// FilterIntensity removes objects whose measured intensity statistic in vol
// is below threshold.  The intensity volume must match the population's
// reference extent when one is known.
func (p *Population) FilterIntensity(m Measurer, vol *models.IntensityVolume, threshold float64, stat Statistic) (Report, error) {
	const op = "FilterIntensity"
	if err := p.checkIntensityInputs(op, m, vol); err != nil {
		return Report{Op: op}, err
	}
	if math.IsNaN(threshold) {
		return Report{Op: op}, ConfigErrorf(op, "threshold is NaN")
	}
	return p.filter(op, func(obj *Object) (bool, error) {
		v, err := m.Measure(obj, vol, stat)
		if err != nil {
			return false, errors.Wrapf(err, "measuring object %d", obj.label)
		}
		return v >= threshold, nil
	})
}

func (p *Population) checkIntensityInputs(op string, m Measurer, vol *models.IntensityVolume) error {
	if m == nil {
		return ConfigErrorf(op, "no intensity measurer")
	}
	if vol == nil {
		return ConfigErrorf(op, "no intensity volume")
	}
	if len(vol.Data) != vol.Width*vol.Height*vol.Depth {
		return ConfigErrorf(op, "intensity volume %d x %d x %d holds %d values", vol.Width, vol.Height, vol.Depth, len(vol.Data))
	}
	if ext, ok := p.Extent(); ok && ext != vol.Extent() {
		return ConfigErrorf(op, "intensity volume %s does not match label extent %s", vol.Extent(), ext)
	}
	return nil
}

// FilterTouchingBorder removes objects with any voxel on the first or last
// index of any axis of ext, or beyond it.  An empty extent is a no-op.
func (p *Population) FilterTouchingBorder(ext geometry.Extent) (Report, error) {
	const op = "FilterTouchingBorder"
	if ext.Empty() {
		logging.Warningf("%s: empty reference extent %s, nothing removed\n", op, ext)
		return Report{Op: op, Before: p.Len(), EmptyInput: true}, nil
	}
	return p.filter(op, func(obj *Object) (bool, error) {
		return geometry.Classify(obj.box, ext) == geometry.Inside, nil
	})
}

// filter evaluates keep on every object and, only if every evaluation
// succeeds, compacts and relabels the population.
func (p *Population) filter(op string, keep func(*Object) (bool, error)) (Report, error) {
	report := Report{Op: op, Before: p.Len()}
	if p.Len() == 0 {
		logging.Warningf("%s: empty population, nothing to filter\n", op)
		report.EmptyInput = true
		return report, nil
	}
	if err := p.checkLabels(op); err != nil {
		return report, err
	}
	tlog := logging.NewTimeLog()
	flags, err := p.evaluate(keep)
	if err != nil {
		return report, errors.Wrap(err, op)
	}
	report.Removed = p.retain(flags)
	tlog.Debugf("%s removed %s of %s objects", op, humanize.Comma(int64(report.Removed)), humanize.Comma(int64(report.Before)))
	return report, nil
}
