// Package measure computes per-object intensity statistics against an
// intensity volume, with an optional byte-bounded cache of results.
package measure

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"objpop3d/internal/models"
	"objpop3d/pkg/population"
)

// Intensity is the default population.Measurer.  It reads every voxel of the
// object from the volume.
type Intensity struct{}

// Measure returns the requested statistic of the object's voxel intensities.
// A voxel outside the volume is a configuration error.
func (Intensity) Measure(obj *population.Object, vol *models.IntensityVolume, s population.Statistic) (float64, error) {
	values, err := Values(obj, vol)
	if err != nil {
		return 0, err
	}
	switch s {
	case population.IntensitySum:
		return floats.Sum(values), nil
	case population.IntensityMean:
		return stat.Mean(values, nil), nil
	case population.IntensityMax:
		return floats.Max(values), nil
	case population.IntensityMin:
		return floats.Min(values), nil
	case population.IntensityStdDev:
		if len(values) < 2 {
			return 0, nil
		}
		return stat.StdDev(values, nil), nil
	default:
		return 0, population.ConfigErrorf("Measure", "unknown statistic %s", s)
	}
}

// Values returns the intensities under the object's voxels in raster order.
func Values(obj *population.Object, vol *models.IntensityVolume) ([]float64, error) {
	ext := vol.Extent()
	box := obj.BoundingBox()
	if !ext.Contains(box.Min) || !ext.Contains(box.Max) {
		return nil, population.ConfigErrorf("Measure", "object %d with bounds %s lies outside intensity volume %s",
			obj.Label(), box, ext)
	}
	values := make([]float64, obj.Size())
	for i, pt := range obj.Points() {
		values[i] = vol.At(pt)
	}
	return values, nil
}

// ObjectStats is a row of per-object measurements.
type ObjectStats struct {
	Label  uint32
	Voxels int
	Volume float64
	Sum    float64
	Mean   float64
	Max    float64
}

// Describe measures every object of pop.  A non-empty population must be
// calibrated; vol may be nil to skip intensities.
func Describe(pop *population.Population, m population.Measurer, vol *models.IntensityVolume) ([]ObjectStats, error) {
	objects := pop.Objects()
	rows := make([]ObjectStats, len(objects))
	if len(objects) == 0 {
		return rows, nil
	}
	voxVol, err := pop.VoxelVolume("Describe")
	if err != nil {
		return nil, err
	}
	err = population.ForRanges(len(objects), pop.Workers(), func(start, end int) error {
		for i := start; i < end; i++ {
			obj := objects[i]
			row := ObjectStats{
				Label:  obj.Label(),
				Voxels: obj.Size(),
				Volume: float64(obj.Size()) * voxVol,
			}
			if vol != nil {
				var err error
				if row.Sum, err = m.Measure(obj, vol, population.IntensitySum); err != nil {
					return err
				}
				if row.Mean, err = m.Measure(obj, vol, population.IntensityMean); err != nil {
					return err
				}
				if row.Max, err = m.Measure(obj, vol, population.IntensityMax); err != nil {
					return err
				}
			}
			rows[i] = row
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}
