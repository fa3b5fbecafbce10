// Package morphology dilates and erodes single objects inside a small local
// crop, then applies the border policy against the full image extent.
//
// Each object is rasterized into a mask cropped tightly around its bounding
// box, so a population of many small objects never triggers a full-image
// filter pass.
package morphology

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"objpop3d/internal/logging"
	"objpop3d/internal/models"
	"objpop3d/pkg/geometry"
	"objpop3d/pkg/population"
)

// Radius is a per-axis filter radius in voxels.
type Radius struct {
	X, Y, Z float64
}

// Isotropic returns the same radius along every axis.
func Isotropic(r float64) Radius {
	return Radius{X: r, Y: r, Z: r}
}

// RadiusFromPhysical converts a physical distance into per-axis voxel radii
// using the calibration.
func RadiusFromPhysical(dist float64, cal models.Calibration) (Radius, error) {
	if !cal.Valid() {
		return Radius{}, population.ConfigErrorf("RadiusFromPhysical", "invalid calibration %s", cal)
	}
	if dist < 0 || math.IsNaN(dist) {
		return Radius{}, population.ConfigErrorf("RadiusFromPhysical", "invalid distance %g", dist)
	}
	return Radius{X: dist / cal.PixelSizeXY, Y: dist / cal.PixelSizeXY, Z: dist / cal.PixelSizeZ}, nil
}

// Zero returns true if the radius is zero along every axis.
func (r Radius) Zero() bool {
	return r.X == 0 && r.Y == 0 && r.Z == 0
}

func (r Radius) String() string {
	return fmt.Sprintf("(%g, %g, %g)", r.X, r.Y, r.Z)
}

func (r Radius) check(op string) error {
	for _, v := range [3]float64{r.X, r.Y, r.Z} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return population.ConfigErrorf(op, "invalid radius %s", r)
		}
	}
	return nil
}

// extent returns ceil(r) per axis.
func (r Radius) extent() geometry.Point3d {
	return geometry.Point3d{int32(math.Ceil(r.X)), int32(math.Ceil(r.Y)), int32(math.Ceil(r.Z))}
}

// VoxelFilter is the max/min voxel filter service.  Both methods return a
// new mask with the same origin and size as the input.
type VoxelFilter interface {
	Max(mask *models.Mask, r Radius) (*models.Mask, error)
	Min(mask *models.Mask, r Radius) (*models.Mask, error)
}

// BorderMode decides what happens to a dilated object that reaches the
// image border.
type BorderMode int

const (
	// Discard drops a grown object that touches or crosses the border.
	Discard BorderMode = iota
	// Clip drops only the voxels beyond the extent and keeps the rest.
	Clip
)

func (m BorderMode) String() string {
	if m == Clip {
		return "clip"
	}
	return "discard"
}

// ParseBorderMode converts "discard" or "clip".
func ParseBorderMode(s string) (BorderMode, error) {
	switch s {
	case "discard", "":
		return Discard, nil
	case "clip":
		return Clip, nil
	}
	return Discard, fmt.Errorf("unknown border mode %q", s)
}

// Outcome describes what a morphological operation did to one object.
type Outcome int

const (
	// Kept means the result lies within the image extent.
	Kept Outcome = iota

	// Clipped means voxels outside the extent were dropped in Clip mode.
	Clipped

	// Discarded means the result touched or left the extent in Discard mode.
	Discarded

	// Vanished means nothing remained, as when eroding a thin object.
	Vanished
)

func (o Outcome) String() string {
	switch o {
	case Kept:
		return "kept"
	case Clipped:
		return "clipped"
	case Discarded:
		return "discarded"
	case Vanished:
		return "vanished"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Transformer dilates and erodes objects from images of a given extent.
type Transformer struct {
	filter VoxelFilter
	extent geometry.Extent
	mode   BorderMode
}

// NewTransformer returns a transformer applying the border policy in mode
// against extent.
func NewTransformer(filter VoxelFilter, extent geometry.Extent, mode BorderMode) (*Transformer, error) {
	if filter == nil {
		return nil, population.ConfigErrorf("NewTransformer", "no voxel filter")
	}
	if extent.Empty() {
		return nil, population.ConfigErrorf("NewTransformer", "empty image extent %s", extent)
	}
	return &Transformer{filter: filter, extent: extent, mode: mode}, nil
}

// Mode returns the border mode.
func (t *Transformer) Mode() BorderMode { return t.mode }

// Dilate grows obj by r.  The result carries obj's label.  A nil object is
// returned when the border policy discards the grown object.
func (t *Transformer) Dilate(obj *population.Object, r Radius) (*population.Object, Outcome, error) {
	pad := r.extent().Add(geometry.Point3d{1, 1, 1})
	grown, outcome, err := t.apply("Dilate", obj, r, pad, t.filter.Max)
	if err != nil || grown == nil || r.Zero() {
		return grown, outcome, err
	}
	return t.restrict(grown)
}

// Erode shrinks obj by r.  A nil object with outcome Vanished is returned
// when nothing survives.
func (t *Transformer) Erode(obj *population.Object, r Radius) (*population.Object, Outcome, error) {
	return t.apply("Erode", obj, r, geometry.Point3d{1, 1, 1}, t.filter.Min)
}

// apply crops, rasterizes, filters and re-vectorizes one object.
func (t *Transformer) apply(op string, obj *population.Object, r Radius, pad geometry.Point3d,
	filter func(*models.Mask, Radius) (*models.Mask, error)) (*population.Object, Outcome, error) {

	if err := r.check(op); err != nil {
		return nil, Kept, err
	}
	if r.Zero() {
		return obj.Reference(), Kept, nil
	}

	mask := models.NewMask(obj.BoundingBox().Expand(pad))
	for _, pt := range obj.Points() {
		mask.Set(pt)
	}
	result, err := filter(mask, r)
	if err != nil {
		return nil, Kept, errors.Wrapf(err, "%s of object %d", op, obj.Label())
	}
	if result == nil || result.Origin != mask.Origin || result.Size != mask.Size || len(result.Data) != len(mask.Data) {
		return nil, Kept, errors.Errorf("%s of object %d: voxel filter returned a mask of different shape", op, obj.Label())
	}

	pts := result.Points()
	if len(pts) == 0 {
		return nil, Vanished, nil
	}
	out, err := population.NewObject(obj.Label(), pts)
	if err != nil {
		return nil, Kept, err
	}
	return out, Kept, nil
}

// restrict applies the border policy to a grown object.
func (t *Transformer) restrict(obj *population.Object) (*population.Object, Outcome, error) {
	switch geometry.Classify(obj.BoundingBox(), t.extent) {
	case geometry.Inside:
		return obj, Kept, nil
	case geometry.Touching:
		if t.mode == Discard {
			return nil, Discarded, nil
		}
		return obj, Kept, nil
	default:
		if t.mode == Discard {
			return nil, Discarded, nil
		}
		var inside int
		for _, pt := range obj.Points() {
			if t.extent.Contains(pt) {
				inside++
			}
		}
		if inside == 0 {
			return nil, Vanished, nil
		}
		if _, err := obj.RemoveVoxels(func(pt geometry.Point3d) bool { return !t.extent.Contains(pt) }); err != nil {
			return nil, Kept, err
		}
		return obj, Clipped, nil
	}
}

// DilatePopulation dilates every object of pop by r.  Objects the border
// policy discards are removed and the population is relabeled.  On error the
// population is left unchanged.
func (t *Transformer) DilatePopulation(pop *population.Population, r Radius) (population.Report, error) {
	return t.transformPopulation("DilatePopulation", pop, r, t.Dilate)
}

// ErodePopulation erodes every object of pop by r, removing objects that
// vanish, and relabels the population.
func (t *Transformer) ErodePopulation(pop *population.Population, r Radius) (population.Report, error) {
	return t.transformPopulation("ErodePopulation", pop, r, t.Erode)
}

func (t *Transformer) transformPopulation(op string, pop *population.Population, r Radius,
	fn func(*population.Object, Radius) (*population.Object, Outcome, error)) (population.Report, error) {

	report := population.Report{Op: op, Before: pop.Len()}
	if err := r.check(op); err != nil {
		return report, err
	}
	if pop.Len() == 0 {
		logging.Warningf("%s: empty population, nothing to transform\n", op)
		report.EmptyInput = true
		return report, nil
	}
	if err := pop.Validate(); err != nil {
		return report, err
	}

	tlog := logging.NewTimeLog()
	objects := pop.Objects()
	results := make([]*population.Object, len(objects))
	outcomes := make([]Outcome, len(objects))
	err := population.ForRanges(len(objects), pop.Workers(), func(start, end int) error {
		for i := start; i < end; i++ {
			obj, outcome, err := fn(objects[i], r)
			if err != nil {
				return err
			}
			results[i], outcomes[i] = obj, outcome
		}
		return nil
	})
	if err != nil {
		return report, errors.Wrap(err, op)
	}

	kept := make([]*population.Object, 0, len(results))
	var clipped int
	for i, obj := range results {
		if obj != nil {
			kept = append(kept, obj)
		}
		if outcomes[i] == Clipped {
			clipped++
		}
	}
	pop.Replace(kept)
	report.Removed = len(objects) - len(kept)
	tlog.Debugf("%s by %s (%s): %s removed, %s clipped", op, r, t.mode,
		humanize.Comma(int64(report.Removed)), humanize.Comma(int64(clipped)))
	return report, nil
}
