// Package population holds the labeled-object population model: objects
// extracted from a label volume, the population container with its dense
// relabeling, and the filters that remove objects by size, intensity,
// Z-extent or border contact.
//
// A Population is not safe for concurrent mutation.  Concurrent reads of a
// population that is no longer being mutated are safe.
package population

import (
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"objpop3d/internal/logging"
	"objpop3d/internal/models"
	"objpop3d/pkg/geometry"
)

// Population is an ordered collection of objects sharing a calibration.
// Order is insertion order.
type Population struct {
	objects     []*Object
	calibration *models.Calibration
	extent      geometry.Extent
	workers     int
}

// New returns an empty population.  cal may be nil for an uncalibrated
// population.
func New(cal *models.Calibration) *Population {
	p := &Population{}
	p.SetCalibration(cal)
	return p
}

// FromLabelVolume builds one object per distinct nonzero label of vol,
// ordered by ascending label.  Objects keep the label values of the volume.
// The population's reference extent is set to the volume's extent.
func FromLabelVolume(vol *models.LabelVolume, cal *models.Calibration) (*Population, error) {
	if vol == nil {
		return nil, ConfigErrorf("FromLabelVolume", "nil label volume")
	}
	if err := vol.CheckSize(); err != nil {
		return nil, ConfigErrorf("FromLabelVolume", "%v", err)
	}

	// Raster scan keeps each object's voxels in sorted order.
	voxels := make(map[uint32][]geometry.Point3d)
	i := 0
	for z := 0; z < vol.Depth; z++ {
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				if label := vol.Data[i]; label != 0 {
					voxels[label] = append(voxels[label], geometry.Point3d{int32(x), int32(y), int32(z)})
				}
				i++
			}
		}
	}

	labels := make([]uint32, 0, len(voxels))
	for label := range voxels {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })

	p := New(cal)
	p.extent = vol.Extent()
	p.objects = make([]*Object, len(labels))
	for i, label := range labels {
		p.objects[i] = newSortedObject(uuid.New(), label, voxels[label])
	}
	logging.Debugf("Extracted %s objects from %s label volume\n", humanize.Comma(int64(len(labels))), vol.Extent())
	return p, nil
}

// SetWorkers sets the number of goroutines used by data-parallel operations.
// Zero or negative means one per CPU.
func (p *Population) SetWorkers(n int) { p.workers = n }

// Workers returns the configured worker count.
func (p *Population) Workers() int { return p.workers }

// SetCalibration attaches a copy of cal, or detaches the calibration if nil.
func (p *Population) SetCalibration(cal *models.Calibration) {
	if cal == nil {
		p.calibration = nil
		return
	}
	c := *cal
	p.calibration = &c
}

// Calibration returns the attached calibration and whether one is attached.
func (p *Population) Calibration() (models.Calibration, bool) {
	if p.calibration == nil {
		return models.Calibration{}, false
	}
	return *p.calibration, true
}

// SetExtent records the extent of the volume the objects were taken from.
func (p *Population) SetExtent(ext geometry.Extent) { p.extent = ext }

// Extent returns the reference extent and whether one is known.
func (p *Population) Extent() (geometry.Extent, bool) {
	return p.extent, !p.extent.Empty()
}

// Len returns the number of objects.
func (p *Population) Len() int { return len(p.objects) }

// Objects returns the objects in population order.  The slice is a copy;
// the objects are not.
func (p *Population) Objects() []*Object {
	out := make([]*Object, len(p.objects))
	copy(out, p.objects)
	return out
}

// Object returns the i-th object.
func (p *Population) Object(i int) *Object { return p.objects[i] }

// ByLabel returns the object with the given label or nil.
func (p *Population) ByLabel(label uint32) *Object {
	for _, obj := range p.objects {
		if obj.label == label {
			return obj
		}
	}
	return nil
}

// Labels returns the labels in population order.
func (p *Population) Labels() []uint32 {
	labels := make([]uint32, len(p.objects))
	for i, obj := range p.objects {
		labels[i] = obj.label
	}
	return labels
}

// Add appends obj to the population, which takes ownership of it.  A zero
// label is replaced by one more than the largest label present.  A label
// already in use is a geometry inconsistency.
func (p *Population) Add(obj *Object) error {
	var maxLabel uint32
	for _, other := range p.objects {
		if obj.label != 0 && other.label == obj.label {
			return geometryErrorf("Add", obj.label, "label already present in population")
		}
		if other.label > maxLabel {
			maxLabel = other.label
		}
	}
	if obj.label == 0 {
		obj.label = maxLabel + 1
	}
	p.objects = append(p.objects, obj)
	return nil
}

// ResetLabels reassigns labels 1..N in current order.
func (p *Population) ResetLabels() {
	for i, obj := range p.objects {
		obj.label = uint32(i + 1)
	}
}

// Validate checks every object's invariants and that labels are distinct
// and nonzero.
func (p *Population) Validate() error {
	if err := p.checkLabels("Validate"); err != nil {
		return err
	}
	for _, obj := range p.objects {
		if err := obj.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p *Population) checkLabels(op string) error {
	seen := make(map[uint32]struct{}, len(p.objects))
	for _, obj := range p.objects {
		if obj.label == 0 {
			return geometryErrorf(op, 0, "object %s has no label", obj.id)
		}
		if _, found := seen[obj.label]; found {
			return geometryErrorf(op, obj.label, "label collision")
		}
		seen[obj.label] = struct{}{}
	}
	return nil
}

// VoxelVolume returns the physical volume of one voxel, failing when the
// population is uncalibrated.
func (p *Population) VoxelVolume(op string) (float64, error) {
	if p.calibration == nil {
		return 0, ConfigErrorf(op, "population has no calibration")
	}
	if !p.calibration.Valid() {
		return 0, ConfigErrorf(op, "invalid calibration %s", p.calibration)
	}
	return p.calibration.VoxelVolume(), nil
}

// Volume returns the physical volume of obj using the population's
// calibration.
func (p *Population) Volume(obj *Object) (float64, error) {
	voxVol, err := p.VoxelVolume("Volume")
	if err != nil {
		return 0, err
	}
	return float64(obj.Size()) * voxVol, nil
}

// TotalVolume returns the summed physical volume of all objects.
func (p *Population) TotalVolume() (float64, error) {
	voxVol, err := p.VoxelVolume("TotalVolume")
	if err != nil {
		return 0, err
	}
	var voxels int64
	for _, obj := range p.objects {
		voxels += int64(obj.Size())
	}
	return float64(voxels) * voxVol, nil
}

// TotalIntensity returns the sum over objects of their summed intensity in
// vol.
func (p *Population) TotalIntensity(m Measurer, vol *models.IntensityVolume) (float64, error) {
	if err := p.checkIntensityInputs("TotalIntensity", m, vol); err != nil {
		return 0, err
	}
	sums := make([]float64, len(p.objects))
	err := ForRanges(len(p.objects), p.workers, func(start, end int) error {
		for i := start; i < end; i++ {
			v, err := m.Measure(p.objects[i], vol, IntensitySum)
			if err != nil {
				return err
			}
			sums[i] = v
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	var total float64
	for _, v := range sums {
		total += v
	}
	return total, nil
}

// retain keeps the objects whose keep flag is set, preserving order, then
// relabels densely.  It returns the number removed.
func (p *Population) retain(keep []bool) int {
	kept := p.objects[:0]
	for i, obj := range p.objects {
		if keep[i] {
			kept = append(kept, obj)
		}
	}
	removed := len(p.objects) - len(kept)
	for i := len(kept); i < len(p.objects); i++ {
		p.objects[i] = nil
	}
	p.objects = kept
	p.ResetLabels()
	return removed
}

// Replace swaps in a new object list and relabels densely.  It is used by
// operations that rebuild objects, such as morphology.
func (p *Population) Replace(objects []*Object) {
	p.objects = objects
	p.ResetLabels()
}
