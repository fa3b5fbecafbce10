package population

import (
	"sort"
	"sync/atomic"

	"github.com/google/uuid"

	"objpop3d/pkg/geometry"
)

// Voxel is a voxel coordinate together with the label of the object owning it.
type Voxel struct {
	geometry.Point3d
	Label uint32
}

// Object is a labeled set of voxels with a cached tight bounding box.
//
// The voxel slice is kept sorted in raster order (Z, then Y, then X) without
// duplicates and is never modified in place: mutations build a new slice, so
// references created with Reference can share voxel storage safely.
type Object struct {
	id      uuid.UUID
	label   uint32
	voxels  []geometry.Point3d
	box     geometry.Box
	matched uint32
	version uint64
}

// versions hands out content versions.  Every voxel set an object takes on
// gets a fresh one, so two objects share a version only when one is an
// unmodified reference of the other.
var versions atomic.Uint64

// NewObject returns an object with the given label holding a copy of pts.
// Duplicate points are collapsed.  An empty point set is rejected.
func NewObject(label uint32, pts []geometry.Point3d) (*Object, error) {
	if len(pts) == 0 {
		return nil, geometryErrorf("NewObject", label, "object has no voxels")
	}
	voxels := make([]geometry.Point3d, len(pts))
	copy(voxels, pts)
	sortPoints(voxels)
	return newSortedObject(uuid.New(), label, dedupe(voxels)), nil
}

// newSortedObject trusts that voxels is non-empty, sorted and unique.
func newSortedObject(id uuid.UUID, label uint32, voxels []geometry.Point3d) *Object {
	obj := &Object{id: id, label: label, voxels: voxels, version: versions.Add(1)}
	obj.box, _ = geometry.BoxOf(voxels)
	return obj
}

// ID is a stable identity that survives relabeling.
func (o *Object) ID() uuid.UUID { return o.id }

// Label returns the object's current label in its population.
func (o *Object) Label() uint32 { return o.label }

// Size returns the number of voxels.
func (o *Object) Size() int { return len(o.voxels) }

// BoundingBox returns the tight bounds of the voxel set.
func (o *Object) BoundingBox() geometry.Box { return o.box }

// Points returns the voxel coordinates in raster order.  The returned slice
// must not be modified.
func (o *Object) Points() []geometry.Point3d { return o.voxels }

// Voxels returns the voxels paired with the object's label.
func (o *Object) Voxels() []Voxel {
	out := make([]Voxel, len(o.voxels))
	for i, pt := range o.voxels {
		out[i] = Voxel{Point3d: pt, Label: o.label}
	}
	return out
}

// MatchedLabel is the label of the object from another population this one
// was last matched with by colocalization counting.  Zero means no match.
func (o *Object) MatchedLabel() uint32 { return o.matched }

// Version identifies the current voxel set.  It changes on every mutation
// and is shared with references until either side is mutated.
func (o *Object) Version() uint64 { return o.version }

// SetMatchedLabel records a colocalization match.
func (o *Object) SetMatchedLabel(label uint32) { o.matched = label }

// Reference returns a new object that shares this object's identity and
// voxels but carries its own label, for insertion into another population.
func (o *Object) Reference() *Object {
	return &Object{id: o.id, label: o.label, voxels: o.voxels, box: o.box, version: o.version}
}

// Planes returns the distinct Z indices occupied by the object, ascending.
func (o *Object) Planes() []int32 {
	var planes []int32
	for i, pt := range o.voxels {
		if i == 0 || pt[2] != o.voxels[i-1][2] {
			planes = append(planes, pt[2])
		}
	}
	return planes
}

// Contains returns true if pt is one of the object's voxels.
func (o *Object) Contains(pt geometry.Point3d) bool {
	if !o.box.Contains(pt) {
		return false
	}
	i := sort.Search(len(o.voxels), func(i int) bool { return o.voxels[i].Compare(pt) >= 0 })
	return i < len(o.voxels) && o.voxels[i] == pt
}

// Overlap returns the number of voxel coordinates shared with other.
func (o *Object) Overlap(other *Object) int {
	if !o.box.Intersects(other.box) {
		return 0
	}
	a, b := o.voxels, other.voxels
	var i, j, n int
	for i < len(a) && j < len(b) {
		switch a[i].Compare(b[j]) {
		case -1:
			i++
		case 1:
			j++
		default:
			n++
			i++
			j++
		}
	}
	return n
}

// Subtract returns the voxels of o that are not voxels of other, in raster
// order.
func (o *Object) Subtract(other *Object) []geometry.Point3d {
	var out []geometry.Point3d
	b := other.voxels
	j := 0
	for _, pt := range o.voxels {
		for j < len(b) && b[j].Compare(pt) < 0 {
			j++
		}
		if j < len(b) && b[j] == pt {
			continue
		}
		out = append(out, pt)
	}
	return out
}

// AddVoxels merges pts into the object and recomputes the bounding box.
func (o *Object) AddVoxels(pts ...geometry.Point3d) {
	if len(pts) == 0 {
		return
	}
	merged := make([]geometry.Point3d, 0, len(o.voxels)+len(pts))
	merged = append(merged, o.voxels...)
	merged = append(merged, pts...)
	sortPoints(merged)
	o.voxels = dedupe(merged)
	o.box, _ = geometry.BoxOf(o.voxels)
	o.version = versions.Add(1)
}

// RemoveVoxels drops every voxel for which drop returns true and recomputes
// the bounding box.  Removing all voxels is refused since an object may not
// be empty; the object is then left unchanged.
func (o *Object) RemoveVoxels(drop func(geometry.Point3d) bool) (int, error) {
	kept := make([]geometry.Point3d, 0, len(o.voxels))
	for _, pt := range o.voxels {
		if !drop(pt) {
			kept = append(kept, pt)
		}
	}
	removed := len(o.voxels) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if len(kept) == 0 {
		return 0, geometryErrorf("RemoveVoxels", o.label, "removal would leave the object empty")
	}
	o.voxels = kept
	o.box, _ = geometry.BoxOf(kept)
	o.version = versions.Add(1)
	return removed, nil
}

// Centroid returns the mean voxel coordinate in voxel units.
func (o *Object) Centroid() [3]float64 {
	var sum [3]float64
	for _, pt := range o.voxels {
		sum[0] += float64(pt[0])
		sum[1] += float64(pt[1])
		sum[2] += float64(pt[2])
	}
	n := float64(len(o.voxels))
	return [3]float64{sum[0] / n, sum[1] / n, sum[2] / n}
}

// Validate checks the object's invariants: non-empty, sorted unique voxels
// and a bounding box equal to the tight bounds of the voxels.
func (o *Object) Validate() error {
	if len(o.voxels) == 0 {
		return geometryErrorf("Validate", o.label, "object has no voxels")
	}
	for i := 1; i < len(o.voxels); i++ {
		if o.voxels[i-1].Compare(o.voxels[i]) >= 0 {
			return geometryErrorf("Validate", o.label, "voxels out of order at %s", o.voxels[i])
		}
	}
	box, _ := geometry.BoxOf(o.voxels)
	if box != o.box {
		return geometryErrorf("Validate", o.label, "bounding box %s does not match voxels %s", o.box, box)
	}
	return nil
}

func sortPoints(pts []geometry.Point3d) {
	sort.Slice(pts, func(i, j int) bool { return pts[i].Compare(pts[j]) < 0 })
}

// dedupe collapses runs of equal points in a sorted slice.
func dedupe(pts []geometry.Point3d) []geometry.Point3d {
	if len(pts) == 0 {
		return pts
	}
	out := pts[:1]
	for _, pt := range pts[1:] {
		if pt != out[len(out)-1] {
			out = append(out, pt)
		}
	}
	return out
}
