// Package geometry provides integer voxel coordinates, tight bounding boxes
// and the border policy that places an object relative to a volume extent.
package geometry

import "fmt"

// Point3d is a voxel-index coordinate ordered X, Y, Z.
type Point3d [3]int32

// Add returns the component-wise sum of p and q.
func (p Point3d) Add(q Point3d) Point3d {
	return Point3d{p[0] + q[0], p[1] + q[1], p[2] + q[2]}
}

// Sub returns the component-wise difference p - q.
func (p Point3d) Sub(q Point3d) Point3d {
	return Point3d{p[0] - q[0], p[1] - q[1], p[2] - q[2]}
}

// Compare orders points by Z, then Y, then X, which is the raster order of a
// volume stored plane by plane.  It returns -1, 0 or +1.
func (p Point3d) Compare(q Point3d) int {
	for dim := 2; dim >= 0; dim-- {
		switch {
		case p[dim] < q[dim]:
			return -1
		case p[dim] > q[dim]:
			return 1
		}
	}
	return 0
}

func (p Point3d) String() string {
	return fmt.Sprintf("(%d, %d, %d)", p[0], p[1], p[2])
}

// Box is an axis-aligned bounding box with inclusive Min and Max corners.
type Box struct {
	Min Point3d
	Max Point3d
}

// BoxOf returns the tight bounds of pts.  The second return value is false
// when pts is empty.
func BoxOf(pts []Point3d) (Box, bool) {
	if len(pts) == 0 {
		return Box{}, false
	}
	box := Box{Min: pts[0], Max: pts[0]}
	for _, pt := range pts[1:] {
		for dim := 0; dim < 3; dim++ {
			if pt[dim] < box.Min[dim] {
				box.Min[dim] = pt[dim]
			}
			if pt[dim] > box.Max[dim] {
				box.Max[dim] = pt[dim]
			}
		}
	}
	return box, true
}

// Size returns the number of voxels spanned along each axis.
func (b Box) Size() Point3d {
	return Point3d{b.Max[0] - b.Min[0] + 1, b.Max[1] - b.Min[1] + 1, b.Max[2] - b.Min[2] + 1}
}

// NumVoxels returns the number of voxel positions enclosed by the box.
func (b Box) NumVoxels() int64 {
	size := b.Size()
	return int64(size[0]) * int64(size[1]) * int64(size[2])
}

// Contains returns true if pt lies within the box.
func (b Box) Contains(pt Point3d) bool {
	for dim := 0; dim < 3; dim++ {
		if pt[dim] < b.Min[dim] || pt[dim] > b.Max[dim] {
			return false
		}
	}
	return true
}

// Intersects returns true if the two boxes share at least one voxel position.
func (b Box) Intersects(o Box) bool {
	for dim := 0; dim < 3; dim++ {
		if b.Max[dim] < o.Min[dim] || o.Max[dim] < b.Min[dim] {
			return false
		}
	}
	return true
}

// Expand grows the box by pad voxels on each side of each axis.
func (b Box) Expand(pad Point3d) Box {
	return Box{Min: b.Min.Sub(pad), Max: b.Max.Add(pad)}
}

func (b Box) String() string {
	return fmt.Sprintf("%s -> %s", b.Min, b.Max)
}

// Extent is the integer extent [0, Width) x [0, Height) x [0, Depth) of a
// reference volume.
type Extent struct {
	Width  int32
	Height int32
	Depth  int32
}

// Empty returns true if any dimension of the extent is not positive.
func (e Extent) Empty() bool {
	return e.Width <= 0 || e.Height <= 0 || e.Depth <= 0
}

// Dim returns the extent along the given axis (0 = X, 1 = Y, 2 = Z).
func (e Extent) Dim(axis int) int32 {
	switch axis {
	case 0:
		return e.Width
	case 1:
		return e.Height
	default:
		return e.Depth
	}
}

// Contains returns true if pt is a valid voxel index of the extent.
func (e Extent) Contains(pt Point3d) bool {
	for dim := 0; dim < 3; dim++ {
		if pt[dim] < 0 || pt[dim] >= e.Dim(dim) {
			return false
		}
	}
	return true
}

// NumVoxels returns Width * Height * Depth.
func (e Extent) NumVoxels() int64 {
	return int64(e.Width) * int64(e.Height) * int64(e.Depth)
}

func (e Extent) String() string {
	return fmt.Sprintf("%d x %d x %d", e.Width, e.Height, e.Depth)
}

// Placement is the border classification of an object against an extent.
type Placement int

const (
	// Inside means every voxel is strictly inside the extent.
	Inside Placement = iota
	// Touching means no voxel is beyond the extent but at least one lies on
	// the first or last index of some axis.
	Touching
	// Outside means at least one voxel lies beyond the extent.  Only
	// reachable after the object has been grown.
	Outside
)

func (p Placement) String() string {
	switch p {
	case Inside:
		return "inside"
	case Touching:
		return "touching"
	case Outside:
		return "outside"
	default:
		return fmt.Sprintf("placement(%d)", int(p))
	}
}

// Classify places a tight bounding box against the extent.  Because the box
// is tight, a box corner on a boundary index implies a voxel on that index.
func Classify(b Box, e Extent) Placement {
	placement := Inside
	for dim := 0; dim < 3; dim++ {
		last := e.Dim(dim) - 1
		if b.Min[dim] < 0 || b.Max[dim] > last {
			return Outside
		}
		if b.Min[dim] == 0 || b.Max[dim] == last {
			placement = Touching
		}
	}
	return placement
}
