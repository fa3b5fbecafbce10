package morphology

import (
	"objpop3d/internal/models"
	"objpop3d/pkg/geometry"
)

// Ellipsoid is a CPU VoxelFilter over an ellipsoidal neighbourhood.  A voxel
// offset (dx, dy, dz) is in the neighbourhood when
// (dx/rx)^2 + (dy/ry)^2 + (dz/rz)^2 <= 1, where an axis with zero radius
// only admits a zero offset.  Voxels outside the mask count as background.
type Ellipsoid struct{}

// Max sets every voxel whose neighbourhood contains a set voxel.
func (Ellipsoid) Max(mask *models.Mask, r Radius) (*models.Mask, error) {
	out := &models.Mask{Origin: mask.Origin, Size: mask.Size, Data: make([]bool, len(mask.Data))}
	kernel := Kernel(r)
	for _, pt := range mask.Points() {
		for _, off := range kernel {
			q := pt.Add(off)
			if inMask(mask, q) {
				out.Set(q)
			}
		}
	}
	return out, nil
}

// Min keeps every set voxel whose whole neighbourhood is set.
func (Ellipsoid) Min(mask *models.Mask, r Radius) (*models.Mask, error) {
	out := &models.Mask{Origin: mask.Origin, Size: mask.Size, Data: make([]bool, len(mask.Data))}
	kernel := Kernel(r)
	for _, pt := range mask.Points() {
		keep := true
		for _, off := range kernel {
			if !mask.Get(pt.Add(off)) {
				keep = false
				break
			}
		}
		if keep {
			out.Set(pt)
		}
	}
	return out, nil
}

// Kernel returns the offsets of the ellipsoidal neighbourhood of radius r.
func Kernel(r Radius) []geometry.Point3d {
	ext := r.extent()
	radii := [3]float64{r.X, r.Y, r.Z}
	var offsets []geometry.Point3d
	for dz := -ext[2]; dz <= ext[2]; dz++ {
		for dy := -ext[1]; dy <= ext[1]; dy++ {
			for dx := -ext[0]; dx <= ext[0]; dx++ {
				off := geometry.Point3d{dx, dy, dz}
				var sum float64
				for axis, d := range off {
					if d == 0 {
						continue
					}
					if radii[axis] == 0 {
						sum = 2
						break
					}
					f := float64(d) / radii[axis]
					sum += f * f
				}
				if sum <= 1 {
					offsets = append(offsets, off)
				}
			}
		}
	}
	return offsets
}

func inMask(m *models.Mask, pt geometry.Point3d) bool {
	local := pt.Sub(m.Origin)
	for dim := 0; dim < 3; dim++ {
		if local[dim] < 0 || local[dim] >= m.Size[dim] {
			return false
		}
	}
	return true
}
