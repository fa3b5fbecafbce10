package models

import (
	"fmt"

	"github.com/google/uuid"

	"objpop3d/pkg/geometry"
)

// Calibration is the physical size of one voxel.  X and Y are assumed equal.
type Calibration struct {
	// PixelSizeXY is the physical width (and height) of a voxel
	PixelSizeXY float64 `yaml:"pixelSizeXY" toml:"pixel_size_xy"`

	// PixelSizeZ is the physical depth of a voxel, usually the slice step
	PixelSizeZ float64 `yaml:"pixelSizeZ" toml:"pixel_size_z"`

	// Unit names the physical unit, e.g. "µm"
	Unit string `yaml:"unit" toml:"unit"`
}

// VoxelVolume returns the physical volume of a single voxel.
func (c Calibration) VoxelVolume() float64 {
	return c.PixelSizeXY * c.PixelSizeXY * c.PixelSizeZ
}

// Valid returns true if both voxel sizes are strictly positive.
func (c Calibration) Valid() bool {
	return c.PixelSizeXY > 0 && c.PixelSizeZ > 0
}

func (c Calibration) String() string {
	return fmt.Sprintf("%g x %g x %g %s", c.PixelSizeXY, c.PixelSizeXY, c.PixelSizeZ, c.Unit)
}

// LabelVolume is a 3D label image.  Each nonzero value identifies one
// segmented object; zero is background.
type LabelVolume struct {
	// Data holds the labels plane by plane: index = z*Width*Height + y*Width + x
	Data []uint32

	// Width, Height, Depth are the dimensions in voxels
	Width, Height, Depth int
}

// NewLabelVolume returns a zeroed label volume of the given size.
func NewLabelVolume(width, height, depth int) *LabelVolume {
	return &LabelVolume{
		Data:   make([]uint32, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Extent returns the integer extent of the volume.
func (v *LabelVolume) Extent() geometry.Extent {
	return geometry.Extent{Width: int32(v.Width), Height: int32(v.Height), Depth: int32(v.Depth)}
}

// At returns the label at (x, y, z).
func (v *LabelVolume) At(x, y, z int) uint32 {
	return v.Data[z*v.Width*v.Height+y*v.Width+x]
}

// Set writes a label at (x, y, z).
func (v *LabelVolume) Set(x, y, z int, label uint32) {
	v.Data[z*v.Width*v.Height+y*v.Width+x] = label
}

// CheckSize verifies that the data length agrees with the dimensions.
func (v *LabelVolume) CheckSize() error {
	if v.Width < 0 || v.Height < 0 || v.Depth < 0 {
		return fmt.Errorf("negative label volume dimensions %d x %d x %d", v.Width, v.Height, v.Depth)
	}
	if len(v.Data) != v.Width*v.Height*v.Depth {
		return fmt.Errorf("label volume %d x %d x %d holds %d values", v.Width, v.Height, v.Depth, len(v.Data))
	}
	return nil
}

// IntensityVolume is a 3D intensity image companion to a label volume.
type IntensityVolume struct {
	// ID identifies this volume instance, e.g. for measurement caching
	ID uuid.UUID

	// Data holds the intensities in the same order as LabelVolume.Data
	Data []float64

	// Width, Height, Depth are the dimensions in voxels
	Width, Height, Depth int
}

// NewIntensityVolume returns a zeroed intensity volume with a fresh ID.
func NewIntensityVolume(width, height, depth int) *IntensityVolume {
	return &IntensityVolume{
		ID:     uuid.New(),
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
	}
}

// Extent returns the integer extent of the volume.
func (v *IntensityVolume) Extent() geometry.Extent {
	return geometry.Extent{Width: int32(v.Width), Height: int32(v.Height), Depth: int32(v.Depth)}
}

// At returns the intensity at pt, which must lie inside the extent.
func (v *IntensityVolume) At(pt geometry.Point3d) float64 {
	return v.Data[int(pt[2])*v.Width*v.Height+int(pt[1])*v.Width+int(pt[0])]
}

// Set writes an intensity at (x, y, z).
func (v *IntensityVolume) Set(x, y, z int, value float64) {
	v.Data[z*v.Width*v.Height+y*v.Width+x] = value
}

// Mask is a binary volume positioned at Origin within a larger volume.  It
// is the local crop used for morphological operations on a single object.
type Mask struct {
	// Origin is the global coordinate of the mask's (0, 0, 0) voxel
	Origin geometry.Point3d

	// Size is the mask's extent along X, Y and Z
	Size geometry.Point3d

	// Data holds the mask values in raster order
	Data []bool
}

// NewMask allocates an empty mask covering box.
func NewMask(box geometry.Box) *Mask {
	size := box.Size()
	return &Mask{
		Origin: box.Min,
		Size:   size,
		Data:   make([]bool, int(size[0])*int(size[1])*int(size[2])),
	}
}

// Box returns the global bounds covered by the mask.
func (m *Mask) Box() geometry.Box {
	return geometry.Box{Min: m.Origin, Max: m.Origin.Add(m.Size).Sub(geometry.Point3d{1, 1, 1})}
}

// Index returns the raster index of a local coordinate.
func (m *Mask) Index(x, y, z int) int {
	return z*int(m.Size[0])*int(m.Size[1]) + y*int(m.Size[0]) + x
}

// Set marks the global point pt, which must lie within the mask.
func (m *Mask) Set(pt geometry.Point3d) {
	local := pt.Sub(m.Origin)
	m.Data[m.Index(int(local[0]), int(local[1]), int(local[2]))] = true
}

// Get returns the mask value at global point pt; false outside the mask.
func (m *Mask) Get(pt geometry.Point3d) bool {
	if !m.Box().Contains(pt) {
		return false
	}
	local := pt.Sub(m.Origin)
	return m.Data[m.Index(int(local[0]), int(local[1]), int(local[2]))]
}

// Clone returns a deep copy of the mask.
func (m *Mask) Clone() *Mask {
	data := make([]bool, len(m.Data))
	copy(data, m.Data)
	return &Mask{Origin: m.Origin, Size: m.Size, Data: data}
}

// Points returns the global coordinates of all set voxels in raster order.
func (m *Mask) Points() []geometry.Point3d {
	var pts []geometry.Point3d
	for z := 0; z < int(m.Size[2]); z++ {
		for y := 0; y < int(m.Size[1]); y++ {
			for x := 0; x < int(m.Size[0]); x++ {
				if m.Data[m.Index(x, y, z)] {
					pts = append(pts, m.Origin.Add(geometry.Point3d{int32(x), int32(y), int32(z)}))
				}
			}
		}
	}
	return pts
}
