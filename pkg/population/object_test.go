package population

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"objpop3d/pkg/geometry"
)

func TestNewObjectSortsAndDedupes(t *testing.T) {
	obj, err := NewObject(4, []geometry.Point3d{{2, 0, 1}, {1, 0, 0}, {2, 0, 1}, {0, 3, 0}})
	require.NoError(t, err)
	require.NoError(t, obj.Validate())

	want := []geometry.Point3d{{1, 0, 0}, {0, 3, 0}, {2, 0, 1}}
	if diff := cmp.Diff(want, obj.Points()); diff != "" {
		t.Errorf("voxels mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, geometry.Box{Min: geometry.Point3d{0, 0, 0}, Max: geometry.Point3d{2, 3, 1}}, obj.BoundingBox())
	assert.Equal(t, []int32{0, 1}, obj.Planes())

	for _, v := range obj.Voxels() {
		assert.Equal(t, uint32(4), v.Label)
	}
}

func TestNewObjectRejectsEmpty(t *testing.T) {
	_, err := NewObject(1, nil)
	require.Error(t, err)
	assert.True(t, IsGeometryError(err))
}

func TestBoundingBoxFollowsMutation(t *testing.T) {
	obj, err := NewObject(1, []geometry.Point3d{{5, 5, 5}})
	require.NoError(t, err)

	obj.AddVoxels(geometry.Point3d{1, 9, 5}, geometry.Point3d{7, 5, 2})
	require.NoError(t, obj.Validate())
	assert.Equal(t, geometry.Box{Min: geometry.Point3d{1, 5, 2}, Max: geometry.Point3d{7, 9, 5}}, obj.BoundingBox())

	removed, err := obj.RemoveVoxels(func(pt geometry.Point3d) bool { return pt[2] == 2 })
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	require.NoError(t, obj.Validate())
	assert.Equal(t, geometry.Box{Min: geometry.Point3d{1, 5, 5}, Max: geometry.Point3d{5, 9, 5}}, obj.BoundingBox())

	_, err = obj.RemoveVoxels(func(geometry.Point3d) bool { return true })
	assert.True(t, IsGeometryError(err))
	assert.Equal(t, 2, obj.Size())
}

func TestValidateDetectsStaleBox(t *testing.T) {
	obj, err := NewObject(3, []geometry.Point3d{{1, 1, 1}, {2, 2, 2}})
	require.NoError(t, err)
	obj.box.Max = geometry.Point3d{9, 9, 9}
	err = obj.Validate()
	require.Error(t, err)
	assert.True(t, IsGeometryError(err))
}

func TestOverlapAndSubtract(t *testing.T) {
	a := cube(t, 1, geometry.Point3d{0, 0, 0}, 3) // 27 voxels
	b := cube(t, 2, geometry.Point3d{1, 1, 1}, 3) // shares a 2x2x2 corner
	c := cube(t, 3, geometry.Point3d{10, 10, 10}, 2)

	assert.Equal(t, 8, a.Overlap(b))
	assert.Equal(t, 8, b.Overlap(a))
	assert.Equal(t, 0, a.Overlap(c))
	assert.Equal(t, 27, a.Overlap(a))

	rest := a.Subtract(b)
	assert.Len(t, rest, 19)
	for _, pt := range rest {
		assert.False(t, b.Contains(pt))
		assert.True(t, a.Contains(pt))
	}
}

func TestReferenceSharesVoxels(t *testing.T) {
	a := cube(t, 7, geometry.Point3d{0, 0, 0}, 2)
	ref := a.Reference()
	ref.label = 1
	assert.Equal(t, uint32(7), a.Label())
	assert.Equal(t, a.ID(), ref.ID())
	assert.Same(t, &a.Points()[0], &ref.Points()[0])
	assert.Equal(t, a.Version(), ref.Version())

	// Mutating the reference must not change the original voxels.
	ref.AddVoxels(geometry.Point3d{5, 5, 5})
	assert.Equal(t, 8, a.Size())
	assert.Equal(t, 9, ref.Size())
	assert.NotEqual(t, a.Version(), ref.Version())

	other := a.Reference()
	_, err := other.RemoveVoxels(func(pt geometry.Point3d) bool { return pt == geometry.Point3d{0, 0, 0} })
	require.NoError(t, err)
	assert.NotEqual(t, a.Version(), other.Version())
	assert.NotEqual(t, ref.Version(), other.Version())
}

func TestCentroid(t *testing.T) {
	obj := cube(t, 1, geometry.Point3d{2, 4, 6}, 3)
	assert.Equal(t, [3]float64{3, 5, 7}, obj.Centroid())
}

// cube returns an object filling an n x n x n cube with corner at min.
func cube(t *testing.T, label uint32, min geometry.Point3d, n int32) *Object {
	t.Helper()
	var pts []geometry.Point3d
	for z := int32(0); z < n; z++ {
		for y := int32(0); y < n; y++ {
			for x := int32(0); x < n; x++ {
				pts = append(pts, min.Add(geometry.Point3d{x, y, z}))
			}
		}
	}
	obj, err := NewObject(label, pts)
	require.NoError(t, err)
	return obj
}
