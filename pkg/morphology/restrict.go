package morphology

import (
	"objpop3d/internal/logging"
	"objpop3d/pkg/geometry"
	"objpop3d/pkg/population"
)

// RestrictToExtent merges the population into a single object limited to
// ext.  With Clip, every voxel inside ext is kept.  With Discard, objects
// reaching beyond ext contribute nothing.  A nil object is returned when no
// voxel survives.
func RestrictToExtent(pop *population.Population, ext geometry.Extent, mode BorderMode) (*population.Object, error) {
	if ext.Empty() {
		return nil, population.ConfigErrorf("RestrictToExtent", "empty image extent %s", ext)
	}
	var pts []geometry.Point3d
	for _, obj := range pop.Objects() {
		placement := geometry.Classify(obj.BoundingBox(), ext)
		if placement != geometry.Outside {
			pts = append(pts, obj.Points()...)
			continue
		}
		if mode == Discard {
			continue
		}
		for _, pt := range obj.Points() {
			if ext.Contains(pt) {
				pts = append(pts, pt)
			}
		}
	}
	if len(pts) == 0 {
		logging.Warningf("RestrictToExtent: no voxels of %d objects inside %s\n", pop.Len(), ext)
		return nil, nil
	}
	return population.NewObject(1, pts)
}
