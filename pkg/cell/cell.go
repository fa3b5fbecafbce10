// Package cell groups a cell object with its nucleus and derives the
// cytoplasm as the voxels of the cell outside the nucleus.
package cell

import (
	"github.com/pkg/errors"

	"objpop3d/internal/logging"
	"objpop3d/internal/models"
	"objpop3d/pkg/coloc"
	"objpop3d/pkg/geometry"
	"objpop3d/pkg/population"
)

// Cell is a cell object, an optional nucleus and the derived cytoplasm.
// Volumes are physical, intensities are means.
type Cell struct {
	Cell      *population.Object
	Nucleus   *population.Object
	Cytoplasm []geometry.Point3d

	CellVol      float64
	NucleusVol   float64
	CytoplasmVol float64

	CellInt      float64
	NucleusInt   float64
	CytoplasmInt float64
}

// New builds a cell.  nucleus may be nil, in which case the whole cell is
// cytoplasm.
func New(cellObj, nucleus *population.Object) (*Cell, error) {
	if cellObj == nil {
		return nil, population.ConfigErrorf("cell.New", "no cell object")
	}
	c := &Cell{Cell: cellObj, Nucleus: nucleus}
	if nucleus == nil {
		c.Cytoplasm = cellObj.Points()
	} else {
		c.Cytoplasm = cellObj.Subtract(nucleus)
	}
	return c, nil
}

// Label returns the label of the cell object.
func (c *Cell) Label() uint32 { return c.Cell.Label() }

// FillVolumes sets the physical volumes of the three compartments.
func (c *Cell) FillVolumes(cal models.Calibration) error {
	if !cal.Valid() {
		return population.ConfigErrorf("FillVolumes", "invalid calibration %s", cal)
	}
	vv := cal.VoxelVolume()
	c.CellVol = float64(c.Cell.Size()) * vv
	c.NucleusVol = 0
	if c.Nucleus != nil {
		c.NucleusVol = float64(c.Nucleus.Size()) * vv
	}
	c.CytoplasmVol = float64(len(c.Cytoplasm)) * vv
	return nil
}

// FillIntensities sets the mean intensity of the three compartments.  An
// absent compartment has intensity zero.
func (c *Cell) FillIntensities(m population.Measurer, vol *models.IntensityVolume) error {
	if m == nil || vol == nil {
		return population.ConfigErrorf("FillIntensities", "no measurer or intensity volume")
	}
	var err error
	if c.CellInt, err = m.Measure(c.Cell, vol, population.IntensityMean); err != nil {
		return errors.Wrapf(err, "cell %d", c.Label())
	}
	c.NucleusInt, c.CytoplasmInt = 0, 0
	if c.Nucleus != nil {
		if c.NucleusInt, err = m.Measure(c.Nucleus, vol, population.IntensityMean); err != nil {
			return errors.Wrapf(err, "nucleus of cell %d", c.Label())
		}
	}
	if len(c.Cytoplasm) > 0 {
		cyto, err := population.NewObject(c.Label(), c.Cytoplasm)
		if err != nil {
			return err
		}
		if c.CytoplasmInt, err = m.Measure(cyto, vol, population.IntensityMean); err != nil {
			return errors.Wrapf(err, "cytoplasm of cell %d", c.Label())
		}
	}
	return nil
}

// Assemble builds one cell per object of cells, in order, paired with the
// nucleus of the largest overlap among the pairs a matcher with minFraction
// retains.  Ties go to the nucleus that comes first.  Cells without a
// retained nucleus have none.
func Assemble(cells, nuclei *population.Population, minFraction float64) ([]*Cell, error) {
	matcher, err := coloc.NewMatcher(minFraction)
	if err != nil {
		return nil, err
	}
	matcher.SetWorkers(cells.Workers())
	pairs, _, err := matcher.Match(cells, nuclei)
	if err != nil {
		return nil, err
	}

	best := make(map[*population.Object]coloc.Pair, len(pairs))
	for _, p := range pairs {
		if cur, found := best[p.A]; !found || p.Overlap > cur.Overlap {
			best[p.A] = p
		}
	}
	out := make([]*Cell, 0, cells.Len())
	for _, obj := range cells.Objects() {
		var nucleus *population.Object
		if p, found := best[obj]; found {
			nucleus = p.B
		}
		c, err := New(obj, nucleus)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	logging.Debugf("Assembled %d cells, %d with a nucleus\n", len(out), len(best))
	return out, nil
}
