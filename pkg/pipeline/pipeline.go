// Package pipeline runs the full object analysis: label ingestion, filters,
// dilation, colocalization against a partner population, and measurement.
package pipeline

import (
	"math"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"objpop3d/internal/logging"
	"objpop3d/internal/models"
	"objpop3d/pkg/background"
	"objpop3d/pkg/coloc"
	"objpop3d/pkg/config"
	"objpop3d/pkg/measure"
	"objpop3d/pkg/morphology"
	"objpop3d/pkg/population"
	"objpop3d/pkg/spatial"
	"objpop3d/pkg/stack"
)

// Params holds the pipeline inputs and outputs.
type Params struct {
	// LabelDir holds the label slices of the primary population.
	LabelDir string

	// IntensityDir optionally holds intensity slices matching LabelDir.
	// Without it the intensity filter and intensity statistics are skipped.
	IntensityDir string

	// PartnerDir optionally holds the label slices of a second population.
	// Its objects are matched against the primary population, which plays
	// the first role so the overlap fraction is taken of partner objects.
	PartnerDir string

	// OutputDir, if set, receives the final primary population as label
	// slices and the colocalized partner objects under "colocalized".
	OutputDir string

	// Format of the written slices
	Format stack.Format

	// Config holds every processing parameter
	Config *config.Config
}

// Summary reports what the pipeline did.
type Summary struct {
	// Objects is the number of objects ingested and Final the number left
	Objects int
	Final   int

	// Reports of every population operation in order
	Reports []population.Report

	// Volumes in calibrated units
	TotalVolume float64
	MeanVolume  float64

	// MeanNearestNeighbour is the mean centroid distance to the closest
	// other object, NaN for fewer than two objects
	MeanNearestNeighbour float64

	// Background is mean + stddev of the minimum Z projection, or zero
	// without intensities
	Background float64

	// BackgroundWindow is the tile with the lowest background and
	// WindowBackground its value, when a window size is configured
	BackgroundWindow *background.Window
	WindowBackground float64

	// FocusedPlanes lists the in-focus Z planes when the focus search is
	// enabled
	FocusedPlanes []int

	// Pairs and Colocalized are set when a partner population is given
	Pairs       int
	Colocalized int

	// Stats holds a row per final object
	Stats []measure.ObjectStats
}

// Pipeline holds the state of one run.
type Pipeline struct {
	params   *Params
	cfg      *config.Config
	measurer *measure.Cached

	pop         *population.Population
	partner     *population.Population
	colocalized *population.Population
	intensities *models.IntensityVolume

	summary Summary
}

// New validates the parameters and returns a pipeline ready to run.
func New(params *Params) (*Pipeline, error) {
	if params == nil || params.Config == nil {
		return nil, population.ConfigErrorf("pipeline", "no configuration")
	}
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	if params.Format == "" {
		params.Format = stack.PNG
	}
	return &Pipeline{
		params:   params,
		cfg:      params.Config,
		measurer: measure.NewCached(measure.Intensity{}, params.Config.Cache.MeasureBytes),
	}, nil
}

// Population returns the primary population after a run.
func (p *Pipeline) Population() *population.Population { return p.pop }

// Colocalized returns the partner objects retained by the matcher, or nil
// when no partner population was given.
func (p *Pipeline) Colocalized() *population.Population { return p.colocalized }

// Process loads the inputs from the directories in Params and runs every
// step, writing results when OutputDir is set.
func (p *Pipeline) Process() (*Summary, error) {
	logging.Infof("Step 1: Loading label slices from %s\n", p.params.LabelDir)
	labels, err := stack.LoadLabels(p.params.LabelDir)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load labels")
	}

	var intensities *models.IntensityVolume
	if p.params.IntensityDir != "" {
		if intensities, err = stack.LoadIntensities(p.params.IntensityDir); err != nil {
			return nil, errors.Wrap(err, "failed to load intensities")
		}
	}

	var partner *models.LabelVolume
	if p.params.PartnerDir != "" {
		if partner, err = stack.LoadLabels(p.params.PartnerDir); err != nil {
			return nil, errors.Wrap(err, "failed to load partner labels")
		}
	}

	summary, err := p.Run(labels, intensities, partner)
	if err != nil {
		return nil, err
	}

	if p.params.OutputDir != "" {
		logging.Infof("Step 7: Writing results to %s\n", p.params.OutputDir)
		if err := stack.SaveLabels(p.pop, filepath.Join(p.params.OutputDir, "objects"), p.params.Format); err != nil {
			return nil, errors.Wrap(err, "failed to write objects")
		}
		if p.colocalized != nil {
			if err := stack.SaveLabels(p.colocalized, filepath.Join(p.params.OutputDir, "colocalized"), p.params.Format); err != nil {
				return nil, errors.Wrap(err, "failed to write colocalized objects")
			}
		}
	}
	return summary, nil
}

// Run processes in-memory volumes.  intensities and partner may be nil.
func (p *Pipeline) Run(labels *models.LabelVolume, intensities *models.IntensityVolume, partner *models.LabelVolume) (*Summary, error) {
	p.summary = Summary{}
	cal := p.cfg.Calibration

	logging.Infof("Step 2: Building population\n")
	pop, err := population.FromLabelVolume(labels, &cal)
	if err != nil {
		return nil, err
	}
	pop.SetWorkers(p.cfg.Processing.Workers)
	p.pop = pop
	p.summary.Objects = pop.Len()

	if intensities != nil && intensities.Extent() != labels.Extent() {
		return nil, population.ConfigErrorf("pipeline", "intensity volume %s does not match labels %s",
			intensities.Extent(), labels.Extent())
	}
	p.intensities = intensities
	if partner != nil && partner.Extent() != labels.Extent() {
		return nil, population.ConfigErrorf("pipeline", "partner volume %s does not match labels %s",
			partner.Extent(), labels.Extent())
	}

	logging.Infof("Step 3: Filtering %s objects\n", humanize.Comma(int64(pop.Len())))
	if err := p.filter(); err != nil {
		return nil, err
	}

	if p.cfg.Morphology.DilateDistance > 0 {
		logging.Infof("Step 4: Dilating by %g %s\n", p.cfg.Morphology.DilateDistance, cal.Unit)
		if err := p.dilate(labels); err != nil {
			return nil, err
		}
	}

	if partner != nil {
		logging.Infof("Step 5: Colocalizing with partner population\n")
		if err := p.colocalize(partner); err != nil {
			return nil, err
		}
	}

	logging.Infof("Step 6: Measuring %s objects\n", humanize.Comma(int64(pop.Len())))
	if err := p.measure(); err != nil {
		return nil, err
	}
	p.summary.Final = pop.Len()
	summary := p.summary
	return &summary, nil
}

func (p *Pipeline) record(report population.Report, err error) error {
	if err != nil {
		return err
	}
	logging.Infof("%s\n", report)
	p.summary.Reports = append(p.summary.Reports, report)
	return nil
}

func (p *Pipeline) filter() error {
	f := p.cfg.Filters
	if err := p.record(p.pop.FilterSize(f.MinVolume, p.cfg.MaxVolume())); err != nil {
		return err
	}
	if f.RemoveSinglePlane {
		if err := p.record(p.pop.FilterSinglePlane()); err != nil {
			return err
		}
	}
	if f.RemoveTouchingBorder {
		ext, _ := p.pop.Extent()
		if err := p.record(p.pop.FilterTouchingBorder(ext)); err != nil {
			return err
		}
	}
	if p.intensities != nil && f.IntensityThreshold > 0 {
		s, err := population.ParseStatistic(f.IntensityStatistic)
		if err != nil {
			return population.ConfigErrorf("pipeline", "%v", err)
		}
		if err := p.record(p.pop.FilterIntensity(p.measurer, p.intensities, f.IntensityThreshold, s)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) dilate(labels *models.LabelVolume) error {
	r, err := morphology.RadiusFromPhysical(p.cfg.Morphology.DilateDistance, p.cfg.Calibration)
	if err != nil {
		return err
	}
	mode, err := morphology.ParseBorderMode(p.cfg.Morphology.BorderMode)
	if err != nil {
		return population.ConfigErrorf("pipeline", "%v", err)
	}
	t, err := morphology.NewTransformer(morphology.Ellipsoid{}, labels.Extent(), mode)
	if err != nil {
		return err
	}
	return p.record(t.DilatePopulation(p.pop, r))
}

func (p *Pipeline) colocalize(labels *models.LabelVolume) error {
	cal := p.cfg.Calibration
	partner, err := population.FromLabelVolume(labels, &cal)
	if err != nil {
		return errors.Wrap(err, "partner population")
	}
	partner.SetWorkers(p.cfg.Processing.Workers)
	partner.ResetLabels()
	p.partner = partner

	m, err := coloc.NewMatcher(p.cfg.Coloc.MinOverlapFraction)
	if err != nil {
		return err
	}
	m.SetWorkers(p.cfg.Processing.Workers)

	pairs, report, err := m.Match(p.pop, partner)
	if err = p.record(report, err); err != nil {
		return err
	}
	p.summary.Pairs = coloc.Annotate(partner, pairs)

	out, report := coloc.Colocalized(partner, pairs)
	report.EmptyInput = p.pop.Len() == 0 || partner.Len() == 0
	if err = p.record(report, nil); err != nil {
		return err
	}
	p.colocalized = out
	p.summary.Colocalized = out.Len()
	return nil
}

func (p *Pipeline) measure() error {
	stats, err := measure.Describe(p.pop, p.measurer, p.intensities)
	if err != nil {
		return err
	}
	p.summary.Stats = stats

	if p.pop.Len() > 0 {
		if p.summary.TotalVolume, err = p.pop.TotalVolume(); err != nil {
			return err
		}
		volumes := make([]float64, len(stats))
		for i, row := range stats {
			volumes[i] = row.Volume
		}
		p.summary.MeanVolume = stat.Mean(volumes, nil)
	}

	if p.summary.MeanNearestNeighbour, err = spatial.MeanNearestNeighbourDistance(p.pop); err != nil {
		return err
	}

	if p.intensities != nil {
		if p.summary.Background, err = background.MeanStd(p.intensities); err != nil {
			return err
		}
		if err := p.background(); err != nil {
			return err
		}
		logging.Debugf("Measurement cache hit rate %.2f\n", p.measurer.HitRate())
	}
	if math.IsNaN(p.summary.MeanNearestNeighbour) {
		logging.Debugf("Fewer than two objects, no nearest neighbour distance\n")
	}
	return nil
}

func (p *Pipeline) background() error {
	if size := p.cfg.Background.WindowSize; size > 0 {
		method, err := background.ParseMethod(p.cfg.Background.Method)
		if err != nil {
			return population.ConfigErrorf("pipeline", "%v", err)
		}
		w, bg, err := background.AutoWindow(p.intensities, size, method)
		if err != nil {
			return err
		}
		p.summary.BackgroundWindow = &w
		p.summary.WindowBackground = bg
	}

	focus := p.cfg.Focus
	if focus.Percent <= 0 {
		return nil
	}
	if p.intensities.Depth < 2 {
		logging.Warningf("Single plane intensity volume, skipping focus search\n")
		return nil
	}
	planes, err := background.FocusedPlanes(p.intensities, background.FocusParams{
		Percent:           focus.Percent,
		VarianceThreshold: focus.VarianceThreshold,
		Edge:              focus.Edge,
		Consecutive:       focus.Consecutive,
	})
	if err != nil {
		return err
	}
	p.summary.FocusedPlanes = planes
	return nil
}
