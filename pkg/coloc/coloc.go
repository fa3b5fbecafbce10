// Package coloc matches objects of two populations by exact voxel overlap.
//
// A pair (a, b) is retained when the overlap exceeds a fraction of b's size.
// The denominator is always the object of the second population, so the
// fraction reads as "how much of b is covered by a".
package coloc

import (
	"math"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"objpop3d/internal/logging"
	"objpop3d/pkg/population"
)

// Pair is a retained association between an object of the first and an
// object of the second population.
type Pair struct {
	A       *population.Object
	B       *population.Object
	Overlap int
}

// Matcher finds colocalized pairs between two populations.
type Matcher struct {
	minFraction float64
	workers     int
}

// NewMatcher returns a matcher retaining pairs whose overlap is strictly
// greater than minOverlapFraction times the size of the second object.
func NewMatcher(minOverlapFraction float64) (*Matcher, error) {
	if minOverlapFraction < 0 || math.IsNaN(minOverlapFraction) || math.IsInf(minOverlapFraction, 0) {
		return nil, population.ConfigErrorf("NewMatcher", "invalid minimum overlap fraction %g", minOverlapFraction)
	}
	return &Matcher{minFraction: minOverlapFraction}, nil
}

// MinFraction returns the overlap fraction threshold.
func (m *Matcher) MinFraction() float64 { return m.minFraction }

// SetWorkers sets the number of goroutines used by Match.  Zero or less uses
// one per CPU.
func (m *Matcher) SetWorkers(n int) { m.workers = n }

// Match returns every retained pair, ordered by the index of A's object and
// then by the index of B's object.  The report counts candidate pairs: Before
// is |A| x |B| and After() is the number retained.
func (m *Matcher) Match(a, b *population.Population) ([]Pair, population.Report, error) {
	report := population.Report{Op: "Match", Before: a.Len() * b.Len()}
	if a.Len() == 0 || b.Len() == 0 {
		logging.Warningf("Match: empty population (%d x %d objects), no pairs\n", a.Len(), b.Len())
		report.EmptyInput = true
		return nil, report, nil
	}
	if err := a.Validate(); err != nil {
		return nil, report, errors.Wrap(err, "first population")
	}
	if err := b.Validate(); err != nil {
		return nil, report, errors.Wrap(err, "second population")
	}

	tlog := logging.NewTimeLog()
	objA := a.Objects()
	index := newSweepIndex(b.Objects())
	perA := make([][]Pair, len(objA))
	err := population.ForRanges(len(objA), m.workers, func(start, end int) error {
		for i := start; i < end; i++ {
			perA[i] = m.matchOne(objA[i], index)
		}
		return nil
	})
	if err != nil {
		return nil, report, err
	}

	var pairs []Pair
	for _, ps := range perA {
		pairs = append(pairs, ps...)
	}
	report.Removed = report.Before - len(pairs)
	tlog.Debugf("Match %s x %s objects, fraction %g: %s pairs retained", humanize.Comma(int64(len(objA))),
		humanize.Comma(int64(b.Len())), m.minFraction, humanize.Comma(int64(len(pairs))))
	return pairs, report, nil
}

// matchOne tests a against every B object whose bounding box intersects its
// own, in B order.
func (m *Matcher) matchOne(a *population.Object, index *sweepIndex) []Pair {
	var pairs []Pair
	for _, bi := range index.candidates(a) {
		b := index.objects[bi]
		overlap := a.Overlap(b)
		if overlap > 0 && float64(overlap) > m.minFraction*float64(b.Size()) {
			pairs = append(pairs, Pair{A: a, B: b, Overlap: overlap})
		}
	}
	return pairs
}

// ColocalizedPopulation returns a new population holding the objects of b
// that appear in at least one retained pair, in b's order.  The new objects
// are references sharing b's voxels.  b is left unchanged.
func (m *Matcher) ColocalizedPopulation(a, b *population.Population) (*population.Population, population.Report, error) {
	pairs, matchReport, err := m.Match(a, b)
	if err != nil {
		return nil, population.Report{Op: "ColocalizedPopulation", Before: b.Len()}, err
	}
	out, report := Colocalized(b, pairs)
	report.EmptyInput = matchReport.EmptyInput
	return out, report, nil
}

// Colocalized builds the population of b's objects named in pairs, as
// ColocalizedPopulation does, from pairs already found by Match.
func Colocalized(b *population.Population, pairs []Pair) (*population.Population, population.Report) {
	out := population.New(nil)
	if cal, ok := b.Calibration(); ok {
		out.SetCalibration(&cal)
	}
	if ext, ok := b.Extent(); ok {
		out.SetExtent(ext)
	}
	out.SetWorkers(b.Workers())

	matched := make(map[*population.Object]struct{}, len(pairs))
	for _, p := range pairs {
		matched[p.B] = struct{}{}
	}
	var refs []*population.Object
	for _, obj := range b.Objects() {
		if _, found := matched[obj]; found {
			refs = append(refs, obj.Reference())
		}
	}
	out.Replace(refs)
	return out, population.Report{Op: "ColocalizedPopulation", Before: b.Len(), Removed: b.Len() - out.Len()}
}

// CountAndAnnotate returns the number of retained pairs and tags every
// matched object of b with the label of its matching object of a.  When
// several objects of a match the same b, the last one in a's order wins.
// Annotations of unmatched b objects are reset to zero.
func (m *Matcher) CountAndAnnotate(a, b *population.Population) (int, population.Report, error) {
	pairs, report, err := m.Match(a, b)
	if err != nil {
		return 0, report, err
	}
	report.Op = "CountAndAnnotate"
	return Annotate(b, pairs), report, nil
}

// Annotate applies the annotations of CountAndAnnotate to b from pairs
// already found by Match and returns the number of pairs.
func Annotate(b *population.Population, pairs []Pair) int {
	for _, obj := range b.Objects() {
		obj.SetMatchedLabel(0)
	}
	for _, p := range pairs {
		p.B.SetMatchedLabel(p.A.Label())
	}
	return len(pairs)
}

// ObjectsColocalizedWith returns the objects of pop overlapping obj by at
// least minPercent percent of their own size, in pop's order.  Unlike
// Matcher, the threshold is a percentage and the comparison is inclusive.
func ObjectsColocalizedWith(obj *population.Object, pop *population.Population, minPercent float64) ([]*population.Object, error) {
	if minPercent < 0 || math.IsNaN(minPercent) {
		return nil, population.ConfigErrorf("ObjectsColocalizedWith", "invalid minimum percentage %g", minPercent)
	}
	var out []*population.Object
	for _, other := range pop.Objects() {
		overlap := obj.Overlap(other)
		if overlap == 0 {
			continue
		}
		if 100*float64(overlap)/float64(other.Size()) >= minPercent {
			out = append(out, other)
		}
	}
	return out, nil
}

// sweepIndex orders objects by the Z start of their bounding box so the
// candidates of a query box come from a contiguous run.
type sweepIndex struct {
	objects  []*population.Object
	order    []int // object indices sorted by box.Min Z
	minZ     []int32
	maxDepth int32
}

func newSweepIndex(objects []*population.Object) *sweepIndex {
	idx := &sweepIndex{objects: objects, order: make([]int, len(objects)), minZ: make([]int32, len(objects))}
	for i, obj := range objects {
		idx.order[i] = i
		box := obj.BoundingBox()
		if d := box.Max[2] - box.Min[2]; d > idx.maxDepth {
			idx.maxDepth = d
		}
	}
	sort.SliceStable(idx.order, func(i, j int) bool {
		return objects[idx.order[i]].BoundingBox().Min[2] < objects[idx.order[j]].BoundingBox().Min[2]
	})
	for i, oi := range idx.order {
		idx.minZ[i] = objects[oi].BoundingBox().Min[2]
	}
	return idx
}

// candidates returns, in ascending index order, the objects whose bounding
// box intersects a's.
func (idx *sweepIndex) candidates(a *population.Object) []int {
	box := a.BoundingBox()
	lo := box.Min[2] - idx.maxDepth
	start := sort.Search(len(idx.minZ), func(i int) bool { return idx.minZ[i] >= lo })
	var out []int
	for i := start; i < len(idx.order) && idx.minZ[i] <= box.Max[2]; i++ {
		oi := idx.order[i]
		if box.Intersects(idx.objects[oi].BoundingBox()) {
			out = append(out, oi)
		}
	}
	sort.Ints(out)
	return out
}
