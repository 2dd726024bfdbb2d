package processor

import (
	"math"
	"sort"
	"time"

	"profileindexer/models"
)

// Differentiate returns value[i]-value[i-1] for every i >= 1, stamped with
// timestamp[i]. A series of n samples yields n-1 differences.
func Differentiate(ts *models.TimeSeries) []models.DiffSample {
	if ts.Len() < 2 {
		return nil
	}
	out := make([]models.DiffSample, 0, ts.Len()-1)
	for i := 1; i < len(ts.Samples); i++ {
		cur := ts.Samples[i]
		out = append(out, models.DiffSample{
			Time:     cur.Time,
			Diff:     cur.Value - ts.Samples[i-1].Value,
			Pressure: cur.Value,
		})
	}
	return out
}

// Classify splits diffs into cast events (|diff| strictly above the
// movement threshold) and park events (|diff| at or below the threshold
// while deeper than the park depth). Shallow stationary samples and samples
// touching a missing bin land in neither list.
func (p Params) Classify(diffs []models.DiffSample) (casts, parks []models.DiffSample) {
	for _, d := range diffs {
		mag := math.Abs(d.Diff)
		switch {
		case mag > p.MovementThreshold:
			casts = append(casts, d)
		case mag <= p.MovementThreshold && d.Pressure > p.ParkDepthThreshold:
			parks = append(parks, d)
		}
	}
	return casts, parks
}

// Reversal is a direction change in the cast-only sequence: Last is the
// final cast sample of the old direction and First the first of the new.
type Reversal struct {
	Last  models.DiffSample
	First models.DiffSample
}

// Surfacing reports whether the reversal turns an ascent into a descent,
// which is the shape of a profile peak.
func (r Reversal) Surfacing() bool {
	return r.Last.Ascending() && r.First.Descending()
}

// Reversals returns every adjacent pair of casts whose signs differ, in order.
func Reversals(casts []models.DiffSample) []Reversal {
	var out []Reversal
	for k := 0; k+1 < len(casts); k++ {
		if sign(casts[k].Diff) != sign(casts[k+1].Diff) {
			out = append(out, Reversal{Last: casts[k], First: casts[k+1]})
		}
	}
	return out
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// parkIndex answers nearest-timestamp questions over park events. Park
// times come from a sorted series and are strictly increasing, so the
// nearest park on one side of t is always its immediate neighbour and
// distance ties cannot occur.
type parkIndex struct {
	times []time.Time
}

func newParkIndex(parks []models.DiffSample) parkIndex {
	times := make([]time.Time, len(parks))
	for i, p := range parks {
		times[i] = p.Time
	}
	return parkIndex{times: times}
}

func (idx parkIndex) len() int { return len(idx.times) }

// firstAfter returns the position of the first park strictly after t.
func (idx parkIndex) firstAfter(t time.Time) int {
	return sort.Search(len(idx.times), func(i int) bool {
		return idx.times[i].After(t)
	})
}

// anyBetween reports whether a park lies strictly inside (lo, hi).
func (idx parkIndex) anyBetween(lo, hi time.Time) bool {
	i := idx.firstAfter(lo)
	return i < len(idx.times) && idx.times[i].Before(hi)
}

// nearestBefore returns the park strictly before t that is closest to t.
func (idx parkIndex) nearestBefore(t time.Time) (time.Time, bool) {
	i := sort.Search(len(idx.times), func(i int) bool {
		return !idx.times[i].Before(t)
	})
	if i == 0 {
		return time.Time{}, false
	}
	return idx.times[i-1], true
}

// nearestAfter returns the park strictly after t that is closest to t.
func (idx parkIndex) nearestAfter(t time.Time) (time.Time, bool) {
	i := idx.firstAfter(t)
	if i == len(idx.times) {
		return time.Time{}, false
	}
	return idx.times[i], true
}
