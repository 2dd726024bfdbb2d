package processor

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"profileindexer/models"
)

// DefaultBinWidth is the bin width used when none is configured.
const DefaultBinWidth = time.Minute

// Resample reduces ts to fixed-width bins. Each output sample is the
// arithmetic mean of the input samples whose timestamp falls in the bin.
// Bins are aligned with time.Truncate on UTC timestamps and run from the
// first occupied bin to the last; bins without input hold NaN. Name and
// attributes are carried over unchanged.
func Resample(ts *models.TimeSeries, width time.Duration) *models.TimeSeries {
	if ts == nil {
		return models.NewTimeSeries("", nil)
	}
	out := models.NewTimeSeries(ts.Name, ts.Attrs)
	if ts.Empty() {
		return out
	}
	if width <= 0 {
		out.Samples = append(out.Samples, ts.Samples...)
		return out
	}

	samples := ts.Samples
	if !sort.SliceIsSorted(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) }) {
		samples = append([]models.Sample(nil), samples...)
		sort.SliceStable(samples, func(i, j int) bool { return samples[i].Time.Before(samples[j].Time) })
	}

	first := samples[0].Time.UTC().Truncate(width)
	last := samples[len(samples)-1].Time.UTC().Truncate(width)
	bins := make([][]float64, int(last.Sub(first)/width)+1)
	for _, s := range samples {
		if s.Missing() {
			continue
		}
		k := int(s.Time.UTC().Truncate(width).Sub(first) / width)
		bins[k] = append(bins[k], s.Value)
	}

	out.Samples = make([]models.Sample, 0, len(bins))
	for k, vals := range bins {
		v := math.NaN()
		if len(vals) > 0 {
			v = stat.Mean(vals, nil)
		}
		out.Samples = append(out.Samples, models.Sample{
			Time:  first.Add(time.Duration(k) * width),
			Value: v,
		})
	}
	return out
}
