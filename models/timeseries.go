package models

import (
	"math"
	"sort"
	"time"
)

// Sample is a single observation of one variable.
type Sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Missing reports whether the sample stands for an empty resample bin.
func (s Sample) Missing() bool {
	return math.IsNaN(s.Value)
}

// TimeSeries holds the samples of one named variable together with the
// attributes (units, long name, ...) that came with it from the source.
type TimeSeries struct {
	Name    string            `json:"name"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Samples []Sample          `json:"samples"`
}

// NewTimeSeries returns an empty series for the named variable.
func NewTimeSeries(name string, attrs map[string]string) *TimeSeries {
	return &TimeSeries{Name: name, Attrs: copyAttrs(attrs)}
}

// Len returns the number of samples, missing ones included.
func (ts *TimeSeries) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.Samples)
}

// Empty reports whether the series has no samples.
func (ts *TimeSeries) Empty() bool {
	return ts.Len() == 0
}

// Append adds a sample at the end of the series.
func (ts *TimeSeries) Append(t time.Time, v float64) {
	ts.Samples = append(ts.Samples, Sample{Time: t, Value: v})
}

// Values returns the sample values in series order.
func (ts *TimeSeries) Values() []float64 {
	out := make([]float64, len(ts.Samples))
	for i, s := range ts.Samples {
		out[i] = s.Value
	}
	return out
}

// Sort orders the samples by time. Samples sharing a timestamp keep their
// relative order.
func (ts *TimeSeries) Sort() {
	sort.SliceStable(ts.Samples, func(i, j int) bool {
		return ts.Samples[i].Time.Before(ts.Samples[j].Time)
	})
}

// Slice returns a new series restricted to w. The receiver must be sorted.
func (ts *TimeSeries) Slice(w Window) *TimeSeries {
	out := NewTimeSeries(ts.Name, ts.Attrs)
	lo := 0
	if !w.Start.IsZero() {
		lo = sort.Search(len(ts.Samples), func(i int) bool {
			return !ts.Samples[i].Time.Before(w.Start)
		})
	}
	hi := len(ts.Samples)
	if !w.End.IsZero() {
		hi = sort.Search(len(ts.Samples), func(i int) bool {
			return ts.Samples[i].Time.After(w.End)
		})
	}
	if lo < hi {
		out.Samples = append(out.Samples, ts.Samples[lo:hi]...)
	}
	return out
}

// IsRegular reports whether consecutive samples are exactly step apart.
func (ts *TimeSeries) IsRegular(step time.Duration) bool {
	for i := 1; i < len(ts.Samples); i++ {
		if ts.Samples[i].Time.Sub(ts.Samples[i-1].Time) != step {
			return false
		}
	}
	return true
}

// Span returns the first and last timestamps of a sorted series.
func (ts *TimeSeries) Span() (time.Time, time.Time) {
	if ts.Empty() {
		return time.Time{}, time.Time{}
	}
	return ts.Samples[0].Time, ts.Samples[len(ts.Samples)-1].Time
}

// copyAttrs returns an independent copy of an attribute map.
func copyAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string]string, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}

// Window is a closed time range. A zero bound leaves that side open.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t lies inside the window, bounds included.
func (w Window) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

// Overlaps reports whether [start, end] intersects the window.
func (w Window) Overlaps(start, end time.Time) bool {
	if !w.End.IsZero() && !start.IsZero() && start.After(w.End) {
		return false
	}
	if !w.Start.IsZero() && !end.IsZero() && end.Before(w.Start) {
		return false
	}
	return true
}

// Unbounded reports whether neither side of the window is set.
func (w Window) Unbounded() bool {
	return w.Start.IsZero() && w.End.IsZero()
}
