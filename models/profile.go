package models

import (
	"fmt"
	"time"
)

// DiffSample is the change between two consecutive samples, stamped with the
// later sample's time. Pressure is the later sample's value. A positive Diff
// means pressure is increasing (descent), a negative one that it is
// decreasing (ascent).
type DiffSample struct {
	Time     time.Time
	Diff     float64
	Pressure float64
}

// Ascending reports whether the instrument was moving towards the surface.
func (d DiffSample) Ascending() bool { return d.Diff < 0 }

// Descending reports whether the instrument was moving towards depth.
func (d DiffSample) Descending() bool { return d.Diff > 0 }

// ProfileRecord is one complete ascent, peak and descent cycle.
type ProfileRecord struct {
	Profile int       `json:"profile"`
	Start   time.Time `json:"start"`
	Peak    time.Time `json:"peak"`
	End     time.Time `json:"end"`
}

// Validate checks the record's ordering invariant.
func (r ProfileRecord) Validate() error {
	if r.Peak.Before(r.Start) {
		return fmt.Errorf("profile %d: peak %s before start %s", r.Profile, r.Peak, r.Start)
	}
	if r.End.Before(r.Peak) {
		return fmt.Errorf("profile %d: end %s before peak %s", r.Profile, r.End, r.Peak)
	}
	return nil
}

// AscentDuration is the time from profile start to peak.
func (r ProfileRecord) AscentDuration() time.Duration { return r.Peak.Sub(r.Start) }

// DescentDuration is the time from peak to profile end.
func (r ProfileRecord) DescentDuration() time.Duration { return r.End.Sub(r.Peak) }
