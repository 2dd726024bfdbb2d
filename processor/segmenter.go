package processor

import (
	"time"

	"profileindexer/logger"
	"profileindexer/models"
)

// Params holds the thresholds of the segmentation heuristic.
type Params struct {
	// MovementThreshold is the per-bin pressure change above which the
	// instrument counts as moving.
	MovementThreshold float64
	// ParkDepthThreshold is the pressure below which a stationary
	// instrument is not considered parked.
	ParkDepthThreshold float64
	// MaxCastDuration bounds both the start-to-peak and the peak-to-end
	// intervals of an accepted profile.
	MaxCastDuration time.Duration
}

// DefaultParams returns the thresholds used for the cabled shallow profilers.
func DefaultParams() Params {
	return Params{
		MovementThreshold:  0.5,
		ParkDepthThreshold: 180,
		MaxCastDuration:    5 * time.Hour,
	}
}

// Stats counts what happened during one segmentation pass.
type Stats struct {
	Diffs           int `json:"diffs"`
	Casts           int `json:"casts"`
	Parks           int `json:"parks"`
	Reversals       int `json:"reversals"`
	Candidates      int `json:"candidates"`
	FalseStarts     int `json:"false_starts"`
	RejectedAscent  int `json:"rejected_ascent"`
	RejectedNoPark  int `json:"rejected_no_park"`
	RejectedDescent int `json:"rejected_descent"`
	Accepted        int `json:"accepted"`
}

// Fields renders the stats for structured logging.
func (s Stats) Fields() logger.Fields {
	return logger.Fields{
		"diffs":            s.Diffs,
		"casts":            s.Casts,
		"parks":            s.Parks,
		"reversals":        s.Reversals,
		"candidates":       s.Candidates,
		"false_starts":     s.FalseStarts,
		"rejected_ascent":  s.RejectedAscent,
		"rejected_no_park": s.RejectedNoPark,
		"rejected_descent": s.RejectedDescent,
		"accepted":         s.Accepted,
	}
}

// Segmenter finds profiles in a resampled pressure series.
type Segmenter struct {
	params Params
	log    *logger.Log
}

// NewSegmenter returns a Segmenter using p.
func NewSegmenter(p Params) *Segmenter {
	return &Segmenter{params: p, log: logger.GetLogger()}
}

// Params returns the thresholds the segmenter was built with.
func (s *Segmenter) Params() Params { return s.params }

// Segment returns the profiles found in ts, numbered from seed.
func (s *Segmenter) Segment(ts *models.TimeSeries, seed int) []models.ProfileRecord {
	records, _ := s.SegmentWithStats(ts, seed)
	return records
}

// SegmentWithStats is Segment plus counters describing the pass. Records
// are ordered by start time and numbered consecutively from seed; rejected
// candidates do not consume a number.
func (s *Segmenter) SegmentWithStats(ts *models.TimeSeries, seed int) ([]models.ProfileRecord, Stats) {
	var stats Stats
	log := s.log.WithComponent("segmenter")

	diffs := Differentiate(ts)
	casts, parks := s.params.Classify(diffs)
	reversals := Reversals(casts)
	stats.Diffs, stats.Casts, stats.Parks, stats.Reversals = len(diffs), len(casts), len(parks), len(reversals)

	log.WithFields(logger.Fields{
		"reversals": len(reversals),
		"parks":     len(parks),
	}).Debug("entering profile iteration loop")

	idx := newParkIndex(parks)
	var records []models.ProfileRecord
	next := seed

	for i, rev := range reversals {
		if i%100 == 0 {
			log.WithFields(logger.Fields{"iteration": i}).Debug("segmenting")
		}
		if !rev.Surfacing() {
			continue
		}
		stats.Candidates++

		start, peak := rev.Last.Time, rev.First.Time

		// A park between start and peak means the ascent began from a
		// stop at depth; restart the profile at the last park before peak.
		if idx.anyBetween(start, peak) {
			if t, ok := idx.nearestBefore(peak); ok {
				start = t
				stats.FalseStarts++
			}
		}

		if peak.Sub(start) >= s.params.MaxCastDuration {
			stats.RejectedAscent++
			continue
		}

		end, ok := idx.nearestAfter(peak)
		if !ok {
			stats.RejectedNoPark++
			continue
		}
		if end.Sub(peak) > s.params.MaxCastDuration {
			stats.RejectedDescent++
			continue
		}

		records = append(records, models.ProfileRecord{
			Profile: next,
			Start:   start,
			Peak:    peak,
			End:     end,
		})
		next++
	}

	stats.Accepted = len(records)
	log.WithFields(stats.Fields()).Debug("segmentation finished")
	return records, stats
}
