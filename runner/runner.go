package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"profileindexer/config"
	"profileindexer/index"
	"profileindexer/logger"
	"profileindexer/models"
	"profileindexer/processor"
	"profileindexer/reader"
	"profileindexer/writer"
)

// Outcome is how a run ended. Operators react differently to each, so they
// are logged and reported separately.
type Outcome string

const (
	OutcomeWritten    Outcome = "written"
	OutcomeNoData     Outcome = "no_data"
	OutcomeNoProfiles Outcome = "no_profiles"
	OutcomeFailed     Outcome = "failed"
)

// Publisher uploads a finished index.
type Publisher interface {
	Publish(ctx context.Context, profiler, indexPath, runID string) (writer.Publication, error)
}

// Result describes a finished run. Reason is models.ErrEmptyWindow or
// models.ErrNoProfilesFound for the two non-fatal outcomes.
type Result struct {
	RunID     string
	Outcome   Outcome
	Reason    error
	Records   []models.ProfileRecord
	Stats     processor.Stats
	Samples   int
	Bins      int
	Window    models.Window
	Seed      int
	IndexPath string
	Published bool
	Elapsed   time.Duration
}

// Runner executes plans against one source.
type Runner struct {
	source    reader.Source
	segmenter *processor.Segmenter
	binWidth  time.Duration
	publisher Publisher
	log       *logger.Log
}

// New builds a runner from the configured segmenter and resample settings.
// pub may be nil when publication is disabled.
func New(src reader.Source, cfg *config.Config, pub Publisher) *Runner {
	return &Runner{
		source: src,
		segmenter: processor.NewSegmenter(processor.Params{
			MovementThreshold:  cfg.Segmenter.MovementThreshold,
			ParkDepthThreshold: cfg.Segmenter.ParkDepthThreshold,
			MaxCastDuration:    cfg.Segmenter.MaxCastDuration,
		}),
		binWidth:  cfg.Resample.BinWidth,
		publisher: pub,
		log:       logger.GetLogger(),
	}
}

// Run performs one indexing pass. Every error that stops the series from
// being built is returned before the index is touched; once records exist
// they are written in a single append or replace.
func (r *Runner) Run(ctx context.Context, plan Plan) (res Result, err error) {
	res = Result{
		RunID:     uuid.NewString(),
		Window:    plan.Window,
		Seed:      plan.Seed,
		IndexPath: plan.IndexPath,
	}
	start := time.Now()
	log := r.log.WithRun(res.RunID).WithComponent("runner").WithFields(logger.Fields{
		"profiler": plan.Profiler,
		"mode":     string(plan.Mode),
		"source":   r.source.Name(),
		"index":    plan.IndexPath,
		"seed":     plan.Seed,
	})

	defer func() {
		res.Elapsed = time.Since(start)
		if err != nil {
			res.Outcome = OutcomeFailed
		}
		logger.Report(ctx, r.log, logger.RunReport{
			RunID:    res.RunID,
			Profiler: plan.Profiler,
			Mode:     string(plan.Mode),
			Source:   r.source.Name(),
			Outcome:  string(res.Outcome),
			Samples:  res.Samples,
			Bins:     res.Bins,
			Casts:    res.Stats.Casts,
			Parks:    res.Stats.Parks,
			Profiles: len(res.Records),
			Elapsed:  res.Elapsed,
		})
	}()

	params := r.segmenter.Params()
	log.WithFields(logger.Fields{
		"window_start":       plan.Window.Start,
		"window_end":         plan.Window.End,
		"unbounded":          plan.Window.Unbounded(),
		"movement_threshold": params.MovementThreshold,
		"park_depth":         params.ParkDepthThreshold,
		"max_cast_duration":  params.MaxCastDuration.String(),
		"bin_width":          r.binWidth.String(),
	}).Info("starting run")

	ts, err := r.source.Fetch(ctx, plan.Window)
	if err != nil {
		if !errors.Is(err, models.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %v", models.ErrSourceUnavailable, err)
		}
		log.WithError(err).Error("failed to fetch series")
		return res, err
	}
	ts.Sort()
	series := ts.Slice(plan.Window)
	res.Samples = series.Len()
	logger.LogDataFlowEntry(log, r.source.Name(), "resampler", res.Samples, "samples")

	if series.Empty() {
		res.Outcome = OutcomeNoData
		res.Reason = models.ErrEmptyWindow
		log.WithError(res.Reason).Warn("no data to index")
		return res, nil
	}

	first, last := series.Span()
	log.WithFields(logger.Fields{
		"series_start": first,
		"series_end":   last,
		"regular":      series.IsRegular(r.binWidth),
	}).Debug("series selected")

	binned := processor.Resample(series, r.binWidth)
	res.Bins = binned.Len()

	segStart := time.Now()
	records, stats := r.segmenter.SegmentWithStats(binned, plan.Seed)
	res.Stats = stats
	logger.LogPerformanceEntry(log, "runner", "segment", time.Since(segStart), stats.Fields())

	if len(records) == 0 {
		res.Outcome = OutcomeNoProfiles
		res.Reason = models.ErrNoProfilesFound
		log.WithFields(stats.Fields()).Info("no profiles detected")
		return res, nil
	}

	if plan.Replace {
		err = index.Replace(plan.IndexPath, records)
	} else {
		err = index.Append(plan.IndexPath, records)
	}
	if err != nil {
		err = fmt.Errorf("write index %s: %w", plan.IndexPath, err)
		log.WithError(err).Error("failed to write index")
		return res, err
	}
	res.Records = records
	res.Outcome = OutcomeWritten
	log.WithFields(logger.Fields{
		"profiles": len(records),
		"first":    records[0].Profile,
		"last":     records[len(records)-1].Profile,
		"replace":  plan.Replace,
	}).Info("profiles written")

	if r.publisher != nil {
		pub, perr := r.publisher.Publish(ctx, plan.Profiler, plan.IndexPath, res.RunID)
		if perr != nil {
			log.WithError(perr).Error("failed to publish index")
		} else {
			res.Published = true
			log.WithFields(logger.Fields{"files": len(pub.Files), "snapshot_id": pub.Snapshot.SnapshotID}).Info("index published")
		}
	}
	return res, nil
}
