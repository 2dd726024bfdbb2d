package logger

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type componentStat struct {
	warns  int64
	errors int64
}

var components sync.Map // map[string]*componentStat

func componentStats(component string) *componentStat {
	v, _ := components.LoadOrStore(component, &componentStat{})
	return v.(*componentStat)
}

func recordWarn(component string) {
	atomic.AddInt64(&componentStats(component).warns, 1)
}

func recordError(component string) {
	atomic.AddInt64(&componentStats(component).errors, 1)
}

// RunReport summarises one indexing run.
type RunReport struct {
	RunID    string
	Profiler string
	Mode     string
	Source   string
	Outcome  string
	Samples  int
	Bins     int
	Casts    int
	Parks    int
	Profiles int
	Elapsed  time.Duration
}

// Report logs the run summary together with per-component warning and
// error counts, and publishes the counters to CloudWatch.
func Report(ctx context.Context, log *Log, r RunReport) {
	warns, errs := int64(0), int64(0)
	perComponent := map[string]map[string]int64{}
	components.Range(func(k, v any) bool {
		cs := v.(*componentStat)
		w, e := atomic.LoadInt64(&cs.warns), atomic.LoadInt64(&cs.errors)
		warns += w
		errs += e
		perComponent[k.(string)] = map[string]int64{"warns": w, "errors": e}
		return true
	})

	log.WithComponent("report").WithFields(Fields{
		"run_id":     r.RunID,
		"profiler":   r.Profiler,
		"mode":       r.Mode,
		"source":     r.Source,
		"outcome":    r.Outcome,
		"samples":    r.Samples,
		"bins":       r.Bins,
		"casts":      r.Casts,
		"parks":      r.Parks,
		"profiles":   r.Profiles,
		"elapsed_ms": float64(r.Elapsed.Nanoseconds()) / 1e6,
		"warnings":   warns,
		"errors":     errs,
		"components": perComponent,
	}).Info("run report")

	failures := 0
	if r.Outcome == "failed" {
		failures = 1
	}
	log.WithRun(r.RunID).LogMetrics(ctx, "report", []Metric{
		{Name: "SamplesFetched", Value: r.Samples},
		{Name: "BinsResampled", Value: r.Bins},
		{Name: "ProfilesWritten", Value: r.Profiles},
		{Name: "RunFailures", Value: failures},
		{Name: "RunWarnings", Value: warns},
		{Name: "RunSeconds", Value: r.Elapsed.Seconds(), Type: "duration"},
	}, Fields{"profiler": r.Profiler})
}
