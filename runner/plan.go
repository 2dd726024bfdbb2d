// Package runner turns a run mode into a seed and time window, then drives
// one indexing pass: fetch, slice, resample, segment, persist, publish.
package runner

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"profileindexer/config"
	"profileindexer/index"
	"profileindexer/models"
)

// Mode selects how a run picks its window and treats the index.
type Mode string

const (
	// ModeAppend resumes from the last row of the index and appends.
	ModeAppend Mode = "append"
	// ModeCreate rebuilds the index from the whole series.
	ModeCreate Mode = "create"
	// ModeTest indexes an explicit window into a separate test file.
	ModeTest Mode = "test"
)

// ParseMode maps a flag value to a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAppend, ModeCreate, ModeTest:
		return m, nil
	default:
		return "", fmt.Errorf("unknown mode %q (want %s, %s or %s)", s, ModeAppend, ModeCreate, ModeTest)
	}
}

// Options carries the command-line inputs a plan may need.
type Options struct {
	// Start and End bound a test run. Any common date-time form is accepted.
	Start string
	End   string
}

// Plan is everything a run needs to know before it fetches data.
type Plan struct {
	Mode      Mode
	Profiler  string
	Variable  string
	Seed      int
	Window    models.Window
	IndexPath string
	// Replace writes a fresh index instead of appending to it.
	Replace bool
}

// TestIndexPath is where test runs write: <profiler>_test.csv next to the
// profiler's index.
func TestIndexPath(profiler string, p config.ProfilerConfig) string {
	return filepath.Join(filepath.Dir(p.IndexFile), profiler+"_test.csv")
}

// NewPlan resolves seed, window and output for one run. Append mode reads
// the tail of the existing index and fails with models.ErrUnresumableIndex
// when it has no data row.
func NewPlan(mode Mode, profiler string, p config.ProfilerConfig, opts Options, now time.Time) (Plan, error) {
	plan := Plan{
		Mode:      mode,
		Profiler:  profiler,
		Variable:  p.PressureVariable,
		Seed:      1,
		IndexPath: p.IndexFile,
	}

	switch mode {
	case ModeAppend:
		st, err := index.LastState(p.IndexFile)
		if err != nil {
			return Plan{}, fmt.Errorf("append to %s: %w", p.IndexFile, err)
		}
		plan.Seed = st.NextProfile
		plan.Window = models.Window{Start: st.Resume, End: now.UTC()}
	case ModeCreate:
		plan.Replace = true
	case ModeTest:
		start, err := index.ParseTime(opts.Start)
		if err != nil {
			return Plan{}, fmt.Errorf("test start: %w", err)
		}
		end, err := index.ParseTime(opts.End)
		if err != nil {
			return Plan{}, fmt.Errorf("test end: %w", err)
		}
		if end.Before(start) {
			return Plan{}, fmt.Errorf("test window end %s is before start %s", end.Format(index.TimeLayout), start.Format(index.TimeLayout))
		}
		plan.Window = models.Window{Start: start, End: end}
		plan.IndexPath = TestIndexPath(profiler, p)
		plan.Replace = true
	default:
		return Plan{}, fmt.Errorf("unknown mode %q", mode)
	}
	return plan, nil
}
