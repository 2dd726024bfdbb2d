package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profileindexer/config"
	"profileindexer/index"
	"profileindexer/models"
	"profileindexer/writer"
)

var epoch = time.Date(2021, 6, 1, 0, 0, 0, 0, time.UTC)

func minute(m int) time.Time { return epoch.Add(time.Duration(m) * time.Minute) }

// cycle is a deep park, ascent, surface stay and descent, repeating every
// 420 minutes.
func cycle(m int) float64 {
	m %= 420
	switch {
	case m < 60:
		return 200
	case m < 180:
		return 200 - float64(m-60)*195/119
	case m < 240:
		return 5
	case m < 360:
		return 5 + float64(m-240)*195/119
	default:
		return 200
	}
}

func pressureSeries(n int, f func(int) float64) *models.TimeSeries {
	ts := models.NewTimeSeries("sea_water_pressure", map[string]string{"units": "dbar"})
	for m := 0; m < n; m++ {
		ts.Append(minute(m), f(m))
	}
	return ts
}

type fakeSource struct {
	series  *models.TimeSeries
	err     error
	windows []models.Window
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, w models.Window) (*models.TimeSeries, error) {
	f.windows = append(f.windows, w)
	if f.err != nil {
		return nil, f.err
	}
	out := models.NewTimeSeries(f.series.Name, f.series.Attrs)
	out.Samples = append(out.Samples, f.series.Samples...)
	return out, nil
}

type fakePublisher struct {
	calls []string
	err   error
}

func (f *fakePublisher) Publish(ctx context.Context, profiler, indexPath, runID string) (writer.Publication, error) {
	f.calls = append(f.calls, profiler+"|"+indexPath+"|"+runID)
	return writer.Publication{}, f.err
}

func testConfig() *config.Config {
	cfg := config.Default()
	return &cfg
}

func profilerIn(dir string) config.ProfilerConfig {
	return config.ProfilerConfig{
		PressureVariable: "sea_water_pressure",
		IndexFile:        filepath.Join(dir, "RS01SBPS_profiles.csv"),
	}
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"append": ModeAppend, " Create ": ModeCreate, "TEST": ModeTest} {
		got, err := ParseMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMode("rebuild")
	assert.Error(t, err)
}

func TestNewPlanCreate(t *testing.T) {
	p := profilerIn(t.TempDir())
	plan, err := NewPlan(ModeCreate, "RS01SBPS", p, Options{}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Seed)
	assert.True(t, plan.Window.Unbounded())
	assert.True(t, plan.Replace)
	assert.Equal(t, p.IndexFile, plan.IndexPath)
}

func TestNewPlanAppendResumesFromPeak(t *testing.T) {
	p := profilerIn(t.TempDir())
	last := models.ProfileRecord{Profile: 41, Start: minute(-200), Peak: minute(-140), End: minute(-20)}
	require.NoError(t, index.Replace(p.IndexFile, []models.ProfileRecord{last}))

	now := time.Date(2021, 6, 2, 0, 0, 0, 0, time.UTC)
	plan, err := NewPlan(ModeAppend, "RS01SBPS", p, Options{}, now)
	require.NoError(t, err)
	assert.Equal(t, 42, plan.Seed)
	assert.Equal(t, models.Window{Start: last.Peak, End: now}, plan.Window)
	assert.False(t, plan.Replace)
}

func TestNewPlanAppendWithoutIndex(t *testing.T) {
	p := profilerIn(t.TempDir())
	_, err := NewPlan(ModeAppend, "RS01SBPS", p, Options{}, time.Now())
	assert.ErrorIs(t, err, models.ErrUnresumableIndex)

	require.NoError(t, os.WriteFile(p.IndexFile, []byte("profile,start,peak,end\n"), 0o644))
	_, err = NewPlan(ModeAppend, "RS01SBPS", p, Options{}, time.Now())
	assert.ErrorIs(t, err, models.ErrUnresumableIndex)
}

func TestNewPlanTest(t *testing.T) {
	dir := t.TempDir()
	p := profilerIn(dir)
	plan, err := NewPlan(ModeTest, "RS01SBPS", p, Options{Start: "2021-06-01", End: "2021-06-01 12:00:00"}, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, plan.Seed)
	assert.Equal(t, filepath.Join(dir, "RS01SBPS_test.csv"), plan.IndexPath)
	assert.Equal(t, models.Window{Start: epoch, End: minute(720)}, plan.Window)
	assert.True(t, plan.Replace)

	_, err = NewPlan(ModeTest, "RS01SBPS", p, Options{Start: "soon", End: "2021-06-01"}, time.Now())
	assert.ErrorIs(t, err, models.ErrMalformedTimestamp)

	_, err = NewPlan(ModeTest, "RS01SBPS", p, Options{Start: "2021-06-01"}, time.Now())
	assert.ErrorIs(t, err, models.ErrMalformedTimestamp)

	_, err = NewPlan(ModeTest, "RS01SBPS", p, Options{Start: "2021-06-02", End: "2021-06-01"}, time.Now())
	assert.Error(t, err)
}

func TestRunCreateWritesIndex(t *testing.T) {
	dir := t.TempDir()
	p := profilerIn(dir)
	require.NoError(t, os.WriteFile(p.IndexFile, []byte("stale contents\n"), 0o644))
	src := &fakeSource{series: pressureSeries(2*420+60, cycle)}
	pub := &fakePublisher{}

	plan, err := NewPlan(ModeCreate, "RS01SBPS", p, Options{}, time.Now())
	require.NoError(t, err)
	res, err := New(src, testConfig(), pub).Run(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, OutcomeWritten, res.Outcome)
	assert.NoError(t, res.Reason)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 2*420+60, res.Samples)
	assert.Equal(t, 2*420+60, res.Bins)
	assert.Equal(t, 2, res.Stats.Accepted)
	assert.True(t, res.Published)
	assert.Equal(t, []string{"RS01SBPS|" + p.IndexFile + "|" + res.RunID}, pub.calls)

	want := []models.ProfileRecord{
		{Profile: 1, Start: minute(179), Peak: minute(241), End: minute(360)},
		{Profile: 2, Start: minute(599), Peak: minute(661), End: minute(780)},
	}
	got, err := index.ReadAll(p.IndexFile)
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("index mismatch (-want +got):\n%s", diff)
	}
}

func TestRunAppendContinuesNumbering(t *testing.T) {
	p := profilerIn(t.TempDir())
	first := models.ProfileRecord{Profile: 7, Start: minute(-300), Peak: minute(-240), End: minute(-120)}
	require.NoError(t, index.Replace(p.IndexFile, []models.ProfileRecord{first}))

	src := &fakeSource{series: pressureSeries(420, cycle)}
	plan, err := NewPlan(ModeAppend, "RS01SBPS", p, Options{}, minute(10000))
	require.NoError(t, err)
	res, err := New(src, testConfig(), nil).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWritten, res.Outcome)
	assert.False(t, res.Published)
	assert.Equal(t, []models.Window{{Start: minute(-240), End: minute(10000)}}, src.windows)

	got, err := index.ReadAll(p.IndexFile)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, models.ProfileRecord{Profile: 8, Start: minute(179), Peak: minute(241), End: minute(360)}, got[1])

	st, err := index.LastState(p.IndexFile)
	require.NoError(t, err)
	assert.Equal(t, 9, st.NextProfile)
}

func TestRunTestWindowSlicesSeries(t *testing.T) {
	dir := t.TempDir()
	p := profilerIn(dir)
	src := &fakeSource{series: pressureSeries(3*420+60, cycle)}

	plan, err := NewPlan(ModeTest, "RS01SBPS", p, Options{
		Start: minute(420).Format(index.TimeLayout),
		End:   minute(900).Format(index.TimeLayout),
	}, time.Now())
	require.NoError(t, err)
	res, err := New(src, testConfig(), nil).Run(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, 481, res.Samples)
	require.Len(t, res.Records, 1)
	assert.Equal(t, models.ProfileRecord{Profile: 1, Start: minute(599), Peak: minute(661), End: minute(780)}, res.Records[0])

	_, err = os.Stat(p.IndexFile)
	assert.True(t, os.IsNotExist(err), "test runs must not touch the main index")
	_, err = os.Stat(filepath.Join(dir, "RS01SBPS_test.csv"))
	assert.NoError(t, err)
}

func TestRunNoDataIsNotAFailure(t *testing.T) {
	p := profilerIn(t.TempDir())
	src := &fakeSource{series: pressureSeries(420, cycle)}
	plan := Plan{Mode: ModeTest, Profiler: "RS01SBPS", Seed: 1, IndexPath: p.IndexFile, Replace: true,
		Window: models.Window{Start: minute(5000), End: minute(6000)}}

	res, err := New(src, testConfig(), nil).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, res.Outcome)
	assert.ErrorIs(t, res.Reason, models.ErrEmptyWindow)
	_, err = os.Stat(p.IndexFile)
	assert.True(t, os.IsNotExist(err))
}

func TestRunEmptySourceSeriesIsNoData(t *testing.T) {
	p := profilerIn(t.TempDir())
	src := &fakeSource{series: models.NewTimeSeries("sea_water_pressure", nil)}
	plan, err := NewPlan(ModeCreate, "RS01SBPS", p, Options{}, minute(0))
	require.NoError(t, err)

	res, err := New(src, testConfig(), nil).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoData, res.Outcome)
	assert.ErrorIs(t, res.Reason, models.ErrEmptyWindow)
	assert.Zero(t, res.Samples)
	_, err = os.Stat(p.IndexFile)
	assert.True(t, os.IsNotExist(err))
}

func TestRunNoProfilesLeavesIndexAlone(t *testing.T) {
	p := profilerIn(t.TempDir())
	existing := []models.ProfileRecord{{Profile: 3, Start: minute(-300), Peak: minute(-240), End: minute(-120)}}
	require.NoError(t, index.Replace(p.IndexFile, existing))
	before, err := os.ReadFile(p.IndexFile)
	require.NoError(t, err)

	src := &fakeSource{series: pressureSeries(600, func(int) float64 { return 250 })}
	plan, err := NewPlan(ModeAppend, "RS01SBPS", p, Options{}, minute(600))
	require.NoError(t, err)
	res, err := New(src, testConfig(), nil).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoProfiles, res.Outcome)
	assert.ErrorIs(t, res.Reason, models.ErrNoProfilesFound)
	assert.Equal(t, 599, res.Stats.Parks)

	after, err := os.ReadFile(p.IndexFile)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunSourceFailureAbortsBeforeWrite(t *testing.T) {
	p := profilerIn(t.TempDir())
	require.NoError(t, os.WriteFile(p.IndexFile, []byte("keep me\n"), 0o644))

	for _, srcErr := range []error{
		errors.New("connection reset"),
		models.ErrSourceUnavailable,
	} {
		src := &fakeSource{err: srcErr}
		plan, err := NewPlan(ModeCreate, "RS01SBPS", p, Options{}, time.Now())
		require.NoError(t, err)
		res, err := New(src, testConfig(), nil).Run(context.Background(), plan)
		require.Error(t, err)
		assert.ErrorIs(t, err, models.ErrSourceUnavailable)
		assert.Equal(t, OutcomeFailed, res.Outcome)
	}

	data, err := os.ReadFile(p.IndexFile)
	require.NoError(t, err)
	assert.Equal(t, "keep me\n", string(data))
}

func TestRunPublishFailureKeepsIndex(t *testing.T) {
	p := profilerIn(t.TempDir())
	src := &fakeSource{series: pressureSeries(420, cycle)}
	pub := &fakePublisher{err: errors.New("AccessDenied")}

	plan, err := NewPlan(ModeCreate, "RS01SBPS", p, Options{}, time.Now())
	require.NoError(t, err)
	res, err := New(src, testConfig(), pub).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, OutcomeWritten, res.Outcome)
	assert.False(t, res.Published)
	assert.Len(t, pub.calls, 1)

	got, err := index.ReadAll(p.IndexFile)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRunUsesConfiguredParameters(t *testing.T) {
	p := profilerIn(t.TempDir())
	cfg := testConfig()
	cfg.Segmenter.MaxCastDuration = 100 * time.Minute
	src := &fakeSource{series: pressureSeries(420, cycle)}

	plan, err := NewPlan(ModeCreate, "RS01SBPS", p, Options{}, time.Now())
	require.NoError(t, err)
	res, err := New(src, cfg, nil).Run(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoProfiles, res.Outcome, "a 119 minute descent exceeds a 100 minute limit")
	assert.Equal(t, 1, res.Stats.RejectedDescent)
}
