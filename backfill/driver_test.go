package backfill

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/padraicbc/dhworkers/checkpoint"
	"github.com/padraicbc/dhworkers/models"
	"github.com/padraicbc/dhworkers/racingapi"
	"github.com/padraicbc/dhworkers/sink"
)

type fakeAPI struct {
	mu      sync.Mutex
	fail    map[string]error
	calls   map[string]int
	horses  map[string]*racingapi.HorseDetail
	onFetch func(date string)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{fail: map[string]error{}, calls: map[string]int{}, horses: map[string]*racingapi.HorseDetail{}}
}

func (f *fakeAPI) Results(ctx context.Context, day time.Time) ([]racingapi.Result, error) {
	date := day.Format(time.DateOnly)
	f.mu.Lock()
	f.calls[date]++
	err := f.fail[date]
	hook := f.onFetch
	f.mu.Unlock()

	if hook != nil {
		hook(date)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return []racingapi.Result{{
		RaceID: racingapi.Text("rac_" + date), Date: racingapi.Text(date),
		CourseID: "crs_1", Course: "Ascot", Region: "GB",
		Runners: []racingapi.Runner{
			{HorseID: "hrs_1", Horse: "Dobbin", JockeyID: "jky_1", Jockey: "J Smith", Position: "1"},
			{HorseID: "hrs_2", Horse: "Trigger", JockeyID: "jky_2", Jockey: "A Jones", Position: "2"},
		},
	}}, nil
}

func (f *fakeAPI) Horse(_ context.Context, id string) (*racingapi.HorseDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hd, ok := f.horses[id]; ok {
		return hd, nil
	}
	return nil, &racingapi.APIError{Status: http.StatusNotFound, Path: "/v1/horses/" + id + "/pro"}
}

func (f *fakeAPI) callCount(date string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[date]
}

type harness struct {
	api    *fakeAPI
	store  *checkpoint.FileStore
	errlog *checkpoint.ErrorLog
	mem    *MemoryCommitter
	logs   *observer.ObservedLogs
	dir    string
}

func newHarness(t *testing.T) *harness {
	dir := t.TempDir()
	return &harness{
		api:    newFakeAPI(),
		store:  checkpoint.NewFileStore(filepath.Join(dir, "checkpoints")),
		errlog: checkpoint.NewErrorLog(filepath.Join(dir, "errors.jsonl")),
		mem:    NewMemoryCommitter(),
		dir:    dir,
	}
}

func (h *harness) driver(t *testing.T, mutate ...func(*Config)) *Driver {
	t.Helper()
	core, logs := observer.New(zapcore.InfoLevel)
	h.logs = logs
	cfg := Config{
		API:             h.api,
		Store:           h.store,
		ErrorLog:        h.errlog,
		Committer:       h.mem,
		Logger:          zap.New(core),
		UnitMaxAttempts: 3,
		InitialBackoff:  time.Millisecond,
		MaxBackoff:      2 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	d, err := New(cfg)
	require.NoError(t, err)
	return d
}

func (h *harness) checkpoint(t *testing.T) *checkpoint.Checkpoint {
	t.Helper()
	cp, err := h.store.Load(context.Background(), "test")
	require.NoError(t, err)
	return cp
}

func jan(from, to int) Range {
	return Range{
		Start: time.Date(2024, 1, from, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, to, 0, 0, 0, 0, time.UTC),
	}
}

var serverDown = &racingapi.APIError{Status: http.StatusServiceUnavailable, Path: "/v1/results"}

func TestRun_AllUnitsSucceed(t *testing.T) {
	h := newHarness(t)
	d := h.driver(t)

	sum, err := d.Run(context.Background(), jan(1, 3), Options{RunName: "test"})
	require.NoError(t, err)
	assert.True(t, sum.OK())
	assert.Equal(t, Done, sum.State)
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, sum.Succeeded)
	assert.Equal(t, 3, sum.Fetched)

	assert.Equal(t, "2024-01-03", h.checkpoint(t).LastCompletedDate)
	assert.Equal(t, 3, h.logs.FilterMessage("unit committed").Len())

	// entities were upserted once, races and runners once per day
	assert.Equal(t, 2, h.mem.Store.Len("ra_horses"))
	assert.Equal(t, 3, h.mem.Store.Len("ra_races"))
	assert.Equal(t, 6, h.mem.Store.Len("ra_runners"))
	assert.Equal(t, 3*(1+2+2+1+2), sum.Inserted+sum.Updated)
}

func TestRun_FailureHaltsWithoutAdvancing(t *testing.T) {
	h := newHarness(t)
	h.api.fail["2024-01-02"] = serverDown
	d := h.driver(t)

	sum, err := d.Run(context.Background(), jan(1, 3), Options{RunName: "test"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnitFailed)
	assert.False(t, sum.OK())
	assert.Equal(t, Failed, sum.State)

	assert.Equal(t, "2024-01-01", h.checkpoint(t).LastCompletedDate)
	assert.Equal(t, 3, h.api.callCount("2024-01-02"), "retried up to the unit budget")
	assert.Zero(t, h.api.callCount("2024-01-03"), "never attempted after the failure")

	require.Len(t, sum.Failed, 1)
	assert.Equal(t, "2024-01-02", sum.Failed[0].Date)
	assert.Equal(t, 3, sum.Failed[0].Attempts)

	entries, err := h.errlog.Entries("test")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "2024-01-02", entries[0].UnitDate)
	assert.Equal(t, sum.RunID, entries[0].RunID)
	assert.False(t, entries[0].Skipped)
}

func TestRun_ResumeAfterFix(t *testing.T) {
	h := newHarness(t)
	h.api.fail["2024-01-02"] = serverDown
	_, err := h.driver(t).Run(context.Background(), jan(1, 3), Options{RunName: "test"})
	require.ErrorIs(t, err, ErrUnitFailed)

	delete(h.api.fail, "2024-01-02")
	sum, err := h.driver(t).Run(context.Background(), jan(1, 3), Options{RunName: "test", Resume: true})
	require.NoError(t, err)

	assert.Equal(t, "2024-01-02", sum.ResumedFrom)
	assert.Equal(t, []string{"2024-01-02", "2024-01-03"}, sum.Attempted)
	assert.Equal(t, 1, h.api.callCount("2024-01-01"), "completed unit not reprocessed")
	assert.Equal(t, 1, h.api.callCount("2024-01-03"))

	cp := h.checkpoint(t)
	assert.Equal(t, "2024-01-03", cp.LastCompletedDate)
	assert.Equal(t, 3, cp.Stats.UnitsCompleted)
}

func TestRun_CheckpointInRangeNeedsResumeOrFresh(t *testing.T) {
	h := newHarness(t)
	_, err := h.driver(t).Run(context.Background(), jan(1, 2), Options{RunName: "test"})
	require.NoError(t, err)

	_, err = h.driver(t).Run(context.Background(), jan(1, 3), Options{RunName: "test"})
	require.ErrorIs(t, err, ErrCheckpointInRange)

	sum, err := h.driver(t).Run(context.Background(), jan(1, 3), Options{RunName: "test", Fresh: true})
	require.NoError(t, err)
	assert.Len(t, sum.Succeeded, 3)
	assert.Equal(t, 2, h.api.callCount("2024-01-01"))
}

func TestRun_CheckpointAheadOfRange(t *testing.T) {
	h := newHarness(t)
	_, err := h.driver(t).Run(context.Background(), jan(5, 6), Options{RunName: "test"})
	require.NoError(t, err)

	_, err = h.driver(t).Run(context.Background(), jan(1, 3), Options{RunName: "test", Resume: true})
	require.ErrorIs(t, err, ErrCheckpointAhead)
	assert.Equal(t, "2024-01-06", h.checkpoint(t).LastCompletedDate)
}

func TestRun_CheckpointBeforeRangeStartsAtStart(t *testing.T) {
	h := newHarness(t)
	_, err := h.driver(t).Run(context.Background(), jan(1, 1), Options{RunName: "test"})
	require.NoError(t, err)

	sum, err := h.driver(t).Run(context.Background(), jan(10, 11), Options{RunName: "test"})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-10", "2024-01-11"}, sum.Succeeded)
	assert.Equal(t, 3, h.checkpoint(t).Stats.UnitsCompleted)
}

func TestRun_CorruptCheckpointIsFatal(t *testing.T) {
	h := newHarness(t)
	dir := filepath.Join(h.dir, "checkpoints")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "test.json"), []byte("not json"), 0o644))

	_, err := h.driver(t).Run(context.Background(), jan(1, 2), Options{RunName: "test", Resume: true})
	require.ErrorIs(t, err, checkpoint.ErrCorrupt)
	assert.Zero(t, h.api.callCount("2024-01-01"))

	_, err = h.driver(t).Run(context.Background(), jan(1, 2), Options{RunName: "test", Fresh: true})
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", h.checkpoint(t).LastCompletedDate)
}

func TestRun_SkipNeedsAcknowledgement(t *testing.T) {
	h := newHarness(t)
	h.api.fail["2024-01-02"] = serverDown

	var asked []string
	ack := func(_ context.Context, day time.Time, cause error) bool {
		asked = append(asked, day.Format(time.DateOnly))
		return true
	}
	sum, err := h.driver(t).Run(context.Background(), jan(1, 3), Options{RunName: "test", SkipFailed: true, Ack: ack})
	require.NoError(t, err)
	assert.True(t, sum.OK())
	assert.Equal(t, []string{"2024-01-02"}, asked)
	assert.Equal(t, []string{"2024-01-02"}, sum.Skipped)
	assert.Equal(t, []string{"2024-01-01", "2024-01-03"}, sum.Succeeded)

	cp := h.checkpoint(t)
	assert.Equal(t, "2024-01-03", cp.LastCompletedDate)
	require.Len(t, cp.Skipped, 1)
	assert.Equal(t, "2024-01-02", cp.Skipped[0].Date)

	entries, err := h.errlog.Entries("test")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Skipped)
}

func TestRun_SkipRefusedHalts(t *testing.T) {
	h := newHarness(t)
	h.api.fail["2024-01-02"] = serverDown

	refuse := func(context.Context, time.Time, error) bool { return false }
	_, err := h.driver(t).Run(context.Background(), jan(1, 3), Options{RunName: "test", SkipFailed: true, Ack: refuse})
	require.ErrorIs(t, err, ErrUnitFailed)
	assert.Equal(t, "2024-01-01", h.checkpoint(t).LastCompletedDate)
	assert.Empty(t, h.checkpoint(t).Skipped)
}

func TestRun_RetrySkipped(t *testing.T) {
	h := newHarness(t)
	h.api.fail["2024-01-02"] = serverDown
	yes := func(context.Context, time.Time, error) bool { return true }
	_, err := h.driver(t).Run(context.Background(), jan(1, 4), Options{RunName: "test", SkipFailed: true, Ack: yes})
	require.NoError(t, err)
	require.Len(t, h.checkpoint(t).Skipped, 1)

	delete(h.api.fail, "2024-01-02")
	sum, err := h.driver(t).Run(context.Background(), jan(1, 4), Options{RunName: "test", RetrySkipped: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-02"}, sum.Attempted)
	assert.Equal(t, []string{"2024-01-02"}, sum.Succeeded)
	assert.Equal(t, 1, h.api.callCount("2024-01-01"), "completed units are not refetched")

	cp := h.checkpoint(t)
	assert.Equal(t, "2024-01-04", cp.LastCompletedDate, "cursor untouched")
	assert.Empty(t, cp.Skipped)
	assert.Equal(t, 4, cp.Stats.UnitsCompleted)
	assert.Zero(t, cp.Stats.UnitsSkipped)
	_, ok := sink.Get[models.Race](h.mem.Store, "rac_2024-01-02")
	assert.True(t, ok)
}

func TestRun_RetrySkippedFailsAgain(t *testing.T) {
	h := newHarness(t)
	h.api.fail["2024-01-02"] = serverDown
	h.api.fail["2024-01-03"] = serverDown
	asked := 0
	ack := func(context.Context, time.Time, error) bool {
		asked++
		return true
	}
	_, err := h.driver(t).Run(context.Background(), jan(1, 4), Options{RunName: "test", SkipFailed: true, Ack: ack})
	require.NoError(t, err)
	require.Equal(t, 2, asked)

	delete(h.api.fail, "2024-01-03")
	sum, err := h.driver(t).Run(context.Background(), jan(1, 4), Options{RunName: "test", RetrySkipped: true, SkipFailed: true, Ack: ack})
	require.ErrorIs(t, err, ErrUnitFailed)
	assert.Equal(t, 2, asked, "a re-run is never skipped")
	assert.Equal(t, []string{"2024-01-02"}, sum.Attempted, "halts at the first failure, oldest first")

	cp := h.checkpoint(t)
	assert.Len(t, cp.Skipped, 2)
	assert.Equal(t, "2024-01-04", cp.LastCompletedDate)
}

func TestRun_RetrySkippedNeedsCheckpoint(t *testing.T) {
	h := newHarness(t)
	_, err := h.driver(t).Run(context.Background(), jan(1, 2), Options{RunName: "test", RetrySkipped: true})
	require.Error(t, err)
	assert.Zero(t, h.api.callCount("2024-01-01"))
}

func TestRun_PermanentErrorNotRetried(t *testing.T) {
	h := newHarness(t)
	h.api.fail["2024-01-01"] = &racingapi.APIError{Status: http.StatusUnauthorized}

	sum, err := h.driver(t).Run(context.Background(), jan(1, 1), Options{RunName: "test"})
	require.ErrorIs(t, err, ErrUnitFailed)
	assert.Equal(t, 1, h.api.callCount("2024-01-01"))
	assert.Equal(t, 1, sum.Failed[0].Attempts)
	assert.Nil(t, h.checkpoint(t))
}

type flakyCommitter struct {
	*MemoryCommitter
	failures int
	err      error
	calls    int
}

func (f *flakyCommitter) Commit(ctx context.Context, b *Batch) (Counts, error) {
	f.calls++
	if f.calls <= f.failures {
		return Counts{}, f.err
	}
	return f.MemoryCommitter.Commit(ctx, b)
}

func TestRun_RetriesTransientStorageErrors(t *testing.T) {
	h := newHarness(t)
	fc := &flakyCommitter{MemoryCommitter: h.mem, failures: 2, err: &netErr{}}
	d := h.driver(t, func(c *Config) { c.Committer = fc })

	sum, err := d.Run(context.Background(), jan(1, 1), Options{RunName: "test"})
	require.NoError(t, err)
	assert.Equal(t, 3, fc.calls)
	assert.Equal(t, []string{"2024-01-01"}, sum.Succeeded)
}

func TestRun_InterruptKeepsLastCommittedUnit(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.api.onFetch = func(date string) {
		if date == "2024-01-02" {
			cancel()
		}
	}

	sum, err := h.driver(t).Run(ctx, jan(1, 3), Options{RunName: "test"})
	require.ErrorIs(t, err, ErrInterrupted)
	assert.True(t, sum.Interrupted)
	assert.Equal(t, []string{"2024-01-01"}, sum.Succeeded)
	assert.Empty(t, sum.Failed)
	assert.Equal(t, "2024-01-01", h.checkpoint(t).LastCompletedDate)
	assert.Zero(t, h.api.callCount("2024-01-03"))

	entries, err := h.errlog.Entries("")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRun_DryRunTouchesNothing(t *testing.T) {
	h := newHarness(t)
	d := h.driver(t, func(c *Config) {
		c.Committer = nil
		c.Store = nil
	})

	sum, err := d.Run(context.Background(), jan(1, 2), Options{RunName: "test", DryRun: true})
	require.NoError(t, err)
	assert.True(t, sum.DryRun)
	assert.Len(t, sum.Succeeded, 2)
	assert.Equal(t, 8+3, sum.Inserted, "second unit inserts only its race and runners")
	assert.Equal(t, 5, sum.Updated)

	_, err = os.Stat(filepath.Join(h.dir, "checkpoints"))
	assert.True(t, os.IsNotExist(err))
}

func TestRun_LockHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	locked := errors.New("locked")
	d := h.driver(t, func(c *Config) {
		c.Lock = func(context.Context, string) (func(), error) { return nil, locked }
	})

	_, err := d.Run(context.Background(), jan(1, 1), Options{RunName: "test"})
	require.ErrorIs(t, err, locked)
	assert.Zero(t, h.api.callCount("2024-01-01"))
}

func TestRun_LockReleased(t *testing.T) {
	h := newHarness(t)
	var taken, released int
	d := h.driver(t, func(c *Config) {
		c.Lock = func(_ context.Context, run string) (func(), error) {
			assert.Equal(t, "test", run)
			taken++
			return func() { released++ }, nil
		}
	})

	_, err := d.Run(context.Background(), jan(1, 1), Options{RunName: "test"})
	require.NoError(t, err)
	assert.Equal(t, 1, taken)
	assert.Equal(t, 1, released)
}

func TestRun_Enrich(t *testing.T) {
	h := newHarness(t)
	h.api.horses["hrs_1"] = &racingapi.HorseDetail{ID: "hrs_1", Colour: "bay", DOB: "2019-04-12", SireID: "sir_9", Region: "IRE"}

	sum, err := h.driver(t).Run(context.Background(), jan(1, 2), Options{RunName: "test", Enrich: true})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Enriched, "hrs_2 lookup fails, later units find both stored")

	horse, ok := sink.Get[models.Horse](h.mem.Store, "hrs_1")
	require.True(t, ok)
	assert.Equal(t, "bay", *horse.Colour)
	assert.Equal(t, "2019-04-12", *horse.DOB)
	assert.Equal(t, "sir_9", *horse.SireID)

	_, ok = sink.Get[models.Sire](h.mem.Store, "sir_9")
	assert.True(t, ok, "pedigree row added for the enriched foreign key")

	assert.Equal(t, 1, h.logs.FilterMessage("horse enrichment failed").Len())
}

func TestRun_Metrics(t *testing.T) {
	h := newHarness(t)
	h.api.fail["2024-01-02"] = serverDown
	m := NewMetrics(prometheus.NewRegistry())
	d := h.driver(t, func(c *Config) { c.Metrics = m })

	_, err := d.Run(context.Background(), jan(1, 2), Options{RunName: "test"})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.units.WithLabelValues("test", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.units.WithLabelValues("test", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.rows.WithLabelValues("ra_runners", "inserted")))
}

func TestRun_InvalidOptions(t *testing.T) {
	d := newHarness(t).driver(t)

	_, err := d.Run(context.Background(), jan(3, 1), Options{RunName: "test"})
	assert.Error(t, err)
	_, err = d.Run(context.Background(), jan(1, 1), Options{RunName: "../x"})
	assert.ErrorIs(t, err, checkpoint.ErrRunName)
	_, err = d.Run(context.Background(), jan(1, 1), Options{RunName: "test", Resume: true, Fresh: true})
	assert.Error(t, err)
	_, err = d.Run(context.Background(), jan(1, 1), Options{RunName: "test", RetrySkipped: true, Fresh: true})
	assert.Error(t, err)
	_, err = d.Run(context.Background(), jan(1, 1), Options{RunName: "test", RetrySkipped: true, DryRun: true})
	assert.Error(t, err)
}

func TestCheckStatus(t *testing.T) {
	h := newHarness(t)
	h.api.fail["2024-01-03"] = serverDown
	d := h.driver(t)
	_, err := d.Run(context.Background(), jan(1, 4), Options{RunName: "test"})
	require.Error(t, err)

	st, err := d.CheckStatus(context.Background(), "test", jan(1, 4))
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02", st.LastCompletedDate)
	assert.Equal(t, []string{"2024-01-03", "2024-01-04"}, st.Pending)
	require.Len(t, st.Errors, 1)
	assert.Equal(t, 2, st.Stats.UnitsCompleted)
}

func TestParseRange(t *testing.T) {
	r, err := ParseRange("2024-01-01", "2024-01-03")
	require.NoError(t, err)
	assert.Equal(t, jan(1, 3), r)

	_, err = ParseRange("2024-01-03", "2024-01-01")
	assert.Error(t, err)
	_, err = ParseRange("01/01/2024", "2024-01-01")
	assert.Error(t, err)
}

type netErr struct{}

func (*netErr) Error() string   { return "connection reset" }
func (*netErr) Timeout() bool   { return false }
func (*netErr) Temporary() bool { return true }
