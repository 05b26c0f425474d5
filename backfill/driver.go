// Package backfill replays historical Racing API results into storage one
// calendar day at a time. The checkpoint is written only after a day's rows
// are fully committed, so a restart resumes at the first unfinished day.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/padraicbc/dhworkers/checkpoint"
	"github.com/padraicbc/dhworkers/extract"
	"github.com/padraicbc/dhworkers/racingapi"
	"github.com/padraicbc/dhworkers/sink"
)

const dateLayout = time.DateOnly

var (
	// ErrInterrupted is returned when ctx is cancelled; the checkpoint
	// reflects only fully committed units.
	ErrInterrupted = errors.New("backfill interrupted")
	// ErrUnitFailed wraps the error of the unit that halted the run.
	ErrUnitFailed = errors.New("backfill unit failed")
	// ErrCheckpointInRange means a previous run stopped inside the range and
	// neither Resume nor Fresh was requested.
	ErrCheckpointInRange = errors.New("checkpoint lies inside range")
	// ErrCheckpointAhead means the checkpoint is past the end of the range;
	// starting over would move it backwards.
	ErrCheckpointAhead = errors.New("checkpoint is past end of range")
)

// State is the driver's position in the unit lifecycle.
type State int

const (
	Idle State = iota
	Fetching
	Processing
	Committing
	Advancing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Processing:
		return "processing"
	case Committing:
		return "committing"
	case Advancing:
		return "advancing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Fetcher is the subset of the Racing API client the driver uses.
type Fetcher interface {
	Results(ctx context.Context, day time.Time) ([]racingapi.Result, error)
	Horse(ctx context.Context, id string) (*racingapi.HorseDetail, error)
}

// LockFunc takes a single-instance lock for a run and returns its release.
type LockFunc func(ctx context.Context, run string) (release func(), err error)

// Acknowledger decides whether a failed unit may be skipped. Returning
// false halts the run.
type Acknowledger func(ctx context.Context, day time.Time, cause error) bool

// Range is an inclusive span of calendar days.
type Range struct {
	Start time.Time
	End   time.Time
}

// ParseRange parses two YYYY-MM-DD dates.
func ParseRange(start, end string) (Range, error) {
	s, err := time.Parse(dateLayout, start)
	if err != nil {
		return Range{}, fmt.Errorf("start date: %w", err)
	}
	e, err := time.Parse(dateLayout, end)
	if err != nil {
		return Range{}, fmt.Errorf("end date: %w", err)
	}
	r := Range{Start: s, End: e}
	return r, r.validate()
}

func (r Range) validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return errors.New("range needs start and end dates")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("end %s is before start %s", r.End.Format(dateLayout), r.Start.Format(dateLayout))
	}
	return nil
}

// Options control one Run.
type Options struct {
	RunName string
	// Resume continues after a checkpoint that lies inside the range.
	Resume bool
	// Fresh deletes the checkpoint before starting.
	Fresh bool
	// SkipFailed consults Ack for each failed unit instead of halting.
	SkipFailed bool
	Ack        Acknowledger
	// Enrich looks up attributes of horses not yet stored.
	Enrich bool
	// DryRun writes into memory and never reads or writes the checkpoint.
	DryRun bool
	// RetrySkipped re-runs only the skipped units inside the range and
	// leaves the cursor where it is.
	RetrySkipped bool
}

// Config wires a Driver.
type Config struct {
	API       Fetcher
	Store     checkpoint.Store
	ErrorLog  *checkpoint.ErrorLog
	Committer Committer
	Lock      LockFunc
	Extractor *extract.Extractor
	Logger    *zap.Logger
	Metrics   *Metrics

	UnitMaxAttempts int
	InitialBackoff  time.Duration
	MaxBackoff      time.Duration
}

// Driver runs backfills. It processes one unit at a time.
type Driver struct {
	api       Fetcher
	store     checkpoint.Store
	errlog    *checkpoint.ErrorLog
	committer Committer
	lock      LockFunc
	extractor *extract.Extractor
	log       *zap.Logger
	metrics   *Metrics
	now       func() time.Time

	maxAttempts    uint
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New builds a Driver. Committer, Store and ErrorLog may be nil for a
// driver used only for dry runs.
func New(cfg Config) (*Driver, error) {
	if cfg.API == nil {
		return nil, errors.New("backfill: API is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extract.New(cfg.Logger)
	}
	if cfg.UnitMaxAttempts <= 0 {
		cfg.UnitMaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 2 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	return &Driver{
		api:            cfg.API,
		store:          cfg.Store,
		errlog:         cfg.ErrorLog,
		committer:      cfg.Committer,
		lock:           cfg.Lock,
		extractor:      cfg.Extractor,
		log:            cfg.Logger.Named("backfill"),
		metrics:        cfg.Metrics,
		now:            time.Now,
		maxAttempts:    uint(cfg.UnitMaxAttempts),
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
	}, nil
}

// run is the mutable state of one Run call.
type run struct {
	id        string
	opts      Options
	committer Committer
	cp        *checkpoint.Checkpoint
	sum       *Summary
	state     State
	log       *zap.Logger
}

func (r *run) enter(s State, day time.Time) {
	r.state = s
	r.log.Debug("state", zap.Stringer("state", s), zap.String("unit", day.Format(dateLayout)))
}

// Run backfills rng. It returns ErrInterrupted on cancellation, an error
// wrapping ErrUnitFailed when a unit fails and is not skipped, and other
// errors for checkpoint or setup problems. The Summary is valid in every case.
func (d *Driver) Run(ctx context.Context, rng Range, opts Options) (sum Summary, err error) {
	started := d.now()
	sum = Summary{RunName: opts.RunName, Start: rng.Start, End: rng.End, DryRun: opts.DryRun}
	defer func() { sum.Duration = d.now().Sub(started) }()

	if err := rng.validate(); err != nil {
		return sum, err
	}
	if err := checkpoint.ValidRunName(opts.RunName); err != nil {
		return sum, err
	}
	if opts.Fresh && opts.Resume {
		return sum, errors.New("resume and fresh are mutually exclusive")
	}
	if opts.RetrySkipped && (opts.Fresh || opts.Resume || opts.DryRun) {
		return sum, errors.New("retry-skipped excludes resume, fresh and dry-run")
	}

	r := &run{id: uuid.NewString(), opts: opts, sum: &sum, committer: d.committer}
	r.log = d.log.With(zap.String("run", opts.RunName), zap.String("run_id", r.id))
	sum.RunID = r.id

	if opts.DryRun {
		r.committer = NewMemoryCommitter()
	} else {
		if d.committer == nil || d.store == nil {
			return sum, errors.New("backfill: committer and checkpoint store are required")
		}
		if d.lock != nil {
			release, err := d.lock(ctx, opts.RunName)
			if err != nil {
				return sum, err
			}
			defer release()
		}
	}

	if opts.RetrySkipped {
		return d.retrySkipped(ctx, r, rng)
	}

	next, err := d.startAt(ctx, r, rng)
	if err != nil {
		sum.State = Failed
		return sum, err
	}
	if next.After(rng.Start) {
		sum.ResumedFrom = next.Format(dateLayout)
	}

	r.log.Info("backfill starting",
		zap.String("start", rng.Start.Format(dateLayout)),
		zap.String("end", rng.End.Format(dateLayout)),
		zap.String("next", next.Format(dateLayout)),
		zap.Bool("dry_run", opts.DryRun))

	for day := next; !day.After(rng.End); day = day.AddDate(0, 0, 1) {
		if ctx.Err() != nil {
			return d.interrupted(r, day)
		}
		if err := d.step(ctx, r, day); err != nil {
			if errors.Is(err, ErrInterrupted) {
				return d.interrupted(r, day)
			}
			sum.State = Failed
			return sum, err
		}
	}

	sum.State = Done
	r.log.Info("backfill done",
		zap.Int("succeeded", len(sum.Succeeded)),
		zap.Int("skipped", len(sum.Skipped)),
		zap.Int("inserted", sum.Inserted),
		zap.Int("updated", sum.Updated))
	return sum, nil
}

func (d *Driver) interrupted(r *run, day time.Time) (Summary, error) {
	r.sum.State = Failed
	r.sum.Interrupted = true
	r.log.Warn("backfill interrupted", zap.String("unit", day.Format(dateLayout)),
		zap.String("last_completed", r.cp.LastCompletedDate))
	return *r.sum, ErrInterrupted
}

// startAt loads or resets the checkpoint and returns the first unit to run.
func (d *Driver) startAt(ctx context.Context, r *run, rng Range) (time.Time, error) {
	r.cp = checkpoint.New(r.opts.RunName)
	if r.opts.DryRun {
		return rng.Start, nil
	}
	if r.opts.Fresh {
		if err := d.store.Reset(ctx, r.opts.RunName); err != nil {
			return time.Time{}, err
		}
		r.log.Info("checkpoint reset")
		return rng.Start, nil
	}

	cp, err := d.store.Load(ctx, r.opts.RunName)
	if err != nil {
		if errors.Is(err, checkpoint.ErrCorrupt) {
			return time.Time{}, fmt.Errorf("%w; inspect it or rerun with fresh", err)
		}
		return time.Time{}, err
	}
	if cp == nil {
		return rng.Start, nil
	}
	r.cp = cp

	last, ok, err := cp.LastCompleted()
	if err != nil {
		return time.Time{}, err
	}
	switch {
	case !ok, last.Before(rng.Start):
		return rng.Start, nil
	case last.After(rng.End):
		return time.Time{}, fmt.Errorf("%w: %s > %s", ErrCheckpointAhead, cp.LastCompletedDate, rng.End.Format(dateLayout))
	case !r.opts.Resume:
		return time.Time{}, fmt.Errorf("%w: last completed %s; pass resume or fresh", ErrCheckpointInRange, cp.LastCompletedDate)
	}
	return last.AddDate(0, 0, 1), nil
}

// step runs one unit to completion, skip or failure.
func (d *Driver) step(ctx context.Context, r *run, day time.Time) error {
	date := day.Format(dateLayout)
	r.sum.Attempted = append(r.sum.Attempted, date)
	t0 := d.now()

	res, attempts, err := d.retryUnit(ctx, r, day)
	if err != nil {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		r.enter(Failed, day)
		r.sum.Failed = append(r.sum.Failed, UnitFailure{Date: date, Error: err.Error(), Attempts: attempts})
		r.log.Error("unit failed", zap.String("unit", date), zap.Int("attempts", attempts), zap.Error(err))

		// An unavailable API is not this day's fault and is never offered for skipping.
		skip := r.opts.SkipFailed && r.opts.Ack != nil &&
			!errors.Is(err, racingapi.ErrUnavailable) && r.opts.Ack(ctx, day, err)
		if lerr := d.recordFailure(r, day, err, attempts, skip); lerr != nil {
			return lerr
		}
		if !skip {
			d.metrics.unit(r.opts.RunName, "failed", d.now().Sub(t0))
			return fmt.Errorf("%w: %s: %w", ErrUnitFailed, date, err)
		}

		r.enter(Advancing, day)
		r.cp.Skip(day, err, d.now())
		if err := d.advance(ctx, r, day); err != nil {
			return err
		}
		r.sum.Skipped = append(r.sum.Skipped, date)
		d.metrics.unit(r.opts.RunName, "skipped", d.now().Sub(t0))
		r.log.Warn("unit skipped", zap.String("unit", date))
		return nil
	}

	r.enter(Advancing, day)
	r.cp.Stats.UnitsCompleted++
	tally(&r.cp.Stats, res)
	if err := d.advance(ctx, r, day); err != nil {
		return err
	}
	d.succeeded(r, day, res, attempts, t0)
	return nil
}

func tally(s *checkpoint.Stats, res unitResult) {
	s.Fetched += res.fetched
	s.Inserted += res.counts.Inserted
	s.Updated += res.counts.Updated
	s.Rejected += res.rejected
}

func (d *Driver) succeeded(r *run, day time.Time, res unitResult, attempts int, t0 time.Time) {
	date := day.Format(dateLayout)
	r.sum.Succeeded = append(r.sum.Succeeded, date)
	r.sum.Fetched += res.fetched
	r.sum.Inserted += res.counts.Inserted
	r.sum.Updated += res.counts.Updated
	r.sum.Rejected += res.rejected
	r.sum.Enriched += res.enriched

	took := d.now().Sub(t0)
	d.metrics.unit(r.opts.RunName, "succeeded", took)
	d.metrics.written(res.counts)
	r.log.Info("unit committed",
		zap.String("unit", date),
		zap.Int("fetched", res.fetched),
		zap.Int("inserted", res.counts.Inserted),
		zap.Int("updated", res.counts.Updated),
		zap.Int("rejected", res.rejected),
		zap.Int("attempts", attempts),
		zap.Duration("took", took))
}

// retrySkipped re-runs the checkpoint's skipped units that fall inside rng,
// oldest first. A unit that succeeds leaves the skipped list; one that
// fails again halts the run and stays listed.
func (d *Driver) retrySkipped(ctx context.Context, r *run, rng Range) (Summary, error) {
	fail := func(err error) (Summary, error) {
		r.sum.State = Failed
		return *r.sum, err
	}
	cp, err := d.store.Load(ctx, r.opts.RunName)
	if err != nil {
		return fail(err)
	}
	if cp == nil {
		return fail(fmt.Errorf("backfill: run %q has no checkpoint", r.opts.RunName))
	}
	r.cp = cp

	var days []time.Time
	for _, sk := range cp.Skipped {
		day, err := time.Parse(dateLayout, sk.Date)
		if err != nil {
			return fail(fmt.Errorf("%w: skipped date %q", checkpoint.ErrCorrupt, sk.Date))
		}
		if !day.Before(rng.Start) && !day.After(rng.End) {
			days = append(days, day)
		}
	}
	slices.SortFunc(days, time.Time.Compare)
	days = slices.CompactFunc(days, time.Time.Equal)
	r.log.Info("retrying skipped units", zap.Int("units", len(days)))

	for _, day := range days {
		if ctx.Err() != nil {
			return d.interrupted(r, day)
		}
		if err := d.rerun(ctx, r, day); err != nil {
			if errors.Is(err, ErrInterrupted) {
				return d.interrupted(r, day)
			}
			return fail(err)
		}
	}
	r.sum.State = Done
	return *r.sum, nil
}

// rerun is step for a unit behind the cursor: no skipping, no advance.
func (d *Driver) rerun(ctx context.Context, r *run, day time.Time) error {
	date := day.Format(dateLayout)
	r.sum.Attempted = append(r.sum.Attempted, date)
	t0 := d.now()

	res, attempts, err := d.retryUnit(ctx, r, day)
	if err != nil {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		r.enter(Failed, day)
		r.sum.Failed = append(r.sum.Failed, UnitFailure{Date: date, Error: err.Error(), Attempts: attempts})
		r.log.Error("skipped unit failed again", zap.String("unit", date), zap.Int("attempts", attempts), zap.Error(err))
		if lerr := d.recordFailure(r, day, err, attempts, false); lerr != nil {
			return lerr
		}
		d.metrics.unit(r.opts.RunName, "failed", d.now().Sub(t0))
		return fmt.Errorf("%w: %s: %w", ErrUnitFailed, date, err)
	}

	r.enter(Advancing, day)
	r.cp.Unskip(day)
	tally(&r.cp.Stats, res)
	r.cp.Timestamp = d.now().UTC()
	if err := d.store.Save(ctx, r.cp); err != nil {
		return fmt.Errorf("save checkpoint after %s: %w", date, err)
	}
	d.succeeded(r, day, res, attempts, t0)
	return nil
}

// advance durably moves the checkpoint to day. Dry runs keep it in memory.
func (d *Driver) advance(ctx context.Context, r *run, day time.Time) error {
	if err := r.cp.Advance(day, d.now()); err != nil {
		return err
	}
	if r.opts.DryRun {
		return nil
	}
	if err := d.store.Save(ctx, r.cp); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", day.Format(dateLayout), err)
	}
	d.metrics.completed(r.opts.RunName, day)
	return nil
}

func (d *Driver) recordFailure(r *run, day time.Time, cause error, attempts int, skipped bool) error {
	if r.opts.DryRun || d.errlog == nil {
		return nil
	}
	err := d.errlog.Append(checkpoint.ErrorEntry{
		RunID:        r.id,
		RunName:      r.opts.RunName,
		UnitDate:     day.Format(dateLayout),
		ErrorMessage: cause.Error(),
		Attempts:     attempts,
		Skipped:      skipped,
		Timestamp:    d.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("record failure of %s: %w", day.Format(dateLayout), err)
	}
	return nil
}

type unitResult struct {
	fetched  int
	rejected int
	enriched int
	counts   Counts
}

// retryUnit runs a unit with bounded exponential backoff. Only transient
// API and storage errors are retried.
func (d *Driver) retryUnit(ctx context.Context, r *run, day time.Time) (unitResult, int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.initialBackoff
	b.MaxInterval = d.maxBackoff

	attempts := 0
	res, err := backoff.Retry(ctx, func() (unitResult, error) {
		attempts++
		res, err := d.runUnit(ctx, r, day)
		if err != nil && !retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.maxAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			r.log.Warn("retrying unit", zap.String("unit", day.Format(dateLayout)), zap.Duration("in", next), zap.Error(err))
		}),
	)
	return res, attempts, err
}

func retryable(err error) bool {
	if errors.Is(err, extract.ErrContract) {
		return false
	}
	return racingapi.IsTransient(err) || sink.IsRetryable(err)
}

// runUnit is one attempt: fetch, process, commit.
func (d *Driver) runUnit(ctx context.Context, r *run, day time.Time) (unitResult, error) {
	var res unitResult
	date := day.Format(dateLayout)

	r.enter(Fetching, day)
	results, err := d.api.Results(ctx, day)
	if err != nil {
		return res, fmt.Errorf("fetch: %w", err)
	}
	res.fetched = len(results)

	r.enter(Processing, day)
	ents := d.extractor.Extract(results)
	events, rejected := extract.Transform(results)
	for _, re := range rejected {
		r.log.Warn("record rejected", zap.String("unit", date), zap.String("table", re.Table),
			zap.String("key", re.Key), zap.Int("index", re.Index), zap.String("reason", re.Reason))
	}
	res.rejected = len(rejected)

	if r.opts.Enrich {
		n, err := d.enrich(ctx, &ents, r.committer)
		if err != nil {
			return res, fmt.Errorf("enrich: %w", err)
		}
		res.enriched = n
	}
	if err := extract.CheckReferences(&ents, &events); err != nil {
		return res, err
	}

	r.enter(Committing, day)
	counts, err := r.committer.Commit(ctx, &Batch{Day: day, Entities: ents, Events: events})
	if err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	for _, t := range counts.Tables {
		for _, re := range t.Errors {
			r.log.Warn("record rejected", zap.String("unit", date), zap.String("table", re.Table),
				zap.Int("index", re.Index), zap.String("reason", re.Reason))
		}
	}
	res.rejected += counts.Rejected
	res.counts = counts
	return res, nil
}
