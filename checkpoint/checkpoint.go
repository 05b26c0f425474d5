// Package checkpoint persists backfill progress so an interrupted run
// resumes after its last fully committed unit.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

const dateLayout = time.DateOnly

var (
	// ErrCorrupt means a stored checkpoint exists but cannot be trusted.
	// Callers must not guess a resume point from it.
	ErrCorrupt = errors.New("checkpoint corrupt")
	// ErrRegression is returned when advancing would move the cursor backwards.
	ErrRegression = errors.New("checkpoint cannot move backwards")
	// ErrRunName rejects run names that are unsafe as file or object names.
	ErrRunName = errors.New("invalid run name")
)

var runNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidRunName reports whether name can key a checkpoint.
func ValidRunName(name string) error {
	if !runNameRe.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrRunName, name)
	}
	return nil
}

// Stats are running totals across the whole run.
type Stats struct {
	UnitsCompleted int `json:"units_completed"`
	UnitsSkipped   int `json:"units_skipped"`
	Fetched        int `json:"records_fetched"`
	Inserted       int `json:"records_inserted"`
	Updated        int `json:"records_updated"`
	Rejected       int `json:"records_rejected"`
}

// SkippedUnit is a failed unit the operator agreed to pass over. It stays
// listed for a manual re-run.
type SkippedUnit struct {
	Date    string    `json:"date"`
	Error   string    `json:"error"`
	AckedAt time.Time `json:"acked_at"`
}

// Checkpoint is the persisted cursor of one backfill run.
type Checkpoint struct {
	RunName           string        `json:"run_name"`
	LastCompletedDate string        `json:"last_completed_date"`
	Stats             Stats         `json:"stats"`
	Skipped           []SkippedUnit `json:"skipped,omitempty"`
	Timestamp         time.Time     `json:"timestamp"`
}

// New returns an empty checkpoint for run.
func New(run string) *Checkpoint {
	return &Checkpoint{RunName: run}
}

// LastCompleted parses LastCompletedDate. ok is false for a fresh checkpoint.
func (c *Checkpoint) LastCompleted() (day time.Time, ok bool, err error) {
	if c == nil || c.LastCompletedDate == "" {
		return time.Time{}, false, nil
	}
	day, err = time.Parse(dateLayout, c.LastCompletedDate)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: last_completed_date %q", ErrCorrupt, c.LastCompletedDate)
	}
	return day, true, nil
}

// Advance moves the cursor to day. It never moves backwards.
func (c *Checkpoint) Advance(day time.Time, now time.Time) error {
	last, ok, err := c.LastCompleted()
	if err != nil {
		return err
	}
	if ok && day.Before(last) {
		return fmt.Errorf("%w: %s -> %s", ErrRegression, c.LastCompletedDate, day.Format(dateLayout))
	}
	c.LastCompletedDate = day.Format(dateLayout)
	c.Timestamp = now.UTC()
	return nil
}

// Skip records an acknowledged failed unit.
func (c *Checkpoint) Skip(day time.Time, cause error, now time.Time) {
	c.Skipped = append(c.Skipped, SkippedUnit{Date: day.Format(dateLayout), Error: cause.Error(), AckedAt: now.UTC()})
	c.Stats.UnitsSkipped++
}

// Unskip removes day from the skipped list once it has been re-run
// successfully. It reports whether day was listed.
func (c *Checkpoint) Unskip(day time.Time) bool {
	date := day.Format(dateLayout)
	for i, sk := range c.Skipped {
		if sk.Date == date {
			c.Skipped = append(c.Skipped[:i:i], c.Skipped[i+1:]...)
			c.Stats.UnitsSkipped--
			c.Stats.UnitsCompleted++
			return true
		}
	}
	return false
}

// Store reads and writes checkpoints keyed by run name.
type Store interface {
	// Load returns nil, nil when no checkpoint exists.
	Load(ctx context.Context, run string) (*Checkpoint, error)
	// Save must be durable when it returns nil.
	Save(ctx context.Context, cp *Checkpoint) error
	Reset(ctx context.Context, run string) error
}

func encode(cp *Checkpoint) ([]byte, error) {
	if err := ValidRunName(cp.RunName); err != nil {
		return nil, err
	}
	return json.MarshalIndent(cp, "", "  ")
}

func decode(run string, b []byte) (*Checkpoint, error) {
	var cp Checkpoint
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, run, err)
	}
	if cp.RunName != run {
		return nil, fmt.Errorf("%w: %s: belongs to run %q", ErrCorrupt, run, cp.RunName)
	}
	if _, _, err := cp.LastCompleted(); err != nil {
		return nil, fmt.Errorf("%s: %w", run, err)
	}
	return &cp, nil
}
