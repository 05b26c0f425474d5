package backfill

import (
	"context"
	"errors"
	"time"

	"github.com/padraicbc/dhworkers/checkpoint"
)

// Status is a read-only view of a run's progress.
type Status struct {
	RunName           string                   `json:"runName"`
	LastCompletedDate string                   `json:"lastCompletedDate,omitempty"`
	UpdatedAt         *time.Time               `json:"updatedAt,omitempty"`
	Stats             checkpoint.Stats         `json:"stats"`
	Skipped           []checkpoint.SkippedUnit `json:"skipped,omitempty"`
	Errors            []checkpoint.ErrorEntry  `json:"errors,omitempty"`
	// Pending lists the units of the range a resume would process. Empty
	// when no range was given.
	Pending []string `json:"pending,omitempty"`
}

// CheckStatus reports the checkpoint and error log of run without writing
// anything. rng may be the zero Range.
func (d *Driver) CheckStatus(ctx context.Context, run string, rng Range) (Status, error) {
	return ReadStatus(ctx, d.store, d.errlog, run, rng)
}

// ReadStatus is CheckStatus without a Driver, for the status API.
func ReadStatus(ctx context.Context, store checkpoint.Store, errlog *checkpoint.ErrorLog, run string, rng Range) (Status, error) {
	st := Status{RunName: run}
	if err := checkpoint.ValidRunName(run); err != nil {
		return st, err
	}
	if store == nil {
		return st, errors.New("backfill: no checkpoint store")
	}

	cp, err := store.Load(ctx, run)
	if err != nil {
		return st, err
	}
	next := rng.Start
	if cp != nil {
		st.LastCompletedDate = cp.LastCompletedDate
		st.Stats = cp.Stats
		st.Skipped = cp.Skipped
		if !cp.Timestamp.IsZero() {
			ts := cp.Timestamp
			st.UpdatedAt = &ts
		}
		if last, ok, err := cp.LastCompleted(); err == nil && ok && !last.Before(rng.Start) {
			next = last.AddDate(0, 0, 1)
		}
	}

	if errlog != nil {
		if st.Errors, err = errlog.Entries(run); err != nil {
			return st, err
		}
	}

	if rng.validate() == nil {
		for day := next; !day.After(rng.End); day = day.AddDate(0, 0, 1) {
			st.Pending = append(st.Pending, day.Format(dateLayout))
		}
	}
	return st, nil
}
