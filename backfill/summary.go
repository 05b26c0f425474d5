package backfill

import (
	"time"
)

// UnitFailure is a unit that exhausted its retries.
type UnitFailure struct {
	Date     string `json:"date"`
	Error    string `json:"error"`
	Attempts int    `json:"attempts"`
}

// Summary reports one Run.
type Summary struct {
	RunID       string    `json:"runID"`
	RunName     string    `json:"runName"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	DryRun      bool      `json:"dryRun"`
	ResumedFrom string    `json:"resumedFrom,omitempty"`
	State       State     `json:"-"`
	Interrupted bool      `json:"interrupted"`

	Attempted []string      `json:"attempted"`
	Succeeded []string      `json:"succeeded"`
	Skipped   []string      `json:"skipped"`
	Failed    []UnitFailure `json:"failed"`

	Fetched  int `json:"recordsFetched"`
	Inserted int `json:"recordsInserted"`
	Updated  int `json:"recordsUpdated"`
	Rejected int `json:"recordsRejected"`
	Enriched int `json:"horsesEnriched"`

	Duration time.Duration `json:"duration"`
}

// OK reports whether every attempted unit committed or was skipped.
func (s *Summary) OK() bool {
	return s.State == Done && len(s.Failed) == len(s.Skipped)
}
