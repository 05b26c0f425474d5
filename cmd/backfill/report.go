package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/padraicbc/dhworkers/backfill"
)

func printSummary(w io.Writer, s backfill.Summary) {
	bold := color.New(color.Bold)
	title := "Backfill " + s.RunName
	if s.DryRun {
		title += " (dry run)"
	}
	_, _ = bold.Fprintln(w, title)

	outcome := color.GreenString("DONE")
	switch {
	case s.Interrupted:
		outcome = color.YellowString("INTERRUPTED")
	case !s.OK():
		outcome = color.RedString("FAILED")
	}
	fmt.Fprintf(w, "  status:    %s\n", outcome)
	fmt.Fprintf(w, "  run id:    %s\n", s.RunID)
	if !s.Start.IsZero() {
		fmt.Fprintf(w, "  range:     %s .. %s\n", s.Start.Format(time.DateOnly), s.End.Format(time.DateOnly))
	}
	if s.ResumedFrom != "" {
		fmt.Fprintf(w, "  resumed at: %s\n", s.ResumedFrom)
	}
	fmt.Fprintf(w, "  units:     %d attempted, %s, %s, %s\n",
		len(s.Attempted),
		color.GreenString("%d succeeded", len(s.Succeeded)),
		color.YellowString("%d skipped", len(s.Skipped)),
		color.RedString("%d failed", len(s.Failed)))
	fmt.Fprintf(w, "  records:   %d fetched, %d inserted, %d updated, %d rejected\n",
		s.Fetched, s.Inserted, s.Updated, s.Rejected)
	if s.Enriched > 0 {
		fmt.Fprintf(w, "  enriched:  %d horses\n", s.Enriched)
	}
	fmt.Fprintf(w, "  duration:  %s\n", s.Duration.Round(time.Millisecond))

	if len(s.Skipped) > 0 {
		fmt.Fprintf(w, "  skipped:   %s\n", strings.Join(s.Skipped, ", "))
	}
	for _, f := range s.Failed {
		fmt.Fprintf(w, "  %s %s after %d attempts: %s\n", color.RedString("failed"), f.Date, f.Attempts, f.Error)
	}
}

func printStatus(w io.Writer, st backfill.Status) {
	bold := color.New(color.Bold)
	_, _ = bold.Fprintf(w, "Run %s\n", st.RunName)
	if st.LastCompletedDate == "" {
		fmt.Fprintln(w, "  no checkpoint")
	} else {
		fmt.Fprintf(w, "  last completed: %s\n", color.GreenString(st.LastCompletedDate))
	}
	if st.UpdatedAt != nil {
		fmt.Fprintf(w, "  updated at:     %s\n", st.UpdatedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "  units:          %d completed, %d skipped\n", st.Stats.UnitsCompleted, st.Stats.UnitsSkipped)
	fmt.Fprintf(w, "  records:        %d fetched, %d inserted, %d updated, %d rejected\n",
		st.Stats.Fetched, st.Stats.Inserted, st.Stats.Updated, st.Stats.Rejected)
	for _, sk := range st.Skipped {
		fmt.Fprintf(w, "  %s %s: %s\n", color.YellowString("skipped"), sk.Date, sk.Error)
	}
	for _, e := range st.Errors {
		tag := color.RedString("error")
		if e.Skipped {
			tag = color.YellowString("error (skipped)")
		}
		fmt.Fprintf(w, "  %s %s after %d attempts: %s\n", tag, e.UnitDate, e.Attempts, e.ErrorMessage)
	}
	if len(st.Pending) > 0 {
		fmt.Fprintf(w, "  pending:        %d days, %s .. %s\n", len(st.Pending), st.Pending[0], st.Pending[len(st.Pending)-1])
	}
}

// prompt asks on out whether a failed day may be skipped and reads the
// answer from in. Anything but y or yes refuses, as does EOF.
func prompt(in io.Reader, out io.Writer, yes bool) backfill.Acknowledger {
	var mu sync.Mutex
	sc := bufio.NewScanner(in)
	return func(_ context.Context, day time.Time, cause error) bool {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(out, "%s %s failed: %v\n", color.RedString("unit"), day.Format(time.DateOnly), cause)
		if yes {
			fmt.Fprintln(out, "skipping (--yes)")
			return true
		}
		fmt.Fprint(out, "skip it and continue? [y/N] ")
		if !sc.Scan() {
			return false
		}
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "y", "yes":
			return true
		}
		return false
	}
}
