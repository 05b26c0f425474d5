package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"github.com/padraicbc/dhworkers/backfill"
	"github.com/padraicbc/dhworkers/checkpoint"
)

func init() { color.NoColor = true }

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"ok", nil, exitOK},
		{"interrupted", fmt.Errorf("%w: %w", errReported, backfill.ErrInterrupted), exitInterrupted},
		{"cancelled during setup", context.Canceled, exitInterrupted},
		{"unit failed", fmt.Errorf("%w: %w", errReported, backfill.ErrUnitFailed), exitFailed},
		{"config", errors.New("config: DB_PASS must be set"), exitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestFlagErrorsExitOne(t *testing.T) {
	assert.Equal(t, exitFailed, run(context.Background(), []string{"--resume", "--fresh"}))
	assert.Equal(t, exitFailed, run(context.Background(), []string{"--no-such-flag"}))
	assert.Equal(t, exitFailed, run(context.Background(), []string{"--retry-skipped", "--fresh"}))
	assert.Equal(t, exitFailed, run(context.Background(), []string{"--retry-skipped", "--dry-run"}))
}

func TestCheckStatusNeedsNoDatabase(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DB_PASS", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("CHECKPOINT_BACKEND", "file")
	t.Setenv("CHECKPOINT_DIR", filepath.Join(dir, "checkpoints"))
	t.Setenv("ERROR_LOG_PATH", filepath.Join(dir, "errors.jsonl"))

	assert.Equal(t, exitOK, run(context.Background(), []string{"--check-status", "--run-name", "jan"}))
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	printSummary(&buf, backfill.Summary{
		RunName:     "jan",
		RunID:       "abc",
		Start:       time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		State:       backfill.Failed,
		ResumedFrom: "2024-01-02",
		Attempted:   []string{"2024-01-01", "2024-01-02"},
		Succeeded:   []string{"2024-01-01"},
		Failed:      []backfill.UnitFailure{{Date: "2024-01-02", Error: "api down", Attempts: 3}},
		Fetched:     8,
		Inserted:    8,
	})
	out := buf.String()
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "2024-01-01 .. 2024-01-03")
	assert.Contains(t, out, "resumed at: 2024-01-02")
	assert.NotContains(t, out, "after 2024-01-02")
	assert.Contains(t, out, "2 attempted, 1 succeeded, 0 skipped, 1 failed")
	assert.Contains(t, out, "failed 2024-01-02 after 3 attempts: api down")
}

func TestPrintStatus(t *testing.T) {
	var buf bytes.Buffer
	printStatus(&buf, backfill.Status{
		RunName:           "jan",
		LastCompletedDate: "2024-01-02",
		Stats:             checkpoint.Stats{UnitsCompleted: 2},
		Errors:            []checkpoint.ErrorEntry{{UnitDate: "2024-01-03", ErrorMessage: "timeout", Attempts: 3}},
		Pending:           []string{"2024-01-03", "2024-01-04"},
	})
	out := buf.String()
	assert.Contains(t, out, "last completed: 2024-01-02")
	assert.Contains(t, out, "error 2024-01-03 after 3 attempts: timeout")
	assert.Contains(t, out, "2 days, 2024-01-03 .. 2024-01-04")
}

func TestPrompt(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	cause := errors.New("boom")
	ctx := context.Background()

	var out bytes.Buffer
	ack := prompt(strings.NewReader("y\nno\n"), &out, false)
	assert.True(t, ack(ctx, day, cause))
	assert.False(t, ack(ctx, day, cause))
	assert.False(t, ack(ctx, day, cause), "EOF refuses")
	assert.Contains(t, out.String(), "unit 2024-01-02 failed: boom")

	assert.True(t, prompt(strings.NewReader(""), &out, true)(ctx, day, cause))
}
