package checkpoint

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrorEntry is one failed unit in the error log.
type ErrorEntry struct {
	RunID        string    `json:"run_id"`
	RunName      string    `json:"run_name"`
	UnitDate     string    `json:"unit_date"`
	ErrorMessage string    `json:"error_message"`
	Attempts     int       `json:"attempts"`
	Skipped      bool      `json:"skipped"`
	Timestamp    time.Time `json:"timestamp"`
}

// ErrorLog is an append-only JSON lines file of failed units.
type ErrorLog struct {
	mu   sync.Mutex
	path string
}

// NewErrorLog returns a log writing to path.
func NewErrorLog(path string) *ErrorLog {
	return &ErrorLog{path: path}
}

// Append writes e and fsyncs the file.
func (l *ErrorLog) Append(e ErrorEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("error log dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open error log: %w", err)
	}
	defer f.Close()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write error log: %w", err)
	}
	return f.Sync()
}

// Entries reads the log, optionally filtered to one run name.
func (l *ErrorLog) Entries(run string) ([]ErrorEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}
	defer f.Close()

	var out []ErrorEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; sc.Scan(); line++ {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e ErrorEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("error log line %d: %w", line, err)
		}
		if run == "" || e.RunName == run {
			out = append(out, e)
		}
	}
	return out, sc.Err()
}
