// Package sink writes records with insert-or-update-on-conflict semantics.
//
// The default Merge mode never overwrites a stored value with NULL: a row
// that omits an attribute keeps whatever an earlier write or enrichment pass
// stored. Replace mode is the authoritative full refresh and writes every
// column as given.
package sink

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/padraicbc/dhworkers/models"
)

// Mode selects how existing rows are updated.
type Mode int

const (
	// Merge keeps stored values where the incoming row carries NULL.
	Merge Mode = iota
	// Replace overwrites every mutable column, NULLs included.
	Replace
)

func (m Mode) String() string {
	if m == Replace {
		return "replace"
	}
	return "merge"
}

// Options tunes one Upsert call.
type Options struct {
	// ConflictKey is the comma separated column list of the conflict
	// target. Empty means the primary key.
	ConflictKey string
	Mode        Mode
}

// Result reports what one Upsert did.
type Result struct {
	Table    string
	Inserted int
	Updated  int
	Errors   []models.RecordError
}

// Writer is a storage backend. See Bun and Memory.
type Writer interface {
	write(ctx context.Context, t *table, rows any, n int, conflict []string, mode Mode) (inserted int, err error)
}

// Upsert writes rows in one batch. Rows without a business key are rejected
// into Result.Errors and the rest are written. Several rows with the same key
// are folded in order into one, as if they had been written one after another.
// Storage failures are returned as errors; see IsRetryable.
func Upsert[T models.Record](ctx context.Context, w Writer, rows []T, opts Options) (Result, error) {
	var zero T
	t, err := tableFor(reflect.TypeOf(zero))
	if err != nil {
		return Result{}, err
	}
	res := Result{Table: t.name}

	conflict := t.pks
	if opts.ConflictKey != "" {
		conflict = nil
		for _, name := range strings.Split(opts.ConflictKey, ",") {
			name = strings.TrimSpace(name)
			if _, ok := t.column(name); !ok {
				return res, fmt.Errorf("sink: %s has no column %q", t.name, name)
			}
			conflict = append(conflict, name)
		}
	}

	clean := make([]T, 0, len(rows))
	seen := make(map[string]int, len(rows))
	for i := range rows {
		key := rows[i].Key()
		if key == "" {
			res.Errors = append(res.Errors, models.RecordError{
				Table: t.name, Index: i, Reason: "missing conflict key " + strings.Join(conflict, ","),
			})
			continue
		}
		if j, ok := seen[key]; ok {
			fold(t, reflect.ValueOf(&clean[j]).Elem(), reflect.ValueOf(rows[i]), opts.Mode)
			continue
		}
		seen[key] = len(clean)
		clean = append(clean, rows[i])
	}
	if len(clean) == 0 {
		return res, nil
	}

	inserted, err := w.write(ctx, t, &clean, len(clean), conflict, opts.Mode)
	if err != nil {
		return res, fmt.Errorf("upsert %s: %w", t.name, err)
	}
	res.Inserted = inserted
	res.Updated = len(clean) - inserted
	return res, nil
}
