package backfill

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"github.com/padraicbc/dhworkers/db"
	"github.com/padraicbc/dhworkers/extract"
	"github.com/padraicbc/dhworkers/models"
	"github.com/padraicbc/dhworkers/sink"
)

// Batch is everything one unit writes.
type Batch struct {
	Day      time.Time
	Entities extract.Entities
	Events   extract.Events
}

// Counts totals the sink results of one or more commits.
type Counts struct {
	Tables   []sink.Result
	Inserted int
	Updated  int
	Rejected int
}

func (c *Counts) add(r sink.Result) {
	c.Tables = append(c.Tables, r)
	c.Inserted += r.Inserted
	c.Updated += r.Updated
	c.Rejected += len(r.Errors)
}

// Committer writes a unit's batch atomically: either every table is
// written or none is.
type Committer interface {
	Commit(ctx context.Context, b *Batch) (Counts, error)
	// MissingHorses returns the ids with no stored horse row.
	MissingHorses(ctx context.Context, ids []string) ([]string, error)
}

// writeBatch upserts entities in dependency order, then races, then runners.
func writeBatch(ctx context.Context, w sink.Writer, b *Batch) (Counts, error) {
	var c Counts
	e, ev := &b.Entities, &b.Events
	steps := []func() (sink.Result, error){
		func() (sink.Result, error) { return sink.Upsert(ctx, w, e.Courses, sink.Options{}) },
		func() (sink.Result, error) { return sink.Upsert(ctx, w, e.Bookmakers, sink.Options{}) },
		func() (sink.Result, error) { return sink.Upsert(ctx, w, e.Sires, sink.Options{}) },
		func() (sink.Result, error) { return sink.Upsert(ctx, w, e.Dams, sink.Options{}) },
		func() (sink.Result, error) { return sink.Upsert(ctx, w, e.Damsires, sink.Options{}) },
		func() (sink.Result, error) { return sink.Upsert(ctx, w, e.Horses, sink.Options{}) },
		func() (sink.Result, error) { return sink.Upsert(ctx, w, e.Jockeys, sink.Options{}) },
		func() (sink.Result, error) { return sink.Upsert(ctx, w, e.Trainers, sink.Options{}) },
		func() (sink.Result, error) { return sink.Upsert(ctx, w, e.Owners, sink.Options{}) },
		func() (sink.Result, error) { return sink.Upsert(ctx, w, ev.Races, sink.Options{}) },
		func() (sink.Result, error) { return sink.Upsert(ctx, w, ev.Runners, sink.Options{}) },
	}
	for _, step := range steps {
		r, err := step()
		if err != nil {
			return Counts{}, err
		}
		c.add(r)
	}
	return c, nil
}

// DBCommitter commits each batch in one Postgres transaction.
type DBCommitter struct {
	db *bun.DB
}

func NewDBCommitter(bdb *bun.DB) *DBCommitter {
	return &DBCommitter{db: bdb}
}

func (c *DBCommitter) Commit(ctx context.Context, b *Batch) (Counts, error) {
	var counts Counts
	err := c.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		counts, err = writeBatch(ctx, sink.NewBun(tx), b)
		return err
	})
	if err != nil {
		return Counts{}, err
	}
	return counts, nil
}

func (c *DBCommitter) MissingHorses(ctx context.Context, ids []string) ([]string, error) {
	return db.MissingKeys(ctx, c.db, "ra_horses", ids)
}

// MemoryCommitter writes into a sink.Memory. Dry runs use it.
type MemoryCommitter struct {
	Store *sink.Memory
}

func NewMemoryCommitter() *MemoryCommitter {
	return &MemoryCommitter{Store: sink.NewMemory()}
}

// Commit stages the batch in a scratch store first so a failed batch leaves
// Store untouched.
func (c *MemoryCommitter) Commit(ctx context.Context, b *Batch) (Counts, error) {
	if _, err := writeBatch(ctx, sink.NewMemory(), b); err != nil {
		return Counts{}, err
	}
	return writeBatch(ctx, c.Store, b)
}

func (c *MemoryCommitter) MissingHorses(_ context.Context, ids []string) ([]string, error) {
	var missing []string
	for _, id := range ids {
		if _, ok := sink.Get[models.Horse](c.Store, id); !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}
