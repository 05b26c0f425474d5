package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/padraicbc/dhworkers/models"
	"github.com/padraicbc/dhworkers/sink"
)

const writeBatch = 1000

// Statistics are a cache of runner rows, so every write is a full refresh.
var writeOpts = sink.Options{ConflictKey: "entity_type, entity_id", Mode: sink.Replace}

// Aggregator recomputes and stores entity statistics.
type Aggregator struct {
	r   Reader
	w   sink.Writer
	log *zap.Logger
}

func New(r Reader, w sink.Writer, log *zap.Logger) *Aggregator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Aggregator{r: r, w: w, log: log.Named("stats")}
}

// Recompute derives and stores the statistics of one entity from every run
// before asOf.
func (a *Aggregator) Recompute(ctx context.Context, kind models.EntityKind, id string, asOf time.Time) (models.EntityStats, error) {
	if id == "" {
		return models.EntityStats{}, fmt.Errorf("stats: empty %s id", kind)
	}
	parts, err := a.r.Participations(ctx, kind, id, asOf)
	if err != nil {
		return models.EntityStats{}, err
	}
	s := Compute(kind, id, parts[id], asOf)
	if _, err := sink.Upsert(ctx, a.w, []models.EntityStats{s}, writeOpts); err != nil {
		return s, err
	}
	return s, nil
}

// RecomputeAll refreshes every stored entity of kind, including those with
// no runs, and returns how many rows it wrote.
func (a *Aggregator) RecomputeAll(ctx context.Context, kind models.EntityKind, asOf time.Time) (int, error) {
	ids, err := a.r.EntityIDs(ctx, kind)
	if err != nil {
		return 0, err
	}
	parts, err := a.r.Participations(ctx, kind, "", asOf)
	if err != nil {
		return 0, err
	}

	written := 0
	batch := make([]models.EntityStats, 0, writeBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		res, err := sink.Upsert(ctx, a.w, batch, writeOpts)
		if err != nil {
			return err
		}
		written += res.Inserted + res.Updated
		batch = batch[:0]
		return nil
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		batch = append(batch, Compute(kind, id, parts[id], asOf))
		if len(batch) == writeBatch {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}

	a.log.Info("statistics recomputed",
		zap.String("kind", string(kind)),
		zap.String("as_of", asOf.Format(time.DateOnly)),
		zap.Int("entities", written))
	return written, nil
}
