package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/padraicbc/dhworkers/models"
	"github.com/padraicbc/dhworkers/sink"
)

// Reader loads the runner history statistics are computed from.
type Reader interface {
	// Participations returns runs of one entity, or of every entity of the
	// kind when id is empty, keyed by entity id, with race date before asOf.
	Participations(ctx context.Context, kind models.EntityKind, id string, asOf time.Time) (map[string][]Participation, error)
	// EntityIDs lists every stored entity of kind.
	EntityIDs(ctx context.Context, kind models.EntityKind) ([]string, error)
}

// runnerColumn is the ra_runners foreign key naming an entity of kind.
func runnerColumn(kind models.EntityKind) (string, error) {
	switch kind {
	case models.KindHorse, models.KindJockey, models.KindTrainer, models.KindOwner,
		models.KindSire, models.KindDam, models.KindDamsire:
		return string(kind) + "_id", nil
	}
	return "", fmt.Errorf("stats: unsupported kind %q", kind)
}

func entityTable(kind models.EntityKind) string {
	return "ra_" + string(kind) + "s"
}

// BunReader reads from Postgres.
type BunReader struct {
	db bun.IDB
}

func NewBunReader(idb bun.IDB) *BunReader {
	return &BunReader{db: idb}
}

type participationRow struct {
	EntityID string    `bun:"entity_id"`
	Date     time.Time `bun:"date"`
	Position *string   `bun:"position"`
}

func (r *BunReader) Participations(ctx context.Context, kind models.EntityKind, id string, asOf time.Time) (map[string][]Participation, error) {
	col, err := runnerColumn(kind)
	if err != nil {
		return nil, err
	}
	q := r.db.NewSelect().
		TableExpr("ra_runners AS rn").
		Join("JOIN ra_races AS rc ON rc.id = rn.race_id").
		ColumnExpr("rn.? AS entity_id", bun.Ident(col)).
		ColumnExpr("rc.date").
		ColumnExpr("rn.position").
		Where("rc.date < ?", asOf.Format(time.DateOnly))
	if id != "" {
		q = q.Where("rn.? = ?", bun.Ident(col), id)
	} else {
		q = q.Where("rn.? IS NOT NULL", bun.Ident(col))
	}

	var rows []participationRow
	if err := q.Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("load %s participations: %w", kind, err)
	}
	out := map[string][]Participation{}
	for _, row := range rows {
		out[row.EntityID] = append(out[row.EntityID], Participation{Date: row.Date, Position: row.Position})
	}
	return out, nil
}

func (r *BunReader) EntityIDs(ctx context.Context, kind models.EntityKind) ([]string, error) {
	if _, err := runnerColumn(kind); err != nil {
		return nil, err
	}
	var ids []string
	if err := r.db.NewSelect().Table(entityTable(kind)).Column("id").Order("id").Scan(ctx, &ids); err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	return ids, nil
}

// Load returns the stored statistics of one entity, or sql.ErrNoRows.
func Load(ctx context.Context, idb bun.IDB, kind models.EntityKind, id string) (*models.EntityStats, error) {
	s := new(models.EntityStats)
	err := idb.NewSelect().Model(s).
		Where("entity_type = ?", string(kind)).
		Where("entity_id = ?", id).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *BunReader) EntityStats(ctx context.Context, kind models.EntityKind, id string) (*models.EntityStats, error) {
	return Load(ctx, r.db, kind, id)
}

// MemoryReader reads from a sink.Memory, as filled by a dry run.
type MemoryReader struct {
	m *sink.Memory
}

func NewMemoryReader(m *sink.Memory) *MemoryReader {
	return &MemoryReader{m: m}
}

func (r *MemoryReader) Participations(_ context.Context, kind models.EntityKind, id string, asOf time.Time) (map[string][]Participation, error) {
	if _, err := runnerColumn(kind); err != nil {
		return nil, err
	}
	dates := map[string]time.Time{}
	for _, rc := range sink.All[models.Race](r.m) {
		d, err := time.Parse(time.DateOnly, rc.Date)
		if err != nil {
			return nil, fmt.Errorf("race %s: %w", rc.ID, err)
		}
		dates[rc.ID] = d
	}

	out := map[string][]Participation{}
	for _, rn := range sink.All[models.Runner](r.m) {
		d, ok := dates[rn.RaceID]
		if !ok || !d.Before(day(asOf)) {
			continue
		}
		eid := runnerEntity(&rn, kind)
		if eid == "" || (id != "" && eid != id) {
			continue
		}
		out[eid] = append(out[eid], Participation{Date: d, Position: rn.Position})
	}
	return out, nil
}

func (r *MemoryReader) EntityIDs(_ context.Context, kind models.EntityKind) ([]string, error) {
	switch kind {
	case models.KindHorse:
		return keys(sink.All[models.Horse](r.m)), nil
	case models.KindJockey:
		return keys(sink.All[models.Jockey](r.m)), nil
	case models.KindTrainer:
		return keys(sink.All[models.Trainer](r.m)), nil
	case models.KindOwner:
		return keys(sink.All[models.Owner](r.m)), nil
	case models.KindSire:
		return keys(sink.All[models.Sire](r.m)), nil
	case models.KindDam:
		return keys(sink.All[models.Dam](r.m)), nil
	case models.KindDamsire:
		return keys(sink.All[models.Damsire](r.m)), nil
	}
	return nil, fmt.Errorf("stats: unsupported kind %q", kind)
}

func (r *MemoryReader) EntityStats(_ context.Context, kind models.EntityKind, id string) (*models.EntityStats, error) {
	s, ok := sink.Get[models.EntityStats](r.m, models.EntityStats{EntityType: string(kind), EntityID: id}.Key())
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func keys[T models.Record](rows []T) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Key()
	}
	return out
}

func runnerEntity(rn *models.Runner, kind models.EntityKind) string {
	deref := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	switch kind {
	case models.KindHorse:
		return rn.HorseID
	case models.KindJockey:
		return deref(rn.JockeyID)
	case models.KindTrainer:
		return deref(rn.TrainerID)
	case models.KindOwner:
		return deref(rn.OwnerID)
	case models.KindSire:
		return deref(rn.SireID)
	case models.KindDam:
		return deref(rn.DamID)
	case models.KindDamsire:
		return deref(rn.DamsireID)
	}
	return ""
}
