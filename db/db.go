package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"github.com/padraicbc/dhworkers/config"
	"github.com/padraicbc/dhworkers/models"
)

// Setup opens a PostgreSQL connection using the provided config.
func Setup(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	if err := cfg.RequireDB(); err != nil {
		return nil, err
	}
	return Open(ctx, cfg.PostgresDSN(), cfg.Debug)
}

// Open connects to dsn and pings it.
func Open(ctx context.Context, dsn string, debug bool) (*bun.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return db, nil
}

// Models lists every table in dependency order: referenced tables first.
func Models() []interface{} {
	return []interface{}{
		(*models.Course)(nil),
		(*models.Bookmaker)(nil),
		(*models.Sire)(nil),
		(*models.Dam)(nil),
		(*models.Damsire)(nil),
		(*models.Horse)(nil),
		(*models.Jockey)(nil),
		(*models.Trainer)(nil),
		(*models.Owner)(nil),
		(*models.Race)(nil),
		(*models.Runner)(nil),
		(*models.EntityStats)(nil),
	}
}

// CreateTables creates all tables in dependency order, then adds the foreign
// keys and indexes. It is safe to run repeatedly.
func CreateTables(ctx context.Context, db bun.IDB) error {
	for _, model := range Models() {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("creating table for %T: %w", model, err)
		}
	}

	constraints := []string{
		foreignKey("ra_races", "course_id", "ra_courses"),
		foreignKey("ra_runners", "race_id", "ra_races"),
		foreignKey("ra_runners", "horse_id", "ra_horses"),
		foreignKey("ra_runners", "jockey_id", "ra_jockeys"),
		foreignKey("ra_runners", "trainer_id", "ra_trainers"),
		foreignKey("ra_runners", "owner_id", "ra_owners"),
		foreignKey("ra_runners", "sire_id", "ra_sires"),
		foreignKey("ra_runners", "dam_id", "ra_dams"),
		foreignKey("ra_runners", "damsire_id", "ra_damsires"),
		`CREATE INDEX IF NOT EXISTS ra_races_date_idx ON ra_races (date)`,
		`CREATE INDEX IF NOT EXISTS ra_runners_race_id_idx ON ra_runners (race_id)`,
		`CREATE INDEX IF NOT EXISTS ra_runners_horse_id_idx ON ra_runners (horse_id)`,
		`CREATE INDEX IF NOT EXISTS ra_runners_jockey_id_idx ON ra_runners (jockey_id)`,
		`CREATE INDEX IF NOT EXISTS ra_runners_trainer_id_idx ON ra_runners (trainer_id)`,
		`CREATE INDEX IF NOT EXISTS ra_runners_owner_id_idx ON ra_runners (owner_id)`,
		`CREATE INDEX IF NOT EXISTS ra_runners_sire_id_idx ON ra_runners (sire_id)`,
		`CREATE INDEX IF NOT EXISTS ra_runners_dam_id_idx ON ra_runners (dam_id)`,
		`CREATE INDEX IF NOT EXISTS ra_runners_damsire_id_idx ON ra_runners (damsire_id)`,
	}
	for _, stmt := range constraints {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema: %w", err)
		}
	}
	return nil
}

func foreignKey(table, column, ref string) string {
	name := table + "_" + column + "_fkey"
	return fmt.Sprintf(`DO $$ BEGIN IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = '%s') THEN ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (id); END IF; END $$`,
		name, table, name, column, ref)
}

// MissingKeys returns the subset of keys with no row in table. Order follows keys.
func MissingKeys(ctx context.Context, db bun.IDB, table string, keys []string) ([]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var found []string
	if err := db.NewSelect().
		Table(table).
		Column("id").
		Where("id IN (?)", bun.In(keys)).
		Scan(ctx, &found); err != nil {
		return nil, fmt.Errorf("lookup %s keys: %w", table, err)
	}

	have := make(map[string]struct{}, len(found))
	for _, k := range found {
		have[k] = struct{}{}
	}
	var missing []string
	for _, k := range keys {
		if _, ok := have[k]; !ok {
			missing = append(missing, k)
		}
	}
	return missing, nil
}
