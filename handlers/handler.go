package handlers

import (
	"context"

	"github.com/padraicbc/dhworkers/checkpoint"
	"github.com/padraicbc/dhworkers/models"
)

// StatsReader returns stored entity statistics, or sql.ErrNoRows.
type StatsReader interface {
	EntityStats(ctx context.Context, kind models.EntityKind, id string) (*models.EntityStats, error)
}

// Pinger checks the database is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Handler holds shared dependencies used by all route handlers.
type Handler struct {
	stats  StatsReader
	store  checkpoint.Store
	errlog *checkpoint.ErrorLog
	db     Pinger
}

// New creates a Handler. errlog and db may be nil.
func New(stats StatsReader, store checkpoint.Store, errlog *checkpoint.ErrorLog, db Pinger) *Handler {
	return &Handler{stats: stats, store: store, errlog: errlog, db: db}
}
