package models

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// EntityStats is derived form data for one entity. Every field is
// recomputable from runner rows; WinRate and PlaceRate are NULL when
// TotalRuns is zero so "never ran" differs from "never won".
type EntityStats struct {
	bun.BaseModel `bun:"table:ra_entity_stats,alias:es"`

	EntityType string `bun:"entity_type,pk" json:"entityType"`
	EntityID   string `bun:"entity_id,pk" json:"entityID"`
	AsOf       string `bun:"as_of,notnull,type:date" json:"asOf"`

	TotalRuns int `bun:"total_runs,notnull" json:"totalRuns"`
	Wins      int `bun:"wins,notnull" json:"wins"`
	Places    int `bun:"places,notnull" json:"places"`
	Runs14d   int `bun:"runs_14d,notnull" json:"runs14d"`
	Wins14d   int `bun:"wins_14d,notnull" json:"wins14d"`
	Runs30d   int `bun:"runs_30d,notnull" json:"runs30d"`
	Wins30d   int `bun:"wins_30d,notnull" json:"wins30d"`

	WinRate   *decimal.Decimal `bun:"win_rate,type:numeric(6,2)" json:"winRate"`
	PlaceRate *decimal.Decimal `bun:"place_rate,type:numeric(6,2)" json:"placeRate"`

	LastRunDate      *string `bun:"last_run_date,type:date" json:"lastRunDate"`
	LastWinDate      *string `bun:"last_win_date,type:date" json:"lastWinDate"`
	DaysSinceLastRun *int    `bun:"days_since_last_run" json:"daysSinceLastRun"`
	DaysSinceLastWin *int    `bun:"days_since_last_win" json:"daysSinceLastWin"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (s EntityStats) Key() string {
	if s.EntityType == "" || s.EntityID == "" {
		return ""
	}
	return s.EntityType + ":" + s.EntityID
}
