package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Sire, Dam and Damsire are the breeding ancestors referenced by runners.
// They are discovered by id+name pairs only; Region is filled by enrichment.

type Sire struct {
	bun.BaseModel `bun:"table:ra_sires,alias:s"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      *string   `bun:"name" json:"name,omitempty"`
	Region    *string   `bun:"region" json:"region,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (s Sire) Key() string { return s.ID }

type Dam struct {
	bun.BaseModel `bun:"table:ra_dams,alias:d"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      *string   `bun:"name" json:"name,omitempty"`
	Region    *string   `bun:"region" json:"region,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (d Dam) Key() string { return d.ID }

type Damsire struct {
	bun.BaseModel `bun:"table:ra_damsires,alias:ds"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      *string   `bun:"name" json:"name,omitempty"`
	Region    *string   `bun:"region" json:"region,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (d Damsire) Key() string { return d.ID }
