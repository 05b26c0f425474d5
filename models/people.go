package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Jockey represents a jockey ("jky_...").
type Jockey struct {
	bun.BaseModel `bun:"table:ra_jockeys,alias:j"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      *string   `bun:"name" json:"name,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (j Jockey) Key() string { return j.ID }

// Trainer represents a trainer ("trn_...") and the yard location when known.
type Trainer struct {
	bun.BaseModel `bun:"table:ra_trainers,alias:t"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      *string   `bun:"name" json:"name,omitempty"`
	Location  *string   `bun:"location" json:"location,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (t Trainer) Key() string { return t.ID }

// Owner represents a registered owner ("own_...").
type Owner struct {
	bun.BaseModel `bun:"table:ra_owners,alias:o"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      *string   `bun:"name" json:"name,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (o Owner) Key() string { return o.ID }
