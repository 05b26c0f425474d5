package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Course represents a racecourse ("crs_...").
type Course struct {
	bun.BaseModel `bun:"table:ra_courses,alias:c"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      *string   `bun:"name" json:"name,omitempty"`
	Region    *string   `bun:"region" json:"region,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (c Course) Key() string { return c.ID }

// Bookmaker is keyed by a slug of its display name; the API supplies no id.
type Bookmaker struct {
	bun.BaseModel `bun:"table:ra_bookmakers,alias:bk"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      *string   `bun:"name" json:"name,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (b Bookmaker) Key() string { return b.ID }
