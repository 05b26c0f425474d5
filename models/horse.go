package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Horse is a racehorse keyed by its Racing API id ("hrs_...").
type Horse struct {
	bun.BaseModel `bun:"table:ra_horses,alias:h"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      *string   `bun:"name" json:"name,omitempty"`
	Sex       *string   `bun:"sex" json:"sex,omitempty"`
	Colour    *string   `bun:"colour" json:"colour,omitempty"`
	DOB       *string   `bun:"dob,type:date" json:"dob,omitempty"`
	Region    *string   `bun:"region" json:"region,omitempty"`
	SireID    *string   `bun:"sire_id" json:"sireID,omitempty"`
	DamID     *string   `bun:"dam_id" json:"damID,omitempty"`
	DamsireID *string   `bun:"damsire_id" json:"damsireID,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (h Horse) Key() string { return h.ID }
