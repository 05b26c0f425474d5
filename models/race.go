package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Race represents a single race ("rac_...").
type Race struct {
	bun.BaseModel `bun:"table:ra_races,alias:rc"`

	ID        string    `bun:"id,pk" json:"id"`
	CourseID  *string   `bun:"course_id" json:"courseID,omitempty"`
	Date      string    `bun:"date,notnull,type:date" json:"date"`
	OffTime   *string   `bun:"off_time" json:"offTime,omitempty"`
	RaceName  *string   `bun:"race_name" json:"raceName,omitempty"`
	Type      *string   `bun:"type" json:"type,omitempty"`
	Class     *string   `bun:"class" json:"class,omitempty"`
	DistanceF *float64  `bun:"distance_f" json:"distanceF,omitempty"`
	Going     *string   `bun:"going" json:"going,omitempty"`
	Surface   *string   `bun:"surface" json:"surface,omitempty"`
	Region    *string   `bun:"region" json:"region,omitempty"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (r Race) Key() string { return r.ID }
