package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Runner is one horse in one race. Result fields stay NULL until the race
// has been run; they are never written as zero or empty string.
type Runner struct {
	bun.BaseModel `bun:"table:ra_runners,alias:rn"`

	ID        string  `bun:"id,pk" json:"id"`
	RaceID    string  `bun:"race_id,notnull" json:"raceID"`
	HorseID   string  `bun:"horse_id,notnull" json:"horseID"`
	JockeyID  *string `bun:"jockey_id" json:"jockeyID,omitempty"`
	TrainerID *string `bun:"trainer_id" json:"trainerID,omitempty"`
	OwnerID   *string `bun:"owner_id" json:"ownerID,omitempty"`
	SireID    *string `bun:"sire_id" json:"sireID,omitempty"`
	DamID     *string `bun:"dam_id" json:"damID,omitempty"`
	DamsireID *string `bun:"damsire_id" json:"damsireID,omitempty"`

	Number    *int     `bun:"number" json:"number,omitempty"`
	Draw      *int     `bun:"draw" json:"draw,omitempty"`
	Age       *int     `bun:"age" json:"age,omitempty"`
	WeightLbs *int     `bun:"weight_lbs" json:"weightLbs,omitempty"`
	Headgear  *string  `bun:"headgear" json:"headgear,omitempty"`
	OR        *int     `bun:"official_rating" json:"officialRating,omitempty"`
	Position  *string  `bun:"position" json:"position,omitempty"`
	SP        *string  `bun:"starting_price" json:"startingPrice,omitempty"`
	SPDec     *float64 `bun:"starting_price_decimal" json:"startingPriceDecimal,omitempty"`
	Btn       *float64 `bun:"distance_beaten" json:"distanceBeaten,omitempty"`
	Prize     *float64 `bun:"prize_won" json:"prizeWon,omitempty"`
	Comment   *string  `bun:"comment" json:"comment,omitempty"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"createdAt"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updatedAt"`
}

func (r Runner) Key() string { return r.ID }

// RunnerKey synthesizes the runner business key from its race and horse keys.
func RunnerKey(raceID, horseID string) string {
	if raceID == "" || horseID == "" {
		return ""
	}
	return raceID + "_" + horseID
}
