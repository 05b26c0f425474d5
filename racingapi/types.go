package racingapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Text accepts string, number, or null JSON values and normalizes to string.
// The API is inconsistent about quoting numeric fields.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = Text(strings.TrimSpace(s))
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err == nil {
		*t = Text(n.String())
		return nil
	}

	return fmt.Errorf("expected string, number, or null")
}

// String returns the trimmed value.
func (t Text) String() string { return string(t) }

// Result is one race as returned by the results endpoint.
type Result struct {
	RaceID   Text     `json:"race_id"`
	Date     Text     `json:"date"`
	Region   Text     `json:"region"`
	Course   Text     `json:"course"`
	CourseID Text     `json:"course_id"`
	Off      Text     `json:"off"`
	RaceName Text     `json:"race_name"`
	Type     Text     `json:"type"`
	Class    Text     `json:"class"`
	DistF    Text     `json:"dist_f"`
	Going    Text     `json:"going"`
	Surface  Text     `json:"surface"`
	Runners  []Runner `json:"runners"`
}

// Runner is one runner inside a Result.
type Runner struct {
	HorseID   Text   `json:"horse_id"`
	Horse     Text   `json:"horse"`
	Sex       Text   `json:"sex"`
	Age       Text   `json:"age"`
	Number    Text   `json:"number"`
	Draw      Text   `json:"draw"`
	WeightLbs Text   `json:"weight_lbs"`
	Headgear  Text   `json:"headgear"`
	OR        Text   `json:"or"`
	Position  Text   `json:"position"`
	SP        Text   `json:"sp"`
	SPDec     Text   `json:"sp_dec"`
	Btn       Text   `json:"btn"`
	Prize     Text   `json:"prize"`
	Comment   Text   `json:"comment"`
	JockeyID  Text   `json:"jockey_id"`
	Jockey    Text   `json:"jockey"`
	TrainerID Text   `json:"trainer_id"`
	Trainer   Text   `json:"trainer"`
	OwnerID   Text   `json:"owner_id"`
	Owner     Text   `json:"owner"`
	SireID    Text   `json:"sire_id"`
	Sire      Text   `json:"sire"`
	DamID     Text   `json:"dam_id"`
	Dam       Text   `json:"dam"`
	DamsireID Text   `json:"damsire_id"`
	Damsire   Text   `json:"damsire"`
	Odds      []Odds `json:"odds"`
}

// Odds is a bookmaker price attached to a runner.
type Odds struct {
	Bookmaker  Text `json:"bookmaker"`
	Fractional Text `json:"fractional"`
	Decimal    Text `json:"decimal"`
}

// HorseDetail is the enrichment payload of the horse endpoint.
type HorseDetail struct {
	ID        Text `json:"id"`
	Name      Text `json:"name"`
	Sex       Text `json:"sex"`
	Colour    Text `json:"colour"`
	DOB       Text `json:"dob"`
	Region    Text `json:"region"`
	SireID    Text `json:"sire_id"`
	DamID     Text `json:"dam_id"`
	DamsireID Text `json:"damsire_id"`
}

type resultsPage struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Limit   int      `json:"limit"`
	Skip    int      `json:"skip"`
}
