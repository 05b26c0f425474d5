package extract

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/padraicbc/dhworkers/models"
	"github.com/padraicbc/dhworkers/racingapi"
)

// ErrContract marks event rows that reference entities missing from the unit.
var ErrContract = errors.New("referential contract violated")

// Events are the typed rows of one unit.
type Events struct {
	Races   []models.Race
	Runners []models.Runner
}

// Transform builds race and runner rows. Malformed rows are returned as
// RecordErrors and skipped; the rest of the batch is kept. Result fields the
// API has not supplied stay nil.
func Transform(results []racingapi.Result) (Events, []models.RecordError) {
	var (
		ev   Events
		errs []models.RecordError
	)
	for i := range results {
		r := &results[i]
		raceID := r.RaceID.String()
		if raceID == "" {
			errs = append(errs, models.RecordError{Table: "ra_races", Index: i, Reason: "missing race_id"})
			continue
		}
		if _, err := time.Parse(time.DateOnly, r.Date.String()); err != nil {
			errs = append(errs, models.RecordError{Table: "ra_races", Key: raceID, Index: i,
				Reason: fmt.Sprintf("unparseable date %q", r.Date.String())})
			continue
		}

		ev.Races = append(ev.Races, models.Race{
			ID:        raceID,
			CourseID:  optional(r.CourseID.String()),
			Date:      r.Date.String(),
			OffTime:   optional(r.Off.String()),
			RaceName:  optional(r.RaceName.String()),
			Type:      optional(r.Type.String()),
			Class:     optional(r.Class.String()),
			DistanceF: furlongs(r.DistF.String()),
			Going:     optional(r.Going.String()),
			Surface:   optional(r.Surface.String()),
			Region:    optional(r.Region.String()),
		})

		for j := range r.Runners {
			rn := &r.Runners[j]
			key := models.RunnerKey(raceID, rn.HorseID.String())
			if key == "" {
				errs = append(errs, models.RecordError{Table: "ra_runners", Key: raceID, Index: j, Reason: "missing horse_id"})
				continue
			}
			p := fieldParser{table: "ra_runners", key: key, index: j, errs: &errs}
			ev.Runners = append(ev.Runners, models.Runner{
				ID:        key,
				RaceID:    raceID,
				HorseID:   rn.HorseID.String(),
				JockeyID:  optional(rn.JockeyID.String()),
				TrainerID: optional(rn.TrainerID.String()),
				OwnerID:   optional(rn.OwnerID.String()),
				SireID:    optional(rn.SireID.String()),
				DamID:     optional(rn.DamID.String()),
				DamsireID: optional(rn.DamsireID.String()),
				Number:    p.int("number", rn.Number.String()),
				Draw:      p.int("draw", rn.Draw.String()),
				Age:       p.int("age", rn.Age.String()),
				WeightLbs: p.int("weight_lbs", rn.WeightLbs.String()),
				Headgear:  optional(rn.Headgear.String()),
				OR:        p.int("or", rn.OR.String()),
				Position:  optResult(rn.Position.String()),
				SP:        optResult(rn.SP.String()),
				SPDec:     p.float("sp_dec", rn.SPDec.String()),
				Btn:       p.float("btn", rn.Btn.String()),
				Prize:     p.float("prize", strings.TrimLeft(rn.Prize.String(), "£€$")),
				Comment:   optional(rn.Comment.String()),
			})
		}
	}
	return ev, errs
}

// CheckReferences verifies that every foreign key on races and runners
// names an entity extracted in the same unit.
func CheckReferences(ents *Entities, ev *Events) error {
	known := func(keys ...[]string) map[string]struct{} {
		m := map[string]struct{}{}
		for _, ks := range keys {
			for _, k := range ks {
				m[k] = struct{}{}
			}
		}
		return m
	}
	courses := known(keysOf(ents.Courses))
	horses := known(keysOf(ents.Horses))
	jockeys := known(keysOf(ents.Jockeys))
	trainers := known(keysOf(ents.Trainers))
	owners := known(keysOf(ents.Owners))
	sires := known(keysOf(ents.Sires))
	dams := known(keysOf(ents.Dams))
	damsires := known(keysOf(ents.Damsires))
	races := known(keysOf(ev.Races))

	var missing []string
	need := func(set map[string]struct{}, what string, key *string, owner string) {
		if key == nil || *key == "" {
			return
		}
		if _, ok := set[*key]; !ok {
			missing = append(missing, fmt.Sprintf("%s: %s %s", owner, what, *key))
		}
	}

	for i := range ev.Races {
		need(courses, "course", ev.Races[i].CourseID, ev.Races[i].ID)
	}
	for i := range ev.Runners {
		rn := &ev.Runners[i]
		need(races, "race", &rn.RaceID, rn.ID)
		need(horses, "horse", &rn.HorseID, rn.ID)
		need(jockeys, "jockey", rn.JockeyID, rn.ID)
		need(trainers, "trainer", rn.TrainerID, rn.ID)
		need(owners, "owner", rn.OwnerID, rn.ID)
		need(sires, "sire", rn.SireID, rn.ID)
		need(dams, "dam", rn.DamID, rn.ID)
		need(damsires, "damsire", rn.DamsireID, rn.ID)
	}

	if len(missing) == 0 {
		return nil
	}
	shown := missing
	if len(shown) > 5 {
		shown = shown[:5]
	}
	return fmt.Errorf("%w: %d dangling references (%s)", ErrContract, len(missing), strings.Join(shown, "; "))
}

func keysOf[T models.Record](rows []T) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Key()
	}
	return out
}

// optResult treats the API's placeholders for "not run yet" as absent.
func optResult(s string) *string {
	switch strings.TrimSpace(s) {
	case "", "-", "–":
		return nil
	}
	return optional(s)
}

// fieldParser parses optional numeric fields. An unparseable value is
// stored as NULL and reported, never silently dropped.
type fieldParser struct {
	table string
	key   string
	index int
	errs  *[]models.RecordError
}

func (p fieldParser) report(field, raw string) {
	*p.errs = append(*p.errs, models.RecordError{
		Table: p.table, Key: p.key, Index: p.index,
		Reason: fmt.Sprintf("%s: unparseable %q stored as NULL", field, raw),
	})
}

func (p fieldParser) int(field, s string) *int {
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		p.report(field, s)
		return nil
	}
	return &n
}

func (p fieldParser) float(field, s string) *float64 {
	f, ok := parseFloat(s)
	if !ok {
		p.report(field, s)
	}
	return f
}

// parseFloat returns (nil, true) for blanks and placeholders.
func parseFloat(s string) (*float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" || s == "-" {
		return nil, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return &f, true
}

// furlongs parses "8f" / "16.5f" distance strings.
func furlongs(s string) *float64 {
	f, _ := parseFloat(strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "f"))
	return f
}
