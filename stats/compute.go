// Package stats recomputes rolling form statistics from stored runner rows.
// Every value is derived from scratch on each run; nothing is incremental.
package stats

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/padraicbc/dhworkers/models"
)

// Windows, in days, of the rolling counters.
const (
	ShortWindow = 14
	LongWindow  = 30
)

var hundred = decimal.NewFromInt(100)

// Participation is one run by an entity: the race date and the finishing
// position as published ("1", "2", "PU", ...). Position is nil before the
// result is known.
type Participation struct {
	Date     time.Time
	Position *string
}

func (p Participation) finish() int {
	if p.Position == nil {
		return 0
	}
	switch strings.TrimSpace(*p.Position) {
	case "1":
		return 1
	case "2":
		return 2
	case "3":
		return 3
	}
	return 0
}

// Compute derives statistics for one entity as of asOf. Participations on
// or after asOf are ignored. Rates are nil when there are no runs, so "never
// ran" and "ran and never won" stay distinguishable.
func Compute(kind models.EntityKind, id string, parts []Participation, asOf time.Time) models.EntityStats {
	asOf = day(asOf)
	s := models.EntityStats{
		EntityType: string(kind),
		EntityID:   id,
		AsOf:       asOf.Format(time.DateOnly),
	}
	short := asOf.AddDate(0, 0, -ShortWindow)
	long := asOf.AddDate(0, 0, -LongWindow)

	var lastRun, lastWin time.Time
	for _, p := range parts {
		d := day(p.Date)
		if !d.Before(asOf) {
			continue
		}
		pos := p.finish()
		won := pos == 1

		s.TotalRuns++
		if won {
			s.Wins++
		}
		if pos >= 1 && pos <= 3 {
			s.Places++
		}
		if !d.Before(short) {
			s.Runs14d++
			if won {
				s.Wins14d++
			}
		}
		if !d.Before(long) {
			s.Runs30d++
			if won {
				s.Wins30d++
			}
		}
		if d.After(lastRun) {
			lastRun = d
		}
		if won && d.After(lastWin) {
			lastWin = d
		}
	}

	if s.TotalRuns > 0 {
		s.WinRate = rate(s.Wins, s.TotalRuns)
		s.PlaceRate = rate(s.Places, s.TotalRuns)
	}
	if !lastRun.IsZero() {
		s.LastRunDate, s.DaysSinceLastRun = since(lastRun, asOf)
	}
	if !lastWin.IsZero() {
		s.LastWinDate, s.DaysSinceLastWin = since(lastWin, asOf)
	}
	return s
}

// rate is n/total*100 rounded half away from zero to 2 places.
func rate(n, total int) *decimal.Decimal {
	r := decimal.NewFromInt(int64(n)).Mul(hundred).Div(decimal.NewFromInt(int64(total))).Round(2)
	return &r
}

func since(d, asOf time.Time) (*string, *int) {
	date := d.Format(time.DateOnly)
	days := int(asOf.Sub(d).Hours() / 24)
	return &date, &days
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
