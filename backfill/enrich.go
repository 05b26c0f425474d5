package backfill

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/padraicbc/dhworkers/extract"
	"github.com/padraicbc/dhworkers/models"
	"github.com/padraicbc/dhworkers/racingapi"
)

// enrich fills descriptive attributes of horses not yet stored. Attributes
// already present on the extracted record are kept. A failed lookup leaves
// the horse as extracted; only cancellation aborts the unit.
func (d *Driver) enrich(ctx context.Context, ents *extract.Entities, c Committer) (int, error) {
	ids := make([]string, len(ents.Horses))
	for i, h := range ents.Horses {
		ids[i] = h.ID
	}
	missing, err := c.MissingHorses(ctx, ids)
	if err != nil {
		return 0, err
	}
	want := make(map[string]struct{}, len(missing))
	for _, id := range missing {
		want[id] = struct{}{}
	}

	known := pedigreeKeys(ents)
	enriched := 0
	for i := range ents.Horses {
		h := &ents.Horses[i]
		if _, ok := want[h.ID]; !ok {
			continue
		}
		hd, err := d.api.Horse(ctx, h.ID)
		if err != nil {
			if ctx.Err() != nil {
				return enriched, ctx.Err()
			}
			d.log.Warn("horse enrichment failed", zap.String("horse", h.ID), zap.Error(err))
			continue
		}
		applyHorse(h, hd)
		for _, ref := range []struct {
			kind models.EntityKind
			id   *string
		}{
			{models.KindSire, h.SireID},
			{models.KindDam, h.DamID},
			{models.KindDamsire, h.DamsireID},
		} {
			known.ensure(ents, ref.kind, ref.id)
		}
		enriched++
	}
	return enriched, nil
}

func applyHorse(h *models.Horse, hd *racingapi.HorseDetail) {
	fill := func(dst **string, v racingapi.Text) {
		if *dst == nil && strings.TrimSpace(v.String()) != "" {
			s := v.String()
			*dst = &s
		}
	}
	fill(&h.Name, hd.Name)
	fill(&h.Sex, hd.Sex)
	fill(&h.Colour, hd.Colour)
	fill(&h.Region, hd.Region)
	fill(&h.SireID, hd.SireID)
	fill(&h.DamID, hd.DamID)
	fill(&h.DamsireID, hd.DamsireID)
	if h.DOB == nil {
		if _, err := time.Parse(time.DateOnly, hd.DOB.String()); err == nil {
			fill(&h.DOB, hd.DOB)
		}
	}
}

type keySets map[models.EntityKind]map[string]struct{}

func pedigreeKeys(ents *extract.Entities) keySets {
	ks := keySets{
		models.KindSire:    {},
		models.KindDam:     {},
		models.KindDamsire: {},
	}
	for _, s := range ents.Sires {
		ks[models.KindSire][s.ID] = struct{}{}
	}
	for _, d := range ents.Dams {
		ks[models.KindDam][d.ID] = struct{}{}
	}
	for _, d := range ents.Damsires {
		ks[models.KindDamsire][d.ID] = struct{}{}
	}
	return ks
}

// ensure adds a nameless pedigree record so the horse's new foreign key
// has a row to reference.
func (ks keySets) ensure(ents *extract.Entities, kind models.EntityKind, id *string) {
	if id == nil || *id == "" {
		return
	}
	if _, ok := ks[kind][*id]; ok {
		return
	}
	ks[kind][*id] = struct{}{}
	switch kind {
	case models.KindSire:
		ents.Sires = append(ents.Sires, models.Sire{ID: *id})
	case models.KindDam:
		ents.Dams = append(ents.Dams, models.Dam{ID: *id})
	case models.KindDamsire:
		ents.Damsires = append(ents.Damsires, models.Damsire{ID: *id})
	}
}
