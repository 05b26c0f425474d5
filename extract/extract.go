// Package extract turns raw Racing API results into deduplicated entity
// records and typed race/runner rows. Nothing here performs I/O.
package extract

import (
	"regexp"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/padraicbc/dhworkers/models"
	"github.com/padraicbc/dhworkers/racingapi"
)

// ParallelThreshold is the batch size above which extraction is sharded.
const ParallelThreshold = 400

// Entities holds one record per distinct business key for each kind, in
// first-observed order.
type Entities struct {
	Courses    []models.Course
	Horses     []models.Horse
	Jockeys    []models.Jockey
	Trainers   []models.Trainer
	Owners     []models.Owner
	Sires      []models.Sire
	Dams       []models.Dam
	Damsires   []models.Damsire
	Bookmakers []models.Bookmaker
}

// Counts returns the number of records per kind.
func (e *Entities) Counts() map[models.EntityKind]int {
	return map[models.EntityKind]int{
		models.KindCourse:    len(e.Courses),
		models.KindHorse:     len(e.Horses),
		models.KindJockey:    len(e.Jockeys),
		models.KindTrainer:   len(e.Trainers),
		models.KindOwner:     len(e.Owners),
		models.KindSire:      len(e.Sires),
		models.KindDam:       len(e.Dams),
		models.KindDamsire:   len(e.Damsires),
		models.KindBookmaker: len(e.Bookmakers),
	}
}

// Extractor is the entity deduplicator.
type Extractor struct {
	log       *zap.Logger
	threshold int
	workers   int
}

// New returns an Extractor that logs name conflicts to log.
func New(log *zap.Logger) *Extractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Extractor{log: log.Named("extract"), threshold: ParallelThreshold, workers: runtime.GOMAXPROCS(0)}
}

// Extract returns exactly one record per distinct key per kind. When a key
// is seen with different names the first non-empty name wins and a warning
// is logged; the batch never fails.
func (x *Extractor) Extract(results []racingapi.Result) Entities {
	if len(results) <= x.threshold || x.workers < 2 {
		s := newSet(x.log)
		for i := range results {
			s.addResult(&results[i])
		}
		return s.entities()
	}

	shards := split(results, x.workers)
	parts := make([]*set, len(shards))
	var g errgroup.Group
	for i, shard := range shards {
		g.Go(func() error {
			s := newShardSet()
			for j := range shard {
				s.addResult(&shard[j])
			}
			parts[i] = s
			return nil
		})
	}
	_ = g.Wait()

	// Merge in input order so the first-observed rule and the conflict
	// warnings match a sequential pass.
	merged := newSet(x.log)
	for _, p := range parts {
		merged.merge(p)
	}
	return merged.entities()
}

func split(results []racingapi.Result, n int) [][]racingapi.Result {
	size := (len(results) + n - 1) / n
	var out [][]racingapi.Result
	for i := 0; i < len(results); i += size {
		end := i + size
		if end > len(results) {
			end = len(results)
		}
		out = append(out, results[i:end])
	}
	return out
}

// dedup tracks the first non-empty name per key, preserving first-seen order.
type dedup struct {
	kind  models.EntityKind
	order []string
	names map[string]string
	log   *zap.Logger

	// every non-empty name seen per key, in order; kept only by shards so
	// the merge can replay them
	history map[string][]string
}

func newDedup(kind models.EntityKind, log *zap.Logger) *dedup {
	return &dedup{kind: kind, names: map[string]string{}, log: log}
}

// observe records key/name and reports whether the key is new.
func (d *dedup) observe(key, name string) bool {
	if key == "" {
		return false
	}
	if d.history != nil && name != "" {
		d.history[key] = append(d.history[key], name)
	}
	prev, ok := d.names[key]
	if !ok {
		d.order = append(d.order, key)
		d.names[key] = name
		return true
	}
	switch {
	case prev == "" && name != "":
		d.names[key] = name
	case name != "" && name != prev:
		d.log.Warn("entity name conflict",
			zap.String("kind", string(d.kind)),
			zap.String("key", key),
			zap.String("kept", prev),
			zap.String("ignored", name))
	}
	return false
}

type set struct {
	log   *zap.Logger
	kinds map[models.EntityKind]*dedup

	// first runner seen per horse, for sex and pedigree ids
	horses  map[string]racingapi.Runner
	regions map[string]string
}

func newSet(log *zap.Logger) *set {
	s := &set{
		log:     log,
		kinds:   map[models.EntityKind]*dedup{},
		horses:  map[string]racingapi.Runner{},
		regions: map[string]string{},
	}
	for _, k := range []models.EntityKind{
		models.KindCourse, models.KindHorse, models.KindJockey, models.KindTrainer, models.KindOwner,
		models.KindSire, models.KindDam, models.KindDamsire, models.KindBookmaker,
	} {
		s.kinds[k] = newDedup(k, log)
	}
	return s
}

// newShardSet returns a set for one shard of a parallel pass. It logs
// nothing: a shard cannot tell which name the whole batch keeps.
func newShardSet() *set {
	s := newSet(zap.NewNop())
	for _, d := range s.kinds {
		d.history = map[string][]string{}
	}
	return s
}

func (s *set) addResult(r *racingapi.Result) {
	if s.kinds[models.KindCourse].observe(r.CourseID.String(), r.Course.String()) {
		s.regions[r.CourseID.String()] = r.Region.String()
	}
	for i := range r.Runners {
		s.addRunner(&r.Runners[i])
	}
	// Breeding ancestors are a secondary pass so primary roles keep their
	// first-seen order independent of pedigree data.
	for i := range r.Runners {
		rn := &r.Runners[i]
		s.kinds[models.KindSire].observe(rn.SireID.String(), rn.Sire.String())
		s.kinds[models.KindDam].observe(rn.DamID.String(), rn.Dam.String())
		s.kinds[models.KindDamsire].observe(rn.DamsireID.String(), rn.Damsire.String())
	}
}

func (s *set) addRunner(rn *racingapi.Runner) {
	if s.kinds[models.KindHorse].observe(rn.HorseID.String(), rn.Horse.String()) {
		s.horses[rn.HorseID.String()] = *rn
	}
	s.kinds[models.KindJockey].observe(rn.JockeyID.String(), rn.Jockey.String())
	s.kinds[models.KindTrainer].observe(rn.TrainerID.String(), rn.Trainer.String())
	s.kinds[models.KindOwner].observe(rn.OwnerID.String(), rn.Owner.String())
	for _, o := range rn.Odds {
		name := o.Bookmaker.String()
		s.kinds[models.KindBookmaker].observe(BookmakerKey(name), name)
	}
}

func (s *set) merge(o *set) {
	for kind, od := range o.kinds {
		d := s.kinds[kind]
		for _, key := range od.order {
			isNew := d.observe(key, "")
			for _, name := range od.history[key] {
				d.observe(key, name)
			}
			if isNew {
				switch kind {
				case models.KindHorse:
					s.horses[key] = o.horses[key]
				case models.KindCourse:
					s.regions[key] = o.regions[key]
				}
			}
		}
	}
}

func (s *set) entities() Entities {
	var e Entities
	each := func(kind models.EntityKind, fn func(key string, name *string)) {
		d := s.kinds[kind]
		for _, key := range d.order {
			fn(key, optional(d.names[key]))
		}
	}

	each(models.KindCourse, func(k string, n *string) {
		e.Courses = append(e.Courses, models.Course{ID: k, Name: n, Region: optional(s.regions[k])})
	})
	each(models.KindHorse, func(k string, n *string) {
		rn := s.horses[k]
		e.Horses = append(e.Horses, models.Horse{
			ID:        k,
			Name:      n,
			Sex:       optional(rn.Sex.String()),
			SireID:    optional(rn.SireID.String()),
			DamID:     optional(rn.DamID.String()),
			DamsireID: optional(rn.DamsireID.String()),
		})
	})
	each(models.KindJockey, func(k string, n *string) { e.Jockeys = append(e.Jockeys, models.Jockey{ID: k, Name: n}) })
	each(models.KindTrainer, func(k string, n *string) { e.Trainers = append(e.Trainers, models.Trainer{ID: k, Name: n}) })
	each(models.KindOwner, func(k string, n *string) { e.Owners = append(e.Owners, models.Owner{ID: k, Name: n}) })
	each(models.KindSire, func(k string, n *string) { e.Sires = append(e.Sires, models.Sire{ID: k, Name: n}) })
	each(models.KindDam, func(k string, n *string) { e.Dams = append(e.Dams, models.Dam{ID: k, Name: n}) })
	each(models.KindDamsire, func(k string, n *string) { e.Damsires = append(e.Damsires, models.Damsire{ID: k, Name: n}) })
	each(models.KindBookmaker, func(k string, n *string) {
		e.Bookmakers = append(e.Bookmakers, models.Bookmaker{ID: k, Name: n})
	})
	return e
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// BookmakerKey derives a stable key from a bookmaker display name.
func BookmakerKey(name string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return ""
	}
	return "bkm_" + slug
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
