package models

import "strconv"

// Record is implemented by every stored row. Key returns the business key
// used for deduplication and upserts; an empty key marks a malformed row.
type Record interface {
	Key() string
}

// EntityKind names a reference entity table.
type EntityKind string

const (
	KindHorse     EntityKind = "horse"
	KindJockey    EntityKind = "jockey"
	KindTrainer   EntityKind = "trainer"
	KindOwner     EntityKind = "owner"
	KindSire      EntityKind = "sire"
	KindDam       EntityKind = "dam"
	KindDamsire   EntityKind = "damsire"
	KindCourse    EntityKind = "course"
	KindBookmaker EntityKind = "bookmaker"
)

// StatsKinds lists the kinds that carry form statistics.
var StatsKinds = []EntityKind{KindHorse, KindJockey, KindTrainer, KindOwner, KindSire, KindDam, KindDamsire}

// ParseKind validates a kind name.
func ParseKind(s string) (EntityKind, bool) {
	switch k := EntityKind(s); k {
	case KindHorse, KindJockey, KindTrainer, KindOwner, KindSire, KindDam, KindDamsire, KindCourse, KindBookmaker:
		return k, true
	}
	return "", false
}

// RecordError describes a single rejected row. Rejections never abort the
// surrounding batch but must always be reported.
type RecordError struct {
	Table  string `json:"table"`
	Key    string `json:"key,omitempty"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (e RecordError) Error() string {
	if e.Key == "" {
		return e.Table + "[" + strconv.Itoa(e.Index) + "]: " + e.Reason
	}
	return e.Table + "[" + strconv.Itoa(e.Index) + "] " + e.Key + ": " + e.Reason
}
