package sink

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/uptrace/bun"
)

const (
	colCreatedAt = "created_at"
	colUpdatedAt = "updated_at"
)

type column struct {
	name  string
	index int
	pk    bool
}

// table is the column layout of a model, read from its bun struct tags.
type table struct {
	name  string
	alias string
	cols  []column
	pks   []string
}

// mutable returns the columns an update may rewrite.
func (t *table) mutable() []column {
	var out []column
	for _, c := range t.cols {
		if c.pk || c.name == colCreatedAt || c.name == colUpdatedAt {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (t *table) column(name string) (column, bool) {
	for _, c := range t.cols {
		if c.name == name {
			return c, true
		}
	}
	return column{}, false
}

var (
	baseModelType = reflect.TypeOf(bun.BaseModel{})
	tables        sync.Map // reflect.Type -> *table
)

func tableFor(typ reflect.Type) (*table, error) {
	if v, ok := tables.Load(typ); ok {
		return v.(*table), nil
	}
	if typ.Kind() != reflect.Struct {
		return nil, fmt.Errorf("sink: %s is not a struct", typ)
	}

	t := &table{}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag, ok := f.Tag.Lookup("bun")
		if f.Type == baseModelType {
			for _, opt := range strings.Split(tag, ",") {
				k, v, _ := strings.Cut(opt, ":")
				switch k {
				case "table":
					t.name = v
				case "alias":
					t.alias = v
				}
			}
			continue
		}
		if !ok || tag == "-" || !f.IsExported() {
			continue
		}
		parts := strings.Split(tag, ",")
		c := column{name: parts[0], index: i}
		for _, opt := range parts[1:] {
			if opt == "pk" {
				c.pk = true
			}
		}
		if c.name == "" {
			return nil, fmt.Errorf("sink: %s.%s has no column name", typ.Name(), f.Name)
		}
		if c.pk {
			t.pks = append(t.pks, c.name)
		}
		t.cols = append(t.cols, c)
	}
	if t.name == "" {
		return nil, fmt.Errorf("sink: %s has no table tag", typ)
	}
	if t.alias == "" {
		t.alias = t.name
	}
	if len(t.pks) == 0 {
		return nil, fmt.Errorf("sink: %s has no primary key", t.name)
	}

	v, _ := tables.LoadOrStore(typ, t)
	return v.(*table), nil
}

// fold applies src onto dst in place the way a second upsert of src would.
// In Merge mode nil pointers in src leave dst untouched.
func fold(t *table, dst, src reflect.Value, mode Mode) {
	for _, c := range t.mutable() {
		v := src.Field(c.index)
		if mode == Merge && v.Kind() == reflect.Pointer && v.IsNil() {
			continue
		}
		dst.Field(c.index).Set(v)
	}
}
