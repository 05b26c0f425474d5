package sink

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/padraicbc/dhworkers/models"
)

var timeType = reflect.TypeOf(time.Time{})

// Memory is an in-process Writer with the same merge and replace rules as
// Bun. Dry runs and tests write into it.
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	tables map[string]map[string]reflect.Value
	order  map[string][]string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		now:    time.Now,
		tables: map[string]map[string]reflect.Value{},
		order:  map[string][]string{},
	}
}

func (m *Memory) write(_ context.Context, t *table, rows any, n int, conflict []string, mode Mode) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := m.tables[t.name]
	if stored == nil {
		stored = map[string]reflect.Value{}
		m.tables[t.name] = stored
	}

	now := m.now()
	rv := reflect.ValueOf(rows).Elem()
	inserted := 0
	for i := 0; i < n; i++ {
		row := rv.Index(i)
		key := conflictValue(t, row, conflict)
		if cur, ok := stored[key]; ok {
			fold(t, cur, row, mode)
			setTime(t, cur, colUpdatedAt, now)
			continue
		}
		cp := reflect.New(row.Type()).Elem()
		cp.Set(row)
		setTime(t, cp, colCreatedAt, now)
		setTime(t, cp, colUpdatedAt, now)
		stored[key] = cp
		m.order[t.name] = append(m.order[t.name], key)
		inserted++
	}
	return inserted, nil
}

func conflictValue(t *table, row reflect.Value, conflict []string) string {
	parts := make([]string, len(conflict))
	for i, name := range conflict {
		c, _ := t.column(name)
		v := row.Field(c.index)
		if v.Kind() == reflect.Pointer {
			if v.IsNil() {
				parts[i] = "\x00"
				continue
			}
			v = v.Elem()
		}
		parts[i] = fmt.Sprint(v.Interface())
	}
	return strings.Join(parts, "\x1f")
}

func setTime(t *table, row reflect.Value, col string, now time.Time) {
	c, ok := t.column(col)
	if !ok {
		return
	}
	if f := row.Field(c.index); f.Type() == timeType {
		f.Set(reflect.ValueOf(now))
	}
}

// Len returns the number of rows stored for table.
func (m *Memory) Len(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tables[table])
}

// Get returns the stored row whose Key matches key.
func Get[T models.Record](m *Memory, key string) (T, bool) {
	var zero T
	t, err := tableFor(reflect.TypeOf(zero))
	if err != nil {
		return zero, false
	}
	if len(t.pks) == 1 {
		m.mu.Lock()
		defer m.mu.Unlock()
		if v, ok := m.tables[t.name][key]; ok {
			if row := v.Interface().(T); row.Key() == key {
				return row, true
			}
		}
		return zero, false
	}
	for _, row := range All[T](m) {
		if row.Key() == key {
			return row, true
		}
	}
	return zero, false
}

// All returns every stored row of T in insertion order.
func All[T models.Record](m *Memory) []T {
	var zero T
	t, err := tableFor(reflect.TypeOf(zero))
	if err != nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]T, 0, len(m.order[t.name]))
	for _, key := range m.order[t.name] {
		out = append(out, m.tables[t.name][key].Interface().(T))
	}
	return out
}
