package sink

import (
	"context"
	"slices"
	"strings"

	"github.com/uptrace/bun"
)

// Bun writes through a bun connection or transaction.
type Bun struct {
	db bun.IDB
}

// NewBun returns a Writer over idb. Pass a bun.Tx to make several Upserts
// commit together.
func NewBun(idb bun.IDB) *Bun {
	return &Bun{db: idb}
}

func (b *Bun) write(ctx context.Context, t *table, rows any, n int, conflict []string, mode Mode) (int, error) {
	q := b.db.NewInsert().
		Model(rows).
		On("CONFLICT (" + strings.Join(conflict, ", ") + ") DO UPDATE")

	for _, c := range t.mutable() {
		if slices.Contains(conflict, c.name) {
			continue
		}
		col := bun.Ident(c.name)
		if mode == Replace {
			q = q.Set("? = EXCLUDED.?", col, col)
		} else {
			q = q.Set("? = COALESCE(EXCLUDED.?, ?TableAlias.?)", col, col, col)
		}
	}
	if _, ok := t.column(colUpdatedAt); ok {
		q = q.Set("? = current_timestamp", bun.Ident(colUpdatedAt))
	}

	// xmax is zero only on rows this statement inserted.
	inserted := make([]bool, 0, n)
	if err := q.Returning("(xmax = 0) AS inserted").Scan(ctx, &inserted); err != nil {
		return 0, err
	}
	count := 0
	for _, ins := range inserted {
		if ins {
			count++
		}
	}
	return count, nil
}
