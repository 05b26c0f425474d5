//go:build integration

package sink_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/padraicbc/dhworkers/db/dbtest"
	"github.com/padraicbc/dhworkers/models"
	"github.com/padraicbc/dhworkers/sink"
)

func ptr[T any](v T) *T { return &v }

func TestBun_MergeKeepsEnrichedFields(t *testing.T) {
	ctx := context.Background()
	bdb := dbtest.DB(t)
	dbtest.Truncate(t, bdb)
	w := sink.NewBun(bdb)

	res, err := sink.Upsert(ctx, w, []models.Horse{{ID: "hrs_1", Region: ptr("GB")}}, sink.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)

	res, err = sink.Upsert(ctx, w, []models.Horse{{ID: "hrs_1", Colour: ptr("bay")}}, sink.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 1, res.Updated)

	var h models.Horse
	require.NoError(t, bdb.NewSelect().Model(&h).Where("id = ?", "hrs_1").Scan(ctx))
	assert.Equal(t, "GB", *h.Region)
	assert.Equal(t, "bay", *h.Colour)
	assert.False(t, h.UpdatedAt.Before(h.CreatedAt))
}

func TestBun_ReplaceAndIdempotence(t *testing.T) {
	ctx := context.Background()
	bdb := dbtest.DB(t)
	dbtest.Truncate(t, bdb)
	w := sink.NewBun(bdb)

	row := models.Jockey{ID: "jky_1", Name: ptr("J Smith")}
	for i := 0; i < 2; i++ {
		_, err := sink.Upsert(ctx, w, []models.Jockey{row}, sink.Options{})
		require.NoError(t, err)
	}
	n, err := bdb.NewSelect().Model((*models.Jockey)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = sink.Upsert(ctx, w, []models.Jockey{{ID: "jky_1"}}, sink.Options{Mode: sink.Replace})
	require.NoError(t, err)
	var j models.Jockey
	require.NoError(t, bdb.NewSelect().Model(&j).Where("id = ?", "jky_1").Scan(ctx))
	assert.Nil(t, j.Name)
}

func TestBun_TransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	bdb := dbtest.DB(t)
	dbtest.Truncate(t, bdb)

	err := bdb.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := sink.Upsert(ctx, sink.NewBun(tx), []models.Course{{ID: "crs_1"}}, sink.Options{}); err != nil {
			return err
		}
		// runner references a race that does not exist
		_, err := sink.Upsert(ctx, sink.NewBun(tx), []models.Runner{{ID: "rac_9_hrs_9", RaceID: "rac_9", HorseID: "hrs_9"}}, sink.Options{})
		return err
	})
	require.Error(t, err)
	assert.False(t, sink.IsRetryable(err))

	n, err := bdb.NewSelect().Model((*models.Course)(nil)).Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
