package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asadovsky/wikiffiti/server/store"
)

func TestRecordMarshal(t *testing.T) {
	r := store.Record{
		PatchId:  3,
		ClientId: "c1",
		OpStrs:   []string{"i,1.5,,a", "d,2"},
		Time:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	buf, err := r.Marshal()
	require.NoError(t, err)
	got, err := store.UnmarshalRecord(buf)
	require.NoError(t, err)
	assert.True(t, r.Time.Equal(got.Time))
	got.Time = r.Time
	assert.Equal(t, r, got)

	_, err = store.UnmarshalRecord([]byte("nope"))
	assert.Error(t, err)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()

	recs, err := m.Load(ctx, "home")
	require.NoError(t, err)
	assert.Empty(t, recs)

	require.NoError(t, m.Append(ctx, "home", store.Record{PatchId: 1, OpStrs: []string{"i,1,,a"}}))
	require.NoError(t, m.Append(ctx, "home", store.Record{PatchId: 2, OpStrs: []string{"d,1"}}))
	require.NoError(t, m.Append(ctx, "other", store.Record{PatchId: 1}))

	recs, err = m.Load(ctx, "home")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, 1, recs[0].PatchId)
	assert.Equal(t, 2, recs[1].PatchId)

	// Load returns a copy.
	recs[0].PatchId = 99
	recs, err = m.Load(ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, 1, recs[0].PatchId)

	require.NoError(t, m.Close())
	assert.ErrorIs(t, m.Append(ctx, "home", store.Record{}), store.ErrClosed)
	_, err = m.Load(ctx, "home")
	assert.ErrorIs(t, err, store.ErrClosed)
}
