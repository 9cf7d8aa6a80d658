package redisstore_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asadovsky/wikiffiti/server/store"
	"github.com/asadovsky/wikiffiti/server/store/redisstore"
)

func newTestLog(t *testing.T) *redisstore.Log {
	addr := os.Getenv("WIKI_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("WIKI_TEST_REDIS_ADDR not set")
	}
	l, err := redisstore.Dial(addr, "", 0, "wikiffiti-test-"+uuid.NewString())
	require.NoError(t, err)
	return l
}

func TestAppendLoad(t *testing.T) {
	ctx := context.Background()
	l := newTestLog(t)
	defer l.Close()
	defer l.Clear(ctx, "home")

	require.NoError(t, l.Append(ctx, "home", store.Record{PatchId: 1, ClientId: "a", OpStrs: []string{"i,4,,x"}}))
	require.NoError(t, l.Append(ctx, "home", store.Record{PatchId: 2, ClientId: "b", OpStrs: []string{"d,4"}}))

	recs, err := l.Load(ctx, "home")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].ClientId)
	assert.Equal(t, []string{"d,4"}, recs[1].OpStrs)

	recs, err = l.Load(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestDialFailure(t *testing.T) {
	if os.Getenv("WIKI_TEST_REDIS_ADDR") == "" {
		t.Skip("WIKI_TEST_REDIS_ADDR not set")
	}
	_, err := redisstore.Dial("127.0.0.1:1", "", 0, "x")
	assert.Error(t, err)
}

func TestNewNilClient(t *testing.T) {
	_, err := redisstore.New(nil, "x")
	assert.Error(t, err)
}
