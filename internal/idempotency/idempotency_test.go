package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{}

func (failingStore) Get(context.Context, string) (Record, bool, error) {
	return Record{}, false, errors.New("down")
}
func (failingStore) Put(context.Context, string, Record) error { return errors.New("down") }

func TestReplayWithoutKeyIsNoop(t *testing.T) {
	st := NewMemoryStore()
	require.NoError(t, Save(context.Background(), st, Scope{DocumentID: 1, SignerID: 2}, "complete", 200, map[string]any{"a": 1}))
	_, found, err := Replay(context.Background(), st, Scope{DocumentID: 1, SignerID: 2}, "complete")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, st.recs)
}

func TestSaveThenReplay(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	scope := Scope{DocumentID: 1, SignerID: 2, IdempotencyKey: "k1"}
	require.NoError(t, Save(ctx, st, scope, "complete", 200, map[string]any{"status": "COMPLETED"}))

	rec, found, err := Replay(ctx, st, scope, "complete")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 200, rec.Status)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body, &body))
	assert.Equal(t, "COMPLETED", body["status"])

	_, found, err = Replay(ctx, st, Scope{DocumentID: 1, SignerID: 3, IdempotencyKey: "k1"}, "complete")
	require.NoError(t, err)
	assert.False(t, found, "key is scoped to the signer")
}

func TestReplayPropagatesStoreErrors(t *testing.T) {
	_, _, err := Replay(context.Background(), failingStore{}, Scope{IdempotencyKey: "k"}, "complete")
	assert.Error(t, err)
}
