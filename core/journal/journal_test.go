package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/optiroute/core/model"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func sample() []Record {
	return []Record{
		{Timestamp: t0, Kind: KindWorkerRegistered, Worker: &model.WorkerProfile{ID: "w1", Type: "delivery", Capacity: 20}},
		{Timestamp: t0.Add(time.Minute), Kind: KindOrderSubmitted, Order: &model.Order{ID: "o1", Weight: 2}},
		{Timestamp: t0.Add(2 * time.Minute), Kind: KindOrderCompleted, OrderID: "o1", WorkerID: "w1", Minutes: 25},
		{Timestamp: t0.Add(3 * time.Minute), Kind: KindTrafficObserved, Route: "r1", Level: 55},
	}
}

func TestJSONLStoreAppendQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "journal.jsonl")
	s, err := NewJSONLStore(path)
	require.NoError(t, err)
	for _, r := range sample() {
		require.NoError(t, s.Append(context.Background(), r))
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, _ = f.WriteString("not json\n")
	require.NoError(t, f.Close())

	all, err := s.Query(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "w1", all[0].Worker.ID)

	byOrder, err := s.Query(context.Background(), Query{OrderID: "o1"})
	require.NoError(t, err)
	assert.Len(t, byOrder, 2)

	byKind, err := s.Query(context.Background(), Query{Kinds: []Kind{KindTrafficObserved}})
	require.NoError(t, err)
	require.Len(t, byKind, 1)
	assert.Equal(t, 55.0, byKind[0].Level)

	window, err := s.Query(context.Background(), Query{Start: t0.Add(time.Minute), End: t0.Add(2 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, window, 2)
	require.NoError(t, s.Close())
}

func TestRotatingStoreQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")
	s, err := NewRotatingStore(path, 1, 2, 0)
	require.NoError(t, err)
	for _, r := range sample() {
		require.NoError(t, s.Append(context.Background(), r))
	}
	recs, err := s.Query(context.Background(), Query{WorkerID: "w1"})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	require.NoError(t, s.Close())
}

type target struct {
	applied []Kind
	fail    Kind
}

func (t *target) Apply(_ context.Context, r Record) error {
	if r.Kind == t.fail {
		return errors.New("cannot apply")
	}
	t.applied = append(t.applied, r.Kind)
	return nil
}

func TestReplayAppliesInOrder(t *testing.T) {
	s := NewMemoryStore()
	for _, r := range sample() {
		require.NoError(t, s.Append(context.Background(), r))
	}
	tg := &target{fail: KindOrderCompleted}
	n, err := Replay(context.Background(), s, tg, Query{})
	assert.Error(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []Kind{KindWorkerRegistered, KindOrderSubmitted, KindTrafficObserved}, tg.applied)
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(Config{Type: "jsonl"})
	assert.Error(t, err)
	_, err = Open(Config{Type: "tape"})
	assert.Error(t, err)

	s, err = Open(Config{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
}
