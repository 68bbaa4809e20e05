package performance

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreDefaultWithoutHistory(t *testing.T) {
	tr := NewTracker()
	if s := tr.Score("ghost"); s != DefaultScore {
		t.Fatalf("expected default score, got %v", s)
	}
}

func TestScoreSpeedBonus(t *testing.T) {
	tr := NewTracker()
	tr.Record("fast", true, 20)
	tr.Record("fast", true, 25)
	tr.Record("slow", true, 45)
	tr.Record("slow", false, 60)

	assert.InDelta(t, 100.0, tr.Score("fast"), 1e-9)
	// 0.5*70 + 15
	assert.InDelta(t, 50.0, tr.Score("slow"), 1e-9)
}

func TestConcurrentRecord(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Record("w1", i%2 == 0, 10)
		}(i)
	}
	wg.Wait()
	rec, ok := tr.Get("w1")
	if !ok {
		t.Fatalf("record missing")
	}
	if rec.Total != 50 || rec.Successful != 25 || rec.CumulativeTime != 500 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestSnapshotSortedAndReset(t *testing.T) {
	tr := NewTracker()
	tr.Record("b", true, 10)
	tr.Record("a", false, 10)
	snap := tr.Snapshot()
	if len(snap) != 2 || snap[0].WorkerID != "a" || snap[1].WorkerID != "b" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	tr.Reset("a")
	if _, ok := tr.Get("a"); ok {
		t.Fatalf("record should be gone after reset")
	}
}
