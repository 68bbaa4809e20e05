// Package performance keeps per-worker delivery statistics and turns them into
// the performance sub-score used during allocation.
package performance

import (
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/kilianp07/optiroute/core/model"
)

const (
	// DefaultScore is returned for workers without history.
	DefaultScore = 50.0
	// FastThreshold is the average delivery time in minutes under which a
	// worker earns the full speed bonus.
	FastThreshold = 30.0

	successWeight = 70.0
	fastBonus     = 30.0
	slowBonus     = 15.0
)

type record struct {
	mu  sync.Mutex
	rec model.PerformanceRecord
}

// Tracker is safe for concurrent use. Updates to different workers never
// contend on a shared lock.
type Tracker struct {
	records *xsync.Map[string, *record]
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{records: xsync.NewMap[string, *record]()}
}

// Record adds one completed or failed delivery taking minutes to finish.
func (t *Tracker) Record(workerID string, success bool, minutes float64) model.PerformanceRecord {
	r, _ := t.records.LoadOrStore(workerID, &record{})
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Total++
	if success {
		r.rec.Successful++
	}
	if minutes > 0 {
		r.rec.CumulativeTime += minutes
	}
	return r.rec
}

// Get returns a copy of the worker record.
func (t *Tracker) Get(workerID string) (model.PerformanceRecord, bool) {
	r, ok := t.records.Load(workerID)
	if !ok {
		return model.PerformanceRecord{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec, true
}

// Score returns successRate*70 plus a speed bonus of 30 when the average
// delivery time is below FastThreshold and 15 otherwise.
func (t *Tracker) Score(workerID string) float64 {
	rec, ok := t.Get(workerID)
	if !ok || rec.Total == 0 {
		return DefaultScore
	}
	return ScoreOf(rec)
}

// ScoreOf computes the performance score of a record.
func ScoreOf(rec model.PerformanceRecord) float64 {
	if rec.Total == 0 {
		return DefaultScore
	}
	bonus := slowBonus
	if rec.AverageTime() < FastThreshold {
		bonus = fastBonus
	}
	return rec.SuccessRate()*successWeight + bonus
}

// Entry pairs a worker id with its record.
type Entry struct {
	WorkerID string                  `json:"worker_id"`
	Record   model.PerformanceRecord `json:"record"`
	Score    float64                 `json:"score"`
}

// Snapshot lists all records sorted by worker id.
func (t *Tracker) Snapshot() []Entry {
	var out []Entry
	t.records.Range(func(id string, r *record) bool {
		r.mu.Lock()
		rec := r.rec
		r.mu.Unlock()
		out = append(out, Entry{WorkerID: id, Record: rec, Score: ScoreOf(rec)})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out
}

// Reset forgets the history of a worker.
func (t *Tracker) Reset(workerID string) {
	t.records.Delete(workerID)
}
