package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/performance"
	"github.com/kilianp07/optiroute/core/registry"
	"github.com/kilianp07/optiroute/core/worker"
)

type acceptor struct {
	worker.Static
	accept bool
	block  bool
}

func (a acceptor) AcceptOrder(ctx context.Context, _ model.Order) (bool, error) {
	if a.block {
		<-ctx.Done()
		return false, ctx.Err()
	}
	return a.accept, nil
}

func newOrder(id string, weight float64) model.Order {
	return model.Order{
		ID:       id,
		Pickup:   &model.Location{Lat: 0, Lng: 1},
		Delivery: &model.Location{Lat: 0, Lng: 2},
		Weight:   weight,
	}
}

func setup(t *testing.T, cfg Config) (*Allocator, *registry.Registry, *performance.Tracker) {
	t.Helper()
	reg := registry.New(nil)
	perf := performance.NewTracker()
	a, err := NewAllocator(cfg, reg, perf)
	require.NoError(t, err)
	return a, reg, perf
}

func at(lat, lng float64) *model.Location { return &model.Location{Lat: lat, Lng: lng} }

func TestNewAllocatorValidation(t *testing.T) {
	if _, err := NewAllocator(Config{}, nil, performance.NewTracker()); err == nil {
		t.Fatalf("expected error for nil registry")
	}
	if _, err := NewAllocator(Config{}, registry.New(nil), nil); err == nil {
		t.Fatalf("expected error for nil performance source")
	}
	bad := Config{Weights: Weights{Distance: -1, Capacity: 1}}
	if _, err := NewAllocator(bad, registry.New(nil), performance.NewTracker()); err == nil {
		t.Fatalf("expected error for negative weight")
	}
}

func TestScorerNeutralDefaults(t *testing.T) {
	s := Scorer{Weights: DefaultWeights(), Decay: 10}
	b := s.Score(model.WorkerProfile{ID: "w"}, newOrder("o", 1), performance.DefaultScore)
	assert.Equal(t, NeutralDistance, b.Distance)
	assert.Equal(t, NeutralCapacity, b.Capacity)
	assert.Equal(t, NeutralLoad, b.Load)
	assert.InDelta(t, 60.0, b.Total, 1e-9)
}

func TestScorerComponents(t *testing.T) {
	s := Scorer{Weights: DefaultWeights(), Decay: 10}
	p := model.WorkerProfile{ID: "w", Location: at(0, 0), Capacity: 20, Load: 5}
	b := s.Score(p, newOrder("o", 1), 50)
	assert.InDelta(t, 90.0, b.Distance, 1e-9)
	assert.InDelta(t, 75.0, b.Capacity, 1e-9)
	assert.InDelta(t, 75.0, b.Load, 1e-9)
	assert.InDelta(t, 76.0, b.Total, 1e-9)

	far := model.WorkerProfile{ID: "far", Location: at(30, 30)}
	assert.Equal(t, 0.0, s.Score(far, newOrder("o", 1), 50).Distance)
}

func TestAssignPicksHighestScore(t *testing.T) {
	a, reg, _ := setup(t, Config{})
	reg.Upsert(worker.Static{WorkerID: "near", Location: at(0, 1)}, model.WorkerProfile{Capacity: 20})
	reg.Upsert(worker.Static{WorkerID: "far", Location: at(3, 3)}, model.WorkerProfile{Capacity: 20})
	res, err := a.Assign(context.Background(), newOrder("o1", 2), reg.Candidates(registry.Filter{}))
	require.NoError(t, err)
	assert.Equal(t, "near", res.Assignment.WorkerID)
	assert.Equal(t, model.ReasonInitial, res.Assignment.Reason)
	assert.Len(t, res.Scores, 2)
	assert.Greater(t, res.EstimatedMinutes, 0.0)
	assert.Greater(t, res.EstimatedCost, 0.0)

	e, _ := reg.Get("near")
	assert.Equal(t, 2.0, e.Profile().Load)
}

func TestAssignTieBreaksOnSmallestID(t *testing.T) {
	a, reg, _ := setup(t, Config{})
	for _, id := range []string{"w3", "w1", "w2"} {
		reg.Upsert(worker.Static{WorkerID: id}, model.WorkerProfile{})
	}
	for i := 0; i < 5; i++ {
		res, err := a.Assign(context.Background(), newOrder(fmt.Sprintf("o%d", i), 1), reg.Candidates(registry.Filter{}))
		require.NoError(t, err)
		assert.Equal(t, "w1", res.Assignment.WorkerID)
	}
}

func TestPerformanceInfluencesChoice(t *testing.T) {
	a, reg, perf := setup(t, Config{})
	reg.Upsert(worker.Static{WorkerID: "a"}, model.WorkerProfile{})
	reg.Upsert(worker.Static{WorkerID: "b"}, model.WorkerProfile{})
	perf.Record("a", false, 60)
	perf.Record("b", true, 10)
	res, err := a.Assign(context.Background(), newOrder("o1", 1), reg.Candidates(registry.Filter{}))
	require.NoError(t, err)
	assert.Equal(t, "b", res.Assignment.WorkerID)
}

func TestAssignSkipsBestWorkerWithoutRoom(t *testing.T) {
	a, reg, perf := setup(t, Config{})
	best, _ := reg.Upsert(worker.Static{WorkerID: "best", Location: at(0, 1)}, model.WorkerProfile{Capacity: 20})
	reg.Upsert(worker.Static{WorkerID: "weak", Location: at(3, 3)}, model.WorkerProfile{Capacity: 20})
	perf.Record("best", true, 10)
	perf.Record("weak", false, 60)
	require.True(t, best.Reserve(15))

	res, err := a.Assign(context.Background(), newOrder("o1", 6), reg.Candidates(registry.Filter{}))
	require.NoError(t, err)
	assert.Equal(t, "weak", res.Assignment.WorkerID)
	assert.NotContains(t, res.Scores, "best")
	assert.Equal(t, 15.0, best.Profile().Load)
	weak, _ := reg.Get("weak")
	assert.Equal(t, 6.0, weak.Profile().Load)
}

func TestAssignFailureModes(t *testing.T) {
	a, reg, _ := setup(t, Config{})
	_, err := a.Assign(context.Background(), newOrder("o1", 1), nil)
	require.ErrorIs(t, err, ErrNoWorkersAvailable)
	assert.True(t, IsRecoverable(err))

	reg.Upsert(worker.Static{WorkerID: "small"}, model.WorkerProfile{Capacity: 5})
	_, err = a.Assign(context.Background(), newOrder("o2", 10), reg.Candidates(registry.Filter{}))
	require.ErrorIs(t, err, ErrNoCapacity)
	assert.True(t, IsRecoverable(err))

	reg.MarkUnresponsive("small")
	_, err = a.Assign(context.Background(), newOrder("o3", 1), reg.Candidates(registry.Filter{}))
	require.ErrorIs(t, err, ErrNoWorkersAvailable)

	_, err = a.Assign(context.Background(), model.Order{ID: "bad"}, nil)
	require.ErrorIs(t, err, model.ErrInvalidOrder)
	assert.False(t, IsRecoverable(err))
}

func TestAssignTwiceRejected(t *testing.T) {
	a, reg, _ := setup(t, Config{})
	reg.Upsert(worker.Static{WorkerID: "w"}, model.WorkerProfile{})
	o := newOrder("o1", 1)
	_, err := a.Assign(context.Background(), o, reg.Candidates(registry.Filter{}))
	require.NoError(t, err)
	_, err = a.Assign(context.Background(), o, reg.Candidates(registry.Filter{}))
	require.ErrorIs(t, err, ErrAlreadyAssigned)
}

func TestConcurrentAssignSameOrder(t *testing.T) {
	a, reg, _ := setup(t, Config{})
	for i := 0; i < 5; i++ {
		reg.Upsert(worker.Static{WorkerID: fmt.Sprintf("w%d", i)}, model.WorkerProfile{Capacity: 100})
	}
	o := newOrder("o1", 1)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := a.Assign(context.Background(), o, reg.Candidates(registry.Filter{}))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrAlreadyAssigned) {
				t.Errorf("unexpected error %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, a.ActiveCount())
}

func TestConcurrentAssignNeverExceedsCapacity(t *testing.T) {
	a, reg, _ := setup(t, Config{})
	reg.Upsert(worker.Static{WorkerID: "a"}, model.WorkerProfile{Capacity: 10})
	reg.Upsert(worker.Static{WorkerID: "b"}, model.WorkerProfile{Capacity: 10})
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = a.Assign(context.Background(), newOrder(fmt.Sprintf("o%d", i), 3), reg.Candidates(registry.Filter{}))
		}()
	}
	wg.Wait()
	for _, p := range reg.List(registry.Filter{}) {
		assert.LessOrEqual(t, p.Load, p.Capacity, p.ID)
	}
	assert.Equal(t, 6, a.ActiveCount())
}

func TestDeclineAndTimeoutMoveToNextCandidate(t *testing.T) {
	a, reg, _ := setup(t, Config{AcceptTimeoutMS: 20})
	reg.Upsert(acceptor{Static: worker.Static{WorkerID: "a"}, accept: false}, model.WorkerProfile{Capacity: 10})
	reg.Upsert(acceptor{Static: worker.Static{WorkerID: "b"}, block: true}, model.WorkerProfile{Capacity: 10})
	reg.Upsert(acceptor{Static: worker.Static{WorkerID: "c"}, accept: true}, model.WorkerProfile{Capacity: 10})

	res, err := a.Assign(context.Background(), newOrder("o1", 2), reg.Candidates(registry.Filter{}))
	require.NoError(t, err)
	assert.Equal(t, "c", res.Assignment.WorkerID)
	require.Len(t, res.Skipped, 2)
	assert.ErrorIs(t, res.Skipped[0].Err, ErrWorkerDeclined)
	assert.ErrorIs(t, res.Skipped[1].Err, ErrWorkerUnresponsive)

	for _, id := range []string{"a", "b"} {
		e, _ := reg.Get(id)
		assert.Equal(t, 0.0, e.Profile().Load, "reservation on %s must be released", id)
	}
}

func TestAllCandidatesDecline(t *testing.T) {
	a, reg, _ := setup(t, Config{})
	reg.Upsert(acceptor{Static: worker.Static{WorkerID: "a"}}, model.WorkerProfile{})
	_, err := a.Assign(context.Background(), newOrder("o1", 2), reg.Candidates(registry.Filter{}))
	require.ErrorIs(t, err, ErrNoCapacity)
	require.ErrorIs(t, err, ErrWorkerDeclined)
	_, ok := a.Active("o1")
	assert.False(t, ok)
}

func TestReassignSupersedesAndComplete(t *testing.T) {
	a, reg, _ := setup(t, Config{})
	reg.Upsert(worker.Static{WorkerID: "a"}, model.WorkerProfile{Capacity: 10})
	reg.Upsert(worker.Static{WorkerID: "b"}, model.WorkerProfile{Capacity: 10})
	o := newOrder("o1", 4)
	first, err := a.Assign(context.Background(), o, reg.Candidates(registry.Filter{}))
	require.NoError(t, err)
	require.Equal(t, "a", first.Assignment.WorkerID)

	res, err := a.Reassign(context.Background(), o, reg.Candidates(registry.Filter{Exclude: "a"}), model.ReasonRedistribution)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Assignment.WorkerID)
	require.NotNil(t, res.Replaced)
	assert.True(t, res.Replaced.Superseded)
	assert.Empty(t, a.OpenAssignments("a"))
	assert.Len(t, a.OpenAssignments("b"), 1)

	ea, _ := reg.Get("a")
	assert.Equal(t, 0.0, ea.Profile().Load)

	done, err := a.Complete("o1")
	require.NoError(t, err)
	assert.False(t, done.Superseded)
	eb, _ := reg.Get("b")
	assert.Equal(t, 0.0, eb.Profile().Load)

	_, err = a.Complete("o1")
	require.ErrorIs(t, err, ErrUnknownOrder)

	h := a.History()
	require.Len(t, h, 3)
	assert.True(t, h[1].Superseded)
}

func TestAssignTo(t *testing.T) {
	a, reg, _ := setup(t, Config{})
	reg.Upsert(worker.Static{WorkerID: "a"}, model.WorkerProfile{Capacity: 10})
	reg.Upsert(worker.Static{WorkerID: "b"}, model.WorkerProfile{Capacity: 10})
	res, err := a.AssignTo(context.Background(), newOrder("o1", 1), "b", model.ReasonDispute)
	require.NoError(t, err)
	assert.Equal(t, "b", res.Assignment.WorkerID)
	assert.Equal(t, model.ReasonDispute, res.Assignment.Reason)

	_, err = a.AssignTo(context.Background(), newOrder("o2", 1), "ghost", model.ReasonManual)
	require.ErrorIs(t, err, ErrUnknownWorker)

	reg.MarkUnresponsive("a")
	_, err = a.AssignTo(context.Background(), newOrder("o3", 1), "a", model.ReasonManual)
	require.ErrorIs(t, err, ErrWorkerUnresponsive)
}

func TestAssignToFullWorkerKeepsCurrent(t *testing.T) {
	a, reg, _ := setup(t, Config{})
	reg.Upsert(worker.Static{WorkerID: "a"}, model.WorkerProfile{Capacity: 20})
	reg.Upsert(worker.Static{WorkerID: "b"}, model.WorkerProfile{Capacity: 2})
	reg.Upsert(worker.Static{WorkerID: "c"}, model.WorkerProfile{Capacity: 20})
	order := newOrder("o1", 5)
	_, err := a.AssignTo(context.Background(), order, "a", model.ReasonInitial)
	require.NoError(t, err)

	_, err = a.AssignTo(context.Background(), order, "b", model.ReasonDispute)
	require.ErrorIs(t, err, ErrNoCapacity)
	cur, ok := a.Active("o1")
	require.True(t, ok, "a failed award must not drop the order")
	assert.Equal(t, "a", cur.WorkerID)
	ea, _ := reg.Get("a")
	assert.Equal(t, 5.0, ea.Profile().Load)
	eb, _ := reg.Get("b")
	assert.Equal(t, 0.0, eb.Profile().Load)

	res, err := a.AssignTo(context.Background(), order, "c", model.ReasonDispute)
	require.NoError(t, err)
	require.NotNil(t, res.Replaced)
	assert.Equal(t, "a", res.Replaced.WorkerID)
	assert.Equal(t, 0.0, ea.Profile().Load)
	ec, _ := reg.Get("c")
	assert.Equal(t, 5.0, ec.Profile().Load)
}

func TestHistoryBounded(t *testing.T) {
	a, reg, _ := setup(t, Config{HistorySize: 3})
	reg.Upsert(worker.Static{WorkerID: "w"}, model.WorkerProfile{})
	for i := 0; i < 5; i++ {
		_, err := a.Assign(context.Background(), newOrder(fmt.Sprintf("o%d", i), 1), reg.Candidates(registry.Filter{}))
		require.NoError(t, err)
	}
	h := a.History()
	require.Len(t, h, 3)
	assert.Equal(t, "o2", h[0].OrderID)
	assert.Equal(t, "o4", h[2].OrderID)
}
