// Package dispatch chooses which worker handles an order.
//
// The Allocator scores every eligible candidate, reserves load on the best
// one and asks the worker to accept. Reservations are made under the worker's
// own lock and each order is claimed while it is being placed, so concurrent
// calls never over-commit a worker or assign an order twice.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/optiroute/core/logger"
	"github.com/kilianp07/optiroute/core/metrics"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/prediction"
	"github.com/kilianp07/optiroute/core/registry"
	"github.com/kilianp07/optiroute/core/worker"
	"github.com/kilianp07/optiroute/internal/ringbuf"
)

// PerformanceSource provides the performance sub-score of a worker.
type PerformanceSource interface {
	Score(workerID string) float64
}

// Skip explains why a candidate was passed over.
type Skip struct {
	WorkerID string `json:"worker_id"`
	Err      error  `json:"-"`
	Reason   string `json:"reason"`
}

// Result describes a successful allocation.
type Result struct {
	Assignment       model.Assignment      `json:"assignment"`
	Breakdown        Breakdown             `json:"breakdown"`
	Scores           map[string]float64    `json:"scores"`
	Skipped          []Skip                `json:"skipped,omitempty"`
	Replaced         *model.Assignment     `json:"replaced,omitempty"`
	Traffic          prediction.Prediction `json:"traffic"`
	EstimatedMinutes float64               `json:"estimated_minutes"`
	EstimatedCost    float64               `json:"estimated_cost"`
}

type active struct {
	assignment model.Assignment
	order      model.Order
}

// Allocator assigns orders to registered workers.
type Allocator struct {
	cfg     Config
	scorer  Scorer
	reg     *registry.Registry
	perf    PerformanceSource
	traffic prediction.TrafficEngine
	model   *prediction.DeliveryTimeModel
	metrics metrics.Sink
	log     logger.Logger
	now     func() time.Time

	claims sync.Map

	mu       sync.RWMutex
	active   map[string]*active
	byWorker map[string]map[string]struct{}
	history  *ringbuf.Ring[model.Assignment]
}

// Option customises an Allocator.
type Option func(*Allocator)

// WithTraffic enables traffic aware estimates.
func WithTraffic(t prediction.TrafficEngine) Option { return func(a *Allocator) { a.traffic = t } }

// WithDeliveryModel enables learned delivery time estimates.
func WithDeliveryModel(m *prediction.DeliveryTimeModel) Option {
	return func(a *Allocator) { a.model = m }
}

// WithMetrics sets the metrics sink.
func WithMetrics(s metrics.Sink) Option {
	return func(a *Allocator) {
		if s != nil {
			a.metrics = s
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(a *Allocator) { a.log = logger.OrNop(l) } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(a *Allocator) { a.now = now } }

// NewAllocator creates an allocator over reg using perf for the performance
// sub-score.
func NewAllocator(cfg Config, reg *registry.Registry, perf PerformanceSource, opts ...Option) (*Allocator, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if perf == nil {
		return nil, fmt.Errorf("performance source cannot be nil")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Allocator{
		cfg:      cfg,
		scorer:   Scorer{Weights: cfg.Weights, Decay: cfg.DistanceDecay},
		reg:      reg,
		perf:     perf,
		metrics:  metrics.NopSink{},
		log:      logger.NopLogger{},
		now:      time.Now,
		active:   make(map[string]*active),
		byWorker: make(map[string]map[string]struct{}),
		history:  ringbuf.New[model.Assignment](cfg.HistorySize),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

// Rank scores the eligible candidates for order, best first. Ties go to the
// smallest worker id.
func (a *Allocator) Rank(order model.Order, candidates []*registry.Entry) (ranked []Scored, activeCount int) {
	for _, e := range candidates {
		p := e.Profile()
		if !p.Active() {
			continue
		}
		activeCount++
		if !p.Fits(order.Weight) {
			continue
		}
		ranked = append(ranked, Scored{WorkerID: e.ID(), Breakdown: a.scorer.Score(p, order, a.perf.Score(e.ID())), entry: e})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Breakdown.Total != ranked[j].Breakdown.Total {
			return ranked[i].Breakdown.Total > ranked[j].Breakdown.Total
		}
		return ranked[i].WorkerID < ranked[j].WorkerID
	})
	return ranked, activeCount
}

// Scored is a ranked candidate.
type Scored struct {
	WorkerID  string    `json:"worker_id"`
	Breakdown Breakdown `json:"breakdown"`
	entry     *registry.Entry
}

// Assign places a new order on the best candidate. It fails with
// ErrAlreadyAssigned when the order already has an active assignment.
func (a *Allocator) Assign(ctx context.Context, order model.Order, candidates []*registry.Entry) (Result, error) {
	return a.place(ctx, order, candidates, model.ReasonInitial, placeNew)
}

// Reassign supersedes the current assignment of order, if any, and places it
// on the best candidate.
func (a *Allocator) Reassign(ctx context.Context, order model.Order, candidates []*registry.Entry, reason model.AssignmentReason) (Result, error) {
	return a.place(ctx, order, candidates, reason, placeReplace)
}

// AssignTo places order on a specific worker, superseding any current
// assignment. The current assignment is only released once the worker has
// taken the order, so a failed award leaves it in place. Awarding an order to
// the worker already holding it returns the current assignment.
func (a *Allocator) AssignTo(ctx context.Context, order model.Order, workerID string, reason model.AssignmentReason) (Result, error) {
	e, ok := a.reg.Get(workerID)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownWorker, workerID)
	}
	if !e.Profile().Active() {
		return Result{}, fmt.Errorf("%w: %s", ErrWorkerUnresponsive, workerID)
	}
	if cur, ok := a.Active(order.ID); ok && cur.WorkerID == workerID {
		return Result{Assignment: cur}, nil
	}
	return a.place(ctx, order, []*registry.Entry{e}, reason, placeAward)
}

type placeMode int

const (
	// placeNew fails when the order already has an active assignment.
	placeNew placeMode = iota
	// placeReplace frees the current assignment before ranking, so its
	// worker competes with the load of this order removed.
	placeReplace
	// placeAward supersedes the current assignment only after success.
	placeAward
)

func (a *Allocator) place(ctx context.Context, order model.Order, candidates []*registry.Entry, reason model.AssignmentReason, mode placeMode) (Result, error) {
	start := time.Now()
	if err := order.Validate(); err != nil {
		return Result{}, err
	}
	if _, loaded := a.claims.LoadOrStore(order.ID, struct{}{}); loaded {
		return Result{}, fmt.Errorf("%w: %s is being allocated", ErrAlreadyAssigned, order.ID)
	}
	defer a.claims.Delete(order.ID)

	a.mu.RLock()
	cur, exists := a.active[order.ID]
	a.mu.RUnlock()
	if exists && mode == placeNew {
		return Result{}, fmt.Errorf("%w: %s held by %s", ErrAlreadyAssigned, order.ID, cur.assignment.WorkerID)
	}

	var res Result
	if exists && mode == placeReplace {
		old, _ := a.detach(order.ID, true)
		res.Replaced = &old
	}

	ranked, activeCount := a.Rank(order, candidates)
	res.Scores = make(map[string]float64, len(ranked))
	for _, s := range ranked {
		res.Scores[s.WorkerID] = s.Breakdown.Total
	}
	if activeCount == 0 {
		return res, a.reject(order, fmt.Errorf("%w for order %s", ErrNoWorkersAvailable, order.ID))
	}
	if len(ranked) == 0 {
		return res, a.reject(order, fmt.Errorf("%w: order %s weight %.2f", ErrNoCapacity, order.ID, order.Weight))
	}

	for _, s := range ranked {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !s.entry.Reserve(order.Weight) {
			res.Skipped = append(res.Skipped, skip(s.WorkerID, ErrNoCapacity))
			continue
		}
		ok, err := worker.AcceptWithTimeout(ctx, s.entry.Worker(), order, a.cfg.AcceptTimeout())
		if err != nil || !ok {
			s.entry.Release(order.Weight)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			cause := ErrWorkerDeclined
			if err != nil {
				cause = ErrWorkerUnresponsive
				a.log.Warnf("worker %s did not accept order %s: %v", s.WorkerID, order.ID, err)
			}
			res.Skipped = append(res.Skipped, skip(s.WorkerID, cause))
			continue
		}

		asn := model.Assignment{
			ID:         uuid.NewString(),
			OrderID:    order.ID,
			WorkerID:   s.WorkerID,
			Weight:     order.Weight,
			AssignedAt: a.now(),
			Score:      s.Breakdown.Total,
			Reason:     reason,
		}
		if exists && mode == placeAward {
			if old, err := a.detach(order.ID, true); err == nil {
				res.Replaced = &old
			}
		}
		a.attach(asn, order)
		res.Assignment = asn
		res.Breakdown = s.Breakdown
		a.estimate(&res, order)
		a.log.Infow("order assigned", map[string]any{
			"order_id": order.ID, "worker_id": s.WorkerID, "score": s.Breakdown.Total, "reason": string(reason),
		})
		if err := a.metrics.RecordAssignment(metrics.AssignmentEvent{
			OrderID: order.ID, WorkerID: s.WorkerID, Reason: string(reason), Score: s.Breakdown.Total,
			Candidates: len(ranked), Latency: time.Since(start), Time: asn.AssignedAt,
		}); err != nil {
			a.log.Errorf("metrics assignment: %v", err)
		}
		return res, nil
	}

	errs := []error{fmt.Errorf("%w: every candidate for order %s was skipped", ErrNoCapacity, order.ID)}
	for _, s := range res.Skipped {
		errs = append(errs, fmt.Errorf("%s: %w", s.WorkerID, s.Err))
	}
	return res, a.reject(order, errors.Join(errs...))
}

func skip(id string, err error) Skip { return Skip{WorkerID: id, Err: err, Reason: err.Error()} }

func (a *Allocator) reject(order model.Order, err error) error {
	a.log.Warnf("allocation failed: %v", err)
	if rr, ok := a.metrics.(metrics.RejectionRecorder); ok {
		reason := "no_capacity"
		if errors.Is(err, ErrNoWorkersAvailable) {
			reason = "no_workers"
		}
		if mErr := rr.RecordRejection(metrics.RejectionEvent{OrderID: order.ID, Reason: reason, Time: a.now()}); mErr != nil {
			a.log.Errorf("metrics rejection: %v", mErr)
		}
	}
	return err
}

func (a *Allocator) estimate(res *Result, order model.Order) {
	level := prediction.DefaultLevel(a.now().Hour())
	if a.traffic != nil {
		res.Traffic = a.traffic.Predict(order.RouteID(), a.now())
		level = res.Traffic.Level
	}
	d := order.Distance()
	if a.model != nil {
		res.EstimatedMinutes = a.model.Predict(d, order.Weight, level, order.UrgencyLevel())
	} else {
		res.EstimatedMinutes = prediction.FormulaMinutes(d, level)
	}
	res.EstimatedCost = prediction.EstimateCost(d, order.Weight, order.UrgencyLevel(), level)
}

func (a *Allocator) attach(asn model.Assignment, order model.Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.active[asn.OrderID] = &active{assignment: asn, order: order}
	set, ok := a.byWorker[asn.WorkerID]
	if !ok {
		set = make(map[string]struct{})
		a.byWorker[asn.WorkerID] = set
	}
	set[asn.OrderID] = struct{}{}
	a.history.Push(asn)
}

// detach removes the active assignment of orderID and returns its load to
// the worker.
func (a *Allocator) detach(orderID string, supersede bool) (model.Assignment, error) {
	a.mu.Lock()
	cur, ok := a.active[orderID]
	if !ok {
		a.mu.Unlock()
		return model.Assignment{}, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	delete(a.active, orderID)
	if set := a.byWorker[cur.assignment.WorkerID]; set != nil {
		delete(set, orderID)
		if len(set) == 0 {
			delete(a.byWorker, cur.assignment.WorkerID)
		}
	}
	asn := cur.assignment
	if supersede {
		asn.Superseded = true
		a.history.Push(asn)
	}
	a.mu.Unlock()

	if e, ok := a.reg.Get(asn.WorkerID); ok {
		e.Release(asn.Weight)
	}
	return asn, nil
}

// Release drops the active assignment of orderID without completing it. The
// returned assignment is marked superseded.
func (a *Allocator) Release(orderID string) (model.Assignment, error) {
	return a.detach(orderID, true)
}

// Complete closes the active assignment of orderID and frees the worker load.
func (a *Allocator) Complete(orderID string) (model.Assignment, error) {
	return a.detach(orderID, false)
}

// Active returns the current assignment of orderID.
func (a *Allocator) Active(orderID string) (model.Assignment, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cur, ok := a.active[orderID]
	if !ok {
		return model.Assignment{}, false
	}
	return cur.assignment, true
}

// ActiveOrder returns the order held by the current assignment of orderID.
func (a *Allocator) ActiveOrder(orderID string) (model.Order, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	cur, ok := a.active[orderID]
	if !ok {
		return model.Order{}, false
	}
	return cur.order, true
}

// OpenAssignments returns the active assignments of workerID ordered by
// assignment time, then order id.
func (a *Allocator) OpenAssignments(workerID string) []model.Assignment {
	a.mu.RLock()
	out := make([]model.Assignment, 0, len(a.byWorker[workerID]))
	for id := range a.byWorker[workerID] {
		out = append(out, a.active[id].assignment)
	}
	a.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].AssignedAt.Before(out[j].AssignedAt)
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

// ActiveCount returns the number of open assignments.
func (a *Allocator) ActiveCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.active)
}

// History returns past assignments, oldest first. Superseded assignments
// appear a second time with Superseded set.
func (a *Allocator) History() []model.Assignment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.history.Items()
}
