// Package coordinator ties the dispatch core together. It owns the order
// lifecycle, keeps workers alive or redistributes their orders, and settles
// disputes between workers competing for the same order.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/optiroute/core/dispatch"
	"github.com/kilianp07/optiroute/core/events"
	"github.com/kilianp07/optiroute/core/journal"
	"github.com/kilianp07/optiroute/core/logger"
	"github.com/kilianp07/optiroute/core/metrics"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/negotiation"
	"github.com/kilianp07/optiroute/core/notify"
	"github.com/kilianp07/optiroute/core/performance"
	"github.com/kilianp07/optiroute/core/prediction"
	"github.com/kilianp07/optiroute/core/registry"
	"github.com/kilianp07/optiroute/internal/eventbus"
	"github.com/kilianp07/optiroute/internal/ringbuf"
)

var (
	// ErrUnknownWorker is returned for ids missing from the registry.
	ErrUnknownWorker = dispatch.ErrUnknownWorker
	// ErrUnknownDispute is returned by ResolveConflict for unsupported
	// dispute types.
	ErrUnknownDispute = errors.New("unknown dispute type")
	// ErrPendingFull is returned when the pending queue is at capacity.
	ErrPendingFull = errors.New("pending queue full")
)

// DisputeAssignment is the only dispute type handled by ResolveConflict.
const DisputeAssignment = "assignment_dispute"

// Deps are the collaborators of a Coordinator. Registry, Allocator,
// Negotiation and Performance are required.
type Deps struct {
	Registry      *registry.Registry
	Allocator     *dispatch.Allocator
	Negotiation   *negotiation.Engine
	Performance   *performance.Tracker
	Traffic       *prediction.Predictor
	DeliveryModel *prediction.DeliveryTimeModel
	Notifier      notify.Notifier
	Metrics       metrics.Sink
	Journal       journal.Store
	Bus           *eventbus.TypedBus[events.Event]
	Logger        logger.Logger
	Clock         func() time.Time
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	cfg     Config
	reg     *registry.Registry
	alloc   *dispatch.Allocator
	neg     *negotiation.Engine
	perf    *performance.Tracker
	traffic *prediction.Predictor
	model   *prediction.DeliveryTimeModel
	notif   notify.Notifier
	metrics metrics.Sink
	journal journal.Store
	bus     *eventbus.TypedBus[events.Event]
	log     logger.Logger
	now     func() time.Time

	mu       sync.Mutex
	orders   map[string]*model.Order
	pending  []string
	queued   map[string]struct{}
	finished *ringbuf.Ring[string]

	retryMu sync.Mutex
}

// New validates the configuration and dependencies.
func New(cfg Config, d Deps) (*Coordinator, error) {
	switch {
	case d.Registry == nil:
		return nil, fmt.Errorf("registry cannot be nil")
	case d.Allocator == nil:
		return nil, fmt.Errorf("allocator cannot be nil")
	case d.Negotiation == nil:
		return nil, fmt.Errorf("negotiation engine cannot be nil")
	case d.Performance == nil:
		return nil, fmt.Errorf("performance tracker cannot be nil")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Coordinator{
		cfg:      cfg,
		reg:      d.Registry,
		alloc:    d.Allocator,
		neg:      d.Negotiation,
		perf:     d.Performance,
		traffic:  d.Traffic,
		model:    d.DeliveryModel,
		notif:    d.Notifier,
		metrics:  d.Metrics,
		journal:  d.Journal,
		bus:      d.Bus,
		log:      logger.OrNop(d.Logger),
		now:      d.Clock,
		orders:   make(map[string]*model.Order),
		queued:   make(map[string]struct{}),
		finished: ringbuf.New[string](cfg.RetainFinished),
	}
	if c.notif == nil {
		c.notif = notify.Nop{}
	}
	if c.metrics == nil {
		c.metrics = metrics.NopSink{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// Registry exposes the worker registry.
func (c *Coordinator) Registry() *registry.Registry { return c.reg }

// Allocator exposes the task allocator.
func (c *Coordinator) Allocator() *dispatch.Allocator { return c.alloc }

// send delivers a message and logs failures without retrying.
func (c *Coordinator) send(ctx context.Context, recipient string, typ model.MessageType, payload map[string]any) {
	msg := model.NewMessage(c.cfg.ID, recipient, typ, payload, c.now())
	if err := c.notif.Notify(ctx, msg); err != nil {
		c.log.Errorf("notify %s %s: %v", recipient, typ, err)
	}
}

func (c *Coordinator) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

func (c *Coordinator) record(ctx context.Context, rec journal.Record) {
	if c.journal == nil {
		return
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = c.now()
	}
	if err := c.journal.Append(ctx, rec); err != nil {
		c.log.Errorf("journal %s: %v", rec.Kind, err)
	}
}

func (c *Coordinator) recordFleet() {
	fr, ok := c.metrics.(metrics.FleetRecorder)
	if !ok {
		return
	}
	active := len(c.reg.List(registry.Filter{Status: model.WorkerActive}))
	lost := c.reg.Len() - active
	if err := fr.RecordFleet(active, lost, len(c.Pending())); err != nil {
		c.log.Errorf("metrics fleet: %v", err)
	}
}

func (c *Coordinator) candidates(workerType, exclude string) []*registry.Entry {
	return c.reg.Candidates(registry.Filter{Type: workerType, Status: model.WorkerActive, Exclude: exclude})
}

func assignmentPayload(o model.Order, res dispatch.Result) map[string]any {
	p := map[string]any{
		"order_id":          o.ID,
		"weight":            o.Weight,
		"urgency":           o.UrgencyLevel(),
		"score":             res.Assignment.Score,
		"assignment_id":     res.Assignment.ID,
		"estimated_minutes": res.EstimatedMinutes,
		"estimated_cost":    res.EstimatedCost,
	}
	if o.Pickup != nil {
		p["pickup"] = *o.Pickup
	}
	if o.Delivery != nil {
		p["delivery"] = *o.Delivery
	}
	if o.Notes != "" {
		p["notes"] = o.Notes
	}
	return p
}
