// Package negotiation runs sealed bid sessions among workers competing for a
// single order. The lowest bid wins and ties go to the smallest worker id, so
// a session always resolves the same way for the same bids.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/kilianp07/optiroute/core/logger"
	"github.com/kilianp07/optiroute/core/model"
	"github.com/kilianp07/optiroute/core/worker"
	"github.com/kilianp07/optiroute/internal/ringbuf"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// Directory resolves participant ids to worker handles.
type Directory interface {
	Lookup(id string) (worker.Worker, bool)
}

// Result is the outcome of a session.
type Result struct {
	SessionID  string             `json:"session_id"`
	Winner     string             `json:"winner,omitempty"`
	WinningBid float64            `json:"winning_bid,omitempty"`
	Bids       map[string]float64 `json:"bids"`
	NoWinner   bool               `json:"no_winner"`
	ResolvedAt time.Time          `json:"resolved_at"`
}

// Payload renders the result as a notification payload.
func (r Result) Payload(orderID string) map[string]any {
	p := map[string]any{
		"negotiation_id": r.SessionID,
		"order_id":       orderID,
		"no_winner":      r.NoWinner,
		"bids":           len(r.Bids),
	}
	if !r.NoWinner {
		p["winner"] = r.Winner
		p["winning_bid"] = r.WinningBid
	}
	return p
}

// View is a read only copy of a session.
type View struct {
	ID           string             `json:"id"`
	Participants []string           `json:"participants"`
	Order        model.Order        `json:"order"`
	Bids         map[string]float64 `json:"bids"`
	Status       Status             `json:"status"`
	Deadline     time.Time          `json:"deadline"`
	Result       *Result            `json:"result,omitempty"`
}

type session struct {
	id           string
	participants map[string]struct{}
	order        model.Order
	deadline     time.Time
	done         chan struct{}

	mu     sync.Mutex
	bids   map[string]float64
	status Status
	result Result
}

func (s *session) view() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := View{ID: s.id, Order: s.order, Bids: copyBids(s.bids), Status: s.status, Deadline: s.deadline}
	for p := range s.participants {
		v.Participants = append(v.Participants, p)
	}
	sort.Strings(v.Participants)
	if s.status == StatusResolved {
		r := s.result
		r.Bids = copyBids(r.Bids)
		v.Result = &r
	}
	return v
}

func copyBids(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Engine owns all negotiation sessions.
type Engine struct {
	cfg Config
	dir Directory
	log logger.Logger
	now func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
	resolved *ringbuf.Ring[string]
}

// Option customises an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l logger.Logger) Option { return func(e *Engine) { e.log = logger.OrNop(l) } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// NewEngine creates an engine looking up participants in dir.
func NewEngine(cfg Config, dir Directory, opts ...Option) (*Engine, error) {
	if dir == nil {
		return nil, fmt.Errorf("directory cannot be nil")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:      cfg,
		dir:      dir,
		log:      logger.NopLogger{},
		now:      time.Now,
		sessions: make(map[string]*session),
		resolved: ringbuf.New[string](cfg.RetainResolved),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Start opens a session and synchronously collects a quote from every
// participant able to give one. Quotes that fail or exceed the quote timeout
// are skipped. A bid submitted while quotes are collected takes precedence
// over the quote of the same worker.
func (e *Engine) Start(ctx context.Context, participants []string, order model.Order) (string, error) {
	set := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if p != "" {
			set[p] = struct{}{}
		}
	}
	if len(set) == 0 {
		return "", ErrNoParticipants
	}
	s := &session{
		id:           uuid.NewString(),
		participants: set,
		order:        order,
		deadline:     e.now().Add(e.cfg.Window()),
		done:         make(chan struct{}),
		bids:         make(map[string]float64),
		status:       StatusActive,
	}
	e.mu.Lock()
	e.sessions[s.id] = s
	e.mu.Unlock()

	quotes := e.collectQuotes(ctx, set, order)
	s.mu.Lock()
	for id, v := range quotes {
		if _, bid := s.bids[id]; !bid {
			s.bids[id] = v
		}
	}
	s.mu.Unlock()
	e.log.Infow("negotiation started", map[string]any{
		"negotiation_id": s.id, "order_id": order.ID, "participants": len(set), "quotes": len(quotes),
	})
	return s.id, nil
}

func (e *Engine) collectQuotes(ctx context.Context, set map[string]struct{}, order model.Order) map[string]float64 {
	var mu sync.Mutex
	out := make(map[string]float64, len(set))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(e.cfg.MaxConcurrentQuotes)
	for id := range set {
		w, ok := e.dir.Lookup(id)
		if !ok {
			e.log.Warnf("negotiation participant %s not registered", id)
			continue
		}
		if _, ok := w.(worker.CostQuoter); !ok {
			continue
		}
		p.Go(func(ctx context.Context) error {
			v, err := worker.QuoteWithTimeout(ctx, w, order, e.cfg.QuoteTimeout())
			if err != nil {
				e.log.Warnf("skipping quote: %v", err)
				return nil
			}
			mu.Lock()
			out[w.ID()] = v
			mu.Unlock()
			return nil
		})
	}
	_ = p.Wait()
	return out
}

func (e *Engine) get(id string) (*session, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// SubmitBid records value for workerID. Bids from non participants and bids
// arriving after resolution or after the deadline are discarded and reported
// with accepted=false and a nil error. A later bid from the same worker
// replaces its earlier one.
func (e *Engine) SubmitBid(sessionID, workerID string, value float64) (accepted bool, err error) {
	if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
		return false, fmt.Errorf("%w: %v", ErrInvalidBid, value)
	}
	s, err := e.get(sessionID)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[workerID]; !ok {
		e.log.Warnf("bid from non participant %s on %s discarded", workerID, sessionID)
		return false, nil
	}
	if s.status != StatusActive || e.now().After(s.deadline) {
		e.log.Debugw("late bid discarded", map[string]any{"negotiation_id": sessionID, "worker_id": workerID})
		return false, nil
	}
	s.bids[workerID] = value
	return true, nil
}

// Resolve closes the session and picks the lowest bid. A session without
// bids resolves with NoWinner set. Resolving twice returns the first result.
func (e *Engine) Resolve(sessionID string) (Result, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	if s.status == StatusResolved {
		r := s.result
		r.Bids = copyBids(r.Bids)
		s.mu.Unlock()
		return r, nil
	}
	r := Result{SessionID: s.id, Bids: copyBids(s.bids), ResolvedAt: e.now()}
	if w, v, ok := LowestBid(s.bids); ok {
		r.Winner, r.WinningBid = w, v
	} else {
		r.NoWinner = true
	}
	s.result = r
	s.status = StatusResolved
	close(s.done)
	s.mu.Unlock()

	e.retain(s.id)
	e.log.Infow("negotiation resolved", map[string]any{
		"negotiation_id": s.id, "order_id": s.order.ID, "winner": r.Winner, "winning_bid": r.WinningBid, "no_winner": r.NoWinner,
	})
	r.Bids = copyBids(r.Bids)
	return r, nil
}

func (e *Engine) retain(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, evicted := e.resolved.Push(id); evicted {
		delete(e.sessions, old)
	}
}

// Await blocks until the collection window closes or ctx is done, then
// resolves the session with the bids received so far.
func (e *Engine) Await(ctx context.Context, sessionID string) (Result, error) {
	s, err := e.get(sessionID)
	if err != nil {
		return Result{}, err
	}
	if wait := s.deadline.Sub(e.now()); wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-s.done:
		case <-ctx.Done():
			e.log.Warnf("negotiation %s abandoned: %v", sessionID, ctx.Err())
		}
	}
	return e.Resolve(sessionID)
}

// Negotiate runs a full session: quotes, collection window and resolution.
func (e *Engine) Negotiate(ctx context.Context, participants []string, order model.Order) (Result, error) {
	id, err := e.Start(ctx, participants, order)
	if err != nil {
		return Result{}, err
	}
	return e.Await(ctx, id)
}

// Sweep resolves every active session whose deadline has passed and returns
// how many were closed.
func (e *Engine) Sweep() int {
	now := e.now()
	e.mu.RLock()
	var expired []string
	for id, s := range e.sessions {
		s.mu.Lock()
		if s.status == StatusActive && now.After(s.deadline) {
			expired = append(expired, id)
		}
		s.mu.Unlock()
	}
	e.mu.RUnlock()
	n := 0
	for _, id := range expired {
		if _, err := e.Resolve(id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			e.log.Errorf("sweep %s: %v", id, err)
			continue
		}
		n++
	}
	return n
}

// Session returns a copy of the session state.
func (e *Engine) Session(id string) (View, error) {
	s, err := e.get(id)
	if err != nil {
		return View{}, err
	}
	return s.view(), nil
}

// Active returns the number of unresolved sessions.
func (e *Engine) Active() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	n := 0
	for _, s := range e.sessions {
		s.mu.Lock()
		if s.status == StatusActive {
			n++
		}
		s.mu.Unlock()
	}
	return n
}
