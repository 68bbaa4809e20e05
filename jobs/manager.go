package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/kilianp07/optiroute/core/dispatch"
	"github.com/kilianp07/optiroute/core/logger"
	"github.com/kilianp07/optiroute/core/monitoring"
)

// Coordinator is the part of the coordinator driven by the scheduler.
type Coordinator interface {
	CheckLiveness(ctx context.Context) ([]string, error)
	RetryPending(ctx context.Context) (int, error)
}

// Sweeper closes expired negotiation sessions.
type Sweeper interface {
	Sweep() int
}

// Manager owns the cron scheduler and its jobs.
type Manager struct {
	cfg   Config
	coord Coordinator
	neg   Sweeper
	log   logger.Logger
	cron  *cron.Cron

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates the scheduler. neg may be nil.
func NewManager(cfg Config, coord Coordinator, neg Sweeper, log logger.Logger) (*Manager, error) {
	if coord == nil {
		return nil, fmt.Errorf("coordinator cannot be nil")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log = logger.OrNop(log)
	cl := cronLogger{log}
	return &Manager{
		cfg:   cfg,
		coord: coord,
		neg:   neg,
		log:   log,
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}, nil
}

// Start registers the jobs and starts the scheduler. Runs are cancelled
// when ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.Disabled {
		m.log.Infof("maintenance jobs disabled")
		return nil
	}
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"liveness", m.cfg.Liveness, m.Liveness},
		{"pending", m.cfg.Pending, m.Pending},
		{"negotiation", m.cfg.Negotiation, m.Negotiation},
	}
	for _, j := range jobs {
		if j.spec == "-" || (j.name == "negotiation" && m.neg == nil) {
			continue
		}
		if _, err := m.cron.AddFunc(j.spec, func() { m.run(j.name, j.run) }); err != nil {
			m.Stop()
			return fmt.Errorf("schedule %s job: %w", j.name, err)
		}
	}
	m.cron.Start()
	m.log.Infof("maintenance jobs started (%d scheduled)", len(m.cron.Entries()))
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.mu.Unlock()
	<-m.cron.Stop().Done()
	m.log.Infof("maintenance jobs stopped")
}

// Entries returns the number of scheduled jobs.
func (m *Manager) Entries() int { return len(m.cron.Entries()) }

func (m *Manager) run(name string, fn func(context.Context) error) {
	m.mu.Lock()
	parent := m.ctx
	m.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(parent, m.cfg.Timeout())
	defer cancel()
	var err error
	if perr := monitoring.Guard("jobs."+name, func() { err = fn(ctx) }); perr != nil {
		err = perr
	}
	if err != nil && ctx.Err() == nil {
		m.log.Errorf("%s job: %v", name, err)
		monitoring.CaptureException(err, map[string]string{"module": "jobs", "job": name})
	}
}

// Liveness runs one liveness sweep. Orders that could not be moved and went
// to the pending queue are not reported as failures.
func (m *Manager) Liveness(ctx context.Context) error {
	lost, err := m.coord.CheckLiveness(ctx)
	if len(lost) > 0 {
		m.log.Warnf("%d workers lost: %v", len(lost), lost)
	}
	if err != nil && !dispatch.IsRecoverable(err) {
		return err
	}
	return nil
}

// Pending retries the queued orders once.
func (m *Manager) Pending(ctx context.Context) error {
	n, err := m.coord.RetryPending(ctx)
	if n > 0 {
		m.log.Debugf("pending job placed %d orders", n)
	}
	return err
}

// Negotiation resolves the expired sessions.
func (m *Manager) Negotiation(context.Context) error {
	if m.neg == nil {
		return errors.New("no negotiation engine")
	}
	if n := m.neg.Sweep(); n > 0 {
		m.log.Debugf("negotiation job resolved %d sessions", n)
	}
	return nil
}

// cronLogger routes scheduler logs to the application logger.
type cronLogger struct{ log logger.Logger }

func (c cronLogger) Info(msg string, kv ...any) { c.log.Debugw("cron: "+msg, fields(kv)) }

func (c cronLogger) Error(err error, msg string, kv ...any) {
	f := fields(kv)
	f["error"] = err.Error()
	c.log.Errorf("cron: %s %v", msg, f)
}

func fields(kv []any) map[string]any {
	f := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		f[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return f
}
