package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/optiroute/core/logger"
	"github.com/kilianp07/optiroute/core/model"
	coremqtt "github.com/kilianp07/optiroute/core/mqtt"
	"github.com/kilianp07/optiroute/core/worker"
	infralog "github.com/kilianp07/optiroute/infra/logger"
)

// Agent serves a local worker over MQTT: it announces the worker, answers
// its requests and sends heartbeats.
type Agent struct {
	cli     *PahoClient
	w       worker.Worker
	profile model.WorkerProfile
	timeout time.Duration
	log     logger.Logger
}

// NewAgent wraps w. timeout bounds every call into the worker.
func NewAgent(cli *PahoClient, w worker.Worker, profile model.WorkerProfile, timeout time.Duration) *Agent {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	profile.ID = w.ID()
	return &Agent{cli: cli, w: w, profile: profile, timeout: timeout, log: infralog.New("mqtt_agent")}
}

// Run announces the worker, serves requests and sends a heartbeat every
// interval until ctx is done.
func (a *Agent) Run(ctx context.Context, interval time.Duration) error {
	topics := a.cli.topics
	err := a.cli.Subscribe(topics.Request(a.w.ID()), func(_ paho.Client, msg paho.Message) {
		var req coremqtt.Request
		if err := json.Unmarshal(msg.Payload(), &req); err != nil {
			a.log.Errorf("decode request: %v", err)
			return
		}
		go a.reply(ctx, req)
	})
	if err != nil {
		return err
	}
	if err := a.announce(ctx, true); err != nil {
		return err
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.announce(ctx, false); err != nil {
				a.log.Warnf("heartbeat: %v", err)
			}
		}
	}
}

func (a *Agent) announce(ctx context.Context, withProfile bool) error {
	ann := coremqtt.Announcement{WorkerID: a.w.ID()}
	if loc, ok := worker.LocationOf(a.w); ok {
		ann.Location = &loc
	}
	if withProfile {
		p := a.profile
		ann.Profile = &p
	}
	return a.cli.Publish(ctx, a.cli.topics.Announce(a.w.ID()), "announce", ann)
}

func (a *Agent) reply(ctx context.Context, req coremqtt.Request) {
	rep := a.Handle(ctx, req)
	if err := a.cli.Publish(ctx, a.cli.topics.Reply(a.w.ID()), "reply", rep); err != nil {
		a.log.Errorf("reply %s: %v", req.CommandID, err)
	}
}

// Handle computes the reply to req.
func (a *Agent) Handle(ctx context.Context, req coremqtt.Request) coremqtt.Reply {
	rep := coremqtt.Reply{CommandID: req.CommandID, WorkerID: a.w.ID()}
	switch req.Kind {
	case coremqtt.KindOrder:
		if req.Order == nil {
			rep.Error = "order missing"
			break
		}
		ok, err := worker.AcceptWithTimeout(ctx, a.w, *req.Order, a.timeout)
		if err != nil {
			rep.Error = err.Error()
			break
		}
		rep.Accepted = ok
	case coremqtt.KindQuote:
		if req.Order == nil {
			rep.Error = "order missing"
			break
		}
		v, err := worker.QuoteWithTimeout(ctx, a.w, *req.Order, a.timeout)
		if errors.Is(err, worker.ErrNoQuote) {
			break
		}
		if err != nil {
			rep.Error = err.Error()
			break
		}
		rep.Accepted = true
		rep.Cost = &v
	case coremqtt.KindPing:
		if _, err := worker.PingWithTimeout(ctx, a.w, a.timeout); err != nil {
			rep.Error = err.Error()
			break
		}
		rep.Accepted = true
	default:
		rep.Error = "unknown request kind " + req.Kind
	}
	return rep
}
