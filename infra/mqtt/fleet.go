package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/optiroute/core/logger"
	"github.com/kilianp07/optiroute/core/model"
	coremqtt "github.com/kilianp07/optiroute/core/mqtt"
	"github.com/kilianp07/optiroute/core/worker"
	infralog "github.com/kilianp07/optiroute/infra/logger"
)

// Fleet is the coordinator side of worker announcements.
type Fleet interface {
	RegisterWorker(ctx context.Context, w worker.Worker, p model.WorkerProfile) (model.WorkerProfile, error)
	Heartbeat(ctx context.Context, id string, loc *model.Location) error
}

// FleetListener registers remote workers from their announcements and
// forwards their heartbeats.
type FleetListener struct {
	cli          *PahoClient
	fleet        Fleet
	replyTimeout time.Duration
	log          logger.Logger
}

// NewFleetListener returns a listener. replyTimeout bounds the requests sent
// to the registered remote workers.
func NewFleetListener(cli *PahoClient, fleet Fleet, replyTimeout time.Duration) *FleetListener {
	return &FleetListener{cli: cli, fleet: fleet, replyTimeout: replyTimeout, log: infralog.New("mqtt_fleet")}
}

// Start subscribes to the announcements. Handlers use ctx for the calls
// into the fleet.
func (l *FleetListener) Start(ctx context.Context) error {
	return l.cli.Subscribe(l.cli.topics.Announcements(), func(_ paho.Client, msg paho.Message) {
		if err := l.handle(ctx, msg.Topic(), msg.Payload()); err != nil {
			l.log.Warnf("announcement on %s: %v", msg.Topic(), err)
		}
	})
}

func (l *FleetListener) handle(ctx context.Context, topic string, payload []byte) error {
	var a coremqtt.Announcement
	if err := json.Unmarshal(payload, &a); err != nil {
		return err
	}
	if a.WorkerID == "" {
		a.WorkerID = coremqtt.LastSegment(strings.TrimSuffix(topic, "/announce"))
	}
	if a.WorkerID == "" {
		return errors.New("announcement without worker id")
	}
	if a.Profile != nil {
		p := *a.Profile
		p.ID = a.WorkerID
		if a.Location != nil {
			p.Location = a.Location
		}
		_, err := l.fleet.RegisterWorker(ctx, coremqtt.NewRemoteWorker(a.WorkerID, l.cli, l.replyTimeout), p)
		return err
	}
	return l.fleet.Heartbeat(ctx, a.WorkerID, a.Location)
}
