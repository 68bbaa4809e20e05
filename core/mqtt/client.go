// Package mqtt defines the request/reply protocol spoken with remote
// workers and a worker implementation on top of it. The broker client lives
// in infra/mqtt.
package mqtt

import (
	"context"
	"strings"
	"time"

	"github.com/kilianp07/optiroute/core/model"
)

// Request kinds.
const (
	KindOrder = "order"
	KindQuote = "quote"
	KindPing  = "ping"
)

// Request is published to a worker.
type Request struct {
	CommandID string       `json:"command_id"`
	Kind      string       `json:"kind"`
	WorkerID  string       `json:"worker_id"`
	Order     *model.Order `json:"order,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// Reply is the worker answer to a Request.
type Reply struct {
	CommandID string   `json:"command_id"`
	WorkerID  string   `json:"worker_id,omitempty"`
	Accepted  bool     `json:"accepted"`
	Cost      *float64 `json:"cost,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Announcement is published by a worker when it joins, with its profile,
// and then periodically without one as a heartbeat.
type Announcement struct {
	WorkerID string               `json:"worker_id"`
	Profile  *model.WorkerProfile `json:"profile,omitempty"`
	Location *model.Location      `json:"location,omitempty"`
}

// Client sends requests to workers and waits for their replies.
type Client interface {
	// Send publishes a request and returns the command id used to match
	// the reply.
	Send(ctx context.Context, workerID, kind string, order *model.Order) (commandID string, err error)
	// WaitForReply blocks until the reply arrives, the timeout expires or
	// ctx is done.
	WaitForReply(ctx context.Context, commandID string, timeout time.Duration) (Reply, error)
}

// Topics builds the topic names under a prefix.
type Topics struct{ Prefix string }

func (t Topics) base() string {
	p := strings.TrimSuffix(t.Prefix, "/")
	if p == "" {
		p = "optiroute"
	}
	return p
}

// Request is where a worker listens for requests.
func (t Topics) Request(workerID string) string { return t.base() + "/worker/" + workerID + "/order" }

// Reply is where a worker publishes replies.
func (t Topics) Reply(workerID string) string { return t.base() + "/worker/" + workerID + "/reply" }

// Replies matches the replies of every worker.
func (t Topics) Replies() string { return t.base() + "/worker/+/reply" }

// Announce is where a worker publishes its profile and heartbeats.
func (t Topics) Announce(workerID string) string { return t.base() + "/worker/" + workerID + "/announce" }

// Announcements matches the announcements of every worker.
func (t Topics) Announcements() string { return t.base() + "/worker/+/announce" }

// Messages is where notifications for recipient are published.
func (t Topics) Messages(recipient string) string { return t.base() + "/agent/" + recipient + "/messages" }

// Traffic is where readings for route are published.
func (t Topics) Traffic(route string) string { return t.base() + "/traffic/" + route }

// TrafficAll matches the readings of every route.
func (t Topics) TrafficAll() string { return t.base() + "/traffic/+" }

// LastSegment returns the part of topic after the last slash.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
