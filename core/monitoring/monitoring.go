// Package monitoring forwards unexpected errors and panics to an error
// tracker. The default tracker drops everything.
package monitoring

import (
	"fmt"
	"sync"
	"time"
)

// Monitor receives errors worth a human look.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	CapturePanic(v any, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any, map[string]string)      {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init installs m as the process wide monitor. A nil m restores the no-op
// monitor.
func Init(m Monitor) {
	mu.Lock()
	defer mu.Unlock()
	if m == nil {
		m = NopMonitor{}
	}
	current = m
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records err with optional tags. A nil err is ignored.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// Guard runs fn and reports a panic instead of crashing the process. The
// recovered panic is returned as an error.
func Guard(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			get().CapturePanic(r, map[string]string{"module": name})
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	fn()
	return nil
}

// Flush waits up to timeout for buffered events to be sent.
func Flush(d time.Duration) { get().Flush(d) }
