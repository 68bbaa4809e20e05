package coordinator

import (
	"context"
	"errors"
	"fmt"
)

// Report summarises a redistribution.
type Report struct {
	FailedWorker string            `json:"failed_worker"`
	Reassigned   map[string]string `json:"reassigned"`
	Pending      []string          `json:"pending,omitempty"`
}

// Redistribute moves every open assignment of failedID to the remaining
// active workers of the same type. Each new worker receives an
// emergency_assignment message. Orders nobody can take become pending and
// their errors are joined into the returned error. The performance record
// of the failed worker is left untouched.
func (c *Coordinator) Redistribute(ctx context.Context, failedID string) (Report, error) {
	open := c.alloc.OpenAssignments(failedID)
	if _, ok := c.reg.Get(failedID); !ok && len(open) == 0 {
		return Report{}, fmt.Errorf("%w: %s", ErrUnknownWorker, failedID)
	}
	rep := Report{FailedWorker: failedID, Reassigned: make(map[string]string, len(open))}
	var errs []error
	for _, asn := range open {
		if err := ctx.Err(); err != nil {
			return rep, errors.Join(append(errs, err)...)
		}
		order, ok := c.alloc.ActiveOrder(asn.OrderID)
		if !ok {
			continue
		}
		res, err := c.move(ctx, order, failedID, "agent_failure")
		if err != nil {
			rep.Pending = append(rep.Pending, asn.OrderID)
			errs = append(errs, err)
			continue
		}
		rep.Reassigned[asn.OrderID] = res.Assignment.WorkerID
	}
	if len(open) > 0 {
		c.log.Infow("redistribution finished", map[string]any{
			"worker_id": failedID, "reassigned": len(rep.Reassigned), "pending": len(rep.Pending),
		})
	}
	return rep, errors.Join(errs...)
}
