package dispatch

import "errors"

var (
	// ErrNoWorkersAvailable means no active worker was offered for the order.
	ErrNoWorkersAvailable = errors.New("no workers available")
	// ErrNoCapacity means active workers exist but none can take the order.
	ErrNoCapacity = errors.New("no worker has capacity for the order")
	// ErrWorkerUnresponsive means the worker did not answer in time or is
	// marked unresponsive.
	ErrWorkerUnresponsive = errors.New("worker unresponsive")
	// ErrWorkerDeclined means the worker refused the order.
	ErrWorkerDeclined = errors.New("worker declined order")
	// ErrAlreadyAssigned means the order already has an active assignment or
	// another allocation for it is in flight.
	ErrAlreadyAssigned = errors.New("order already assigned")
	// ErrUnknownOrder means no active assignment exists for the order.
	ErrUnknownOrder = errors.New("unknown order")
	// ErrUnknownWorker means the worker is not registered.
	ErrUnknownWorker = errors.New("unknown worker")
)

// IsRecoverable reports whether an allocation failure may succeed later, in
// which case the order should wait in the pending queue.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrNoWorkersAvailable) ||
		errors.Is(err, ErrNoCapacity) ||
		errors.Is(err, ErrWorkerUnresponsive) ||
		errors.Is(err, ErrWorkerDeclined)
}
