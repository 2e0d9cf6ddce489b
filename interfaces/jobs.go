package interfaces

import (
	"context"

	"github.com/elektrine/domainstack/internal/enum"
)

// DomainJob is the unit of async provisioning work. DomainID doubles as the
// dedup key: at most one job per domain may be in flight at a time.
type DomainJob struct {
	DomainID string         `json:"domainId"`
	Action   enum.JobAction `json:"action"`
}

// JobHandler executes a domain job. Delivery is at-least-once.
type JobHandler func(ctx context.Context, job DomainJob) error

// JobsService is the async-job collaborator: submit work with a dedup key,
// get an at-least-once callback on a worker.
type JobsService interface {
	// Enqueue submits a job; returns ErrProvisioningInFlight when a job for
	// the same domain is already pending or running.
	Enqueue(ctx context.Context, job DomainJob) error

	// SetHandler registers the consumer callback. Must be called before Start.
	SetHandler(handler JobHandler)

	Start(ctx context.Context) error
	Stop()
}
