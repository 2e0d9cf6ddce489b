package jobs

import (
	"context"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/elektrine/domainstack/interfaces"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/tracing"
)

// inlineJobsService runs jobs in-process. Used when no RabbitMQ URL is
// configured: single-node deployments and tests. The dedup guarantee is the
// same as the broker-backed service, just scoped to what the locker covers.
type inlineJobsService struct {
	locker  *dedupLocker
	log     logger.Logger
	handler interfaces.JobHandler

	wg      sync.WaitGroup
	stopped chan struct{}
}

func newInlineJobsService(locker *dedupLocker, log logger.Logger) *inlineJobsService {
	return &inlineJobsService{
		locker:  locker,
		log:     log,
		stopped: make(chan struct{}),
	}
}

func (s *inlineJobsService) SetHandler(handler interfaces.JobHandler) {
	s.handler = handler
}

func (s *inlineJobsService) Enqueue(ctx context.Context, job interfaces.DomainJob) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "InlineJobsService.Enqueue")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, job.DomainID)

	select {
	case <-s.stopped:
		return errors.New("jobs service stopped")
	default:
	}

	ok, err := s.locker.acquire(ctx, job.DomainID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !ok {
		return er.ErrProvisioningInFlight
	}

	s.wg.Add(1)
	go s.run(job)
	return nil
}

// run always executes an accepted job; Stop waits for it rather than
// discarding it.
func (s *inlineJobsService) run(job interfaces.DomainJob) {
	defer s.wg.Done()
	defer tracing.RecoverAndLogToJaeger(s.log)

	ctx := context.Background()
	defer s.locker.release(ctx, job.DomainID)

	if s.handler == nil {
		s.log.Errorf("no job handler registered, dropping %s job for domain %s", job.Action, job.DomainID)
		return
	}
	if err := s.handler(ctx, job); err != nil {
		s.log.Errorf("%s job for domain %s failed: %v", job.Action, job.DomainID, err)
	}
}

func (s *inlineJobsService) Start(context.Context) error {
	return nil
}

func (s *inlineJobsService) Stop() {
	close(s.stopped)
	s.wg.Wait()
}
