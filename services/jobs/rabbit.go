package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"

	"github.com/elektrine/domainstack/interfaces"
	er "github.com/elektrine/domainstack/internal/errors"
	"github.com/elektrine/domainstack/internal/logger"
	"github.com/elektrine/domainstack/internal/tracing"
	"github.com/elektrine/domainstack/internal/utils"
)

const (
	ExchangeDomainstackDirect = "domainstack-direct"
	ExchangeDeadLetter        = "dead-letter"

	QueueDomainJobs = "domain-jobs"
	DLQDomainJobs   = QueueDomainJobs + "-dlq"

	RoutingKeyDomainJob  = "domainstack-domain-job"
	RoutingKeyDeadLetter = "dead-letter"

	defaultMessageTTL       = 24 * time.Hour
	defaultMaxPublishTries  = 3
	defaultPublishTimeout   = 5 * time.Second
	defaultReconnectBackoff = time.Second
	maxReconnectBackoff     = 30 * time.Second
)

// jobEnvelope is the wire format on the domain-jobs queue.
type jobEnvelope struct {
	Job         interfaces.DomainJob `json:"job"`
	UberTraceId string               `json:"uberTraceId"`
	Timestamp   string               `json:"timestamp"`
}

// rabbitJobsService publishes domain jobs to RabbitMQ and consumes them with
// manual acks. Failed jobs are nacked to the dead letter queue. Delivery is
// at-least-once; job handlers are idempotent.
type rabbitJobsService struct {
	url    string
	locker *dedupLocker
	log    logger.Logger

	connectionMutex sync.Mutex
	connection      *amqp091.Connection
	publishMutex    sync.Mutex
	publishChannel  *amqp091.Channel
	confirms        chan amqp091.Confirmation

	handler  interfaces.JobHandler
	stopping chan struct{}
}

func newRabbitJobsService(url string, locker *dedupLocker, log logger.Logger) (*rabbitJobsService, error) {
	s := &rabbitJobsService{
		url:      url,
		locker:   locker,
		log:      log,
		stopping: make(chan struct{}),
	}
	if err := s.connect(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *rabbitJobsService) SetHandler(handler interfaces.JobHandler) {
	s.handler = handler
}

func (s *rabbitJobsService) connect() error {
	s.connectionMutex.Lock()
	defer s.connectionMutex.Unlock()

	var err error
	s.connection, err = amqp091.Dial(s.url)
	if err != nil {
		return errors.Wrap(err, "failed to connect to RabbitMQ")
	}

	if err := s.setupTopology(); err != nil {
		return errors.Wrap(err, "failed to setup exchanges and queues")
	}
	if err := s.setupPublishChannel(); err != nil {
		return errors.Wrap(err, "failed to setup publish channel")
	}

	go s.handleReconnection()
	return nil
}

func (s *rabbitJobsService) setupTopology() error {
	channel, err := s.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "failed to open channel for topology setup")
	}
	defer channel.Close()

	err = channel.ExchangeDeclare(ExchangeDeadLetter, "direct", true, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "failed to declare dead letter exchange")
	}
	err = channel.ExchangeDeclare(ExchangeDomainstackDirect, "direct", true, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "failed to declare direct exchange")
	}

	_, err = channel.QueueDeclare(DLQDomainJobs, true, false, false, false, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to declare DLQ %s", DLQDomainJobs)
	}
	err = channel.QueueBind(DLQDomainJobs, RoutingKeyDeadLetter, ExchangeDeadLetter, false, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to bind DLQ %s", DLQDomainJobs)
	}

	args := map[string]interface{}{
		"x-dead-letter-exchange":    ExchangeDeadLetter,
		"x-dead-letter-routing-key": RoutingKeyDeadLetter,
		"x-message-ttl":             int64(defaultMessageTTL.Milliseconds()),
	}
	_, err = channel.QueueDeclare(QueueDomainJobs, true, false, false, false, args)
	if err != nil {
		return errors.Wrapf(err, "failed to declare queue %s", QueueDomainJobs)
	}
	err = channel.QueueBind(QueueDomainJobs, RoutingKeyDomainJob, ExchangeDomainstackDirect, false, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to bind queue %s", QueueDomainJobs)
	}

	return nil
}

func (s *rabbitJobsService) setupPublishChannel() error {
	channel, err := s.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "failed to open publish channel")
	}
	if err := channel.Confirm(false); err != nil {
		channel.Close()
		return errors.Wrap(err, "failed to enable publisher confirms")
	}

	s.confirms = channel.NotifyPublish(make(chan amqp091.Confirmation, 1))
	s.publishChannel = channel
	return nil
}

func (s *rabbitJobsService) handleReconnection() {
	backoff := defaultReconnectBackoff

	for {
		notifyClose := s.connection.NotifyClose(make(chan *amqp091.Error))
		select {
		case <-s.stopping:
			return
		case err := <-notifyClose:
			s.log.Warnf("RabbitMQ connection closed: %v, reconnecting", err)
		}

		for {
			select {
			case <-s.stopping:
				return
			default:
			}

			if err := s.connect(); err == nil {
				s.log.Info("reconnected to RabbitMQ")
				break
			} else {
				s.log.Errorf("failed to reconnect: %v, retrying in %v", err, backoff)
				time.Sleep(backoff)
				backoff *= 2
				if backoff > maxReconnectBackoff {
					backoff = maxReconnectBackoff
				}
			}
		}
		backoff = defaultReconnectBackoff
	}
}

func (s *rabbitJobsService) ensureConnectionAndChannel() error {
	if s.connection == nil || s.connection.IsClosed() {
		if err := s.connect(); err != nil {
			return err
		}
	}
	if s.publishChannel == nil || s.publishChannel.IsClosed() {
		if err := s.setupPublishChannel(); err != nil {
			return err
		}
	}
	return nil
}

func (s *rabbitJobsService) Enqueue(ctx context.Context, job interfaces.DomainJob) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitJobsService.Enqueue")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagEntity(span, job.DomainID)

	ok, err := s.locker.acquire(ctx, job.DomainID)
	if err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	if !ok {
		return er.ErrProvisioningInFlight
	}

	envelope := jobEnvelope{
		Job:         job,
		UberTraceId: tracing.ExtractTextMapCarrier(span.Context())["uber-trace-id"],
		Timestamp:   utils.Now().Format(time.RFC3339),
	}

	if err := s.publish(ctx, envelope); err != nil {
		// The job never made it onto the queue; free the slot for a retry.
		s.locker.release(ctx, job.DomainID)
		tracing.TraceErr(span, err)
		return err
	}
	s.log.Debugf("queued %s job for domain %s, trace %s", job.Action, job.DomainID, tracing.GetTraceId(span))
	return nil
}

func (s *rabbitJobsService) publish(ctx context.Context, envelope jobEnvelope) error {
	var lastErr error
	for attempt := 0; attempt < defaultMaxPublishTries; attempt++ {
		lastErr = s.publishWithConfirm(ctx, envelope)
		if lastErr == nil {
			return nil
		}
		s.log.Warnf("publish attempt %d failed: %v", attempt+1, lastErr)
		if attempt < defaultMaxPublishTries-1 {
			time.Sleep(time.Millisecond * 100 * time.Duration(attempt+1))
		}
	}
	return errors.Wrap(lastErr, "failed to publish job after all retries")
}

func (s *rabbitJobsService) publishWithConfirm(ctx context.Context, envelope jobEnvelope) error {
	s.publishMutex.Lock()
	defer s.publishMutex.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := s.ensureConnectionAndChannel(); err != nil {
		return err
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrap(err, "failed to marshal job")
	}

	err = s.publishChannel.Publish(
		ExchangeDomainstackDirect,
		RoutingKeyDomainJob,
		true,
		false,
		amqp091.Publishing{
			DeliveryMode: amqp091.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return errors.Wrap(err, "failed to publish job")
	}

	select {
	case confirm := <-s.confirms:
		if !confirm.Ack {
			return errors.New("job was not confirmed by server")
		}
	case <-time.After(defaultPublishTimeout):
		return errors.New("publish confirmation timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Start begins consuming the domain-jobs queue. The consumer loop reconnects
// on channel loss until Stop is called.
func (s *rabbitJobsService) Start(ctx context.Context) error {
	if s.handler == nil {
		return errors.New("job handler must be set before starting the consumer")
	}

	go func() {
		for {
			select {
			case <-s.stopping:
				return
			case <-ctx.Done():
				return
			default:
			}

			channel, err := s.connection.Channel()
			if err != nil {
				s.log.Errorf("failed to open consume channel: %v, retrying", err)
				time.Sleep(5 * time.Second)
				continue
			}

			deliveries, err := channel.Consume(QueueDomainJobs, "", false, false, false, false, nil)
			if err != nil {
				channel.Close()
				s.log.Errorf("failed to register consumer on %s: %v, retrying", QueueDomainJobs, err)
				time.Sleep(5 * time.Second)
				continue
			}

			s.log.Infof("consuming domain jobs from %s", QueueDomainJobs)
			for delivery := range deliveries {
				s.handleDelivery(delivery)
			}
			channel.Close()

			s.log.Warnf("consumer channel for %s closed, reconnecting", QueueDomainJobs)
			time.Sleep(5 * time.Second)
		}
	}()

	return nil
}

func (s *rabbitJobsService) handleDelivery(delivery amqp091.Delivery) {
	defer tracing.RecoverAndLogToJaeger(s.log)

	if err := s.processDelivery(delivery); err != nil {
		s.log.Errorf("domain job failed: %v", err)
		s.retryAckNack(delivery, false)
		return
	}
	s.retryAckNack(delivery, true)
}

func (s *rabbitJobsService) processDelivery(delivery amqp091.Delivery) error {
	var envelope jobEnvelope
	if err := json.Unmarshal(delivery.Body, &envelope); err != nil {
		return errors.Wrap(err, "failed to unmarshal job")
	}

	ctx, span := tracing.StartRabbitMQMessageTracerSpanWithHeader(context.Background(), "RabbitJobsService.ProcessDelivery", envelope.UberTraceId)
	defer span.Finish()
	tracing.TagComponentJobConsumer(span)
	tracing.TagEntity(span, envelope.Job.DomainID)
	span.LogKV("action", envelope.Job.Action)

	defer s.locker.release(ctx, envelope.Job.DomainID)

	if err := s.handler(ctx, envelope.Job); err != nil {
		tracing.TraceErr(span, err)
		return err
	}
	return nil
}

func (s *rabbitJobsService) retryAckNack(delivery amqp091.Delivery, ack bool) {
	const maxRetries = 5

	for i := 0; i < maxRetries; i++ {
		var err error
		if ack {
			err = delivery.Ack(false)
		} else {
			err = delivery.Nack(false, false)
		}
		if err == nil {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	s.log.Errorf("failed to settle delivery after %d attempts", maxRetries)
}

func (s *rabbitJobsService) Stop() {
	close(s.stopping)

	s.connectionMutex.Lock()
	defer s.connectionMutex.Unlock()

	if s.publishChannel != nil {
		if err := s.publishChannel.Close(); err != nil {
			s.log.Errorf("error closing publish channel: %v", err)
		}
	}
	if s.connection != nil && !s.connection.IsClosed() {
		if err := s.connection.Close(); err != nil {
			s.log.Errorf("error closing connection: %v", err)
		}
	}
}
