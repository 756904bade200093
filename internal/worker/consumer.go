// Package worker provides the durable NATS consumer that feeds generation
// jobs to the processing pipeline under a bounded retry and dead-letter
// contract.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/book-expert/audiobook-service/internal/pipeline"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"
)

// Message headers carrying retry metadata across redeliveries.
const (
	HeaderRetryCount   = "Retry-Count"
	HeaderFirstFailure = "First-Failure-At"
	HeaderLastFailure  = "Last-Failure-At"
	HeaderLastError    = "Last-Error"
)

// DeadLetterSuffix names the companion dead-letter subject of a primary
// subject.
const DeadLetterSuffix = "_dead_letter"

const (
	defaultMaxRetries     = 2
	defaultPoolSize       = 1
	defaultProcessTimeout = 10 * time.Minute
	fetchWait             = 5 * time.Second
	maxErrorHeaderBytes   = 512
)

// Static errors.
var (
	ErrSubjectEmpty = errors.New("subject cannot be empty")
	ErrDurableEmpty = errors.New("durable consumer name cannot be empty")
)

// Processor handles one delivery payload. Returned errors are retryable
// infrastructure failures unless they wrap pipeline.ErrBadMessage, which is
// dead-lettered immediately.
type Processor interface {
	Process(ctx context.Context, payload []byte) error
}

// Config holds consumer settings.
type Config struct {
	// Subject is the primary job subject.
	Subject string
	// Durable is the JetStream durable consumer name.
	Durable string
	// MaxRetries bounds automatic redeliveries. Synthesis is expensive,
	// so the default is low.
	MaxRetries int
	// PoolSize is the number of concurrent pool workers. Size one is the
	// baseline prefetch-1 behavior.
	PoolSize int
	// ProcessTimeout bounds one job's processing time.
	ProcessTimeout time.Duration
}

// DeadLetterSubject derives the dead-letter subject from a primary subject.
func DeadLetterSubject(subject string) string {
	return subject + DeadLetterSuffix
}

// EnsureStream creates the durable stream holding the primary and
// dead-letter subjects, binding to it when it already exists.
func EnsureStream(jetstreamContext nats.JetStreamContext, streamName, subject string) error {
	_, err := jetstreamContext.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject, DeadLetterSubject(subject)},
		Storage:   nats.FileStorage,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return fmt.Errorf("failed to ensure stream '%s': %w", streamName, err)
	}

	return nil
}

// Consumer pulls job messages and dispatches them to a fixed-size worker
// pool. Each pool worker owns its own Processor, and through it its own
// stateful synthesis resources; nothing stateful is shared across workers.
//
// All acknowledgment and republishing happens on the consumer loop
// goroutine. Workers report outcomes over a completion channel and never
// touch the broker connection themselves.
type Consumer struct {
	js           nats.JetStreamContext
	cfg          Config
	newProcessor func() (Processor, error)
	log          *logger.Logger
}

type completion struct {
	msg *nats.Msg
	err error
}

// NewConsumer creates a consumer. newProcessor is invoked once per pool
// worker so stateful resources stay worker-local.
func NewConsumer(
	jetstreamContext nats.JetStreamContext,
	cfg Config,
	newProcessor func() (Processor, error),
	log *logger.Logger,
) (*Consumer, error) {
	if cfg.Subject == "" {
		return nil, ErrSubjectEmpty
	}

	if cfg.Durable == "" {
		return nil, ErrDurableEmpty
	}

	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}

	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}

	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = defaultProcessTimeout
	}

	return &Consumer{
		js:           jetstreamContext,
		cfg:          cfg,
		newProcessor: newProcessor,
		log:          log,
	}, nil
}

// Run consumes until ctx is canceled, then drains in-flight work.
func (c *Consumer) Run(ctx context.Context) error {
	sub, err := c.js.PullSubscribe(c.cfg.Subject, c.cfg.Durable, nats.AckExplicit())
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject '%s': %w", c.cfg.Subject, err)
	}

	defer func() {
		unsubErr := sub.Unsubscribe()
		if unsubErr != nil {
			c.log.Warn("Failed to unsubscribe from '%s': %v", c.cfg.Subject, unsubErr)
		}
	}()

	tasks := make(chan *nats.Msg)
	completions := make(chan completion, c.cfg.PoolSize)

	var waitGroup sync.WaitGroup

	for i := 0; i < c.cfg.PoolSize; i++ {
		processor, procErr := c.newProcessor()
		if procErr != nil {
			close(tasks)
			waitGroup.Wait()

			return fmt.Errorf("failed to create processor for pool worker %d: %w", i, procErr)
		}

		waitGroup.Add(1)

		go c.runWorker(&waitGroup, processor, tasks, completions)
	}

	inFlight := c.consumeLoop(ctx, sub, tasks, completions)

	close(tasks)

	for inFlight > 0 {
		done := <-completions
		c.settle(done)

		inFlight--
	}

	waitGroup.Wait()

	return nil
}

// runWorker processes deliveries on a worker-owned processor. Timeouts are
// anchored to the background context so shutdown does not abort a job whose
// state transition is already persisted.
func (c *Consumer) runWorker(
	waitGroup *sync.WaitGroup,
	processor Processor,
	tasks <-chan *nats.Msg,
	completions chan<- completion,
) {
	defer waitGroup.Done()

	for msg := range tasks {
		processCtx, cancel := context.WithTimeout(context.Background(), c.cfg.ProcessTimeout)
		err := processor.Process(processCtx, msg.Data)

		cancel()

		completions <- completion{msg: msg, err: err}
	}
}

// consumeLoop fetches and dispatches until ctx cancels, settling completed
// deliveries as they arrive. It returns the number of still-in-flight
// messages.
func (c *Consumer) consumeLoop(
	ctx context.Context,
	sub *nats.Subscription,
	tasks chan<- *nats.Msg,
	completions <-chan completion,
) int {
	inFlight := 0

	for {
		select {
		case <-ctx.Done():
			return inFlight
		case done := <-completions:
			c.settle(done)

			inFlight--

			continue
		default:
		}

		if inFlight >= c.cfg.PoolSize {
			select {
			case <-ctx.Done():
				return inFlight
			case done := <-completions:
				c.settle(done)

				inFlight--
			}

			continue
		}

		msgs, err := sub.Fetch(1, nats.MaxWait(fetchWait))
		if err != nil {
			if !errors.Is(err, nats.ErrTimeout) && !errors.Is(err, context.DeadlineExceeded) {
				c.log.Warn("Fetch from '%s' failed: %v", c.cfg.Subject, err)
			}

			continue
		}

		tasks <- msgs[0]
		inFlight++
	}
}

// settle acknowledges or republishes one finished delivery. Runs only on the
// consumer loop goroutine.
func (c *Consumer) settle(done completion) {
	if done.err == nil {
		c.ack(done.msg)

		return
	}

	retries := retryCount(done.msg)

	switch {
	case errors.Is(done.err, pipeline.ErrBadMessage):
		// A malformed payload can never succeed; no retry is consumed.
		c.deadLetter(done.msg, done.err, retries)
	case retries < c.cfg.MaxRetries:
		c.requeue(done.msg, done.err, retries)
	default:
		c.deadLetter(done.msg, done.err, retries)
	}
}

// requeue republishes the message to the primary subject with an
// incremented retry counter and failure metadata, then removes the original
// delivery from the queue.
func (c *Consumer) requeue(msg *nats.Msg, cause error, retries int) {
	retry := nats.NewMsg(c.cfg.Subject)
	retry.Data = msg.Data
	retry.Header = failureHeader(msg, cause)
	retry.Header.Set(HeaderRetryCount, strconv.Itoa(retries+1))

	_, err := c.js.PublishMsg(retry)
	if err != nil {
		c.log.Error("Failed to requeue message on '%s', leaving for redelivery: %v", c.cfg.Subject, err)
		c.nak(msg)

		return
	}

	c.log.Warn("Requeued message on '%s' (retry %d/%d): %v",
		c.cfg.Subject, retries+1, c.cfg.MaxRetries, cause)
	c.ack(msg)
}

// deadLetter republishes the message content unchanged to the dead-letter
// subject with full failure metadata and removes it from the primary queue.
// Dead-lettered messages are not retried automatically.
func (c *Consumer) deadLetter(msg *nats.Msg, cause error, retries int) {
	dead := nats.NewMsg(DeadLetterSubject(c.cfg.Subject))
	dead.Data = msg.Data
	dead.Header = failureHeader(msg, cause)
	dead.Header.Set(HeaderRetryCount, strconv.Itoa(retries))

	_, err := c.js.PublishMsg(dead)
	if err != nil {
		c.log.Error("Failed to dead-letter message from '%s', leaving for redelivery: %v",
			c.cfg.Subject, err)
		c.nak(msg)

		return
	}

	c.log.Error("Dead-lettered message from '%s' after %d retries: %v", c.cfg.Subject, retries, cause)
	c.ack(msg)
}

func (c *Consumer) ack(msg *nats.Msg) {
	err := msg.Ack()
	if err != nil {
		c.log.Warn("Failed to ack message on '%s': %v", c.cfg.Subject, err)
	}
}

func (c *Consumer) nak(msg *nats.Msg) {
	err := msg.Nak()
	if err != nil {
		c.log.Warn("Failed to nak message on '%s': %v", c.cfg.Subject, err)
	}
}

// failureHeader carries forward the first-failure time and stamps the
// latest failure and its (truncated) error text.
func failureHeader(msg *nats.Msg, cause error) nats.Header {
	header := nats.Header{}
	now := time.Now().UTC().Format(time.RFC3339)

	first := now
	if msg.Header != nil {
		if existing := msg.Header.Get(HeaderFirstFailure); existing != "" {
			first = existing
		}
	}

	header.Set(HeaderFirstFailure, first)
	header.Set(HeaderLastFailure, now)
	header.Set(HeaderLastError, truncateError(cause))

	return header
}

func retryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}

	count, err := strconv.Atoi(msg.Header.Get(HeaderRetryCount))
	if err != nil || count < 0 {
		return 0
	}

	return count
}

func truncateError(err error) string {
	text := err.Error()
	if len(text) > maxErrorHeaderBytes {
		return text[:maxErrorHeaderBytes]
	}

	return text
}
