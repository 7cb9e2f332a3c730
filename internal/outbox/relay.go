package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dejobratic/orderflow/internal/orders/ports"
)

// RelayConfig tunes the background retry loop.
type RelayConfig struct {
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	Workers        int
	PublishTimeout time.Duration
	// InitialBackoff and MaxBackoff bound the in-batch retries of one message.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	RetriesPerPoll uint64
}

func (c RelayConfig) withDefaults() RelayConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 10
	}
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 5 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 100 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Second
	}
	if c.RetriesPerPoll == 0 {
		c.RetriesPerPoll = 2
	}
	return c
}

// Relay polls the outbox for messages the notifier could not deliver and
// retries them. A message is abandoned after MaxAttempts failed polls.
type Relay struct {
	store  ports.OutboxStore
	bus    ports.EventBus
	cfg    RelayConfig
	logger *slog.Logger

	jobs   chan ports.OutboxMessage
	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

func NewRelay(store ports.OutboxStore, bus ports.EventBus, cfg RelayConfig, logger *slog.Logger) *Relay {
	cfg = cfg.withDefaults()
	return &Relay{
		store:  store,
		bus:    bus,
		cfg:    cfg,
		logger: logger,
	}
}

// Start launches the dispatcher and workers.
func (r *Relay) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.jobs = make(chan ports.OutboxMessage, r.cfg.BatchSize)

	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker(runCtx)
	}

	r.wg.Add(1)
	go r.dispatch(runCtx)
}

// Stop waits for in-flight publishes to finish.
func (r *Relay) Stop() {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	r.wg.Wait()
}

func (r *Relay) dispatch(ctx context.Context) {
	defer r.wg.Done()
	defer close(r.jobs)
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.fetchAndDispatch(ctx)
		}
	}
}

func (r *Relay) fetchAndDispatch(ctx context.Context) {
	messages, err := r.store.Pending(ctx, r.cfg.BatchSize, r.cfg.MaxAttempts)
	if err != nil {
		r.logger.ErrorContext(ctx, "fetch pending outbox messages failed", "error", err)
		return
	}
	for _, msg := range messages {
		select {
		case <-ctx.Done():
			return
		case r.jobs <- msg:
		}
	}
}

func (r *Relay) worker(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-r.jobs:
			if !ok {
				return
			}
			r.Deliver(ctx, msg)
		}
	}
}

// Deliver publishes one message with a short exponential backoff and
// records the outcome in the store.
func (r *Relay) Deliver(ctx context.Context, msg ports.OutboxMessage) bool {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.cfg.InitialBackoff
	policy.MaxInterval = r.cfg.MaxBackoff
	policy.MaxElapsedTime = 0

	op := func() error {
		pubCtx, cancel := context.WithTimeout(ctx, r.cfg.PublishTimeout)
		defer cancel()
		return r.bus.Publish(pubCtx, msg)
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(policy, r.cfg.RetriesPerPoll), ctx))
	if err != nil {
		attempt := msg.Attempts + 1
		level := slog.LevelWarn
		if attempt >= r.cfg.MaxAttempts {
			level = slog.LevelError
		}
		r.logger.Log(ctx, level, "outbox relay publish failed",
			"error", err,
			"message_id", msg.ID,
			"order_id", msg.OrderID,
			"topic", msg.Topic,
			"attempt", attempt,
			"max_attempts", r.cfg.MaxAttempts,
		)
		if markErr := r.store.MarkFailed(ctx, msg.ID, err.Error()); markErr != nil {
			r.logger.ErrorContext(ctx, "failed to record publish failure", "error", markErr, "message_id", msg.ID)
		}
		return false
	}

	if err := r.store.MarkPublished(ctx, msg.ID, time.Now().UTC()); err != nil {
		r.logger.ErrorContext(ctx, "failed to mark message published", "error", err, "message_id", msg.ID)
	}
	return true
}
