package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"nftmarket/internal/model"
)

// Names holds the queue keys of the two-stage mint pipeline.
type Names struct {
	Requested string
	Execute   string
	Dead      string
}

// NamesForPrefix derives the queue keys from a namespace prefix.
func NamesForPrefix(prefix string) Names {
	if prefix == "" {
		prefix = "market"
	}
	return Names{
		Requested: prefix + ":mint:requested",
		Execute:   prefix + ":mint:execute",
		Dead:      prefix + ":mint:dead",
	}
}

// Producer enqueues mint requests onto the stage-1 queue.
type Producer struct {
	broker Broker
	names  Names
	logger *zap.Logger
}

func NewProducer(broker Broker, names Names, logger *zap.Logger) *Producer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{broker: broker, names: names, logger: logger}
}

// EnqueueMintRequest accepts a mint job into stage 1. Job ids are
// assigned here; everything else is carried through untouched.
func (p *Producer) EnqueueMintRequest(ctx context.Context, job model.MintJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Kind == "" {
		job.Kind = model.JobKindMint
	}
	job.Stage = 1

	payload, err := model.EncodeJob(job)
	if err != nil {
		return fmt.Errorf("encode mint job: %w", err)
	}
	if err := p.broker.Push(ctx, p.names.Requested, payload); err != nil {
		return fmt.Errorf("enqueue mint request: %w", err)
	}

	p.logger.Info("mint request enqueued",
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int64("item_id", job.ItemID),
	)
	return nil
}

// Handler executes one stage-2 mint job.
type Handler func(ctx context.Context, job model.MintJob) error

// ConsumerConfig holds runtime settings for the queue consumers.
type ConsumerConfig struct {
	Concurrency  int
	MaxAttempts  int
	RetryBackoff time.Duration
	JobTimeout   time.Duration
	PollTimeout  time.Duration
}

// Consumer runs the stage-1 relay and the stage-2 worker pool. Stage 1
// re-enqueues accepted requests to stage 2 unchanged, acting as the
// decoupling valve between request intake and mint execution. Stage 2
// retries failed jobs with exponential backoff and dead-letters them
// once attempts are exhausted.
type Consumer struct {
	cfg     ConsumerConfig
	broker  Broker
	names   Names
	handler Handler
	logger  *zap.Logger

	// OnRelay, when set, observes every job handed from stage 1 to
	// stage 2 (used to advance the item state machine).
	OnRelay func(ctx context.Context, job model.MintJob)
}

func NewConsumer(cfg ConsumerConfig, broker Broker, names Names, handler Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	return &Consumer{cfg: cfg, broker: broker, names: names, handler: handler, logger: logger}
}

// Run blocks until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.relayLoop(ctx)
	}()

	for i := 0; i < c.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			c.workLoop(ctx, worker)
		}(i)
	}

	wg.Wait()
	return ctx.Err()
}

// relayLoop moves jobs from the requested queue to the execute queue.
func (c *Consumer) relayLoop(ctx context.Context) {
	for ctx.Err() == nil {
		payload, err := c.broker.Pop(ctx, c.names.Requested, c.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("stage1 pop failed", zap.Error(err))
			continue
		}
		if payload == nil {
			continue
		}
		if err := c.Relay(ctx, payload); err != nil {
			c.logger.Error("stage1 relay failed", zap.Error(err))
		}
	}
}

// Relay re-enqueues one accepted request to stage 2. The payload is
// carried through unmodified apart from the stage marker.
func (c *Consumer) Relay(ctx context.Context, payload []byte) error {
	job, err := model.DecodeJob(payload)
	if err != nil {
		return fmt.Errorf("decode stage1 job: %w", err)
	}
	job.Stage = 2

	encoded, err := model.EncodeJob(job)
	if err != nil {
		return fmt.Errorf("encode stage2 job: %w", err)
	}
	if err := c.broker.Push(ctx, c.names.Execute, encoded); err != nil {
		return fmt.Errorf("enqueue stage2 job: %w", err)
	}

	if c.OnRelay != nil {
		c.OnRelay(ctx, job)
	}

	c.logger.Info("mint job handed to stage 2",
		zap.String("job_id", job.ID),
		zap.Int64("item_id", job.ItemID),
	)
	return nil
}

func (c *Consumer) workLoop(ctx context.Context, worker int) {
	for ctx.Err() == nil {
		payload, err := c.broker.Pop(ctx, c.names.Execute, c.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("stage2 pop failed", zap.Int("worker", worker), zap.Error(err))
			continue
		}
		if payload == nil {
			continue
		}

		job, err := model.DecodeJob(payload)
		if err != nil {
			c.logger.Error("stage2 job undecodable", zap.Int("worker", worker), zap.Error(err))
			continue
		}

		c.Process(ctx, job)
	}
}

// Process runs one stage-2 job through the handler with bounded retries.
// Exhausted jobs are dead-lettered with the failure reason attached; a
// failed mint is never silently dropped.
func (c *Consumer) Process(ctx context.Context, job model.MintJob) {
	delay := c.cfg.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		job.Attempt = attempt
		lastErr = c.runHandler(ctx, job)
		if lastErr == nil {
			c.logger.Info("mint job complete",
				zap.String("job_id", job.ID),
				zap.Int64("item_id", job.ItemID),
				zap.Int("attempt", attempt),
			)
			return
		}

		c.logger.Warn("mint job failed",
			zap.String("job_id", job.ID),
			zap.Int64("item_id", job.ItemID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr),
		)

		if attempt == c.cfg.MaxAttempts {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay *= 2
	}

	c.deadLetter(ctx, job, lastErr)
}

func (c *Consumer) runHandler(ctx context.Context, job model.MintJob) error {
	jobCtx := ctx
	if c.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, c.cfg.JobTimeout)
		defer cancel()
	}
	return c.handler(jobCtx, job)
}

// deadLetter records an exhausted job. It must succeed even when the
// consumer is shutting down, so the push runs without the run context's
// cancellation.
func (c *Consumer) deadLetter(ctx context.Context, job model.MintJob, cause error) {
	ctx = context.WithoutCancel(ctx)
	if cause != nil {
		job.Reason = cause.Error()
	}
	payload, err := model.EncodeJob(job)
	if err != nil {
		c.logger.Error("dead-letter encode failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	if err := c.broker.Push(ctx, c.names.Dead, payload); err != nil {
		c.logger.Error("dead-letter push failed", zap.String("job_id", job.ID), zap.Error(err))
		return
	}
	c.logger.Error("mint job dead-lettered",
		zap.String("job_id", job.ID),
		zap.Int64("item_id", job.ItemID),
		zap.String("reason", job.Reason),
	)
}
