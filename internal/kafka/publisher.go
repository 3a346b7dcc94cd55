package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fuddi-app/dispatch/internal/db"
	"github.com/fuddi-app/dispatch/internal/metrics"
	"github.com/fuddi-app/dispatch/internal/repository"
)

type OutboxTaskRepository interface {
	GetProcessableTasks(ctx context.Context, tx db.Tx, limit int) ([]*repository.OutboxTask, error)
	UpdateTaskStatus(ctx context.Context, dbc db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
	UpdateTaskStatusTx(ctx context.Context, tx db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, completedAt *time.Time) error
}

type PublisherConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// Publisher drains the order-events outbox into the producer. Tasks are
// claimed under FOR UPDATE SKIP LOCKED, so multiple instances can run the
// loop without double-publishing.
type Publisher struct {
	db             db.DB
	repo           OutboxTaskRepository
	producer       Producer
	config         PublisherConfig
	log            *zap.Logger
	wg             sync.WaitGroup
	shutdownSignal chan struct{}
	stopOnce       sync.Once
}

func NewPublisher(dbc db.DB, repo OutboxTaskRepository, producer Producer, config PublisherConfig, log *zap.Logger) *Publisher {
	return &Publisher{
		db:             dbc,
		repo:           repo,
		producer:       producer,
		config:         config,
		log:            log,
		shutdownSignal: make(chan struct{}),
	}
}

// Run polls until ctx is cancelled or Shutdown is called, then returns.
// Closing the producer is Shutdown's job, so the caller controls ordering:
// wait for Run to exit, then call Shutdown.
func (p *Publisher) Run(ctx context.Context) {
	p.log.Info("outbox publisher starting",
		zap.Duration("poll_interval", p.config.PollInterval),
		zap.Int("batch_size", p.config.BatchSize))
	p.wg.Add(1)
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.processBatch(ctx); err != nil {
				p.log.Error("outbox batch failed", zap.Error(err))
			}
		case <-p.shutdownSignal:
			p.log.Info("outbox publisher stopping")
			return
		case <-ctx.Done():
			p.log.Info("outbox publisher stopping")
			return
		}
	}
}

// Shutdown stops the poll loop, waits for an in-flight batch to drain and
// closes the producer.
func (p *Publisher) Shutdown() {
	p.stopOnce.Do(func() {
		close(p.shutdownSignal)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			p.log.Info("outbox publisher shutdown complete")
		case <-time.After(30 * time.Second):
			p.log.Warn("outbox publisher shutdown timed out")
		}

		if err := p.producer.Close(); err != nil {
			p.log.Error("close producer failed", zap.Error(err))
		}
	})
}

// processBatch claims a batch inside one transaction, marks it PROCESSING,
// then publishes outside the transaction so a slow broker never holds row
// locks.
func (p *Publisher) processBatch(ctx context.Context) error {
	tx, err := p.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin outbox transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	tasks, err := p.repo.GetProcessableTasks(ctx, tx, p.config.BatchSize)
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		return tx.Commit(ctx)
	}

	for _, task := range tasks {
		if err := p.repo.UpdateTaskStatusTx(ctx, tx, task.ID, repository.TaskStatusProcessing, task.Attempts, nil, nil); err != nil {
			return fmt.Errorf("mark task %s processing: %w", task.ID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit processing batch: %w", err)
	}

	for _, task := range tasks {
		select {
		case <-p.shutdownSignal:
			return errors.New("publisher shutdown during batch")
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := p.processSingleTask(ctx, task); err != nil {
			p.log.Warn("outbox task failed",
				zap.String("task_id", task.ID.String()),
				zap.Error(err))
		}
	}
	return nil
}

func (p *Publisher) processSingleTask(ctx context.Context, task *repository.OutboxTask) error {
	key := []byte(task.Key)
	if len(key) == 0 {
		key = []byte(task.ID.String())
	}

	if err := p.producer.SendMessage(ctx, task.Topic, key, task.Payload); err != nil {
		attempts := task.Attempts + 1
		errMsg := err.Error()
		if attempts >= p.config.MaxAttempts {
			p.log.Error("outbox task reached max attempts",
				zap.String("task_id", task.ID.String()),
				zap.Int("attempts", attempts))
		}
		if updateErr := p.repo.UpdateTaskStatus(ctx, p.db, task.ID, repository.TaskStatusFailed, attempts, &errMsg, nil); updateErr != nil {
			return fmt.Errorf("record send failure: %w", updateErr)
		}
		return err
	}

	now := time.Now().UTC()
	if err := p.repo.UpdateTaskStatus(ctx, p.db, task.ID, repository.TaskStatusDone, task.Attempts, nil, &now); err != nil {
		return fmt.Errorf("mark task done: %w", err)
	}
	metrics.OutboxPublishedTotal.Inc()
	return nil
}
