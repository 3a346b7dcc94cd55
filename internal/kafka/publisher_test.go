package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fuddi-app/dispatch/internal/db"
	"github.com/fuddi-app/dispatch/internal/repository"
)

type fakeTx struct {
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(context.Context) error { t.rolledBack = true; return nil }
func (t *fakeTx) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag("UPDATE 1"), nil
}
func (t *fakeTx) Get(context.Context, interface{}, string, ...interface{}) error    { return nil }
func (t *fakeTx) Select(context.Context, interface{}, string, ...interface{}) error { return nil }

type fakeDB struct {
	tx *fakeTx
}

func (d *fakeDB) Get(context.Context, interface{}, string, ...interface{}) error    { return nil }
func (d *fakeDB) Select(context.Context, interface{}, string, ...interface{}) error { return nil }
func (d *fakeDB) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag("UPDATE 1"), nil
}
func (d *fakeDB) BeginTx(context.Context) (db.Tx, error) { return d.tx, nil }

type statusCall struct {
	id        uuid.UUID
	status    repository.TaskStatus
	attempts  int
	lastError *string
	inTx      bool
}

type fakeOutboxRepo struct {
	tasks []*repository.OutboxTask
	calls []statusCall
}

func (r *fakeOutboxRepo) GetProcessableTasks(_ context.Context, _ db.Tx, _ int) ([]*repository.OutboxTask, error) {
	return r.tasks, nil
}

func (r *fakeOutboxRepo) UpdateTaskStatus(_ context.Context, _ db.DB, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, _ *time.Time) error {
	r.calls = append(r.calls, statusCall{id: id, status: status, attempts: attempts, lastError: lastError})
	return nil
}

func (r *fakeOutboxRepo) UpdateTaskStatusTx(_ context.Context, _ db.Tx, id uuid.UUID, status repository.TaskStatus, attempts int, lastError *string, _ *time.Time) error {
	r.calls = append(r.calls, statusCall{id: id, status: status, attempts: attempts, lastError: lastError, inTx: true})
	return nil
}

type sentEvent struct {
	topic string
	key   string
	value string
}

type fakeProducer struct {
	sent    []sentEvent
	sendErr error
	closed  bool
}

func (p *fakeProducer) SendMessage(_ context.Context, topic string, key []byte, value []byte) error {
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, sentEvent{topic: topic, key: string(key), value: string(value)})
	return nil
}

func (p *fakeProducer) Close() error {
	p.closed = true
	return nil
}

func newTestPublisher(repo OutboxTaskRepository, producer Producer, interval time.Duration) *Publisher {
	return NewPublisher(&fakeDB{tx: &fakeTx{}}, repo, producer, PublisherConfig{
		PollInterval: interval,
		BatchSize:    10,
		MaxAttempts:  3,
	}, zap.NewNop())
}

func TestPublisher_RunReturnsOnCancel(t *testing.T) {
	producer := &fakeProducer{}
	p := newTestPublisher(&fakeOutboxRepo{}, producer, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	// Shutdown after Run has exited must not block on the poll loop.
	shutdownDone := make(chan struct{})
	go func() {
		p.Shutdown()
		close(shutdownDone)
	}()
	select {
	case <-shutdownDone:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown blocked after Run exited")
	}
	assert.True(t, producer.closed)
}

func TestPublisher_ShutdownStopsRun(t *testing.T) {
	p := newTestPublisher(&fakeOutboxRepo{}, &fakeProducer{}, time.Hour)

	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()

	shutdownDone := make(chan struct{})
	go func() {
		p.Shutdown()
		close(shutdownDone)
	}()

	for _, ch := range []chan struct{}{done, shutdownDone} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("publisher did not stop")
		}
	}
}

func TestPublisher_ProcessBatchPublishesAndMarksDone(t *testing.T) {
	tasks := []*repository.OutboxTask{
		{ID: uuid.New(), Topic: "order-events", Key: "O1", Payload: []byte(`{"order_id":"O1"}`)},
		{ID: uuid.New(), Topic: "order-events", Key: "O2", Payload: []byte(`{"order_id":"O2"}`)},
	}
	repo := &fakeOutboxRepo{tasks: tasks}
	producer := &fakeProducer{}
	p := newTestPublisher(repo, producer, time.Hour)

	require.NoError(t, p.processBatch(context.Background()))

	require.Len(t, producer.sent, 2)
	assert.Equal(t, "O1", producer.sent[0].key)
	assert.Equal(t, "order-events", producer.sent[0].topic)

	// Each task: claimed PROCESSING inside the transaction, then DONE outside.
	require.Len(t, repo.calls, 4)
	assert.Equal(t, repository.TaskStatusProcessing, repo.calls[0].status)
	assert.True(t, repo.calls[0].inTx)
	assert.Equal(t, repository.TaskStatusProcessing, repo.calls[1].status)
	assert.Equal(t, repository.TaskStatusDone, repo.calls[2].status)
	assert.False(t, repo.calls[2].inTx)
	assert.Equal(t, repository.TaskStatusDone, repo.calls[3].status)
}

func TestPublisher_ProcessBatchRecordsSendFailure(t *testing.T) {
	task := &repository.OutboxTask{ID: uuid.New(), Topic: "order-events", Key: "O3", Attempts: 1}
	repo := &fakeOutboxRepo{tasks: []*repository.OutboxTask{task}}
	producer := &fakeProducer{sendErr: errors.New("broker unreachable")}
	p := newTestPublisher(repo, producer, time.Hour)

	require.NoError(t, p.processBatch(context.Background()))

	require.Len(t, repo.calls, 2)
	failed := repo.calls[1]
	assert.Equal(t, repository.TaskStatusFailed, failed.status)
	assert.Equal(t, 2, failed.attempts)
	require.NotNil(t, failed.lastError)
	assert.Contains(t, *failed.lastError, "broker unreachable")
}
