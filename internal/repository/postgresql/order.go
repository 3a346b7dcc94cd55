package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"

	"github.com/fuddi-app/dispatch/internal/db"
	"github.com/fuddi-app/dispatch/internal/repository"
)

type OrderRepo struct {
	db     db.DB
	outbox *OutboxTaskRepo
	topic  string
}

func NewOrderRepo(database db.DB, outbox *OutboxTaskRepo, topic string) *OrderRepo {
	return &OrderRepo{db: database, outbox: outbox, topic: topic}
}

func (r *OrderRepo) GetByID(ctx context.Context, id string) (*repository.Order, error) {
	var order repository.Order
	err := r.db.Get(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &order, nil
}

// ApplyDelta applies one action's field changes, appends the status history
// entry and records the outbox event in a single transaction. The UPDATE is
// conditional on the status the caller read: zero affected rows on an
// existing order means a concurrent writer got there first.
func (r *OrderRepo) ApplyDelta(ctx context.Context, delta repository.ActionDelta, event repository.OrderEvent) error {
	now := time.Now().UTC()

	set := []string{"updated_at = $1"}
	args := []interface{}{now}
	next := 2

	if delta.NewStatus != "" {
		set = append(set, fmt.Sprintf("status = $%d", next))
		args = append(args, delta.NewStatus)
		next++
	}
	if delta.AcceptanceStatus != "" {
		set = append(set, fmt.Sprintf("acceptance_status = $%d", next))
		args = append(args, delta.AcceptanceStatus)
		next++
	}
	if delta.ClearAssignment {
		set = append(set, "assigned_delivery = NULL")
	}
	if delta.AppendRejectedBy != "" {
		set = append(set, fmt.Sprintf(
			"rejected_by = CASE WHEN $%d = ANY(rejected_by) THEN rejected_by ELSE array_append(rejected_by, $%d) END",
			next, next))
		args = append(args, delta.AppendRejectedBy)
		next++
	}
	if delta.StampOnWay {
		set = append(set, "on_way_at = $1")
	}
	if delta.StampDelivered {
		set = append(set, "delivered_at = $1")
	}

	query := fmt.Sprintf(
		"UPDATE orders SET %s WHERE id = $%d AND status = $%d",
		strings.Join(set, ", "), next, next+1)
	args = append(args, delta.OrderID, delta.ExpectStatus)

	tx, err := r.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin apply tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(context.Background())
	}()

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply order delta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var current repository.Order
		if err := tx.Get(ctx, &current, "SELECT * FROM orders WHERE id = $1", delta.OrderID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return repository.ErrObjectNotFound
			}
			return err
		}
		return repository.ErrStaleOrder
	}

	if delta.NewStatus != "" {
		_, err = tx.Exec(ctx, `
        INSERT INTO order_status_history (
            order_id, status, changed_at
        ) VALUES ($1, $2, $3)
    `, delta.OrderID, delta.NewStatus, now)
		if err != nil {
			return fmt.Errorf("append status history: %w", err)
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}
	task := &repository.OutboxTask{
		Topic:   r.topic,
		Key:     delta.OrderID,
		Payload: payload,
	}
	if err := r.outbox.CreateTx(ctx, tx, task); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// AppendBusinessMessages records the chat/message pairs produced by the
// business broadcast. Written once at send time, read-only afterwards.
func (r *OrderRepo) AppendBusinessMessages(ctx context.Context, orderID string, refs []repository.BusinessMessageRef) error {
	for i, ref := range refs {
		_, err := r.db.Exec(ctx, `
        INSERT INTO order_business_messages (
            order_id, chat_id, message_id, seq
        ) VALUES ($1, $2, $3, $4)
    `, orderID, ref.ChatID, ref.MessageID, i)
		if err != nil {
			return fmt.Errorf("append business message ref: %w", err)
		}
	}
	return nil
}

func (r *OrderRepo) ListBusinessMessages(ctx context.Context, orderID string) ([]repository.BusinessMessageRef, error) {
	var refs []repository.BusinessMessageRef
	err := r.db.Select(ctx, &refs, `
        SELECT * FROM order_business_messages
        WHERE order_id = $1
        ORDER BY seq ASC
    `, orderID)
	return refs, err
}

func (r *OrderRepo) GetHistory(ctx context.Context, orderID string) ([]repository.HistoryEntry, error) {
	var entries []repository.HistoryEntry
	err := r.db.Select(ctx, &entries, `
        SELECT order_id, status, changed_at FROM order_status_history
        WHERE order_id = $1
        ORDER BY changed_at ASC
    `, orderID)
	return entries, err
}
