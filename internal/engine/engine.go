// Package engine is the order state machine: it validates a decoded action
// token, computes the field delta for the requested action and applies it
// through the order store. Messaging side effects belong to the dispatchers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fuddi-app/dispatch/internal/metrics"
	"github.com/fuddi-app/dispatch/internal/repository"
	"github.com/fuddi-app/dispatch/internal/token"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrTokenExpired  = errors.New("token expired")
	ErrInvalidAction = errors.New("invalid action")
	ErrOrderNotFound = errors.New("order not found")

	// ErrStaleOrder: the order changed between read and write; the caller
	// should refresh and retry instead of overwriting newer state.
	ErrStaleOrder = errors.New("order changed concurrently")

	ErrInternal = errors.New("internal error")
)

type Store interface {
	GetByID(ctx context.Context, id string) (*repository.Order, error)
	ApplyDelta(ctx context.Context, delta repository.ActionDelta, event repository.OrderEvent) error
}

type Result struct {
	OrderID string
}

type Engine struct {
	codec *token.Codec
	store Store
	log   *zap.Logger
}

func New(codec *token.Codec, store Store, log *zap.Logger) *Engine {
	return &Engine{codec: codec, store: store, log: log}
}

// Apply runs the full validation sequence and, when legal, mutates the order.
// Every failure is a typed error; nothing panics across this boundary.
// Orders already in a terminal state return success without mutating
// anything, which makes repeated clicks on a delivered order harmless.
func (e *Engine) Apply(ctx context.Context, rawToken, requestedAction string) (Result, error) {
	orderID, embedded, err := e.codec.Decode(rawToken)
	if err != nil {
		if errors.Is(err, token.ErrTokenExpired) {
			return Result{}, e.reject(ErrTokenExpired, "expired_token")
		}
		return Result{}, e.reject(ErrInvalidToken, "invalid_token")
	}

	requested, ok := token.ParseAction(requestedAction)
	if !ok || requested != embedded {
		return Result{}, e.reject(ErrInvalidAction, "invalid_action")
	}

	order, err := e.store.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return Result{}, e.reject(ErrOrderNotFound, "order_not_found")
		}
		e.log.Error("load order failed", zap.String("order_id", orderID), zap.Error(err))
		return Result{}, e.reject(fmt.Errorf("%w: %v", ErrInternal, err), "internal")
	}

	if order.Status.Terminal() {
		return Result{OrderID: order.ID}, nil
	}

	delta, newStatus := deltaFor(requested, order)
	event := repository.OrderEvent{
		OrderID: order.ID,
		Action:  string(requested),
		Status:  newStatus,
		At:      time.Now().UTC(),
	}

	if err := e.store.ApplyDelta(ctx, delta, event); err != nil {
		switch {
		case errors.Is(err, repository.ErrObjectNotFound):
			return Result{}, e.reject(ErrOrderNotFound, "order_not_found")
		case errors.Is(err, repository.ErrStaleOrder):
			return Result{}, e.reject(ErrStaleOrder, "stale_order")
		default:
			e.log.Error("apply action failed",
				zap.String("order_id", order.ID),
				zap.String("action", string(requested)),
				zap.Error(err))
			return Result{}, e.reject(fmt.Errorf("%w: %v", ErrInternal, err), "internal")
		}
	}

	metrics.ActionsAppliedTotal.WithLabelValues(string(requested)).Inc()
	e.log.Info("order action applied",
		zap.String("order_id", order.ID),
		zap.String("action", string(requested)),
		zap.String("status", string(newStatus)))

	return Result{OrderID: order.ID}, nil
}

func (e *Engine) reject(err error, reason string) error {
	metrics.ActionErrorsTotal.WithLabelValues(reason).Inc()
	return err
}

// deltaFor computes the field changes for one action against the order as
// read. Discard variants intentionally leave the status open: declining is a
// reassignment signal, not a terminal transition. The returned status is the
// one the order will hold after the write.
func deltaFor(action token.Action, order *repository.Order) (repository.ActionDelta, repository.Status) {
	delta := repository.ActionDelta{
		OrderID:      order.ID,
		ExpectStatus: order.Status,
	}

	switch action {
	case token.ActionConfirm:
		delta.NewStatus = repository.StatusPreparing
		delta.AcceptanceStatus = repository.AcceptanceAccepted
	case token.ActionBizConfirm:
		delta.NewStatus = repository.StatusPreparing
	case token.ActionOnWay:
		delta.NewStatus = repository.StatusOnWay
		delta.StampOnWay = true
	case token.ActionDelivered:
		delta.NewStatus = repository.StatusDelivered
		delta.StampDelivered = true
	case token.ActionDiscard, token.ActionBizDiscard:
		delta.ClearAssignment = true
		if order.AssignedDelivery != nil {
			delta.AppendRejectedBy = *order.AssignedDelivery
		}
	}

	newStatus := order.Status
	if delta.NewStatus != "" {
		newStatus = delta.NewStatus
	}
	return delta, newStatus
}
