// Package telegram delivers order notifications to rider and business chats
// and turns button callbacks back into engine actions. The hard part is
// keeping every previously sent message consistent after a state change:
// rider messages are edited in place, business broadcasts are edited across
// every admin chat that received them.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/fuddi-app/dispatch/internal/engine"
	"github.com/fuddi-app/dispatch/internal/metrics"
	"github.com/fuddi-app/dispatch/internal/notify"
	"github.com/fuddi-app/dispatch/internal/repository"
	"github.com/fuddi-app/dispatch/internal/token"
)

type Engine interface {
	Apply(ctx context.Context, rawToken, requestedAction string) (engine.Result, error)
}

type OrderStore interface {
	GetByID(ctx context.Context, id string) (*repository.Order, error)
	AppendBusinessMessages(ctx context.Context, orderID string, refs []repository.BusinessMessageRef) error
	ListBusinessMessages(ctx context.Context, orderID string) ([]repository.BusinessMessageRef, error)
}

type DeliveryStore interface {
	GetByID(ctx context.Context, id string) (*repository.Delivery, error)
	LinkChat(ctx context.Context, id string, chatID int64) error
}

type BusinessStore interface {
	GetByID(ctx context.Context, id string) (*repository.Business, error)
	LinkChat(ctx context.Context, id string, chatID int64) error
}

// EditOutcome is the per-target result of a fan-out edit. Partial failure is
// tolerated: one unreachable admin chat never blocks the others.
type EditOutcome struct {
	ChatID    int64
	MessageID int
	Err       error
}

type Dispatcher struct {
	api        API
	engine     Engine
	orders     OrderStore
	deliveries DeliveryStore
	businesses BusinessStore
	codec      *token.Codec
	log        *zap.Logger
}

func NewDispatcher(api API, eng Engine, orders OrderStore, deliveries DeliveryStore, businesses BusinessStore, codec *token.Codec, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		api:        api,
		engine:     eng,
		orders:     orders,
		deliveries: deliveries,
		businesses: businesses,
		codec:      codec,
		log:        log,
	}
}

// NotifyDeliveryAssigned sends the "new order" message with Accept/Decline
// buttons to the rider's linked chat. Riders without a linked chat are
// skipped silently.
func (d *Dispatcher) NotifyDeliveryAssigned(ctx context.Context, delivery *repository.Delivery, order *repository.Order, businessName string) error {
	if delivery.TelegramChatID == nil {
		d.log.Debug("delivery has no linked chat, skipping notification",
			zap.String("delivery_id", delivery.ID),
			zap.String("order_id", order.ID))
		return nil
	}

	rendered := notify.RenderOrderMessage(order, businessName, notify.ModeAssigned)
	markup, err := buildKeyboard(d.codec, order.ID, []token.Action{token.ActionConfirm, token.ActionDiscard})
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(*delivery.TelegramChatID, rendered.Text)
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	if _, err := d.api.Send(msg); err != nil {
		return fmt.Errorf("send delivery notification: %w", err)
	}
	metrics.TelegramSendsTotal.WithLabelValues("send").Inc()
	return nil
}

// NotifyBusiness broadcasts the order with Accept/Decline buttons to every
// linked admin chat and persists the chat/message pairs so the later fan-out
// edit can find them.
func (d *Dispatcher) NotifyBusiness(ctx context.Context, business *repository.Business, order *repository.Order) error {
	chatIDs := business.ChatIDs()
	if len(chatIDs) == 0 {
		d.log.Debug("business has no linked chats, skipping notification",
			zap.String("business_id", business.ID),
			zap.String("order_id", order.ID))
		return nil
	}

	rendered := notify.RenderOrderMessage(order, business.Name, notify.ModeAccepted)
	markup, err := businessKeyboard(d.codec, order.ID)
	if err != nil {
		return err
	}

	var refs []repository.BusinessMessageRef
	for _, chatID := range chatIDs {
		msg := tgbotapi.NewMessage(chatID, rendered.Text)
		if markup != nil {
			msg.ReplyMarkup = *markup
		}
		sent, err := d.api.Send(msg)
		if err != nil {
			d.log.Warn("business notification failed for chat",
				zap.Int64("chat_id", chatID),
				zap.String("order_id", order.ID),
				zap.Error(err))
			continue
		}
		metrics.TelegramSendsTotal.WithLabelValues("send").Inc()
		refs = append(refs, repository.BusinessMessageRef{
			OrderID:   order.ID,
			ChatID:    chatID,
			MessageID: sent.MessageID,
		})
	}

	if len(refs) == 0 {
		return fmt.Errorf("business notification reached no chat for order %s", order.ID)
	}
	return d.orders.AppendBusinessMessages(ctx, order.ID, refs)
}

// HandleUpdate is the webhook entry point. It never returns an error: the
// webhook contract is fire-and-forget, failures are logged.
func (d *Dispatcher) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.IsCommand():
		d.handleCommand(ctx, update.Message)
	case update.CallbackQuery != nil:
		d.handleCallback(ctx, update.CallbackQuery)
	}
}

// handleCommand links a chat to a delivery or business via "/start <id>".
// Deliveries are tried first; first match wins.
func (d *Dispatcher) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	if msg.Command() != "start" {
		return
	}
	chatID := msg.Chat.ID
	entityID := strings.TrimSpace(msg.CommandArguments())
	if entityID == "" {
		d.reply(chatID, "Hola! Envía /start <id> para vincular este chat.")
		return
	}

	err := d.deliveries.LinkChat(ctx, entityID, chatID)
	if err == nil {
		d.log.Info("delivery chat linked", zap.String("delivery_id", entityID), zap.Int64("chat_id", chatID))
		d.reply(chatID, "✅ Chat vinculado. Aquí recibirás tus pedidos asignados.")
		return
	}
	if !errors.Is(err, repository.ErrObjectNotFound) {
		d.log.Error("delivery link failed", zap.String("delivery_id", entityID), zap.Error(err))
		d.reply(chatID, "Error al vincular, intenta de nuevo.")
		return
	}

	err = d.businesses.LinkChat(ctx, entityID, chatID)
	switch {
	case err == nil:
		d.log.Info("business chat linked", zap.String("business_id", entityID), zap.Int64("chat_id", chatID))
		d.reply(chatID, "✅ Chat vinculado. Aquí recibirás los pedidos del negocio.")
	case errors.Is(err, repository.ErrObjectNotFound):
		d.reply(chatID, "No encontré ese id. Revisa el código e intenta de nuevo.")
	default:
		d.log.Error("business link failed", zap.String("business_id", entityID), zap.Error(err))
		d.reply(chatID, "Error al vincular, intenta de nuevo.")
	}
}

func (d *Dispatcher) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	// The spinner is cleared no matter what happens below.
	answer := "Error interno"
	defer func() {
		if _, err := d.api.Request(tgbotapi.NewCallback(cq.ID, answer)); err != nil {
			d.log.Warn("answer callback failed", zap.Error(err))
		} else {
			metrics.TelegramSendsTotal.WithLabelValues("answer").Inc()
		}
	}()

	sep := strings.Index(cq.Data, "|")
	if sep <= 0 || sep == len(cq.Data)-1 {
		answer = "Acción inválida"
		return
	}
	actionName := strings.TrimPrefix(cq.Data[:sep], "order_")
	rawToken := cq.Data[sep+1:]

	action, ok := token.ParseAction(actionName)
	if !ok {
		answer = "Acción inválida"
		return
	}

	res, err := d.engine.Apply(ctx, rawToken, actionName)
	if err != nil {
		answer = callbackErrorText(err)
		d.log.Warn("callback action rejected",
			zap.String("action", actionName),
			zap.Error(err))
		return
	}
	answer = callbackSuccessText(action)

	order, err := d.orders.GetByID(ctx, res.OrderID)
	if err != nil {
		d.log.Error("reload order after action failed",
			zap.String("order_id", res.OrderID),
			zap.Error(err))
		return
	}

	if action.Business() {
		d.editBusinessBroadcast(ctx, cq, action, order)
		return
	}
	d.editRiderMessage(cq, action, order)
}

// editRiderMessage rewrites the rider's message to the new state, swapping
// the buttons for the next legal action set (or none once terminal).
func (d *Dispatcher) editRiderMessage(cq *tgbotapi.CallbackQuery, action token.Action, order *repository.Order) {
	if cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	messageID := cq.Message.MessageID

	switch action {
	case token.ActionDelivered:
		d.edit(chatID, messageID, deliveredReceipt(order), nil)
	case token.ActionDiscard:
		d.edit(chatID, messageID, fmt.Sprintf("🚫 Pedido %s descartado", notify.ShortID(order.ID)), nil)
	default:
		rendered := notify.RenderOrderMessage(order, order.BusinessName, notify.ModeAccepted)
		text := rendered.Text + "\n\nEstado: " + statusLabel(action)
		markup, err := riderKeyboard(d.codec, order.ID, order.Status)
		if err != nil {
			d.log.Error("build rider keyboard failed", zap.Error(err))
			return
		}
		d.edit(chatID, messageID, text, markup)
	}
}

// editBusinessBroadcast re-renders the order message with a line naming the
// acting admin and applies it to every chat/message pair recorded at send
// time. Best effort: failures are collected per target and logged, never
// surfaced to users.
func (d *Dispatcher) editBusinessBroadcast(ctx context.Context, cq *tgbotapi.CallbackQuery, action token.Action, order *repository.Order) {
	rendered := notify.RenderOrderMessage(order, order.BusinessName, notify.ModeAccepted)
	text := rendered.Text + "\n\n" + businessOutcomeLine(action, actorName(cq.From))

	refs, err := d.orders.ListBusinessMessages(ctx, order.ID)
	if err != nil {
		d.log.Error("list business messages failed",
			zap.String("order_id", order.ID),
			zap.Error(err))
		return
	}

	outcomes := d.EditBusinessMessages(refs, text)
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			metrics.FanoutEditFailuresTotal.Inc()
			d.log.Warn("business fan-out edit failed",
				zap.String("order_id", order.ID),
				zap.Int64("chat_id", outcome.ChatID),
				zap.Int("message_id", outcome.MessageID),
				zap.Error(outcome.Err))
		}
	}
}

// EditBusinessMessages applies the same text to every recorded broadcast
// message, attempting each edit independently.
func (d *Dispatcher) EditBusinessMessages(refs []repository.BusinessMessageRef, text string) []EditOutcome {
	outcomes := make([]EditOutcome, 0, len(refs))
	for _, ref := range refs {
		err := d.edit(ref.ChatID, ref.MessageID, text, nil)
		outcomes = append(outcomes, EditOutcome{ChatID: ref.ChatID, MessageID: ref.MessageID, Err: err})
	}
	return outcomes
}

func (d *Dispatcher) edit(chatID int64, messageID int, text string, markup *tgbotapi.InlineKeyboardMarkup) error {
	var edit tgbotapi.EditMessageTextConfig
	if markup != nil {
		edit = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, *markup)
	} else {
		edit = tgbotapi.NewEditMessageText(chatID, messageID, text)
	}
	if _, err := d.api.Send(edit); err != nil {
		return err
	}
	metrics.TelegramSendsTotal.WithLabelValues("edit").Inc()
	return nil
}

func (d *Dispatcher) reply(chatID int64, text string) {
	if _, err := d.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		d.log.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
		return
	}
	metrics.TelegramSendsTotal.WithLabelValues("send").Inc()
}

func deliveredReceipt(order *repository.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pedido %s — %s\n", notify.ShortID(order.ID), order.BusinessName)
	fmt.Fprintf(&b, "Total: $%.2f\n", order.Total)
	b.WriteString("🎉 Entregado")
	return b.String()
}

func statusLabel(action token.Action) string {
	switch action {
	case token.ActionConfirm:
		return "Aceptado"
	case token.ActionOnWay:
		return "En camino"
	default:
		return string(action)
	}
}

func businessOutcomeLine(action token.Action, actor string) string {
	if action == token.ActionBizConfirm {
		return "✅ Aceptado por " + actor
	}
	return "❌ Cancelado por " + actor
}

func actorName(user *tgbotapi.User) string {
	if user == nil {
		return "admin"
	}
	name := strings.TrimSpace(user.FirstName + " " + user.LastName)
	if name == "" {
		name = user.UserName
	}
	if name == "" {
		name = "admin"
	}
	return name
}

func callbackSuccessText(action token.Action) string {
	switch action {
	case token.ActionConfirm, token.ActionBizConfirm:
		return "✅ Aceptado"
	case token.ActionOnWay:
		return "🛵 En camino"
	case token.ActionDelivered:
		return "🎉 Entregado"
	default:
		return "🚫 Descartado"
	}
}

func callbackErrorText(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidToken):
		return "Token inválido"
	case errors.Is(err, engine.ErrTokenExpired):
		return "El enlace expiró"
	case errors.Is(err, engine.ErrInvalidAction):
		return "Acción inválida"
	case errors.Is(err, engine.ErrOrderNotFound):
		return "Pedido no encontrado"
	case errors.Is(err, engine.ErrStaleOrder):
		return "El pedido cambió, revisa el estado"
	default:
		return "Error interno"
	}
}
