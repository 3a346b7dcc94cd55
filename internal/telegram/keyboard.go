package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/fuddi-app/dispatch/internal/repository"
	"github.com/fuddi-app/dispatch/internal/token"
)

// Callback payloads are "<prefix>|<token>". Rider prefixes carry an "order_"
// namespace; business prefixes keep their "biz_" action name verbatim.
func callbackPrefix(action token.Action) string {
	if action.Business() {
		return string(action)
	}
	return "order_" + string(action)
}

var buttonLabels = map[token.Action]string{
	token.ActionConfirm:    "✅ Aceptar",
	token.ActionDiscard:    "❌ Rechazar",
	token.ActionOnWay:      "🛵 En camino",
	token.ActionDelivered:  "🎉 Entregado",
	token.ActionBizConfirm: "✅ Aceptar",
	token.ActionBizDiscard: "❌ Cancelar",
}

// riderActionsFor is the button progression a rider sees for an order in the
// given status. Terminal states have no buttons.
func riderActionsFor(status repository.Status) []token.Action {
	switch status {
	case repository.StatusPending:
		return []token.Action{token.ActionConfirm, token.ActionDiscard}
	case repository.StatusConfirmed, repository.StatusPreparing, repository.StatusReady:
		return []token.Action{token.ActionOnWay, token.ActionDelivered}
	case repository.StatusOnWay:
		return []token.Action{token.ActionDelivered}
	default:
		return nil
	}
}

func buildKeyboard(codec *token.Codec, orderID string, actions []token.Action) (*tgbotapi.InlineKeyboardMarkup, error) {
	if len(actions) == 0 {
		return nil, nil
	}
	var buttons []tgbotapi.InlineKeyboardButton
	for _, action := range actions {
		tok, err := codec.Encode(orderID, action)
		if err != nil {
			return nil, err
		}
		buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(
			buttonLabels[action],
			callbackPrefix(action)+"|"+tok,
		))
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(buttons...))
	return &markup, nil
}

func riderKeyboard(codec *token.Codec, orderID string, status repository.Status) (*tgbotapi.InlineKeyboardMarkup, error) {
	return buildKeyboard(codec, orderID, riderActionsFor(status))
}

func businessKeyboard(codec *token.Codec, orderID string) (*tgbotapi.InlineKeyboardMarkup, error) {
	return buildKeyboard(codec, orderID, []token.Action{token.ActionBizConfirm, token.ActionBizDiscard})
}
