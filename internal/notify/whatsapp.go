package notify

import (
	"fmt"
	"net/url"
	"strings"
)

// WhatsApp deep-link builders. Pure formatting: sending the message (and
// advancing the order status afterwards) is the caller's concern.

// WaLink builds a wa.me link with prefilled text. Returns "" for an empty
// phone, so callers can render conditionally.
func WaLink(phone, text string) string {
	digits := onlyDigits(phone)
	if digits == "" {
		return ""
	}
	link := "https://wa.me/" + digits
	if text != "" {
		link += "?text=" + url.QueryEscape(text)
	}
	return link
}

// CustomerLink prefills a greeting for the order's customer.
func CustomerLink(phone, orderID, businessName string) string {
	if phone == "" {
		return ""
	}
	text := fmt.Sprintf("Hola! Te escribo por tu pedido %s de %s.", ShortID(orderID), businessName)
	return WaLink(phone, text)
}

// DeliveryLink prefills the full order message for a rider.
func DeliveryLink(celular, orderText string) string {
	return WaLink(celular, orderText)
}

// StoreLink prefills a note to the business about an order.
func StoreLink(phone, orderID string) string {
	if phone == "" {
		return ""
	}
	text := fmt.Sprintf("Hola! Consulta sobre el pedido %s.", ShortID(orderID))
	return WaLink(phone, text)
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
