// Package notify renders orders into human-readable chat text. Rendering is
// deterministic: identical input yields byte-identical output, so repeated
// message edits only change what actually changed.
package notify

import (
	"fmt"
	"strings"

	"github.com/fuddi-app/dispatch/internal/repository"
)

// Mode selects the framing of the rendered message.
type Mode string

const (
	// ModeAssigned is the short "new order" framing a rider sees before
	// accepting. No customer payment details yet.
	ModeAssigned Mode = "assigned"
	// ModeAccepted is the full framing: schedule, customer contact and the
	// payment breakdown.
	ModeAccepted Mode = "accepted"
)

type Message struct {
	Text     string
	MapsLink string
}

// RenderOrderMessage turns an order into the channel text shared by the
// Telegram and WhatsApp dispatchers.
func RenderOrderMessage(order *repository.Order, businessName string, mode Mode) Message {
	var b strings.Builder

	switch mode {
	case ModeAssigned:
		fmt.Fprintf(&b, "🛵 Nuevo pedido — %s\n", businessName)
	default:
		fmt.Fprintf(&b, "📦 Pedido %s — %s\n", ShortID(order.ID), businessName)
	}

	b.WriteString("\n")
	writeItems(&b, order.Items)

	mapsLink := MapsLink(order.Latitude, order.Longitude)
	if order.DeliveryRefs != "" {
		fmt.Fprintf(&b, "\n📍 Entrega: %s\n", order.DeliveryRefs)
	} else {
		b.WriteString("\n")
	}
	if mapsLink != "" {
		fmt.Fprintf(&b, "🗺 %s\n", mapsLink)
	}

	if mode == ModeAccepted {
		fmt.Fprintf(&b, "⏰ %s\n", scheduleLabel(order.Timing))
		if order.Customer.Name != "" {
			fmt.Fprintf(&b, "👤 Cliente: %s\n", order.Customer.Name)
		}
		if link := CustomerLink(order.Customer.Phone, order.ID, businessName); link != "" {
			fmt.Fprintf(&b, "💬 %s\n", link)
		}
		fmt.Fprintf(&b, "\nSubtotal: %s\n", money(order.Subtotal))
		fmt.Fprintf(&b, "Envío: %s\n", money(order.DeliveryCost))
		fmt.Fprintf(&b, "Total: %s\n", money(order.Total))
		fmt.Fprintf(&b, "Pago: %s\n", paymentLabel(order.Payment.Method))
		if line := cashToCollect(order.Payment, order.Total); line != "" {
			b.WriteString(line + "\n")
		}
	}

	return Message{Text: strings.TrimRight(b.String(), "\n"), MapsLink: mapsLink}
}

// ShortID is the display fragment of an order id: first 8 characters,
// uppercased.
func ShortID(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return strings.ToUpper(id)
}

// MapsLink builds a Google Maps deep link, or "" when no coordinates exist.
func MapsLink(lat, lng *float64) string {
	if lat == nil || lng == nil {
		return ""
	}
	return fmt.Sprintf("https://www.google.com/maps?q=%f,%f", *lat, *lng)
}

// writeItems groups items by product name in first-seen order. Variants of
// the same product are indented under one heading; plain items get a direct
// quantity line.
func writeItems(b *strings.Builder, items repository.Items) {
	type group struct {
		name  string
		items []repository.Item
	}
	var groups []*group
	index := make(map[string]*group)

	for _, item := range items {
		g, ok := index[item.Name]
		if !ok {
			g = &group{name: item.Name}
			index[item.Name] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, item)
	}

	for _, g := range groups {
		hasVariant := false
		for _, item := range g.items {
			if item.Variant != "" {
				hasVariant = true
				break
			}
		}
		if !hasVariant {
			for _, item := range g.items {
				fmt.Fprintf(b, "( %d ) %s\n", item.Qty, item.Name)
			}
			continue
		}
		fmt.Fprintf(b, "%s\n", g.name)
		for _, item := range g.items {
			label := item.Variant
			if label == "" {
				label = item.Name
			}
			fmt.Fprintf(b, "   ( %d ) %s\n", item.Qty, label)
		}
	}
}

func scheduleLabel(timing repository.Timing) string {
	if timing.Immediate || timing.ScheduledAt == nil {
		return "Entrega: Lo antes posible"
	}
	return "Entrega programada: " + timing.ScheduledAt.Format("02/01/2006 15:04")
}

func paymentLabel(method string) string {
	switch method {
	case repository.PaymentCash:
		return "Efectivo"
	case repository.PaymentTransfer:
		return "Transferencia"
	case repository.PaymentMixed:
		return "Mixto"
	default:
		return method
	}
}

// cashToCollect renders the amount the rider must collect. Transfer-only
// orders collect nothing; mixed collects just the cash portion.
func cashToCollect(payment repository.Payment, total float64) string {
	switch payment.Method {
	case repository.PaymentCash:
		return "Valor a cobrar: " + money(total)
	case repository.PaymentMixed:
		return "Valor a cobrar: " + money(payment.CashAmount)
	default:
		return ""
	}
}

func money(v float64) string {
	return fmt.Sprintf("$%.2f", v)
}
