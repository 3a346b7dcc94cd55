package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActionsAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuddi_order_actions_applied_total",
		Help: "Total number of order actions successfully applied, by action type.",
	},
		[]string{"action"},
	)

	ActionErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuddi_order_action_errors_total",
		Help: "Total number of rejected or failed order actions, by reason.",
	},
		[]string{"reason"},
	)

	TelegramSendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fuddi_telegram_sends_total",
		Help: "Total number of outbound Telegram messages, by kind (send/edit/answer).",
	},
		[]string{"kind"},
	)

	FanoutEditFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fuddi_business_fanout_edit_failures_total",
		Help: "Total number of per-chat failures while editing business broadcast messages.",
	})

	OutboxPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fuddi_outbox_events_published_total",
		Help: "Total number of order events published from the outbox.",
	})
)
