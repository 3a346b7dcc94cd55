package db

import (
	"context"
	"fmt"
)

// EnsureSchema creates the dispatch tables when they do not exist yet. The
// statements are idempotent so repeated startups are safe.
func EnsureSchema(ctx context.Context, database DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS businesses (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    telegram_chat_id BIGINT,
    telegram_chat_ids BIGINT[] NOT NULL DEFAULT '{}'
)`,
		`CREATE TABLE IF NOT EXISTS deliveries (
    id TEXT PRIMARY KEY,
    nombres TEXT NOT NULL DEFAULT '',
    celular TEXT NOT NULL DEFAULT '',
    telegram_chat_id BIGINT
)`,
		`CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL DEFAULT '',
    business_name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'pending',
    assigned_delivery TEXT,
    acceptance_status TEXT NOT NULL DEFAULT 'pending',
    rejected_by TEXT[] NOT NULL DEFAULT '{}',
    delivery_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    delivery_references TEXT NOT NULL DEFAULT '',
    latitude DOUBLE PRECISION,
    longitude DOUBLE PRECISION,
    customer JSONB NOT NULL DEFAULT '{}',
    payment JSONB NOT NULL DEFAULT '{}',
    items JSONB NOT NULL DEFAULT '[]',
    timing JSONB NOT NULL DEFAULT '{}',
    subtotal DOUBLE PRECISION NOT NULL DEFAULT 0,
    total DOUBLE PRECISION NOT NULL DEFAULT 0,
    on_way_at TIMESTAMPTZ,
    delivered_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (status)`,
		`CREATE TABLE IF NOT EXISTS order_status_history (
    id BIGSERIAL PRIMARY KEY,
    order_id TEXT NOT NULL REFERENCES orders (id),
    status TEXT NOT NULL,
    changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_status_history_order ON order_status_history (order_id)`,
		`CREATE TABLE IF NOT EXISTS order_business_messages (
    order_id TEXT NOT NULL REFERENCES orders (id),
    chat_id BIGINT NOT NULL,
    message_id INT NOT NULL,
    seq INT NOT NULL DEFAULT 0,
    PRIMARY KEY (order_id, chat_id, message_id)
)`,
		`CREATE TABLE IF NOT EXISTS order_events_outbox (
    id UUID PRIMARY KEY,
    status TEXT NOT NULL DEFAULT 'CREATED',
    payload JSONB NOT NULL,
    topic TEXT NOT NULL,
    key TEXT NOT NULL DEFAULT '',
    attempts INT NOT NULL DEFAULT 0,
    last_error TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    completed_at TIMESTAMPTZ
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_events_outbox_status ON order_events_outbox (status, updated_at)`,
	}

	for _, stmt := range statements {
		if _, err := database.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
