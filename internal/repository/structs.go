package repository

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrObjectNotFound = errors.New("not found")

	// ErrStaleOrder means a conditional update matched no row because the
	// order status changed after it was read. The caller raced another writer.
	ErrStaleOrder = errors.New("order state changed concurrently")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusOnWay     Status = "on_way"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further mutation is permitted through the
// action engine.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

const (
	AcceptancePending  = "pending"
	AcceptanceAccepted = "accepted"
)

type Order struct {
	ID               string     `db:"id"`
	BusinessID       string     `db:"business_id"`
	BusinessName     string     `db:"business_name"`
	Status           Status     `db:"status"`
	AssignedDelivery *string    `db:"assigned_delivery"`
	AcceptanceStatus string     `db:"acceptance_status"`
	RejectedBy       []string   `db:"rejected_by"`
	DeliveryCost     float64    `db:"delivery_cost"`
	DeliveryRefs     string     `db:"delivery_references"`
	Latitude         *float64   `db:"latitude"`
	Longitude        *float64   `db:"longitude"`
	Customer         Customer   `db:"customer"`
	Payment          Payment    `db:"payment"`
	Items            Items      `db:"items"`
	Timing           Timing     `db:"timing"`
	Subtotal         float64    `db:"subtotal"`
	Total            float64    `db:"total"`
	OnWayAt          *time.Time `db:"on_way_at"`
	DeliveredAt      *time.Time `db:"delivered_at"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

type Customer struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

const (
	PaymentCash     = "cash"
	PaymentTransfer = "transfer"
	PaymentMixed    = "mixed"
)

type Payment struct {
	Method     string  `json:"method"`
	CashAmount float64 `json:"cash_amount,omitempty"`
}

type Item struct {
	Name    string  `json:"name"`
	Variant string  `json:"variant,omitempty"`
	Qty     int     `json:"qty"`
	Price   float64 `json:"price"`
}

type Items []Item

type Timing struct {
	Immediate   bool       `json:"immediate"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// Delivery is a rider. TelegramChatID is nil until the rider links the bot
// with /start <id>.
type Delivery struct {
	ID             string `db:"id"`
	Nombres        string `db:"nombres"`
	Celular        string `db:"celular"`
	TelegramChatID *int64 `db:"telegram_chat_id"`
}

// Business keeps both the legacy single chat id and the current list;
// readers merge and de-duplicate the two.
type Business struct {
	ID              string  `db:"id"`
	Name            string  `db:"name"`
	Phone           string  `db:"phone"`
	TelegramChatID  *int64  `db:"telegram_chat_id"`
	TelegramChatIDs []int64 `db:"telegram_chat_ids"`
}

// ChatIDs returns every linked admin chat, legacy id included, de-duplicated
// in stable order.
func (b *Business) ChatIDs() []int64 {
	seen := make(map[int64]struct{}, len(b.TelegramChatIDs)+1)
	var ids []int64
	for _, id := range b.TelegramChatIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if b.TelegramChatID != nil {
		if _, ok := seen[*b.TelegramChatID]; !ok {
			ids = append(ids, *b.TelegramChatID)
		}
	}
	return ids
}

// BusinessMessageRef identifies one Telegram message sent to a business admin
// chat for an order. The full list per order is what makes fan-out edits
// possible.
type BusinessMessageRef struct {
	OrderID   string `db:"order_id"`
	ChatID    int64  `db:"chat_id"`
	MessageID int    `db:"message_id"`
	Seq       int    `db:"seq"`
}

type HistoryEntry struct {
	OrderID   string    `db:"order_id" json:"order_id"`
	Status    Status    `db:"status" json:"status"`
	ChangedAt time.Time `db:"changed_at" json:"changed_at"`
}

// ActionDelta is the field-level change an engine action computes. Zero
// values mean "leave unchanged". ExpectStatus guards the write: the update
// only applies while the order still has that status.
type ActionDelta struct {
	OrderID          string
	ExpectStatus     Status
	NewStatus        Status
	AcceptanceStatus string
	ClearAssignment  bool
	AppendRejectedBy string
	StampOnWay       bool
	StampDelivered   bool
}

// OrderEvent is the outbox payload recorded alongside every applied action.
type OrderEvent struct {
	OrderID string    `json:"order_id"`
	Action  string    `json:"action"`
	Status  Status    `json:"status"`
	At      time.Time `json:"at"`
}

type TaskStatus string

const (
	TaskStatusCreated    TaskStatus = "CREATED"
	TaskStatusProcessing TaskStatus = "PROCESSING"
	TaskStatusFailed     TaskStatus = "FAILED"
	TaskStatusDone       TaskStatus = "DONE"
)

type OutboxTask struct {
	ID          uuid.UUID       `db:"id"`
	Status      TaskStatus      `db:"status"`
	Payload     json.RawMessage `db:"payload"`
	Topic       string          `db:"topic"`
	Key         string          `db:"key"`
	Attempts    int             `db:"attempts"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
	CompletedAt *time.Time      `db:"completed_at"`
}

// jsonb bridging: pgx honors sql.Scanner / driver.Valuer for these types.

func scanJSON(src interface{}, dest interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}
}

func (c *Customer) Scan(src interface{}) error  { return scanJSON(src, c) }
func (c Customer) Value() (driver.Value, error) { return json.Marshal(c) }

func (p *Payment) Scan(src interface{}) error  { return scanJSON(src, p) }
func (p Payment) Value() (driver.Value, error) { return json.Marshal(p) }

func (i *Items) Scan(src interface{}) error { return scanJSON(src, i) }
func (i Items) Value() (driver.Value, error) {
	if i == nil {
		return json.Marshal(Items{})
	}
	return json.Marshal(i)
}

func (t *Timing) Scan(src interface{}) error  { return scanJSON(src, t) }
func (t Timing) Value() (driver.Value, error) { return json.Marshal(t) }
