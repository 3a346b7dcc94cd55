package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/fuddi-app/dispatch/internal/db"
	"github.com/fuddi-app/dispatch/internal/repository"
)

type DeliveryRepo struct {
	db db.DB
}

func NewDeliveryRepo(database db.DB) *DeliveryRepo {
	return &DeliveryRepo{db: database}
}

func (r *DeliveryRepo) GetByID(ctx context.Context, id string) (*repository.Delivery, error) {
	var delivery repository.Delivery
	err := r.db.Get(ctx, &delivery, "SELECT * FROM deliveries WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &delivery, nil
}

// LinkChat binds the rider to a Telegram chat. A rider has exactly one chat,
// so relinking overwrites.
func (r *DeliveryRepo) LinkChat(ctx context.Context, id string, chatID int64) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE deliveries SET telegram_chat_id = $2 WHERE id = $1
    `, id, chatID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
