package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"github.com/fuddi-app/dispatch/internal/db"
	"github.com/fuddi-app/dispatch/internal/repository"
)

type BusinessRepo struct {
	db db.DB
}

func NewBusinessRepo(database db.DB) *BusinessRepo {
	return &BusinessRepo{db: database}
}

func (r *BusinessRepo) GetByID(ctx context.Context, id string) (*repository.Business, error) {
	var business repository.Business
	err := r.db.Get(ctx, &business, "SELECT * FROM businesses WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &business, nil
}

// LinkChat appends an admin chat to the business chat list. A business may
// have several admins, so linking is additive and idempotent.
func (r *BusinessRepo) LinkChat(ctx context.Context, id string, chatID int64) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE businesses
        SET telegram_chat_ids = CASE
            WHEN $2 = ANY(telegram_chat_ids) THEN telegram_chat_ids
            ELSE array_append(telegram_chat_ids, $2)
        END
        WHERE id = $1
    `, id, chatID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}
