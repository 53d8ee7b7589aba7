package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/imagehost/internal/domain/model"
)

// UserRepository — пользователи и их привязка к плану.
// План не загружается: User.Plan заполняет сервисный слой по PlanID.
type UserRepository interface {
	// Get возвращает пользователя по ID.
	Get(ctx context.Context, id string) (*model.User, error)
	// EnsureExists создаёт пользователя без плана, если его ещё нет.
	EnsureExists(ctx context.Context, id string) (*model.User, error)
	// SetPlan назначает план (nil — снять план).
	SetPlan(ctx context.Context, userID string, planID *int64) error
}

type userRepo struct {
	db DBTX
}

// NewUserRepository создаёт репозиторий пользователей.
func NewUserRepository(db DBTX) UserRepository {
	return &userRepo{db: db}
}

func (r *userRepo) Get(ctx context.Context, id string) (*model.User, error) {
	u := &model.User{}
	err := r.db.QueryRow(ctx,
		`SELECT id, plan_id, created_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.PlanID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	return u, nil
}

func (r *userRepo) EnsureExists(ctx context.Context, id string) (*model.User, error) {
	// DO UPDATE без изменений нужен, чтобы RETURNING вернул существующую строку
	u := &model.User{}
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (id) VALUES ($1)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING id, plan_id, created_at`, id,
	).Scan(&u.ID, &u.PlanID, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("ошибка регистрации пользователя: %w", err)
	}
	return u, nil
}

func (r *userRepo) SetPlan(ctx context.Context, userID string, planID *int64) error {
	tag, err := r.db.Exec(ctx, `UPDATE users SET plan_id = $2 WHERE id = $1`, userID, planID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: план %d", ErrNotFound, *planID)
		}
		return fmt.Errorf("ошибка назначения плана: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
