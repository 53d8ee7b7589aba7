package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/imagehost/internal/domain/model"
)

// BinaryImageRepository — производные изображения с непрозрачной ссылкой.
type BinaryImageRepository interface {
	// Create создаёт запись. ErrConflict — ссылка уже занята.
	Create(ctx context.Context, b *model.BinaryImage) error
	// GetByID возвращает binary image по UUID.
	GetByID(ctx context.Context, id string) (*model.BinaryImage, error)
	// GetByLink возвращает binary image по ссылке.
	GetByLink(ctx context.Context, link string) (*model.BinaryImage, error)
	// Delete удаляет запись. Связь в images обнуляется внешним ключом.
	Delete(ctx context.Context, id string) error
	// ListExpired возвращает записи, срок которых истёк раньше before.
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*model.BinaryImage, error)
}

type binaryImageRepo struct {
	db DBTX
}

// NewBinaryImageRepository создаёт репозиторий binary images.
func NewBinaryImageRepository(db DBTX) BinaryImageRepository {
	return &binaryImageRepo{db: db}
}

const binaryImageColumns = `id, user_id, storage_key, link, expiration_seconds, created_at`

func scanBinaryImage(row pgx.Row) (*model.BinaryImage, error) {
	b := &model.BinaryImage{}
	err := row.Scan(&b.ID, &b.OwnerID, &b.StorageKey, &b.Link, &b.ExpirationSeconds, &b.CreatedAt)
	return b, err
}

func (r *binaryImageRepo) Create(ctx context.Context, b *model.BinaryImage) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO binary_images (id, user_id, storage_key, link, expiration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.OwnerID, b.StorageKey, b.Link, b.ExpirationSeconds, b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ссылка %s уже существует", ErrConflict, b.Link)
		}
		return fmt.Errorf("ошибка создания binary image: %w", err)
	}
	return nil
}

func (r *binaryImageRepo) get(ctx context.Context, where string, arg any) (*model.BinaryImage, error) {
	query := fmt.Sprintf(`SELECT %s FROM binary_images WHERE %s = $1`, binaryImageColumns, where)
	b, err := scanBinaryImage(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения binary image: %w", err)
	}
	return b, nil
}

func (r *binaryImageRepo) GetByID(ctx context.Context, id string) (*model.BinaryImage, error) {
	return r.get(ctx, "id", id)
}

func (r *binaryImageRepo) GetByLink(ctx context.Context, link string) (*model.BinaryImage, error) {
	return r.get(ctx, "link", link)
}

func (r *binaryImageRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM binary_images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления binary image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *binaryImageRepo) ListExpired(ctx context.Context, before time.Time, limit int) ([]*model.BinaryImage, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM binary_images
		WHERE created_at + make_interval(secs => expiration_seconds) < $1
		ORDER BY created_at
		LIMIT $2`, binaryImageColumns), before, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка поиска истёкших binary images: %w", err)
	}
	defer rows.Close()

	var result []*model.BinaryImage
	for rows.Next() {
		b, err := scanBinaryImage(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования binary image: %w", err)
		}
		result = append(result, b)
	}
	return result, rows.Err()
}
