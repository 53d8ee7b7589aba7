package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/imagehost/internal/domain/model"
)

// ImageRepository — загруженные изображения.
type ImageRepository interface {
	// Create создаёт запись изображения, заполняет CreatedAt.
	Create(ctx context.Context, img *model.Image) error
	// GetByID возвращает изображение по UUID.
	GetByID(ctx context.Context, id string) (*model.Image, error)
	// GetByIDForUpdate блокирует строку до конца транзакции.
	GetByIDForUpdate(ctx context.Context, id string) (*model.Image, error)
	// GetByBinaryImageID возвращает изображение, связанное с binary image.
	GetByBinaryImageID(ctx context.Context, binaryID string) (*model.Image, error)
	// ListByOwner возвращает изображения владельца, новые первыми.
	ListByOwner(ctx context.Context, ownerID string) ([]*model.Image, error)
	// LinkBinaryImage связывает изображение с binary image.
	// ErrConflict — изображение уже связано.
	LinkBinaryImage(ctx context.Context, imageID, binaryID string) error
	// Delete удаляет запись изображения.
	Delete(ctx context.Context, id string) error
}

type imageRepo struct {
	db DBTX
}

// NewImageRepository создаёт репозиторий изображений.
func NewImageRepository(db DBTX) ImageRepository {
	return &imageRepo{db: db}
}

const imageColumns = `id, user_id, storage_key, original_filename, content_type,
	size, binary_image_id, created_at`

func scanImage(row pgx.Row) (*model.Image, error) {
	img := &model.Image{}
	err := row.Scan(
		&img.ID, &img.OwnerID, &img.StorageKey, &img.OriginalFilename, &img.ContentType,
		&img.Size, &img.BinaryImageID, &img.CreatedAt,
	)
	return img, err
}

func (r *imageRepo) Create(ctx context.Context, img *model.Image) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO images (id, user_id, storage_key, original_filename, content_type, size)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		img.ID, img.OwnerID, img.StorageKey, img.OriginalFilename, img.ContentType, img.Size,
	).Scan(&img.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: изображение %s уже существует", ErrConflict, img.ID)
		}
		return fmt.Errorf("ошибка создания изображения: %w", err)
	}
	return nil
}

func (r *imageRepo) get(ctx context.Context, query string, arg any) (*model.Image, error) {
	img, err := scanImage(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения изображения: %w", err)
	}
	return img, nil
}

func (r *imageRepo) GetByID(ctx context.Context, id string) (*model.Image, error) {
	return r.get(ctx, fmt.Sprintf(`SELECT %s FROM images WHERE id = $1`, imageColumns), id)
}

func (r *imageRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.Image, error) {
	return r.get(ctx, fmt.Sprintf(`SELECT %s FROM images WHERE id = $1 FOR UPDATE`, imageColumns), id)
}

func (r *imageRepo) GetByBinaryImageID(ctx context.Context, binaryID string) (*model.Image, error) {
	return r.get(ctx, fmt.Sprintf(`SELECT %s FROM images WHERE binary_image_id = $1`, imageColumns), binaryID)
}

func (r *imageRepo) ListByOwner(ctx context.Context, ownerID string) ([]*model.Image, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM images
		WHERE user_id = $1
		ORDER BY created_at DESC, id`, imageColumns), ownerID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка изображений: %w", err)
	}
	defer rows.Close()

	var result []*model.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования изображения: %w", err)
		}
		result = append(result, img)
	}
	return result, rows.Err()
}

func (r *imageRepo) LinkBinaryImage(ctx context.Context, imageID, binaryID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE images SET binary_image_id = $2
		WHERE id = $1 AND binary_image_id IS NULL`, imageID, binaryID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: binary image %s уже связан", ErrConflict, binaryID)
		}
		return fmt.Errorf("ошибка связывания binary image: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Строка не обновлена: изображения нет или связь уже установлена
	if _, err := r.GetByID(ctx, imageID); err != nil {
		return err
	}
	return fmt.Errorf("%w: изображение %s уже имеет binary image", ErrConflict, imageID)
}

func (r *imageRepo) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("ошибка удаления изображения: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
