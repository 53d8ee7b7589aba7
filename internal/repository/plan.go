package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/bigkaa/imagehost/internal/domain/model"
)

// PlanRepository — тарифные планы и их размеры миниатюр.
type PlanRepository interface {
	// GetByID возвращает план с размерами миниатюр.
	GetByID(ctx context.Context, id int64) (*model.Plan, error)
	// GetByName возвращает план по имени.
	GetByName(ctx context.Context, name string) (*model.Plan, error)
	// List возвращает все планы, упорядоченные по ID.
	List(ctx context.Context) ([]*model.Plan, error)
	// Create создаёт план без размеров миниатюр, заполняет ID.
	Create(ctx context.Context, p *model.Plan) error
	// SetThumbnailSizes заменяет набор размеров миниатюр плана.
	SetThumbnailSizes(ctx context.Context, planID int64, sizes []int) error
}

type planRepo struct {
	db DBTX
}

// NewPlanRepository создаёт репозиторий планов.
func NewPlanRepository(db DBTX) PlanRepository {
	return &planRepo{db: db}
}

// planSelect — план и отсортированный массив размеров миниатюр.
const planSelect = `
	SELECT p.id, p.name, p.expose_direct_link, p.allow_binary_download,
		COALESCE((
			SELECT array_agg(ts.size ORDER BY ts.size)
			FROM plan_thumbnail_sizes pts
			JOIN thumbnail_sizes ts ON ts.id = pts.thumbnail_size_id
			WHERE pts.plan_id = p.id
		), '{}'::int[])
	FROM plans p`

func scanPlan(row pgx.Row) (*model.Plan, error) {
	p := &model.Plan{}
	var sizes []int32
	if err := row.Scan(&p.ID, &p.Name, &p.ExposeDirectLink, &p.AllowBinaryDownload, &sizes); err != nil {
		return nil, err
	}
	p.ThumbnailSizes = make([]int, len(sizes))
	for i, s := range sizes {
		p.ThumbnailSizes[i] = int(s)
	}
	return p, nil
}

func (r *planRepo) GetByID(ctx context.Context, id int64) (*model.Plan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx, planSelect+` WHERE p.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения плана: %w", err)
	}
	return p, nil
}

func (r *planRepo) GetByName(ctx context.Context, name string) (*model.Plan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx, planSelect+` WHERE p.name = $1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения плана по имени: %w", err)
	}
	return p, nil
}

func (r *planRepo) List(ctx context.Context) ([]*model.Plan, error) {
	rows, err := r.db.Query(ctx, planSelect+` ORDER BY p.id`)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка планов: %w", err)
	}
	defer rows.Close()

	var result []*model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования плана: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *planRepo) Create(ctx context.Context, p *model.Plan) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO plans (name, expose_direct_link, allow_binary_download)
		VALUES ($1, $2, $3)
		RETURNING id`,
		p.Name, p.ExposeDirectLink, p.AllowBinaryDownload,
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: план %q уже существует", ErrConflict, p.Name)
		}
		return fmt.Errorf("ошибка создания плана: %w", err)
	}
	return nil
}

func (r *planRepo) SetThumbnailSizes(ctx context.Context, planID int64, sizes []int) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM plan_thumbnail_sizes WHERE plan_id = $1`, planID); err != nil {
		return fmt.Errorf("ошибка очистки размеров миниатюр: %w", err)
	}
	if len(sizes) == 0 {
		return nil
	}

	// Размеры общие для всех планов — создаём недостающие
	if _, err := r.db.Exec(ctx, `
		INSERT INTO thumbnail_sizes (size)
		SELECT unnest($1::int[])
		ON CONFLICT (size) DO NOTHING`, sizes); err != nil {
		return fmt.Errorf("ошибка создания размеров миниатюр: %w", err)
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO plan_thumbnail_sizes (plan_id, thumbnail_size_id)
		SELECT $1, id FROM thumbnail_sizes WHERE size = ANY($2::int[])
		ON CONFLICT DO NOTHING`, planID, sizes)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: план %d", ErrNotFound, planID)
		}
		return fmt.Errorf("ошибка привязки размеров миниатюр: %w", err)
	}
	return nil
}
