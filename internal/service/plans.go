// plans.go — тарифные планы: кэш, определение пользователя запроса,
// административные операции (используются imagehost-admin).
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/imagehost/internal/domain/model"
	"github.com/bigkaa/imagehost/internal/repository"
)

// Prometheus-метрики кэша планов.
var (
	planCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ih_plan_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш планов.",
	})
	planCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ih_plan_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша планов.",
	})
)

// PlanCache — LRU-кэш планов с автоматическим TTL.
// Планы меняются редко (imagehost-admin), TTL ограничивает устаревание.
type PlanCache struct {
	cache *expirable.LRU[int64, *model.Plan]
}

// NewPlanCache создаёт кэш с указанным максимальным размером и TTL.
func NewPlanCache(maxSize int, ttl time.Duration) *PlanCache {
	return &PlanCache{cache: expirable.NewLRU[int64, *model.Plan](maxSize, nil, ttl)}
}

// Get возвращает план из кэша.
func (c *PlanCache) Get(id int64) (*model.Plan, bool) {
	p, ok := c.cache.Get(id)
	if ok {
		planCacheHitsTotal.Inc()
		return p, true
	}
	planCacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет план.
func (c *PlanCache) Set(p *model.Plan) {
	c.cache.Add(p.ID, p)
}

// Delete инвалидирует план.
func (c *PlanCache) Delete(id int64) {
	c.cache.Remove(id)
}

// Len возвращает количество записей.
func (c *PlanCache) Len() int {
	return c.cache.Len()
}

// UserResolver загружает пользователя запроса вместе с планом.
type UserResolver struct {
	store  repository.Store
	plans  *PlanCache
	logger *slog.Logger
}

// NewUserResolver создаёт UserResolver.
func NewUserResolver(store repository.Store, plans *PlanCache, logger *slog.Logger) *UserResolver {
	return &UserResolver{
		store:  store,
		plans:  plans,
		logger: logger.With(slog.String("component", "user_resolver")),
	}
}

// Resolve возвращает пользователя по subject из JWT.
// Пользователь создаётся без плана при первом обращении.
func (r *UserResolver) Resolve(ctx context.Context, subject string) (*model.User, error) {
	if subject == "" {
		return nil, ErrAuthenticationFailed
	}

	u, err := r.store.Users().EnsureExists(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки пользователя: %w", err)
	}
	if u.PlanID == nil {
		return u, nil
	}

	if p, ok := r.plans.Get(*u.PlanID); ok {
		u.Plan = p
		return u, nil
	}

	p, err := r.store.Plans().GetByID(ctx, *u.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// План удалён между запросами — пользователь без плана
			r.logger.Warn("План пользователя не найден",
				slog.String("user_id", u.ID),
				slog.Int64("plan_id", *u.PlanID),
			)
			u.PlanID = nil
			return u, nil
		}
		return nil, fmt.Errorf("ошибка загрузки плана: %w", err)
	}
	r.plans.Set(p)
	u.Plan = p
	return u, nil
}

// PlanService — административные операции с планами.
type PlanService struct {
	store  repository.Store
	plans  *PlanCache
	logger *slog.Logger
}

// NewPlanService создаёт PlanService. plans может быть nil (CLI без кэша).
func NewPlanService(store repository.Store, plans *PlanCache, logger *slog.Logger) *PlanService {
	return &PlanService{
		store:  store,
		plans:  plans,
		logger: logger.With(slog.String("component", "plans")),
	}
}

// List возвращает все планы.
func (s *PlanService) List(ctx context.Context) ([]*model.Plan, error) {
	return s.store.Plans().List(ctx)
}

// Create создаёт план с набором размеров миниатюр.
func (s *PlanService) Create(ctx context.Context, p *model.Plan) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" || len(p.Name) > 32 {
		return validationError("name", "имя плана должно содержать от 1 до 32 символов")
	}
	for _, size := range p.ThumbnailSizes {
		if !model.ValidThumbnailSize(size) {
			return validationError("thumbnail_sizes", "размер %d вне диапазона [%d, %d]",
				size, model.MinThumbnailSize, model.MaxThumbnailSize)
		}
	}

	err := s.store.RunInTx(ctx, func(tx repository.Store) error {
		if err := tx.Plans().Create(ctx, p); err != nil {
			return err
		}
		return tx.Plans().SetThumbnailSizes(ctx, p.ID, p.ThumbnailSizes)
	})
	if err != nil {
		return mapRepoError(err)
	}

	s.logger.Info("План создан",
		slog.Int64("plan_id", p.ID),
		slog.String("name", p.Name),
		slog.Bool("expose_direct_link", p.ExposeDirectLink),
		slog.Bool("allow_binary_download", p.AllowBinaryDownload),
	)
	return nil
}

// Assign назначает пользователю план по имени. Пользователь создаётся при отсутствии.
func (s *PlanService) Assign(ctx context.Context, userID, planName string) (*model.Plan, error) {
	if userID == "" {
		return nil, validationError("user", "идентификатор пользователя не задан")
	}

	var plan *model.Plan
	err := s.store.RunInTx(ctx, func(tx repository.Store) error {
		p, err := tx.Plans().GetByName(ctx, planName)
		if err != nil {
			return err
		}
		if _, err := tx.Users().EnsureExists(ctx, userID); err != nil {
			return err
		}
		plan = p
		return tx.Users().SetPlan(ctx, userID, &p.ID)
	})
	if err != nil {
		return nil, mapRepoError(err)
	}

	if s.plans != nil {
		s.plans.Delete(plan.ID)
	}
	s.logger.Info("План назначен",
		slog.String("user_id", userID),
		slog.String("plan", plan.Name),
	)
	return plan, nil
}

// Unassign снимает план с пользователя.
func (s *PlanService) Unassign(ctx context.Context, userID string) error {
	if err := s.store.Users().SetPlan(ctx, userID, nil); err != nil {
		return mapRepoError(err)
	}
	s.logger.Info("План снят", slog.String("user_id", userID))
	return nil
}
