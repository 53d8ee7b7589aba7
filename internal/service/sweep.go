// sweep.go — фоновая очистка истёкших binary images.
//
// Доступ по истёкшей ссылке запрещается при чтении независимо от очистки.
// Очистка удаляет записи, срок которых истёк более grace назад,
// затем их файлы. Запускается как горутина с тикером (IH_SWEEP_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/imagehost/internal/repository"
	"github.com/bigkaa/imagehost/internal/storage"
)

// Prometheus метрики очистки
var (
	sweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ih_sweep_runs_total",
		Help: "Общее количество запусков очистки истёкших binary images",
	})

	sweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ih_sweep_duration_seconds",
		Help:    "Длительность очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweepResult — результат одного запуска очистки.
type SweepResult struct {
	// DeletedCount — количество удалённых записей
	DeletedCount int
	// Errors — ошибки удаления записей и файлов
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// SweepService — очистка истёкших binary images.
type SweepService struct {
	store     repository.Store
	files     storage.Storage
	interval  time.Duration
	grace     time.Duration
	batchSize int
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweepService создаёт сервис очистки.
func NewSweepService(
	store repository.Store,
	files storage.Storage,
	interval, grace time.Duration,
	batchSize int,
	logger *slog.Logger,
) *SweepService {
	return &SweepService{
		store:     store,
		files:     files,
		interval:  interval,
		grace:     grace,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "sweep")),
		now:       time.Now,
	}
}

// Start запускает фоновую горутину с периодическим тикером.
func (s *SweepService) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(sweepCtx)

	s.logger.Info("Очистка истёкших binary images запущена",
		slog.String("interval", s.interval.String()),
		slog.String("grace", s.grace.String()),
	)
}

// Stop останавливает фоновый процесс и дожидается завершения текущего цикла.
func (s *SweepService) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Очистка истёкших binary images остановлена")
}

func (s *SweepService) run(ctx context.Context) {
	defer close(s.done)

	s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл очистки пакетами по batchSize.
// Потокобезопасен: использует mutex для защиты от параллельного запуска.
func (s *SweepService) RunOnce(ctx context.Context) *SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}
	before := s.now().Add(-s.grace)

	for ctx.Err() == nil {
		expired, err := s.store.BinaryImages().ListExpired(ctx, before, s.batchSize)
		if err != nil {
			s.logger.Error("Ошибка поиска истёкших binary images", slog.String("error", err.Error()))
			result.Errors++
			break
		}

		progress := 0
		for _, b := range expired {
			if err := s.store.BinaryImages().Delete(ctx, b.ID); err != nil {
				s.logger.Error("Ошибка удаления binary image",
					slog.String("binary_image_id", b.ID),
					slog.String("error", err.Error()),
				)
				result.Errors++
				continue
			}
			result.Errors += removeFiles(ctx, s.files, s.logger, b.StorageKey)
			result.DeletedCount++
			progress++
		}

		// Пакет неполный или ни одна запись не удалена — дальше нечего обрабатывать
		if len(expired) < s.batchSize || progress == 0 {
			break
		}
	}

	result.Duration = time.Since(start)

	sweepRunsTotal.Inc()
	binaryImagesDeletedTotal.Add(float64(result.DeletedCount))
	sweepDurationSeconds.Observe(result.Duration.Seconds())

	s.logger.Info("Очистка завершена",
		slog.Int("deleted", result.DeletedCount),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result
}
