// Точка входа imagehost — сервис хостинга изображений.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// выбирает бэкенд хранилища (local или s3), создаёт сервисный слой
// и API handlers, запускает фоновые задачи (очистка binary images,
// topologymetrics), HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/imagehost/internal/api/handlers"
	"github.com/bigkaa/imagehost/internal/api/middleware"
	"github.com/bigkaa/imagehost/internal/config"
	"github.com/bigkaa/imagehost/internal/database"
	"github.com/bigkaa/imagehost/internal/imagecodec"
	"github.com/bigkaa/imagehost/internal/repository"
	"github.com/bigkaa/imagehost/internal/server"
	"github.com/bigkaa/imagehost/internal/service"
	"github.com/bigkaa/imagehost/internal/storage"
	"github.com/bigkaa/imagehost/internal/storage/filestore"
	"github.com/bigkaa/imagehost/internal/storage/s3store"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("imagehost запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	store := repository.NewStore(pool)

	// 5. Хранилище файлов
	files, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 6. Кодек binary images и миниатюр
	codec, err := imagecodec.New(cfg.BinaryColorMode, cfg.BinaryFormat, cfg.BinaryQuality)
	if err != nil {
		logger.Error("Ошибка создания кодека", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 7. Services
	plans := service.NewPlanCache(cfg.PlanCacheSize, cfg.PlanCacheTTL)
	usersSvc := service.NewUserResolver(store, plans, logger)
	imagesSvc := service.NewImageService(store, files, codec, cfg.MaxUploadSize, logger)
	binariesSvc := service.NewBinaryImageService(store, files, codec, logger)
	thumbnailsSvc := service.NewThumbnailService(imagesSvc, files, codec, logger)

	// 8. Фоновая очистка истёкших binary images (IH_SWEEP_INTERVAL=0 — отключена)
	var sweepSvc *service.SweepService
	if cfg.SweepInterval > 0 {
		sweepSvc = service.NewSweepService(store, files, cfg.SweepInterval, cfg.SweepGrace, cfg.SweepBatchSize, logger)
		sweepSvc.Start(ctx)
	} else {
		logger.Info("Очистка binary images отключена (IH_SWEEP_INTERVAL=0)")
	}

	// 9. topologymetrics — мониторинг зависимостей
	dephealthCfg := service.DephealthConfig{
		ServiceID:     "imagehost",
		Group:         cfg.DephealthGroup,
		DB:            pgDB,
		PostgresURL:   cfg.DatabaseURL(),
		JWKSURL:       cfg.JWTJWKSURL,
		CheckInterval: cfg.DephealthCheckInterval,
	}
	if cfg.StorageBackend == config.StorageBackendS3 {
		dephealthCfg.S3URL = cfg.S3URL()
	}
	dephealthSvc, dephealthErr := service.NewDephealthService(dephealthCfg, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
		dephealthSvc = nil
	} else if startErr := dephealthSvc.Start(ctx); startErr != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		dephealthSvc = nil
	} else {
		logger.Info("topologymetrics запущен",
			slog.String("group", cfg.DephealthGroup),
			slog.String("check_interval", cfg.DephealthCheckInterval.String()),
		)
	}

	// 10. Readiness checkers (PostgreSQL + JWKS IdP + хранилище)
	pgChecker := database.NewReadinessChecker(pool)
	idpChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.JWTCACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, idpChecker, files)

	// 11. API handler
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		usersSvc,
		imagesSvc,
		binariesSvc,
		thumbnailsSvc,
		files,
		cfg.MaxUploadSize,
		cfg.MediaShowIndexes,
		logger,
	)

	// 12. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTCACertPath,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler,
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
		jwtAuth.Middleware(),
	)
	runErr := srv.Run(ctx)

	// 14. Остановка фоновых задач
	logger.Info("Останавливаем фоновые задачи...")
	if sweepSvc != nil {
		sweepSvc.Stop()
	}
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("imagehost остановлен")
}

// openStorage создаёт бэкенд хранилища по IH_STORAGE_BACKEND.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.StorageBackend != config.StorageBackendS3 {
		fs, err := filestore.New(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Локальное хранилище", slog.String("data_dir", fs.DataDir()))
		return fs, nil
	}

	s3, err := s3store.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	logger.Info("S3-хранилище",
		slog.String("endpoint", cfg.S3Endpoint),
		slog.String("bucket", s3.Bucket()),
	)
	return s3, nil
}
