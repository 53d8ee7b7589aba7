// Пакет database — подключение к PostgreSQL через pgxpool,
// применение миграций (golang-migrate) и проверка готовности схемы.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/imagehost/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// applicationName — имя приложения в pg_stat_activity.
const applicationName = "imagehost"

// Connect создаёт пул подключений к PostgreSQL и проверяет его ping'ом.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("разбор DSN: %w", err)
	}
	poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("создание пула: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL недоступен: %w", err)
	}

	logger.Info("PostgreSQL подключён",
		slog.String("url", cfg.DatabaseURL()),
		slog.Int("max_conns", int(poolCfg.MaxConns)),
	)
	return pool, nil
}

// Migrate применяет встроенные миграции. Отсутствие изменений — не ошибка.
func Migrate(cfg *config.Config, logger *slog.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("источник миграций: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, cfg.MigrateURL())
	if err != nil {
		return fmt.Errorf("инициализация migrate: %w", err)
	}
	defer m.Close()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("применение миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Схема БД актуальна",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
		slog.Bool("changed", err == nil),
	)
	return nil
}

// LatestMigration возвращает номер последней встроенной миграции.
func LatestMigration() (uint, error) {
	names, err := fs.Glob(migrationsFS, "migrations/*.up.sql")
	if err != nil {
		return 0, err
	}
	var latest uint
	for _, name := range names {
		prefix, _, ok := strings.Cut(path.Base(name), "_")
		if !ok {
			return 0, fmt.Errorf("имя миграции без номера: %s", name)
		}
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("номер миграции %s: %w", name, err)
		}
		latest = max(latest, uint(v))
	}
	return latest, nil
}

// ReadinessChecker — проверка готовности PostgreSQL: соединение и версия схемы.
type ReadinessChecker struct {
	pool *pgxpool.Pool
	want uint
}

// NewReadinessChecker создаёт проверку, ожидающую схему не ниже
// последней встроенной миграции.
func NewReadinessChecker(pool *pgxpool.Pool) *ReadinessChecker {
	want, _ := LatestMigration()
	return &ReadinessChecker{pool: pool, want: want}
}

// CheckReady возвращает "fail", если БД недоступна, миграции не применены,
// схема отстаёт или помечена dirty после прерванной миграции.
func (c *ReadinessChecker) CheckReady(ctx context.Context) (status, message string) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := c.pool.Ping(ctx); err != nil {
		return "fail", "PostgreSQL недоступен: " + err.Error()
	}

	var (
		version int64
		dirty   bool
	)
	err := c.pool.QueryRow(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
	if err != nil {
		return "fail", "версия схемы не определена: " + err.Error()
	}
	return checkSchema(uint(version), dirty, c.want)
}

func checkSchema(version uint, dirty bool, want uint) (status, message string) {
	switch {
	case dirty:
		return "fail", fmt.Sprintf("миграция %d прервана (dirty)", version)
	case version < want:
		return "fail", fmt.Sprintf("схема версии %d, ожидается %d", version, want)
	default:
		return "ok", fmt.Sprintf("схема версии %d", version)
	}
}
