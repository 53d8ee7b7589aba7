// imagehost-admin — CLI администрирования imagehost: тарифные планы,
// назначение планов пользователям и ручная очистка истёкших binary images.
// Использует те же переменные окружения IH_*, что и сервер.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bigkaa/imagehost/internal/config"
	"github.com/bigkaa/imagehost/internal/database"
	"github.com/bigkaa/imagehost/internal/repository"
	"github.com/bigkaa/imagehost/internal/service"
	"github.com/bigkaa/imagehost/internal/storage"
	"github.com/bigkaa/imagehost/internal/storage/filestore"
	"github.com/bigkaa/imagehost/internal/storage/s3store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "ошибка: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" {
		printUsage(out)
		return nil
	}
	if args[0] == "--version" {
		fmt.Fprintln(out, "imagehost-admin", config.Version)
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("загрузка конфигурации: %w", err)
	}
	logger := config.SetupLogger(cfg)

	if err := database.Migrate(cfg, logger); err != nil {
		return fmt.Errorf("миграции БД: %w", err)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	store := repository.NewStore(pool)

	cmds := &commands{
		plans: service.NewPlanService(store, nil, logger),
		out:   out,
		newSweeper: func() (*service.SweepService, error) {
			files, err := openStorage(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return service.NewSweepService(store, files, 0, cfg.SweepGrace, cfg.SweepBatchSize, logger), nil
		},
	}
	return cmds.dispatch(ctx, args)
}

// openStorage открывает хранилище без логирования: CLI пишет только результат.
func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	if cfg.StorageBackend != config.StorageBackendS3 {
		fs, err := filestore.New(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		return fs, nil
	}
	s3, err := s3store.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL)
	if err != nil {
		return nil, err
	}
	if err := s3.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return s3, nil
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `Использование: imagehost-admin <команда> [флаги]

Команды:
  plans                          список тарифных планов
  plan-create --name N [флаги]   создать план
  assign --user ID --plan N      назначить план пользователю
  unassign --user ID             снять план с пользователя
  sweep                          удалить истёкшие binary images

Флаги plan-create:
  --name string                  имя плана
  --expose-direct-link           выдавать прямую ссылку на оригинал
  --allow-binary-download        разрешить binary images
  --thumbnail-sizes ints         размеры миниатюр, например 200,400
`)
}
