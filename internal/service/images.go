// images.go — загрузка, просмотр и удаление изображений.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/imagehost/internal/domain/access"
	"github.com/bigkaa/imagehost/internal/domain/model"
	"github.com/bigkaa/imagehost/internal/imagecodec"
	"github.com/bigkaa/imagehost/internal/repository"
	"github.com/bigkaa/imagehost/internal/storage"
)

// Prometheus-метрики изображений и файлов.
var (
	imagesUploadedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ih_images_uploaded_total",
		Help: "Общее количество загруженных изображений.",
	})
	imagesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ih_images_deleted_total",
		Help: "Общее количество удалённых изображений.",
	})
	// storageCleanupFailuresTotal — файлы, которые не удалось удалить после удаления записи.
	storageCleanupFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ih_storage_cleanup_failures_total",
		Help: "Количество ошибок удаления файлов из хранилища.",
	})
)

// ImageService — операции над загруженными изображениями.
type ImageService struct {
	store         repository.Store
	files         storage.Storage
	codec         *imagecodec.Codec
	maxUploadSize int64
	logger        *slog.Logger
}

// NewImageService создаёт ImageService.
func NewImageService(
	store repository.Store,
	files storage.Storage,
	codec *imagecodec.Codec,
	maxUploadSize int64,
	logger *slog.Logger,
) *ImageService {
	return &ImageService{
		store:         store,
		files:         files,
		codec:         codec,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "images")),
	}
}

// Create сохраняет загруженное изображение.
//
// Требуется любой план. Расширение — png, jpeg или jpg; содержимое
// должно декодироваться как изображение. Файл пишется в originals/,
// при ошибке записи в БД файл удаляется.
func (s *ImageService) Create(ctx context.Context, u *model.User, filename string, r io.Reader) (*model.Image, error) {
	if err := access.RequireCapability(u, access.PlanIsSet); err != nil {
		return nil, err
	}

	filename = sanitizeFilename(filename)
	if filename == "" || r == nil {
		return nil, validationError("image", "файл не передан")
	}
	if !imagecodec.AllowedExtension(filename) {
		return nil, validationError("image", "недопустимое расширение %q: разрешены png, jpeg, jpg",
			imagecodec.Extension(filename))
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}
	if len(data) == 0 {
		return nil, validationError("image", "передан пустой файл")
	}
	if int64(len(data)) > s.maxUploadSize {
		return nil, validationError("image", "размер файла превышает %d байт", s.maxUploadSize)
	}
	if _, err := s.codec.Decode(bytes.NewReader(data)); err != nil {
		return nil, validationError("image", "файл не является корректным изображением")
	}

	id := uuid.NewString()
	key := path.Join(storage.PrefixOriginals, id+"."+imagecodec.Extension(filename))
	contentType := imagecodec.ContentType(filename)

	if err := s.files.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, fmt.Errorf("ошибка сохранения файла: %w", err)
	}

	img := &model.Image{
		ID:               id,
		OwnerID:          u.ID,
		StorageKey:       key,
		OriginalFilename: filename,
		ContentType:      contentType,
		Size:             int64(len(data)),
	}
	if err := s.store.Images().Create(ctx, img); err != nil {
		s.removeFiles(ctx, key)
		return nil, mapRepoError(err)
	}

	imagesUploadedTotal.Inc()
	s.logger.Info("Изображение загружено",
		slog.String("image_id", img.ID),
		slog.String("user_id", u.ID),
		slog.String("filename", filename),
		slog.Int64("size", img.Size),
	)
	return img, nil
}

// List возвращает изображения пользователя. Требуется любой план.
func (s *ImageService) List(ctx context.Context, u *model.User) ([]*model.Image, error) {
	if err := access.RequireCapability(u, access.PlanIsSet); err != nil {
		return nil, err
	}
	images, err := s.store.Images().ListByOwner(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка изображений: %w", err)
	}
	return images, nil
}

// Get возвращает изображение владельцу.
func (s *ImageService) Get(ctx context.Context, u *model.User, id string) (*model.Image, error) {
	if u == nil {
		return nil, ErrAuthenticationFailed
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	img, err := s.store.Images().GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := access.RequireOwner(u, img.OwnerID); err != nil {
		return nil, err
	}
	return img, nil
}

// Delete удаляет изображение вместе со связанным binary image и миниатюрами.
// Сначала удаляются записи (в транзакции), затем файлы.
func (s *ImageService) Delete(ctx context.Context, u *model.User, id string) error {
	img, err := s.Get(ctx, u, id)
	if err != nil {
		return err
	}

	var keys []string
	err = s.store.RunInTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Images().GetByIDForUpdate(ctx, img.ID)
		if err != nil {
			return err
		}
		keys = append(keys, locked.StorageKey)

		if locked.BinaryImageID != nil {
			b, err := tx.BinaryImages().GetByID(ctx, *locked.BinaryImageID)
			switch {
			case err == nil:
				if err := tx.BinaryImages().Delete(ctx, b.ID); err != nil {
					return err
				}
				keys = append(keys, b.StorageKey)
			case !errors.Is(err, repository.ErrNotFound):
				return err
			}
		}
		return tx.Images().Delete(ctx, img.ID)
	})
	if err != nil {
		return mapRepoError(err)
	}

	s.removeFiles(ctx, keys...)
	s.removeThumbnails(ctx, img.ID)

	imagesDeletedTotal.Inc()
	s.logger.Info("Изображение удалено",
		slog.String("image_id", img.ID),
		slog.String("user_id", u.ID),
	)
	return nil
}

// removeThumbnails удаляет все миниатюры изображения.
func (s *ImageService) removeThumbnails(ctx context.Context, imageID string) {
	dir := path.Join(storage.PrefixThumbnails, imageID)
	entries, err := s.files.List(ctx, dir)
	if err != nil {
		storageCleanupFailuresTotal.Inc()
		s.logger.Error("Ошибка листинга миниатюр",
			slog.String("image_id", imageID),
			slog.String("error", err.Error()),
		)
		return
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir {
			keys = append(keys, e.Key)
		}
	}
	s.removeFiles(ctx, keys...)
}

func (s *ImageService) removeFiles(ctx context.Context, keys ...string) {
	removeFiles(ctx, s.files, s.logger, keys...)
}

// removeFiles удаляет файлы, записи которых уже удалены.
// Ошибки не прерывают удаление остальных файлов, но логируются и считаются.
func removeFiles(ctx context.Context, files storage.Storage, logger *slog.Logger, keys ...string) int {
	failed := 0
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := files.Delete(ctx, key); err != nil {
			failed++
			storageCleanupFailuresTotal.Inc()
			logger.Error("Ошибка удаления файла из хранилища",
				slog.String("storage_key", key),
				slog.String("error", err.Error()),
			)
		}
	}
	return failed
}

// sanitizeFilename оставляет только последний сегмент имени файла.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	switch name {
	case ".", "/", "..":
		return ""
	}
	return name
}
