// binary_images.go — жизненный цикл binary image: создание производного файла
// со ссылкой, доступ по ссылке и удаление.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/imagehost/internal/domain/access"
	"github.com/bigkaa/imagehost/internal/domain/binarylink"
	"github.com/bigkaa/imagehost/internal/domain/model"
	"github.com/bigkaa/imagehost/internal/imagecodec"
	"github.com/bigkaa/imagehost/internal/repository"
	"github.com/bigkaa/imagehost/internal/storage"
)

// Prometheus-метрики binary images.
var (
	binaryImagesCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ih_binary_images_created_total",
		Help: "Общее количество созданных binary images.",
	})
	binaryImagesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ih_binary_images_deleted_total",
		Help: "Общее количество удалённых binary images (API и очистка).",
	})
	binaryLinkDeniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ih_binary_link_denied_total",
		Help: "Отказы в доступе по ссылке binary image по причинам.",
	}, []string{"reason"})
)

// BinaryImageService — создание и выдача binary images.
type BinaryImageService struct {
	store  repository.Store
	files  storage.Storage
	codec  *imagecodec.Codec
	logger *slog.Logger
	now    func() time.Time
}

// NewBinaryImageService создаёт BinaryImageService.
func NewBinaryImageService(
	store repository.Store,
	files storage.Storage,
	codec *imagecodec.Codec,
	logger *slog.Logger,
) *BinaryImageService {
	return &BinaryImageService{
		store:  store,
		files:  files,
		codec:  codec,
		logger: logger.With(slog.String("component", "binary_images")),
		now:    time.Now,
	}
}

// Create создаёт binary image для изображения imageID.
//
// Требуется AllowBinaryDownload у вызывающего, и он же должен владеть
// изображением. Порядок:
//  1. конвертация оригинала кодеком;
//  2. запись файла binary/{id}/{stem}-binary.{ext};
//  3. в транзакции: блокировка изображения, вставка записи со ссылкой, связь 1:1.
//
// Если шаг 3 не удался, записанный файл удаляется.
func (s *BinaryImageService) Create(ctx context.Context, u *model.User, imageID string, expirationSeconds int) (*model.BinaryImage, error) {
	if err := access.RequireCapability(u, access.AllowBinaryDownload); err != nil {
		return nil, err
	}
	if !model.ValidExpiration(expirationSeconds) {
		return nil, validationError("expiration_time", "значение должно быть в диапазоне [%d, %d]",
			model.MinExpirationSeconds, model.MaxExpirationSeconds)
	}
	if _, err := uuid.Parse(imageID); err != nil {
		return nil, ErrNotFound
	}

	img, err := s.store.Images().GetByID(ctx, imageID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	if err := access.RequireOwner(u, img.OwnerID); err != nil {
		return nil, err
	}
	if img.BinaryImageID != nil {
		return nil, fmt.Errorf("%w: изображение %s уже имеет binary image", ErrConflict, img.ID)
	}

	data, ext, err := s.convert(ctx, img)
	if err != nil {
		return nil, err
	}

	b := &model.BinaryImage{
		ID:                uuid.NewString(),
		OwnerID:           img.OwnerID,
		ExpirationSeconds: expirationSeconds,
	}
	b.StorageKey = path.Join(storage.PrefixBinary, b.ID, imagecodec.DerivedName(img.OriginalFilename, ext))

	if err := s.files.Put(ctx, b.StorageKey, bytes.NewReader(data), int64(len(data)), imagecodec.ContentType(b.StorageKey)); err != nil {
		return nil, fmt.Errorf("ошибка сохранения binary image: %w", err)
	}

	b.CreatedAt = binarylink.Truncate(s.now())
	b.Link = binarylink.Generate(b.CreatedAt, b.StorageKey)

	err = s.store.RunInTx(ctx, func(tx repository.Store) error {
		locked, err := tx.Images().GetByIDForUpdate(ctx, img.ID)
		if err != nil {
			return err
		}
		if locked.BinaryImageID != nil {
			return fmt.Errorf("%w: изображение %s уже имеет binary image", repository.ErrConflict, img.ID)
		}
		if err := tx.BinaryImages().Create(ctx, b); err != nil {
			return err
		}
		return tx.Images().LinkBinaryImage(ctx, img.ID, b.ID)
	})
	if err != nil {
		// Компенсация: запись не создана — файл не должен остаться
		removeFiles(ctx, s.files, s.logger, b.StorageKey)
		return nil, mapRepoError(err)
	}

	binaryImagesCreatedTotal.Inc()
	s.logger.Info("Binary image создан",
		slog.String("binary_image_id", b.ID),
		slog.String("image_id", img.ID),
		slog.String("owner_id", b.OwnerID),
		slog.String("requested_by", u.ID),
		slog.Int("expiration_seconds", b.ExpirationSeconds),
	)
	return b, nil
}

// convert читает оригинал и конвертирует его кодеком.
func (s *BinaryImageService) convert(ctx context.Context, img *model.Image) ([]byte, string, error) {
	rc, _, err := s.files.Open(ctx, img.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: файл изображения %s отсутствует", ErrNotFound, img.ID)
		}
		return nil, "", fmt.Errorf("ошибка чтения изображения: %w", err)
	}
	defer rc.Close()

	src, err := s.codec.Decode(rc)
	if err != nil {
		return nil, "", err
	}
	return s.codec.Binarize(src)
}

// Resolve возвращает binary image по ссылке для выдачи файла.
//
// Проверки по порядку: аутентификация, формат и существование ссылки,
// AllowBinaryDownload и владение, срок действия.
func (s *BinaryImageService) Resolve(ctx context.Context, u *model.User, link string) (*model.BinaryImage, error) {
	b, err := s.lookup(ctx, u, link)
	if err != nil {
		return nil, err
	}
	if err := access.RequireBinaryAccess(u, b); err != nil {
		binaryLinkDeniedTotal.WithLabelValues("access").Inc()
		return nil, err
	}
	if binarylink.IsExpired(b.CreatedAt, b.ExpirationSeconds, s.now()) {
		binaryLinkDeniedTotal.WithLabelValues("expired").Inc()
		return nil, ErrLinkExpired
	}
	return b, nil
}

// Info возвращает метаданные binary image владельцу, в том числе истёкшего.
func (s *BinaryImageService) Info(ctx context.Context, u *model.User, link string) (*model.BinaryImage, error) {
	b, err := s.lookup(ctx, u, link)
	if err != nil {
		return nil, err
	}
	if err := access.RequireBinaryAccess(u, b); err != nil {
		return nil, err
	}
	return b, nil
}

// IsExpired проверяет срок действия по часам сервиса.
func (s *BinaryImageService) IsExpired(b *model.BinaryImage) bool {
	return binarylink.IsExpired(b.CreatedAt, b.ExpirationSeconds, s.now())
}

// Delete удаляет binary image владельцем: сначала запись, затем файл.
func (s *BinaryImageService) Delete(ctx context.Context, u *model.User, link string) error {
	b, err := s.lookup(ctx, u, link)
	if err != nil {
		return err
	}
	if err := access.RequireOwner(u, b.OwnerID); err != nil {
		return err
	}

	if err := s.store.BinaryImages().Delete(ctx, b.ID); err != nil {
		return mapRepoError(err)
	}
	removeFiles(ctx, s.files, s.logger, b.StorageKey)

	binaryImagesDeletedTotal.Inc()
	s.logger.Info("Binary image удалён",
		slog.String("binary_image_id", b.ID),
		slog.String("user_id", u.ID),
	)
	return nil
}

// lookup — аутентификация и поиск по ссылке.
func (s *BinaryImageService) lookup(ctx context.Context, u *model.User, link string) (*model.BinaryImage, error) {
	if u == nil {
		return nil, ErrAuthenticationFailed
	}
	if !binarylink.IsValid(link) {
		return nil, ErrNotFound
	}
	b, err := s.store.BinaryImages().GetByLink(ctx, link)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return b, nil
}
