// thumbnails.go — миниатюры изображений размеров из плана владельца.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strconv"

	"github.com/bigkaa/imagehost/internal/domain/access"
	"github.com/bigkaa/imagehost/internal/domain/model"
	"github.com/bigkaa/imagehost/internal/imagecodec"
	"github.com/bigkaa/imagehost/internal/storage"
)

// ThumbnailService генерирует миниатюры при первом запросе
// и хранит их в thumbnails/{image_id}/{size}.{ext}.
type ThumbnailService struct {
	images *ImageService
	files  storage.Storage
	codec  *imagecodec.Codec
	logger *slog.Logger
}

// NewThumbnailService создаёт ThumbnailService.
func NewThumbnailService(images *ImageService, files storage.Storage, codec *imagecodec.Codec, logger *slog.Logger) *ThumbnailService {
	return &ThumbnailService{
		images: images,
		files:  files,
		codec:  codec,
		logger: logger.With(slog.String("component", "thumbnails")),
	}
}

// ThumbnailKey возвращает ключ миниатюры в хранилище.
func ThumbnailKey(img *model.Image, size int) string {
	return path.Join(storage.PrefixThumbnails, img.ID,
		strconv.Itoa(size)+"."+imagecodec.Extension(img.StorageKey))
}

// Get возвращает ключ миниатюры, создавая её при необходимости.
// Доступ — только владельцу, размер должен входить в его план.
func (s *ThumbnailService) Get(ctx context.Context, u *model.User, imageID string, size int) (string, error) {
	img, err := s.images.Get(ctx, u, imageID)
	if err != nil {
		return "", err
	}
	if !u.Plan.AllowsThumbnail(size) {
		return "", fmt.Errorf("%w: размер %d не входит в план", access.ErrForbidden, size)
	}

	key := ThumbnailKey(img, size)
	if _, err := s.files.Stat(ctx, key); err == nil {
		return key, nil
	} else if !errors.Is(err, storage.ErrNotExist) {
		return "", fmt.Errorf("ошибка проверки миниатюры: %w", err)
	}

	rc, _, err := s.files.Open(ctx, img.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return "", fmt.Errorf("%w: файл изображения %s отсутствует", ErrNotFound, img.ID)
		}
		return "", fmt.Errorf("ошибка чтения изображения: %w", err)
	}
	defer rc.Close()

	src, err := s.codec.Decode(rc)
	if err != nil {
		return "", err
	}
	data, err := s.codec.Thumbnail(src, size, imagecodec.Extension(img.StorageKey))
	if err != nil {
		return "", err
	}
	if err := s.files.Put(ctx, key, bytes.NewReader(data), int64(len(data)), img.ContentType); err != nil {
		return "", fmt.Errorf("ошибка сохранения миниатюры: %w", err)
	}

	s.logger.Debug("Миниатюра создана",
		slog.String("image_id", img.ID),
		slog.Int("size", size),
	)
	return key, nil
}
