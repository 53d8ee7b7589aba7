package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"testing"

	"github.com/bigkaa/imagehost/internal/domain/model"
	"github.com/bigkaa/imagehost/internal/imagecodec"
	"github.com/bigkaa/imagehost/internal/repository/repotest"
	"github.com/bigkaa/imagehost/internal/storage/filestore"
)

// testEnv — окружение сервисных тестов: хранилище в памяти,
// файлы во временной директории.
type testEnv struct {
	store    *repotest.Store
	files    *filestore.FileStore
	codec    *imagecodec.Codec
	logger   *slog.Logger
	images   *ImageService
	binaries *BinaryImageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	files, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	codec, err := imagecodec.New(imagecodec.ColorModeBinary, imagecodec.FormatJPEG, 95)
	if err != nil {
		t.Fatalf("Ошибка создания кодека: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repotest.NewSeeded()

	return &testEnv{
		store:    store,
		files:    files,
		codec:    codec,
		logger:   logger,
		images:   NewImageService(store, files, codec, 1<<20, logger),
		binaries: NewBinaryImageService(store, files, codec, logger),
	}
}

// pngBytes создаёт PNG 100x100 одного цвета.
func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))
	for x := 0; x < 100; x++ {
		for y := 0; y < 100; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 2), G: 200, B: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Ошибка кодирования PNG: %v", err)
	}
	return buf.Bytes()
}

// upload загружает PNG от имени пользователя.
func (e *testEnv) upload(t *testing.T, u *model.User) *model.Image {
	t.Helper()
	img, err := e.images.Create(context.Background(), u, "test.png", bytes.NewReader(pngBytes(t)))
	if err != nil {
		t.Fatalf("Ошибка загрузки изображения: %v", err)
	}
	return img
}

// exists проверяет наличие файла в хранилище.
func (e *testEnv) exists(t *testing.T, key string) bool {
	t.Helper()
	_, err := e.files.Stat(context.Background(), key)
	return err == nil
}

// countFiles возвращает количество файлов под префиксом (рекурсивно).
func (e *testEnv) countFiles(t *testing.T, prefix string) int {
	t.Helper()
	list, err := e.files.List(context.Background(), prefix)
	if err != nil {
		t.Fatalf("Ошибка List(%s): %v", prefix, err)
	}
	n := 0
	for _, i := range list {
		if i.IsDir {
			n += e.countFiles(t, i.Key)
			continue
		}
		n++
	}
	return n
}
