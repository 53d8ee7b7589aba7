// Пакет storage — абстракция хранилища файлов imagehost.
// Конкретный бэкенд (локальный диск или S3/MinIO) выбирается конфигурацией
// и передаётся в сервисный слой явно.
//
// Ключи — пути через "/", относительные корню хранилища.
// Префиксы: originals/ — оригиналы, binary/ — binary images, thumbnails/ — миниатюры.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// Префиксы ключей хранилища.
const (
	PrefixOriginals  = "originals"
	PrefixBinary     = "binary"
	PrefixThumbnails = "thumbnails"
)

// Ошибки хранилища.
var (
	// ErrNotExist — объект не найден.
	ErrNotExist = errors.New("объект не найден")
	// ErrIsDir — ключ указывает на директорию.
	ErrIsDir = errors.New("ключ указывает на директорию")
	// ErrInvalidKey — недопустимый ключ (выход за пределы корня).
	ErrInvalidKey = errors.New("недопустимый ключ")
)

// Info — метаданные объекта или директории.
type Info struct {
	// Key — нормализованный ключ
	Key string
	// Size — размер в байтах (0 для директорий)
	Size int64
	// ModTime — время последнего изменения
	ModTime time.Time
	// IsDir — ключ является директорией (префиксом)
	IsDir bool
}

// Name возвращает последний сегмент ключа.
func (i Info) Name() string {
	return path.Base(i.Key)
}

// Storage — хранилище файлов.
type Storage interface {
	// Put записывает объект. size = -1, если размер неизвестен.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// Open открывает объект для чтения. Вызывающий обязан закрыть reader.
	Open(ctx context.Context, key string) (io.ReadSeekCloser, Info, error)
	// Stat возвращает метаданные объекта или директории.
	Stat(ctx context.Context, key string) (Info, error)
	// Delete удаляет объект. Отсутствующий объект — не ошибка.
	Delete(ctx context.Context, key string) error
	// List возвращает содержимое директории (не рекурсивно).
	List(ctx context.Context, prefix string) ([]Info, error)
}

// CleanKey нормализует ключ: убирает ведущие "/", схлопывает "." и повторные "/".
// Сегменты ".." и NUL-байты отклоняются. Пустой результат — корень.
func CleanKey(key string) (string, error) {
	if strings.ContainsRune(key, 0) || strings.Contains(key, "\\") {
		return "", ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", ErrInvalidKey
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+key), "/")
	return cleaned, nil
}

// Join склеивает префикс и относительный ключ с нормализацией.
func Join(prefix, key string) (string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	if cleaned == "" {
		return prefix, nil
	}
	return CleanKey(prefix + "/" + cleaned)
}
