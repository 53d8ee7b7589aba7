// Пакет filestore — хранилище файлов на локальном диске.
// Запись через временный файл с fsync и атомарным rename,
// все ключи ограничены корневой директорией.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bigkaa/imagehost/internal/storage"
)

// FileStore — управление физическими файлами на диске.
type FileStore struct {
	// dataDir — корневая директория хранения файлов (IH_DATA_DIR)
	dataDir string
}

// New создаёт новый FileStore. Проверяет и создаёт директорию
// если она не существует.
func New(dataDir string) (*FileStore, error) {
	abs, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("некорректный путь директории данных %s: %w", dataDir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", abs, err)
	}

	return &FileStore{dataDir: abs}, nil
}

// DataDir возвращает путь к директории данных.
func (s *FileStore) DataDir() string {
	return s.dataDir
}

// Put записывает данные из reader на диск.
//
// Паттерн: temp файл → запись → fsync → atomic rename.
// При ошибке temp файл удаляется.
func (s *FileStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	clean, fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if clean == "" {
		return storage.ErrInvalidKey
	}

	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("ошибка создания директории %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	tmpPath := f.Name()

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, fullPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}

	return nil
}

// Open открывает файл для чтения.
func (s *FileStore) Open(_ context.Context, key string) (io.ReadSeekCloser, storage.Info, error) {
	clean, fullPath, err := s.resolve(key)
	if err != nil {
		return nil, storage.Info{}, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		return nil, storage.Info{}, wrapPathError(clean, err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, storage.Info{}, fmt.Errorf("ошибка получения stat файла %s: %w", clean, err)
	}
	if stat.IsDir() {
		f.Close()
		return nil, storage.Info{}, storage.ErrIsDir
	}

	return f, infoFromStat(clean, stat), nil
}

// Stat возвращает метаданные файла или директории.
func (s *FileStore) Stat(_ context.Context, key string) (storage.Info, error) {
	clean, fullPath, err := s.resolve(key)
	if err != nil {
		return storage.Info{}, err
	}

	stat, err := os.Stat(fullPath)
	if err != nil {
		return storage.Info{}, wrapPathError(clean, err)
	}
	return infoFromStat(clean, stat), nil
}

// Delete удаляет файл с диска.
// Возвращает nil если файл уже не существует.
func (s *FileStore) Delete(_ context.Context, key string) error {
	clean, fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if clean == "" {
		return storage.ErrInvalidKey
	}

	err = os.Remove(fullPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления файла %s: %w", clean, err)
	}

	s.pruneEmptyDirs(filepath.Dir(fullPath))
	return nil
}

// List возвращает содержимое директории. Отсутствующая директория — пустой список.
// Временные файлы незавершённой записи не включаются.
func (s *FileStore) List(_ context.Context, prefix string) ([]storage.Info, error) {
	clean, fullPath, err := s.resolve(prefix)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", clean, err)
	}

	result := make([]storage.Info, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			continue
		}
		stat, err := e.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			continue
		}
		result = append(result, infoFromStat(path.Join(clean, e.Name()), stat))
	}
	return result, nil
}

// resolve нормализует ключ и возвращает абсолютный путь внутри dataDir.
func (s *FileStore) resolve(key string) (clean, fullPath string, err error) {
	clean, err = storage.CleanKey(key)
	if err != nil {
		return "", "", err
	}

	fullPath = filepath.Join(s.dataDir, filepath.FromSlash(clean))
	rel, err := filepath.Rel(s.dataDir, fullPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", storage.ErrInvalidKey
	}
	return clean, fullPath, nil
}

// pruneEmptyDirs удаляет опустевшие директории вверх до второго уровня
// (originals/, binary/, thumbnails/ сохраняются).
func (s *FileStore) pruneEmptyDirs(dir string) {
	for {
		rel, err := filepath.Rel(s.dataDir, dir)
		if err != nil || rel == "." || !strings.ContainsRune(rel, filepath.Separator) {
			return
		}
		// os.Remove не удаляет непустую директорию
		if os.Remove(dir) != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// infoFromStat конвертирует os.FileInfo в storage.Info.
func infoFromStat(key string, stat os.FileInfo) storage.Info {
	info := storage.Info{
		Key:     key,
		ModTime: stat.ModTime(),
		IsDir:   stat.IsDir(),
	}
	if !stat.IsDir() {
		info.Size = stat.Size()
	}
	return info
}

// wrapPathError приводит ошибки ОС к ошибкам storage.
func wrapPathError(key string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", storage.ErrNotExist, key)
	}
	return fmt.Errorf("ошибка доступа к файлу %s: %w", key, err)
}

// Проверка соответствия интерфейсу.
var _ storage.Storage = (*FileStore)(nil)
