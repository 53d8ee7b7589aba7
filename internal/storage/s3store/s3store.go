// Пакет s3store — хранилище файлов в S3-совместимом объектном хранилище (MinIO).
// Директории эмулируются префиксами ключей.
package s3store

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/bigkaa/imagehost/internal/storage"
)

// objectAPI — подмножество методов minio.Client, используемое хранилищем.
type objectAPI interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	StatObject(ctx context.Context, bucketName, objectName string, opts minio.StatObjectOptions) (minio.ObjectInfo, error)
	OpenObject(ctx context.Context, bucketName, objectName string) (io.ReadSeekCloser, error)
	RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error
	ListObjects(ctx context.Context, bucketName string, opts minio.ListObjectsOptions) <-chan minio.ObjectInfo
}

// minioClient адаптирует *minio.Client к objectAPI.
type minioClient struct {
	*minio.Client
}

// OpenObject возвращает *minio.Object как io.ReadSeekCloser.
func (c minioClient) OpenObject(ctx context.Context, bucketName, objectName string) (io.ReadSeekCloser, error) {
	return c.Client.GetObject(ctx, bucketName, objectName, minio.GetObjectOptions{})
}

// S3Store — хранилище поверх бакета S3.
type S3Store struct {
	api    objectAPI
	bucket string
}

// New создаёт S3Store с подключением к endpoint.
func New(endpoint, accessKey, secretKey, bucket string, useSSL bool) (*S3Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка создания S3 клиента для %s: %w", endpoint, err)
	}
	return &S3Store{api: minioClient{client}, bucket: bucket}, nil
}

// Bucket возвращает имя бакета.
func (s *S3Store) Bucket() string {
	return s.bucket
}

// EnsureBucket создаёт бакет, если он не существует.
func (s *S3Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("ошибка проверки бакета %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("ошибка создания бакета %s: %w", s.bucket, err)
	}
	return nil
}

// Put загружает объект. size = -1 — размер неизвестен (multipart upload).
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	clean, err := storage.CleanKey(key)
	if err != nil {
		return err
	}
	if clean == "" {
		return storage.ErrInvalidKey
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err = s.api.PutObject(ctx, s.bucket, clean, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("ошибка загрузки объекта %s: %w", clean, err)
	}
	return nil
}

// Open открывает объект для чтения. Для префикса возвращает storage.ErrIsDir.
func (s *S3Store) Open(ctx context.Context, key string) (io.ReadSeekCloser, storage.Info, error) {
	info, err := s.Stat(ctx, key)
	if err != nil {
		return nil, storage.Info{}, err
	}
	if info.IsDir {
		return nil, storage.Info{}, storage.ErrIsDir
	}

	obj, err := s.api.OpenObject(ctx, s.bucket, info.Key)
	if err != nil {
		return nil, storage.Info{}, wrapError(info.Key, err)
	}
	return obj, info, nil
}

// Stat возвращает метаданные объекта или эмулированной директории.
func (s *S3Store) Stat(ctx context.Context, key string) (storage.Info, error) {
	clean, err := storage.CleanKey(key)
	if err != nil {
		return storage.Info{}, err
	}
	if clean == "" {
		return storage.Info{IsDir: true}, nil
	}

	oi, err := s.api.StatObject(ctx, s.bucket, clean, minio.StatObjectOptions{})
	if err == nil {
		return storage.Info{Key: clean, Size: oi.Size, ModTime: oi.LastModified}, nil
	}
	if !isNotFound(err) {
		return storage.Info{}, wrapError(clean, err)
	}

	// Объекта нет — проверяем, является ли ключ префиксом
	isDir, err := s.hasChildren(ctx, clean)
	if err != nil {
		return storage.Info{}, err
	}
	if !isDir {
		return storage.Info{}, fmt.Errorf("%w: %s", storage.ErrNotExist, clean)
	}
	return storage.Info{Key: clean, IsDir: true}, nil
}

// Delete удаляет объект. Отсутствующий объект — не ошибка.
func (s *S3Store) Delete(ctx context.Context, key string) error {
	clean, err := storage.CleanKey(key)
	if err != nil {
		return err
	}
	if clean == "" {
		return storage.ErrInvalidKey
	}

	if err := s.api.RemoveObject(ctx, s.bucket, clean, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("ошибка удаления объекта %s: %w", clean, err)
	}
	return nil
}

// List возвращает непосредственное содержимое префикса.
func (s *S3Store) List(ctx context.Context, prefix string) ([]storage.Info, error) {
	clean, err := storage.CleanKey(prefix)
	if err != nil {
		return nil, err
	}
	listPrefix := ""
	if clean != "" {
		listPrefix = clean + "/"
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var result []storage.Info
	for obj := range s.api.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: listPrefix}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("ошибка листинга %s: %w", clean, obj.Err)
		}
		if strings.HasSuffix(obj.Key, "/") {
			result = append(result, storage.Info{Key: strings.TrimSuffix(obj.Key, "/"), IsDir: true})
			continue
		}
		result = append(result, storage.Info{Key: obj.Key, Size: obj.Size, ModTime: obj.LastModified})
	}
	return result, nil
}

// hasChildren проверяет наличие хотя бы одного объекта под префиксом key/.
func (s *S3Store) hasChildren(ctx context.Context, key string) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range s.api.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: key + "/", MaxKeys: 1}) {
		if obj.Err != nil {
			return false, fmt.Errorf("ошибка листинга %s: %w", key, obj.Err)
		}
		return true, nil
	}
	return false, nil
}

// isNotFound определяет ответ S3 об отсутствии объекта.
func isNotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func wrapError(key string, err error) error {
	if isNotFound(err) {
		return fmt.Errorf("%w: %s", storage.ErrNotExist, key)
	}
	return fmt.Errorf("ошибка S3 для %s: %w", key, err)
}

// Проверка соответствия интерфейсу.
var _ storage.Storage = (*S3Store)(nil)
