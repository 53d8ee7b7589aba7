package model

import "time"

// Границы допустимого срока жизни ссылки binary image (секунды).
const (
	MinExpirationSeconds = 300
	MaxExpirationSeconds = 30000
)

// Image — загруженное пользователем изображение.
type Image struct {
	// ID — UUID изображения
	ID string
	// OwnerID — владелец (User.ID)
	OwnerID string
	// StorageKey — ключ файла в хранилище (originals/...)
	StorageKey string
	// OriginalFilename — имя файла при загрузке
	OriginalFilename string
	// ContentType — MIME-тип оригинала
	ContentType string
	// Size — размер оригинала в байтах
	Size int64
	// BinaryImageID — связанный binary image (nil, пока не создан)
	BinaryImageID *string
	// CreatedAt — время загрузки
	CreatedAt time.Time
}

// BinaryImage — производная копия изображения, доступная по непрозрачной ссылке
// в течение ExpirationSeconds с момента CreatedAt.
type BinaryImage struct {
	// ID — UUID записи
	ID string
	// OwnerID — владелец исходного изображения
	OwnerID string
	// StorageKey — ключ производного файла (binary/...)
	StorageKey string
	// Link — 16 hex-символов, уникален, не меняется после создания
	Link string
	// ExpirationSeconds — срок жизни ссылки, [300, 30000]
	ExpirationSeconds int
	// CreatedAt — время создания (wall clock, точность до микросекунд)
	CreatedAt time.Time
}

// ExpiresAt возвращает момент истечения ссылки.
func (b *BinaryImage) ExpiresAt() time.Time {
	return b.CreatedAt.Add(time.Duration(b.ExpirationSeconds) * time.Second)
}

// ValidExpiration проверяет границы [300, 30000].
func ValidExpiration(seconds int) bool {
	return seconds >= MinExpirationSeconds && seconds <= MaxExpirationSeconds
}
