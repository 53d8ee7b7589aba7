// Пакет binarylink — генерация непрозрачной ссылки binary image
// и политика истечения её срока жизни.
//
// Ссылка = первые 16 hex-символов MD5(timestamp + storage key).
// Ссылка не является секретом, она лишь трудна для угадывания;
// уникальность гарантирует хранилище (unique constraint).
package binarylink

import (
	"crypto/md5" //nolint:gosec // ссылка — непрозрачный идентификатор, не секрет
	"encoding/hex"
	"time"
)

// Length — длина ссылки в hex-символах.
const Length = 16

// timestampLayout — строковое представление времени создания.
// Микросекундная точность совпадает с точностью timestamptz в PostgreSQL,
// поэтому ссылку можно пересчитать по сохранённой записи.
const timestampLayout = "2006-01-02 15:04:05.000000-07:00"

// Generate вычисляет ссылку по времени создания и ключу файла.
// Детерминирована: одинаковые входы дают одинаковую ссылку.
func Generate(createdAt time.Time, storageKey string) string {
	seed := FormatTimestamp(createdAt) + storageKey
	sum := md5.Sum([]byte(seed)) //nolint:gosec // см. комментарий к импорту
	return hex.EncodeToString(sum[:])[:Length]
}

// FormatTimestamp приводит время к UTC и форматирует с микросекундами.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Truncate обрезает время до микросекунд (точность хранения).
func Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// IsExpired возвращает true, если createdAt + expirationSeconds < now.
// Ровно в момент истечения ссылка ещё действует.
func IsExpired(createdAt time.Time, expirationSeconds int, now time.Time) bool {
	return createdAt.Add(time.Duration(expirationSeconds) * time.Second).Before(now)
}

// IsValid проверяет формат ссылки: ровно 16 символов [0-9a-f].
func IsValid(link string) bool {
	if len(link) != Length {
		return false
	}
	for _, r := range link {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
