// Пакет model — доменные модели imagehost.
// Plan / User — тарифный план и его владелец,
// Image / BinaryImage — загруженное изображение и производный файл со ссылкой.
package model

import "time"

// Границы допустимого размера миниатюры (сторона квадрата в пикселях).
const (
	MinThumbnailSize = 16
	MaxThumbnailSize = 4320
)

// Plan — тарифный план с флагами возможностей.
type Plan struct {
	// ID — первичный ключ
	ID int64
	// Name — название плана (Basic, Premium, Enterprise)
	Name string
	// ExposeDirectLink — выдавать прямую ссылку на оригинал
	ExposeDirectLink bool
	// AllowBinaryDownload — разрешено создавать и скачивать binary images
	AllowBinaryDownload bool
	// ThumbnailSizes — допустимые размеры миниатюр (уникальные, без порядка)
	ThumbnailSizes []int
}

// AllowsThumbnail проверяет, входит ли размер в набор плана.
func (p *Plan) AllowsThumbnail(size int) bool {
	if p == nil {
		return false
	}
	for _, s := range p.ThumbnailSizes {
		if s == size {
			return true
		}
	}
	return false
}

// ValidThumbnailSize проверяет границы [16, 4320].
func ValidThumbnailSize(size int) bool {
	return size >= MinThumbnailSize && size <= MaxThumbnailSize
}

// User — пользователь, идентифицируемый по sub из JWT.
// Plan == nil — допустимое состояние «без плана» (никаких возможностей).
type User struct {
	// ID — sub из JWT
	ID string
	// PlanID — ссылка на план (nil — без плана)
	PlanID *int64
	// Plan — текущий план пользователя, загружается по PlanID
	Plan *Plan
	// CreatedAt — время первого обращения
	CreatedAt time.Time
}
