// handler.go — основной обработчик API imagehost.
// Объединяет health, изображения, binary images, миниатюры и /media.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/bigkaa/imagehost/internal/api/errors"
	"github.com/bigkaa/imagehost/internal/api/middleware"
	"github.com/bigkaa/imagehost/internal/domain/access"
	"github.com/bigkaa/imagehost/internal/domain/model"
	"github.com/bigkaa/imagehost/internal/service"
	"github.com/bigkaa/imagehost/internal/storage"
)

// APIHandler — основной обработчик API imagehost.
// Делегирует запросы в сервисный слой.
type APIHandler struct {
	health        *HealthHandler
	users         *service.UserResolver
	images        *service.ImageService
	binaries      *service.BinaryImageService
	thumbnails    *service.ThumbnailService
	files         *FileServer
	media         *FileServer
	maxUploadSize int64
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
// showIndexes разрешает листинг директорий в /media/.
func NewAPIHandler(
	health *HealthHandler,
	users *service.UserResolver,
	images *service.ImageService,
	binaries *service.BinaryImageService,
	thumbnails *service.ThumbnailService,
	files storage.Storage,
	maxUploadSize int64,
	showIndexes bool,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		users:         users,
		images:        images,
		binaries:      binaries,
		thumbnails:    thumbnails,
		files:         NewFileServer(files, "", false, logger),
		media:         NewFileServer(files, storage.PrefixOriginals, showIndexes, logger),
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// --- Health endpoints (делегируются в HealthHandler) ---

// HealthLive — liveness probe.
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики.
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Пользователь запроса ---

// currentUser возвращает пользователя по sub из JWT.
// Для анонимного запроса возвращает nil без ошибки: решение принимает
// сервисный слой. false — ответ с ошибкой уже записан.
func (h *APIHandler) currentUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	subject := middleware.SubjectFromContext(r.Context())
	if subject == "" {
		return nil, true
	}
	u, err := h.users.Resolve(r.Context(), subject)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return nil, false
	}
	return u, true
}

// --- Представления ресурсов ---

// imageResponse — представление изображения.
type imageResponse struct {
	ID               string         `json:"id"`
	OriginalFilename string         `json:"original_filename"`
	ContentType      string         `json:"content_type"`
	Size             int64          `json:"size"`
	CreatedAt        time.Time      `json:"created_at"`
	ImageURL         string         `json:"image_url,omitempty"`
	Thumbnails       map[int]string `json:"thumbnails,omitempty"`
	BinaryImageID    *string        `json:"binary_image_id,omitempty"`
}

// binaryImageResponse — представление binary image.
type binaryImageResponse struct {
	ID             string    `json:"id"`
	Link           string    `json:"link"`
	URL            string    `json:"url"`
	ExpirationTime int       `json:"expiration_time"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	Expired        *bool     `json:"expired,omitempty"`
}

// toImageResponse строит представление с учётом плана пользователя:
// прямая ссылка — при expose_direct_link, миниатюры — размеры плана.
func toImageResponse(u *model.User, img *model.Image) imageResponse {
	resp := imageResponse{
		ID:               img.ID,
		OriginalFilename: img.OriginalFilename,
		ContentType:      img.ContentType,
		Size:             img.Size,
		CreatedAt:        img.CreatedAt,
		BinaryImageID:    img.BinaryImageID,
	}
	if access.HasCapability(u, access.ExposeDirectLink) {
		resp.ImageURL = mediaURL(img.StorageKey)
	}
	if u != nil && u.Plan != nil && len(u.Plan.ThumbnailSizes) > 0 {
		sizes := append([]int(nil), u.Plan.ThumbnailSizes...)
		sort.Ints(sizes)
		resp.Thumbnails = make(map[int]string, len(sizes))
		for _, size := range sizes {
			resp.Thumbnails[size] = "/api/v1/images/" + img.ID + "/thumbnails/" + strconv.Itoa(size)
		}
	}
	return resp
}

func toBinaryImageResponse(b *model.BinaryImage) binaryImageResponse {
	return binaryImageResponse{
		ID:             b.ID,
		Link:           b.Link,
		URL:            "/api/v1/binary-images/" + b.Link,
		ExpirationTime: b.ExpirationSeconds,
		CreatedAt:      b.CreatedAt,
		ExpiresAt:      b.ExpiresAt(),
	}
}

// mediaURL — адрес оригинала в /media/ (корень — originals/).
func mediaURL(storageKey string) string {
	return "/media/" + strings.TrimPrefix(storageKey, storage.PrefixOriginals+"/")
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
