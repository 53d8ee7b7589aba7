// binary_images.go — обработчики binary images: создание по изображению,
// скачивание по ссылке, метаданные и удаление.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/imagehost/internal/api/errors"
	"github.com/bigkaa/imagehost/internal/domain/access"
)

// expirationField — имя параметра срока жизни ссылки.
const expirationField = "expiration_time"

// CreateBinaryImage — POST /api/v1/images/{id}/binary-image.
// expiration_time передаётся полем формы или в JSON-теле.
func (h *APIHandler) CreateBinaryImage(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	// Проверка плана раньше разбора тела: без права — 403, а не 400
	if err := access.RequireCapability(u, access.AllowBinaryDownload); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	expiration, err := parseExpiration(r)
	if err != nil {
		apierrors.FieldError(w, expirationField, err.Error())
		return
	}

	b, err := h.binaries.Create(r.Context(), u, chi.URLParam(r, "id"), expiration)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toBinaryImageResponse(b))
}

// GetBinaryImage — GET /api/v1/binary-images/{link}. Отдаёт файл владельцу
// с правом allow_binary_download до истечения срока ссылки.
func (h *APIHandler) GetBinaryImage(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	b, err := h.binaries.Resolve(r.Context(), u, chi.URLParam(r, "link"))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	h.files.ServeKey(w, r, b.StorageKey)
}

// GetBinaryImageInfo — GET /api/v1/binary-images/{link}/info.
// Метаданные доступны владельцу и после истечения срока.
func (h *APIHandler) GetBinaryImageInfo(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	b, err := h.binaries.Info(r.Context(), u, chi.URLParam(r, "link"))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	resp := toBinaryImageResponse(b)
	expired := h.binaries.IsExpired(b)
	resp.Expired = &expired
	writeJSON(w, http.StatusOK, resp)
}

// DeleteBinaryImage — DELETE /api/v1/binary-images/{link}.
func (h *APIHandler) DeleteBinaryImage(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if err := h.binaries.Delete(r.Context(), u, chi.URLParam(r, "link")); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseExpiration извлекает целое expiration_time из JSON или формы.
// Диапазон проверяет сервисный слой.
func parseExpiration(r *http.Request) (int, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		var body struct {
			ExpirationTime json.RawMessage `json:"expiration_time"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return 0, errors.New("некорректное JSON-тело")
		}
		if len(body.ExpirationTime) == 0 {
			return 0, errors.New("обязательное поле")
		}
		// Допускаются и число, и строка с числом
		raw := strings.Trim(string(body.ExpirationTime), `"`)
		return parseSeconds(raw)
	}

	if err := r.ParseMultipartForm(1 << 20); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return 0, errors.New("некорректное тело запроса")
	}
	raw := r.FormValue(expirationField)
	if raw == "" {
		return 0, errors.New("обязательное поле")
	}
	return parseSeconds(raw)
}

func parseSeconds(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("ожидается целое число секунд, получено %q", raw)
	}
	return n, nil
}
