// images.go — обработчики /api/v1/images: загрузка, список, получение, удаление.
package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/imagehost/internal/api/errors"
	"github.com/bigkaa/imagehost/internal/domain/access"
)

// multipartOverhead — запас на заголовки multipart поверх лимита файла.
const multipartOverhead = 1 << 20

// CreateImage — POST /api/v1/images (multipart/form-data, поле image).
// Ответ 201 с представлением изображения.
func (h *APIHandler) CreateImage(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	// Тело не читается, пока не пройдена проверка плана
	if err := access.RequireCapability(u, access.PlanIsSet); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize+multipartOverhead)

	var (
		filename string
		file     io.Reader
	)
	f, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer f.Close()
		filename, file = header.Filename, f
	case isTooLarge(err), errors.Is(err, multipart.ErrMessageTooLarge):
		apierrors.FileTooLarge(w, "Размер запроса превышает допустимый")
		return
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// Файл не передан — сервис вернёт ошибку авторизации или валидации
	default:
		apierrors.ValidationError(w, "Некорректное тело запроса: ожидается multipart/form-data")
		return
	}

	img, err := h.images.Create(r.Context(), u, filename, file)
	if err != nil {
		if isTooLarge(err) {
			apierrors.FileTooLarge(w, "Размер запроса превышает допустимый")
			return
		}
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, toImageResponse(u, img))
}

// ListImages — GET /api/v1/images. Только изображения вызывающего.
func (h *APIHandler) ListImages(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	images, err := h.images.List(r.Context(), u)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}

	items := make([]imageResponse, 0, len(images))
	for _, img := range images {
		items = append(items, toImageResponse(u, img))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(items),
		"items": items,
	})
}

// GetImage — GET /api/v1/images/{id}.
func (h *APIHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	img, err := h.images.Get(r.Context(), u, chi.URLParam(r, "id"))
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toImageResponse(u, img))
}

// DeleteImage — DELETE /api/v1/images/{id}. Удаляет и binary image, и миниатюры.
func (h *APIHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	if err := h.images.Delete(r.Context(), u, chi.URLParam(r, "id")); err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeMedia — GET /media/*. Оригиналы изображений, только для аутентифицированных.
func (h *APIHandler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}
	h.media.Serve(w, r, u, chi.URLParam(r, "*"))
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
