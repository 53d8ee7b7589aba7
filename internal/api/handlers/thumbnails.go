// thumbnails.go — обработчик GET /api/v1/images/{id}/thumbnails/{size}.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/imagehost/internal/api/errors"
)

// GetThumbnail отдаёт миниатюру изображения владельцу.
// Размер должен входить в план; миниатюра создаётся при первом запросе.
func (h *APIHandler) GetThumbnail(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(w, r)
	if !ok {
		return
	}

	size, err := strconv.Atoi(chi.URLParam(r, "size"))
	if err != nil || size <= 0 {
		apierrors.FieldError(w, "size", "ожидается положительное целое число")
		return
	}

	key, err := h.thumbnails.Get(r.Context(), u, chi.URLParam(r, "id"), size)
	if err != nil {
		apierrors.WriteServiceError(w, h.logger, err)
		return
	}
	h.files.ServeKey(w, r, key)
}
