// Пакет errors — конструкторы стандартных ошибок API imagehost.
// Единый формат: {"error": {"code": "...", "message": "...", "details": {...}}}.
// Все HTTP-ответы с ошибками должны использовать WriteError.
package errors //nolint:revive // конфликт имени со stdlib, импортируется как apierrors

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/bigkaa/imagehost/internal/service"
)

// Коды ошибок API.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeForbidden            = "FORBIDDEN"
	CodeConflict             = "CONFLICT"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Error errorDetail `json:"error"`
}

// errorDetail — детали ошибки. Details — ошибки по полям запроса.
type errorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// WriteError записывает ответ ошибки в стандартном формате.
// statusCode — HTTP статус-код, code — машиночитаемый код, message — описание.
func WriteError(w http.ResponseWriter, statusCode int, code, message string) {
	writeBody(w, statusCode, errorDetail{Code: code, Message: message})
}

func writeBody(w http.ResponseWriter, statusCode int, detail errorDetail) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Error: detail})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, CodeValidationError, message)
}

// FieldError — 400 с указанием поля, не прошедшего валидацию.
func FieldError(w http.ResponseWriter, field, message string) {
	writeBody(w, http.StatusBadRequest, errorDetail{
		Code:    CodeValidationError,
		Message: "Некорректные входные данные",
		Details: map[string]string{field: message},
	})
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, CodeNotFound, message)
}

// Unauthorized — 401 невалидный токен.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, CodeUnauthorized, message)
}

// AuthenticationFailed — 403 запрос без аутентификации.
func AuthenticationFailed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeAuthenticationFailed, message)
}

// Forbidden — 403 недостаточно прав.
func Forbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, CodeForbidden, message)
}

// Conflict — 409 конфликт состояния ресурса.
func Conflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, CodeConflict, message)
}

// FileTooLarge — 413 файл превышает лимит.
func FileTooLarge(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, CodeInternalError, message)
}

// WriteServiceError переводит ошибку сервисного слоя в HTTP-ответ.
// Неизвестные ошибки логируются и отдаются как 500 без подробностей.
func WriteServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		FieldError(w, verr.Field, verr.Message)
	case errors.Is(err, service.ErrValidation):
		ValidationError(w, err.Error())
	case errors.Is(err, service.ErrAuthenticationFailed):
		AuthenticationFailed(w, "Требуется аутентификация")
	case errors.Is(err, service.ErrLinkExpired):
		Forbidden(w, "Срок действия ссылки истёк")
	case errors.Is(err, service.ErrForbidden):
		Forbidden(w, "Недостаточно прав для выполнения операции")
	case errors.Is(err, service.ErrNotFound):
		NotFound(w, "Ресурс не найден")
	case errors.Is(err, service.ErrConflict):
		Conflict(w, err.Error())
	default:
		logger.Error("Внутренняя ошибка обработки запроса", slog.String("error", err.Error()))
		InternalError(w, "Внутренняя ошибка сервера")
	}
}
