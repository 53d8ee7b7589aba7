// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/bigkaa/imagehost/internal/domain/access"
	"github.com/bigkaa/imagehost/internal/repository"
)

var (
	// ErrAuthenticationFailed — запрос без аутентифицированного пользователя.
	ErrAuthenticationFailed = access.ErrAuthenticationFailed
	// ErrForbidden — не пройдена проверка плана или владения.
	ErrForbidden = access.ErrForbidden
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (ссылка занята, изображение уже связано).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrLinkExpired — срок действия ссылки binary image истёк.
	ErrLinkExpired = fmt.Errorf("%w: срок действия ссылки истёк", access.ErrForbidden)
)

// ValidationError — ошибка валидации конкретного поля.
// errors.Is(err, ErrValidation) == true.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap позволяет сопоставлять ValidationError с ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func validationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// mapRepoError переводит ошибки репозитория в ошибки сервисного слоя.
func mapRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	default:
		return err
	}
}
