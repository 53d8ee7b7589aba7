// Пакет access — проверки доступа imagehost.
//
// Два независимых шлюза:
//   - capability: у пользователя есть план, и в плане выставлен нужный флаг;
//   - ownership: пользователь — владелец ресурса (строгое равенство ID).
//
// Отсутствие аутентификации проверяется первым и всегда приводит к отказу.
package access

import (
	"errors"

	"github.com/bigkaa/imagehost/internal/domain/model"
)

// Ошибки проверок доступа.
var (
	// ErrAuthenticationFailed — запрос без аутентифицированного пользователя.
	ErrAuthenticationFailed = errors.New("требуется аутентификация")
	// ErrForbidden — проверка capability или ownership не пройдена.
	ErrForbidden = errors.New("доступ запрещён")
)

// Capability — возможность, выдаваемая планом.
type Capability string

const (
	// PlanIsSet — базовая возможность: у пользователя есть любой план.
	PlanIsSet Capability = "plan_is_set"
	// ExposeDirectLink — прямая ссылка на оригинал изображения.
	ExposeDirectLink Capability = "expose_direct_link"
	// AllowBinaryDownload — создание и скачивание binary images.
	AllowBinaryDownload Capability = "allow_binary_download"
)

// HasCapability проверяет возможность без учёта аутентификации.
// Пользователь без плана не имеет ни одной возможности.
func HasCapability(u *model.User, c Capability) bool {
	if u == nil || u.Plan == nil {
		return false
	}
	switch c {
	case PlanIsSet:
		return true
	case ExposeDirectLink:
		return u.Plan.ExposeDirectLink
	case AllowBinaryDownload:
		return u.Plan.AllowBinaryDownload
	default:
		return false
	}
}

// RequireCapability — шлюз capability.
func RequireCapability(u *model.User, c Capability) error {
	if u == nil {
		return ErrAuthenticationFailed
	}
	if !HasCapability(u, c) {
		return ErrForbidden
	}
	return nil
}

// RequireOwner — шлюз ownership.
func RequireOwner(u *model.User, ownerID string) error {
	if u == nil {
		return ErrAuthenticationFailed
	}
	if ownerID == "" || u.ID != ownerID {
		return ErrForbidden
	}
	return nil
}

// RequireBinaryAccess — доступ к binary image по ссылке:
// аутентификация, AllowBinaryDownload и владение.
func RequireBinaryAccess(u *model.User, b *model.BinaryImage) error {
	if err := RequireCapability(u, AllowBinaryDownload); err != nil {
		return err
	}
	return RequireOwner(u, b.OwnerID)
}
