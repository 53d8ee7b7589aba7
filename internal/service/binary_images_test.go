package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/imagehost/internal/domain/binarylink"
	"github.com/bigkaa/imagehost/internal/repository"
)

func TestBinaryCreate_ExpirationBounds(t *testing.T) {
	tests := []struct {
		seconds int
		wantErr bool
	}{
		{299, true},
		{300, false},
		{345, false},
		{30000, false},
		{30001, true},
		{32, true},
		{34543, true},
	}

	for _, tt := range tests {
		env := newTestEnv(t)
		ent := env.store.AddUser("ent", "Enterprise")
		img := env.upload(t, ent)

		_, err := env.binaries.Create(context.Background(), ent, img.ID, tt.seconds)
		if tt.wantErr {
			var vErr *ValidationError
			if !errors.As(err, &vErr) || vErr.Field != "expiration_time" {
				t.Errorf("expiration=%d: ожидали ValidationError(expiration_time), получили %v", tt.seconds, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("expiration=%d: неожиданная ошибка %v", tt.seconds, err)
		}
	}
}

func TestBinaryCreate_CapabilityGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	basic := env.store.AddUser("basic", "Basic")
	premium := env.store.AddUser("premium", "Premium")
	noPlan := env.store.AddUser("noplan", "")
	img := env.upload(t, basic)

	if _, err := env.binaries.Create(ctx, nil, img.ID, 345); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("аноним: ожидали ErrAuthenticationFailed, получили %v", err)
	}
	if _, err := env.binaries.Create(ctx, basic, img.ID, 355); !errors.Is(err, ErrForbidden) {
		t.Errorf("Basic: ожидали ErrForbidden, получили %v", err)
	}
	// ExposeDirectLink не даёт права на binary image
	if _, err := env.binaries.Create(ctx, premium, img.ID, 355); !errors.Is(err, ErrForbidden) {
		t.Errorf("Premium: ожидали ErrForbidden, получили %v", err)
	}
	if _, err := env.binaries.Create(ctx, noPlan, img.ID, 355); !errors.Is(err, ErrForbidden) {
		t.Errorf("без плана: ожидали ErrForbidden, получили %v", err)
	}
	// Проверка плана выполняется раньше валидации
	if _, err := env.binaries.Create(ctx, basic, img.ID, 1); !errors.Is(err, ErrForbidden) {
		t.Errorf("Basic с некорректным сроком: ожидали ErrForbidden, получили %v", err)
	}
}

func TestBinaryCreate_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ent := env.store.AddUser("ent", "Enterprise")
	img := env.upload(t, ent)

	fixed := time.Date(2026, 3, 1, 12, 0, 0, 123456789, time.UTC)
	env.binaries.now = func() time.Time { return fixed }

	b, err := env.binaries.Create(ctx, ent, img.ID, 345)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if b.OwnerID != "ent" {
		t.Errorf("OwnerID = %q, ожидали ent", b.OwnerID)
	}
	if !binarylink.IsValid(b.Link) {
		t.Errorf("некорректная ссылка %q", b.Link)
	}
	if want := binarylink.Generate(binarylink.Truncate(fixed), b.StorageKey); b.Link != want {
		t.Errorf("Link = %s, ожидали %s", b.Link, want)
	}
	if !b.CreatedAt.Equal(binarylink.Truncate(fixed)) {
		t.Errorf("CreatedAt = %v, ожидали усечение до микросекунд", b.CreatedAt)
	}
	if !strings.HasPrefix(b.StorageKey, "binary/") || !strings.HasSuffix(b.StorageKey, "/test-binary.jpeg") {
		t.Errorf("StorageKey = %q, ожидали binary/<id>/test-binary.jpeg", b.StorageKey)
	}
	if !env.exists(t, b.StorageKey) {
		t.Error("файл binary image не создан")
	}

	linked, _ := env.store.Images().GetByID(ctx, img.ID)
	if linked.BinaryImageID == nil || *linked.BinaryImageID != b.ID {
		t.Error("изображение не связано с binary image")
	}
}

// Чужое изображение: отказ, слот binary image остаётся свободным для владельца.
func TestBinaryCreate_OwnerGate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.store.AddUser("owner", "Enterprise")
	other := env.store.AddUser("other", "Enterprise")
	basic := env.store.AddUser("basic", "Basic")
	img := env.upload(t, owner)
	basicImg := env.upload(t, basic)

	if _, err := env.binaries.Create(ctx, other, img.ID, 345); !errors.Is(err, ErrForbidden) {
		t.Fatalf("чужое изображение: ожидали ErrForbidden, получили %v", err)
	}
	// Владелец изображения без права на binary image тоже не даёт его создать другим
	if _, err := env.binaries.Create(ctx, other, basicImg.ID, 345); !errors.Is(err, ErrForbidden) {
		t.Errorf("изображение Basic: ожидали ErrForbidden, получили %v", err)
	}
	if n := env.countFiles(t, "binary"); n != 0 {
		t.Errorf("после отказа осталось файлов binary: %d", n)
	}

	b, err := env.binaries.Create(ctx, owner, img.ID, 345)
	if err != nil {
		t.Fatalf("владелец: %v", err)
	}
	if b.OwnerID != "owner" {
		t.Errorf("OwnerID = %q, ожидали owner", b.OwnerID)
	}
}

func TestBinaryCreate_ConflictWhenLinked(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ent := env.store.AddUser("ent", "Enterprise")
	img := env.upload(t, ent)

	if _, err := env.binaries.Create(ctx, ent, img.ID, 345); err != nil {
		t.Fatalf("первое создание: %v", err)
	}
	if _, err := env.binaries.Create(ctx, ent, img.ID, 345); !errors.Is(err, ErrConflict) {
		t.Errorf("ожидали ErrConflict, получили %v", err)
	}
	if n := env.countFiles(t, "binary"); n != 1 {
		t.Errorf("файлов binary = %d, ожидали 1", n)
	}
}

func TestBinaryCreate_NotFound(t *testing.T) {
	env := newTestEnv(t)
	ent := env.store.AddUser("ent", "Enterprise")

	for _, id := range []string{"not-a-uuid", "5f1c8e7a-0000-4000-8000-000000000000"} {
		if _, err := env.binaries.Create(context.Background(), ent, id, 345); !errors.Is(err, ErrNotFound) {
			t.Errorf("image %q: ожидали ErrNotFound, получили %v", id, err)
		}
	}
}

func TestBinaryCreate_CompensatesFileOnStoreFailure(t *testing.T) {
	for _, op := range []string{"BinaryImages.Create", "Images.LinkBinaryImage"} {
		t.Run(op, func(t *testing.T) {
			env := newTestEnv(t)
			ctx := context.Background()
			ent := env.store.AddUser("ent", "Enterprise")
			img := env.upload(t, ent)

			boom := errors.New("сбой БД")
			env.store.Fail = func(name string) error {
				if name == op {
					return boom
				}
				return nil
			}

			if _, err := env.binaries.Create(ctx, ent, img.ID, 345); !errors.Is(err, boom) {
				t.Fatalf("ожидали ошибку БД, получили %v", err)
			}
			if n := env.countFiles(t, "binary"); n != 0 {
				t.Errorf("после отката осталось файлов binary: %d", n)
			}
			got, _ := env.store.Images().GetByID(ctx, img.ID)
			if got.BinaryImageID != nil {
				t.Error("связь не должна сохраниться после отката")
			}
		})
	}
}

func TestBinaryCreate_LinkCollision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ent := env.store.AddUser("ent", "Enterprise")
	img := env.upload(t, ent)

	env.store.Fail = func(name string) error {
		if name == "BinaryImages.Create" {
			return repository.ErrConflict
		}
		return nil
	}
	if _, err := env.binaries.Create(ctx, ent, img.ID, 345); !errors.Is(err, ErrConflict) {
		t.Errorf("ожидали ErrConflict, получили %v", err)
	}
}

func TestBinaryResolve(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ent := env.store.AddUser("ent", "Enterprise")
	ent2 := env.store.AddUser("ent2", "Enterprise")
	premium := env.store.AddUser("premium", "Premium")
	img := env.upload(t, ent)

	start := time.Now()
	env.binaries.now = func() time.Time { return start }
	b, err := env.binaries.Create(ctx, ent, img.ID, 345)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if got, err := env.binaries.Resolve(ctx, ent, b.Link); err != nil || got.ID != b.ID {
		t.Fatalf("владелец: Resolve = %v, %v", got, err)
	}
	if _, err := env.binaries.Resolve(ctx, ent2, b.Link); !errors.Is(err, ErrForbidden) {
		t.Errorf("другой Enterprise: ожидали ErrForbidden, получили %v", err)
	}
	if _, err := env.binaries.Resolve(ctx, premium, b.Link); !errors.Is(err, ErrForbidden) {
		t.Errorf("Premium: ожидали ErrForbidden, получили %v", err)
	}
	if _, err := env.binaries.Resolve(ctx, nil, b.Link); !errors.Is(err, ErrAuthenticationFailed) {
		t.Errorf("аноним: ожидали ErrAuthenticationFailed, получили %v", err)
	}
	if _, err := env.binaries.Resolve(ctx, ent, "0000000000000000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("неизвестная ссылка: ожидали ErrNotFound, получили %v", err)
	}
	if _, err := env.binaries.Resolve(ctx, ent, "../../etc/passwd"); !errors.Is(err, ErrNotFound) {
		t.Errorf("некорректная ссылка: ожидали ErrNotFound, получили %v", err)
	}

	// Граница: created + S == now — ещё действует, now = created + S + 1s — истекла
	created := b.CreatedAt
	env.binaries.now = func() time.Time { return created.Add(345 * time.Second) }
	if _, err := env.binaries.Resolve(ctx, ent, b.Link); err != nil {
		t.Errorf("на границе срока: неожиданная ошибка %v", err)
	}
	env.binaries.now = func() time.Time { return created.Add(346 * time.Second) }
	if _, err := env.binaries.Resolve(ctx, ent, b.Link); !errors.Is(err, ErrLinkExpired) || !errors.Is(err, ErrForbidden) {
		t.Errorf("истёкшая ссылка: ожидали ErrLinkExpired/ErrForbidden, получили %v", err)
	}

	// Info доступен и после истечения
	if _, err := env.binaries.Info(ctx, ent, b.Link); err != nil {
		t.Errorf("Info истёкшей ссылки: %v", err)
	}
	if !env.binaries.IsExpired(b) {
		t.Error("IsExpired должен вернуть true")
	}
}

func TestBinaryDelete_RemovesFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ent := env.store.AddUser("ent", "Enterprise")
	ent2 := env.store.AddUser("ent2", "Enterprise")
	img := env.upload(t, ent)

	b, err := env.binaries.Create(ctx, ent, img.ID, 345)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := env.binaries.Delete(ctx, ent2, b.Link); !errors.Is(err, ErrForbidden) {
		t.Errorf("чужое удаление: ожидали ErrForbidden, получили %v", err)
	}
	if err := env.binaries.Delete(ctx, ent, b.Link); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if env.exists(t, b.StorageKey) {
		t.Error("файл binary image не удалён")
	}
	if _, err := env.binaries.Resolve(ctx, ent, b.Link); !errors.Is(err, ErrNotFound) {
		t.Errorf("после удаления: ожидали ErrNotFound, получили %v", err)
	}

	// Связь снята — можно создать новый binary image
	if _, err := env.binaries.Create(ctx, ent, img.ID, 300); err != nil {
		t.Errorf("повторное создание после удаления: %v", err)
	}
}
