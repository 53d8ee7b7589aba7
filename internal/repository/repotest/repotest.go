// Пакет repotest — in-memory реализация repository.Store для тестов
// сервисного слоя и HTTP-обработчиков.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/imagehost/internal/domain/model"
	"github.com/bigkaa/imagehost/internal/repository"
)

// Store — потокобезопасное хранилище в памяти.
// Транзакции сериализуются; при ошибке fn состояние откатывается к снимку.
type Store struct {
	txMu sync.Mutex
	mu   sync.Mutex
	st   state

	// Fail — инъекция ошибок: вызывается перед операцией с её именем
	// (например, "BinaryImages.Create"). Ненулевая ошибка возвращается вызывающему.
	Fail func(op string) error
}

type state struct {
	nextPlanID int64
	plans      map[int64]model.Plan
	users      map[string]model.User
	images     map[string]model.Image
	binaries   map[string]model.BinaryImage
}

func (s state) clone() state {
	c := state{
		nextPlanID: s.nextPlanID,
		plans:      make(map[int64]model.Plan, len(s.plans)),
		users:      make(map[string]model.User, len(s.users)),
		images:     make(map[string]model.Image, len(s.images)),
		binaries:   make(map[string]model.BinaryImage, len(s.binaries)),
	}
	for k, v := range s.plans {
		v.ThumbnailSizes = append([]int(nil), v.ThumbnailSizes...)
		c.plans[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.images {
		c.images[k] = v
	}
	for k, v := range s.binaries {
		c.binaries[k] = v
	}
	return c
}

// New создаёт пустой Store.
func New() *Store {
	return &Store{st: state{}.clone()}
}

// NewSeeded создаёт Store со встроенными планами Basic, Premium, Enterprise
// (как миграция 000002).
func NewSeeded() *Store {
	s := New()
	ctx := context.Background()
	for _, p := range []*model.Plan{
		{Name: "Basic"},
		{Name: "Premium", ExposeDirectLink: true},
		{Name: "Enterprise", ExposeDirectLink: true, AllowBinaryDownload: true},
	} {
		_ = s.Plans().Create(ctx, p)
		_ = s.Plans().SetThumbnailSizes(ctx, p.ID, []int{200, 400})
	}
	return s
}

// AddUser создаёт пользователя с планом по имени ("" — без плана).
func (s *Store) AddUser(id, planName string) *model.User {
	ctx := context.Background()
	u, _ := s.Users().EnsureExists(ctx, id)
	if planName != "" {
		p, err := s.Plans().GetByName(ctx, planName)
		if err != nil {
			panic(fmt.Sprintf("repotest: план %q не найден", planName))
		}
		_ = s.Users().SetPlan(ctx, id, &p.ID)
		u.PlanID = &p.ID
		u.Plan = p
	}
	return u
}

func (s *Store) fail(op string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

func (s *Store) Plans() repository.PlanRepository               { return planRepo{s} }
func (s *Store) Users() repository.UserRepository               { return userRepo{s} }
func (s *Store) Images() repository.ImageRepository             { return imageRepo{s} }
func (s *Store) BinaryImages() repository.BinaryImageRepository { return binaryRepo{s} }

// RunInTx выполняет fn; при ошибке восстанавливает снимок состояния.
func (s *Store) RunInTx(_ context.Context, fn func(tx repository.Store) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.st.clone()
	s.mu.Unlock()

	if err := fn(txStore{s}); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// txStore — Store внутри транзакции; вложенный RunInTx выполняет fn напрямую.
type txStore struct{ *Store }

func (t txStore) RunInTx(_ context.Context, fn func(tx repository.Store) error) error {
	return fn(t)
}

// --- Plans ---

type planRepo struct{ s *Store }

func (r planRepo) GetByID(_ context.Context, id int64) (*model.Plan, error) {
	if err := r.s.fail("Plans.GetByID"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.plans[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	p.ThumbnailSizes = append([]int(nil), p.ThumbnailSizes...)
	return &p, nil
}

func (r planRepo) GetByName(ctx context.Context, name string) (*model.Plan, error) {
	r.s.mu.Lock()
	var id int64
	for _, p := range r.s.st.plans {
		if p.Name == name {
			id = p.ID
		}
	}
	r.s.mu.Unlock()
	if id == 0 {
		return nil, repository.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r planRepo) List(_ context.Context) ([]*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	result := make([]*model.Plan, 0, len(r.s.st.plans))
	for _, p := range r.s.st.plans {
		p.ThumbnailSizes = append([]int(nil), p.ThumbnailSizes...)
		result = append(result, &p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r planRepo) Create(_ context.Context, p *model.Plan) error {
	if err := r.s.fail("Plans.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.st.plans {
		if existing.Name == p.Name {
			return fmt.Errorf("%w: план %q уже существует", repository.ErrConflict, p.Name)
		}
	}
	r.s.st.nextPlanID++
	p.ID = r.s.st.nextPlanID
	stored := *p
	stored.ThumbnailSizes = nil
	r.s.st.plans[p.ID] = stored
	return nil
}

func (r planRepo) SetThumbnailSizes(_ context.Context, planID int64, sizes []int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.st.plans[planID]
	if !ok {
		return repository.ErrNotFound
	}
	seen := make(map[int]bool)
	var uniq []int
	for _, size := range sizes {
		if !model.ValidThumbnailSize(size) {
			return fmt.Errorf("размер миниатюры %d вне диапазона", size)
		}
		if !seen[size] {
			seen[size] = true
			uniq = append(uniq, size)
		}
	}
	sort.Ints(uniq)
	p.ThumbnailSizes = uniq
	r.s.st.plans[planID] = p
	return nil
}

// --- Users ---

type userRepo struct{ s *Store }

func (r userRepo) Get(_ context.Context, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r userRepo) EnsureExists(_ context.Context, id string) (*model.User, error) {
	if err := r.s.fail("Users.EnsureExists"); err != nil {
		return nil, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[id]
	if !ok {
		u = model.User{ID: id, CreatedAt: time.Now().UTC()}
		r.s.st.users[id] = u
	}
	return &u, nil
}

func (r userRepo) SetPlan(_ context.Context, userID string, planID *int64) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.st.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	if planID != nil {
		if _, ok := r.s.st.plans[*planID]; !ok {
			return fmt.Errorf("%w: план %d", repository.ErrNotFound, *planID)
		}
		id := *planID
		planID = &id
	}
	u.PlanID = planID
	r.s.st.users[userID] = u
	return nil
}

// --- Images ---

type imageRepo struct{ s *Store }

func (r imageRepo) Create(_ context.Context, img *model.Image) error {
	if err := r.s.fail("Images.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.users[img.OwnerID]; !ok {
		return fmt.Errorf("пользователь %s не существует", img.OwnerID)
	}
	if _, ok := r.s.st.images[img.ID]; ok {
		return fmt.Errorf("%w: изображение %s уже существует", repository.ErrConflict, img.ID)
	}
	img.CreatedAt = time.Now().UTC()
	r.s.st.images[img.ID] = *img
	return nil
}

func (r imageRepo) GetByID(_ context.Context, id string) (*model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	img, ok := r.s.st.images[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &img, nil
}

func (r imageRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.Image, error) {
	return r.GetByID(ctx, id)
}

func (r imageRepo) GetByBinaryImageID(_ context.Context, binaryID string) (*model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, img := range r.s.st.images {
		if img.BinaryImageID != nil && *img.BinaryImageID == binaryID {
			return &img, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r imageRepo) ListByOwner(_ context.Context, ownerID string) ([]*model.Image, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*model.Image
	for _, img := range r.s.st.images {
		if img.OwnerID == ownerID {
			result = append(result, &img)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (r imageRepo) LinkBinaryImage(_ context.Context, imageID, binaryID string) error {
	if err := r.s.fail("Images.LinkBinaryImage"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	img, ok := r.s.st.images[imageID]
	if !ok {
		return repository.ErrNotFound
	}
	if img.BinaryImageID != nil {
		return fmt.Errorf("%w: изображение %s уже имеет binary image", repository.ErrConflict, imageID)
	}
	id := binaryID
	img.BinaryImageID = &id
	r.s.st.images[imageID] = img
	return nil
}

func (r imageRepo) Delete(_ context.Context, id string) error {
	if err := r.s.fail("Images.Delete"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.images[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.st.images, id)
	return nil
}

// --- Binary images ---

type binaryRepo struct{ s *Store }

func (r binaryRepo) Create(_ context.Context, b *model.BinaryImage) error {
	if err := r.s.fail("BinaryImages.Create"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.users[b.OwnerID]; !ok {
		return fmt.Errorf("пользователь %s не существует", b.OwnerID)
	}
	for _, existing := range r.s.st.binaries {
		if existing.Link == b.Link {
			return fmt.Errorf("%w: ссылка %s уже существует", repository.ErrConflict, b.Link)
		}
	}
	r.s.st.binaries[b.ID] = *b
	return nil
}

func (r binaryRepo) GetByID(_ context.Context, id string) (*model.BinaryImage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.st.binaries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (r binaryRepo) GetByLink(_ context.Context, link string) (*model.BinaryImage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.st.binaries {
		if b.Link == link {
			return &b, nil
		}
	}
	return nil, repository.ErrNotFound
}

// Delete удаляет запись и обнуляет ссылку в images (ON DELETE SET NULL).
func (r binaryRepo) Delete(_ context.Context, id string) error {
	if err := r.s.fail("BinaryImages.Delete"); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.st.binaries[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.st.binaries, id)
	for k, img := range r.s.st.images {
		if img.BinaryImageID != nil && *img.BinaryImageID == id {
			img.BinaryImageID = nil
			r.s.st.images[k] = img
		}
	}
	return nil
}

func (r binaryRepo) ListExpired(_ context.Context, before time.Time, limit int) ([]*model.BinaryImage, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var result []*model.BinaryImage
	for _, b := range r.s.st.binaries {
		if b.ExpiresAt().Before(before) {
			result = append(result, &b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Проверка соответствия интерфейсу.
var _ repository.Store = (*Store)(nil)
