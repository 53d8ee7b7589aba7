// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store — набор репозиториев с общей транзакционной границей.
type Store interface {
	Plans() PlanRepository
	Users() UserRepository
	Images() ImageRepository
	BinaryImages() BinaryImageRepository

	// RunInTx выполняет fn внутри транзакции. Репозитории переданного
	// Store работают в этой транзакции. Вложенный вызов — savepoint.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}

// beginner — *pgxpool.Pool или pgx.Tx (для вложенных транзакций).
type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// pgStore — реализация Store поверх PostgreSQL.
type pgStore struct {
	db DBTX
	tx beginner
}

// NewStore создаёт Store на пуле подключений.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{db: pool, tx: pool}
}

func (s *pgStore) Plans() PlanRepository               { return NewPlanRepository(s.db) }
func (s *pgStore) Users() UserRepository               { return NewUserRepository(s.db) }
func (s *pgStore) Images() ImageRepository             { return NewImageRepository(s.db) }
func (s *pgStore) BinaryImages() BinaryImageRepository { return NewBinaryImageRepository(s.db) }

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (s *pgStore) RunInTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := s.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(&pgStore{db: tx, tx: tx}); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isForeignKeyViolation проверяет нарушение внешнего ключа.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
