// Пакет repository — слой доступа к данным PostgreSQL.
// Все запросы — чистый SQL через pgx, без ORM.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dogeystamp/sachet-server/internal/domain/model"
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

// UserRepository — таблица users.
type UserRepository interface {
	// Create создаёт пользователя. ErrConflict, если имя занято.
	Create(ctx context.Context, u *model.User) error
	// GetByUsername возвращает пользователя по имени.
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	// List возвращает страницу пользователей в порядке регистрации.
	List(ctx context.Context, limit, offset int) ([]*model.User, error)
	// Count возвращает число пользователей.
	Count(ctx context.Context) (int, error)
	// Update сохраняет хэш пароля и права.
	Update(ctx context.Context, u *model.User) error
	// Delete удаляет пользователя; его шары становятся анонимными.
	Delete(ctx context.Context, username string) error
}

// ShareRepository — таблица shares.
type ShareRepository interface {
	Create(ctx context.Context, s *model.Share) error
	GetByID(ctx context.Context, shareID string) (*model.Share, error)
	// GetForUpdate возвращает шару с блокировкой строки до конца транзакции.
	GetForUpdate(ctx context.Context, shareID string) (*model.Share, error)
	// List возвращает страницу шар в порядке создания.
	List(ctx context.Context, limit, offset int) ([]*model.Share, error)
	Count(ctx context.Context) (int, error)
	// Update сохраняет владельца, имя файла и флаги.
	Update(ctx context.Context, s *model.Share) error
	Delete(ctx context.Context, shareID string) error
	// ListUninitializedBefore возвращает незагруженные шары, созданные до before.
	ListUninitializedBefore(ctx context.Context, before time.Time) ([]*model.Share, error)
}

// UploadRepository — таблицы upload_sessions и chunks.
type UploadRepository interface {
	// EnsureSession создаёт сессию, если её нет, и возвращает её
	// с блокировкой строки до конца транзакции.
	EnsureSession(ctx context.Context, s *model.UploadSession) (*model.UploadSession, error)
	// GetSession возвращает сессию без блокировки.
	GetSession(ctx context.Context, uploadID string) (*model.UploadSession, error)
	// AddChunk регистрирует чанк. false — чанк с этим индексом уже был.
	AddChunk(ctx context.Context, c *model.Chunk) (bool, error)
	// IncrementReceived увеличивает счётчик и возвращает новое значение.
	IncrementReceived(ctx context.Context, uploadID string) (int, error)
	// MarkCompleted помечает сессию завершённой.
	MarkCompleted(ctx context.Context, uploadID string) error
	// ListChunks возвращает чанки в порядке индекса.
	ListChunks(ctx context.Context, uploadID string) ([]*model.Chunk, error)
	// DeleteSession удаляет сессию вместе с чанками.
	DeleteSession(ctx context.Context, uploadID string) error
	// ListSessionsBefore возвращает сессии, созданные до before.
	ListSessionsBefore(ctx context.Context, before time.Time) ([]*model.UploadSession, error)
}

// SettingsRepository — таблица server_settings (одна строка).
type SettingsRepository interface {
	// GetOrCreate возвращает настройки, создавая строку из defaults при отсутствии.
	GetOrCreate(ctx context.Context, defaults *model.ServerSettings) (*model.ServerSettings, error)
	// Save сохраняет настройки.
	Save(ctx context.Context, s *model.ServerSettings) error
}

// TokenRepository — таблица token_blacklist.
type TokenRepository interface {
	// Revoke заносит токен в чёрный список. false — токен уже был отозван.
	Revoke(ctx context.Context, token string, expiresAt, revokedAt time.Time) (bool, error)
	// IsRevoked проверяет наличие токена в чёрном списке.
	IsRevoked(ctx context.Context, token string) (bool, error)
	// DeleteExpired удаляет записи с истёкшим сроком действия.
	DeleteExpired(ctx context.Context, before time.Time) (int, error)
}

// Store — набор репозиториев с поддержкой транзакций.
type Store interface {
	Users() UserRepository
	Shares() ShareRepository
	Uploads() UploadRepository
	Settings() SettingsRepository
	Tokens() TokenRepository
	// InTx выполняет fn в транзакции; репозитории tx видят изменения друг друга.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// pgStore — Store поверх pgx (пул или транзакция).
type pgStore struct {
	db DBTX
	tx *TxRunner
}

// NewStore создаёт Store поверх пула подключений.
func NewStore(pool *pgxpool.Pool) Store {
	return &pgStore{db: pool, tx: NewTxRunner(pool)}
}

func (s *pgStore) Users() UserRepository { return NewUserRepository(s.db) }
func (s *pgStore) Shares() ShareRepository { return NewShareRepository(s.db) }
func (s *pgStore) Uploads() UploadRepository { return NewUploadRepository(s.db) }
func (s *pgStore) Settings() SettingsRepository { return NewSettingsRepository(s.db) }
func (s *pgStore) Tokens() TokenRepository { return NewTokenRepository(s.db) }

// InTx открывает транзакцию. Вложенный InTx выполняется в той же транзакции.
func (s *pgStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.tx == nil {
		return fn(s)
	}
	return s.tx.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgStore{db: tx})
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isInvalidText — некорректное значение для типа колонки (например, не UUID).
func isInvalidText(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02" // invalid_text_representation
	}
	return false
}

// isForeignKeyViolation — ссылка на несуществующую запись.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
