package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dogeystamp/sachet-server/internal/domain/model"
)

// uploadRepo — реализация UploadRepository.
type uploadRepo struct {
	db DBTX
}

// NewUploadRepository создаёт репозиторий сессий загрузки.
func NewUploadRepository(db DBTX) UploadRepository {
	return &uploadRepo{db: db}
}

const sessionColumns = `upload_id, share_id, total_chunks, received_chunks, completed, create_date`

// EnsureSession: конкурентный INSERT ждёт коммита первой транзакции
// на уникальном индексе, затем ON CONFLICT ничего не делает.
func (r *uploadRepo) EnsureSession(ctx context.Context, s *model.UploadSession) (*model.UploadSession, error) {
	insert := `
		INSERT INTO upload_sessions (upload_id, share_id, total_chunks, received_chunks, completed, create_date)
		VALUES ($1, $2, $3, 0, false, $4)
		ON CONFLICT (upload_id) DO NOTHING`

	if _, err := r.db.Exec(ctx, insert, s.UploadID, s.ShareID, s.TotalChunks, s.CreateDate); err != nil {
		if isForeignKeyViolation(err) {
			return nil, fmt.Errorf("%w: шара %s не существует", ErrNotFound, s.ShareID)
		}
		return nil, fmt.Errorf("ошибка создания сессии загрузки: %w", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE upload_id = $1 FOR UPDATE`
	sess, err := scanSession(r.db.QueryRow(ctx, query, s.UploadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сессии загрузки: %w", err)
	}
	return sess, nil
}

func (r *uploadRepo) GetSession(ctx context.Context, uploadID string) (*model.UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE upload_id = $1`
	sess, err := scanSession(r.db.QueryRow(ctx, query, uploadID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения сессии загрузки: %w", err)
	}
	return sess, nil
}

func (r *uploadRepo) AddChunk(ctx context.Context, c *model.Chunk) (bool, error) {
	query := `
		INSERT INTO chunks (upload_id, chunk_index, blob_key)
		VALUES ($1, $2, $3)
		ON CONFLICT (upload_id, chunk_index) DO NOTHING
		RETURNING chunk_id`

	err := r.db.QueryRow(ctx, query, c.UploadID, c.Index, c.BlobKey).Scan(&c.ChunkID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		if isForeignKeyViolation(err) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("ошибка регистрации чанка: %w", err)
	}
	return true, nil
}

func (r *uploadRepo) IncrementReceived(ctx context.Context, uploadID string) (int, error) {
	query := `
		UPDATE upload_sessions
		SET received_chunks = received_chunks + 1
		WHERE upload_id = $1
		RETURNING received_chunks`

	var received int
	if err := r.db.QueryRow(ctx, query, uploadID).Scan(&received); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("ошибка обновления счётчика чанков: %w", err)
	}
	return received, nil
}

func (r *uploadRepo) MarkCompleted(ctx context.Context, uploadID string) error {
	tag, err := r.db.Exec(ctx, `UPDATE upload_sessions SET completed = true WHERE upload_id = $1`, uploadID)
	if err != nil {
		return fmt.Errorf("ошибка завершения сессии загрузки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *uploadRepo) ListChunks(ctx context.Context, uploadID string) ([]*model.Chunk, error) {
	query := `
		SELECT chunk_id, upload_id, chunk_index, blob_key
		FROM chunks
		WHERE upload_id = $1
		ORDER BY chunk_index`

	rows, err := r.db.Query(ctx, query, uploadID)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения чанков: %w", err)
	}
	defer rows.Close()

	var result []*model.Chunk
	for rows.Next() {
		c := &model.Chunk{}
		if err := rows.Scan(&c.ChunkID, &c.UploadID, &c.Index, &c.BlobKey); err != nil {
			return nil, fmt.Errorf("ошибка сканирования чанка: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (r *uploadRepo) DeleteSession(ctx context.Context, uploadID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM upload_sessions WHERE upload_id = $1`, uploadID)
	if err != nil {
		return fmt.Errorf("ошибка удаления сессии загрузки: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *uploadRepo) ListSessionsBefore(ctx context.Context, before time.Time) ([]*model.UploadSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM upload_sessions
		WHERE create_date < $1
		ORDER BY create_date`

	rows, err := r.db.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения сессий загрузки: %w", err)
	}
	defer rows.Close()

	var result []*model.UploadSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования сессии загрузки: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func scanSession(row pgx.Row) (*model.UploadSession, error) {
	s := &model.UploadSession{}
	err := row.Scan(&s.UploadID, &s.ShareID, &s.TotalChunks, &s.ReceivedChunks, &s.Completed, &s.CreateDate)
	if err != nil {
		return nil, err
	}
	return s, nil
}
