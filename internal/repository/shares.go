package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dogeystamp/sachet-server/internal/domain/model"
)

// shareRepo — реализация ShareRepository.
type shareRepo struct {
	db DBTX
}

// NewShareRepository создаёт репозиторий шар.
func NewShareRepository(db DBTX) ShareRepository {
	return &shareRepo{db: db}
}

const shareColumns = `share_id, owner_name, file_name, initialized, locked, create_date`

func (r *shareRepo) Create(ctx context.Context, s *model.Share) error {
	query := `
		INSERT INTO shares (share_id, owner_name, file_name, initialized, locked, create_date)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		s.ShareID, s.OwnerName, s.FileName, s.Initialized, s.Locked, s.CreateDate,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: шара %s уже существует", ErrConflict, s.ShareID)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: владелец не существует", ErrNotFound)
		}
		return fmt.Errorf("ошибка создания шары: %w", err)
	}
	return nil
}

func (r *shareRepo) GetByID(ctx context.Context, shareID string) (*model.Share, error) {
	return r.get(ctx, `SELECT `+shareColumns+` FROM shares WHERE share_id = $1`, shareID)
}

func (r *shareRepo) GetForUpdate(ctx context.Context, shareID string) (*model.Share, error) {
	return r.get(ctx, `SELECT `+shareColumns+` FROM shares WHERE share_id = $1 FOR UPDATE`, shareID)
}

func (r *shareRepo) get(ctx context.Context, query, shareID string) (*model.Share, error) {
	s, err := scanShare(r.db.QueryRow(ctx, query, shareID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidText(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения шары: %w", err)
	}
	return s, nil
}

func (r *shareRepo) List(ctx context.Context, limit, offset int) ([]*model.Share, error) {
	query := `SELECT ` + shareColumns + `
		FROM shares
		ORDER BY create_date, share_id
		LIMIT $1 OFFSET $2`

	return r.list(ctx, query, limit, offset)
}

func (r *shareRepo) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM shares`).Scan(&count); err != nil {
		return 0, fmt.Errorf("ошибка подсчёта шар: %w", err)
	}
	return count, nil
}

func (r *shareRepo) Update(ctx context.Context, s *model.Share) error {
	query := `
		UPDATE shares
		SET owner_name = $2, file_name = $3, initialized = $4, locked = $5
		WHERE share_id = $1`

	tag, err := r.db.Exec(ctx, query, s.ShareID, s.OwnerName, s.FileName, s.Initialized, s.Locked)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("%w: владелец не существует", ErrNotFound)
		}
		return fmt.Errorf("ошибка обновления шары: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *shareRepo) Delete(ctx context.Context, shareID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM shares WHERE share_id = $1`, shareID)
	if err != nil {
		if isInvalidText(err) {
			return ErrNotFound
		}
		return fmt.Errorf("ошибка удаления шары: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *shareRepo) ListUninitializedBefore(ctx context.Context, before time.Time) ([]*model.Share, error) {
	query := `SELECT ` + shareColumns + `
		FROM shares
		WHERE NOT initialized AND create_date < $1
		ORDER BY create_date`

	return r.list(ctx, query, before)
}

func (r *shareRepo) list(ctx context.Context, query string, args ...any) ([]*model.Share, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения списка шар: %w", err)
	}
	defer rows.Close()

	var result []*model.Share
	for rows.Next() {
		s, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования шары: %w", err)
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func scanShare(row pgx.Row) (*model.Share, error) {
	s := &model.Share{}
	err := row.Scan(&s.ShareID, &s.OwnerName, &s.FileName, &s.Initialized, &s.Locked, &s.CreateDate)
	if err != nil {
		return nil, err
	}
	return s, nil
}
