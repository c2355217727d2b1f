package repository

import (
	"context"
	"fmt"
	"time"
)

// tokenRepo — реализация TokenRepository.
type tokenRepo struct {
	db DBTX
}

// NewTokenRepository создаёт репозиторий отозванных токенов.
func NewTokenRepository(db DBTX) TokenRepository {
	return &tokenRepo{db: db}
}

func (r *tokenRepo) Revoke(ctx context.Context, token string, expiresAt, revokedAt time.Time) (bool, error) {
	query := `
		INSERT INTO token_blacklist (token, expires_at, revoked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token) DO NOTHING`

	tag, err := r.db.Exec(ctx, query, token, expiresAt, revokedAt)
	if err != nil {
		return false, fmt.Errorf("ошибка отзыва токена: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *tokenRepo) IsRevoked(ctx context.Context, token string) (bool, error) {
	var revoked bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM token_blacklist WHERE token = $1)`, token).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки отзыва токена: %w", err)
	}
	return revoked, nil
}

func (r *tokenRepo) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM token_blacklist WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("ошибка очистки чёрного списка токенов: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
