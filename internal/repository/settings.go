package repository

import (
	"context"
	"fmt"

	"github.com/dogeystamp/sachet-server/internal/domain/model"
	"github.com/dogeystamp/sachet-server/internal/domain/permission"
)

// settingsRepo — реализация SettingsRepository.
type settingsRepo struct {
	db DBTX
}

// NewSettingsRepository создаёт репозиторий настроек сервера.
func NewSettingsRepository(db DBTX) SettingsRepository {
	return &settingsRepo{db: db}
}

func (r *settingsRepo) GetOrCreate(ctx context.Context, defaults *model.ServerSettings) (*model.ServerSettings, error) {
	insert := `
		INSERT INTO server_settings (id, default_permissions)
		VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING`

	if _, err := r.db.Exec(ctx, insert, defaults.DefaultPermissions.Int64()); err != nil {
		return nil, fmt.Errorf("ошибка создания настроек сервера: %w", err)
	}

	var perms int64
	if err := r.db.QueryRow(ctx, `SELECT default_permissions FROM server_settings WHERE id = 1`).Scan(&perms); err != nil {
		return nil, fmt.Errorf("ошибка получения настроек сервера: %w", err)
	}
	return &model.ServerSettings{DefaultPermissions: permission.FromInt64(perms)}, nil
}

func (r *settingsRepo) Save(ctx context.Context, s *model.ServerSettings) error {
	query := `
		INSERT INTO server_settings (id, default_permissions)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET default_permissions = EXCLUDED.default_permissions`

	if _, err := r.db.Exec(ctx, query, s.DefaultPermissions.Int64()); err != nil {
		return fmt.Errorf("ошибка сохранения настроек сервера: %w", err)
	}
	return nil
}
