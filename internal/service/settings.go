package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dogeystamp/sachet-server/internal/auth"
	"github.com/dogeystamp/sachet-server/internal/domain/model"
	"github.com/dogeystamp/sachet-server/internal/domain/permission"
	"github.com/dogeystamp/sachet-server/internal/repository"
)

// SettingsService — настройки сервера (права анонимного пользователя).
// Запись создаётся лениво со всеми правами при первом чтении.
type SettingsService struct {
	store  repository.Store
	logger *slog.Logger
}

var _ auth.SettingsProvider = (*SettingsService)(nil)

// NewSettingsService создаёт сервис настроек.
func NewSettingsService(store repository.Store, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		store:  store,
		logger: logger.With(slog.String("component", "settings_service")),
	}
}

// DefaultPermissions возвращает права анонимного пользователя.
func (s *SettingsService) DefaultPermissions(ctx context.Context) (permission.Set, error) {
	settings, err := s.load(ctx)
	if err != nil {
		return permission.Set{}, err
	}
	return settings.DefaultPermissions, nil
}

// Get возвращает настройки. Требуется ADMIN.
func (s *SettingsService) Get(ctx context.Context, actor *model.User) (*model.ServerSettings, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.load(ctx)
}

// Update изменяет настройки. replace=true (PUT) требует все поля.
func (s *SettingsService) Update(
	ctx context.Context,
	actor *model.User,
	upd model.SettingsUpdate,
	replace bool,
) (*model.ServerSettings, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if replace && !upd.DefaultPermissions.Set {
		return nil, validationError("поле default_permissions обязательно")
	}
	if upd.DefaultPermissions.Null {
		return nil, validationError("default_permissions не может быть null")
	}

	var result *model.ServerSettings
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		settings, err := tx.Settings().GetOrCreate(ctx, model.DefaultServerSettings())
		if err != nil {
			return err
		}
		upd.Apply(settings)
		if err := tx.Settings().Save(ctx, settings); err != nil {
			return err
		}
		result = settings
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ошибка обновления настроек: %w", err)
	}

	s.logger.Info("Права по умолчанию изменены",
		slog.String("actor", actor.Username),
		slog.Any("default_permissions", result.DefaultPermissions.Names()),
	)
	return result, nil
}

func (s *SettingsService) load(ctx context.Context) (*model.ServerSettings, error) {
	settings, err := s.store.Settings().GetOrCreate(ctx, model.DefaultServerSettings())
	if err != nil {
		return nil, fmt.Errorf("ошибка получения настроек: %w", err)
	}
	return settings, nil
}

// requireAdmin — проверка ADMIN без анонимного доступа.
func requireAdmin(actor *model.User) error {
	return auth.Evaluate(actor, permission.Set{}, permission.New(permission.Admin), false).Err()
}
