// users.go — пользователи и сессии: вход, выход, продление токена,
// смена пароля, управление пользователями (ADMIN) и разрешение
// bearer-токена в пользователя.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dogeystamp/sachet-server/internal/auth"
	"github.com/dogeystamp/sachet-server/internal/domain/model"
	"github.com/dogeystamp/sachet-server/internal/domain/permission"
	"github.com/dogeystamp/sachet-server/internal/repository"
)

// reservedUsernames совпадают с маршрутами /users/{name}.
var reservedUsernames = map[string]bool{
	"login":    true,
	"logout":   true,
	"extend":   true,
	"password": true,
}

// maxUsernameLength — ограничение длины имени пользователя.
const maxUsernameLength = 64

// NewUser — данные для создания пользователя.
type NewUser struct {
	Username    string
	Password    string
	Permissions permission.Set
}

// IssuedToken — выданный токен.
type IssuedToken struct {
	Username  string
	Token     string
	ExpiresAt time.Time
}

// UserService — сервис пользователей и токенов.
type UserService struct {
	store  repository.Store
	hasher *auth.PasswordHasher
	tokens *auth.TokenManager
	authz  *auth.Authorizer
	cache  *UserCache
	now    func() time.Time
	logger *slog.Logger
}

// NewUserService создаёт сервис пользователей.
func NewUserService(
	store repository.Store,
	hasher *auth.PasswordHasher,
	tokens *auth.TokenManager,
	authz *auth.Authorizer,
	cache *UserCache,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		store:  store,
		hasher: hasher,
		tokens: tokens,
		authz:  authz,
		cache:  cache,
		now:    time.Now,
		logger: logger.With(slog.String("component", "user_service")),
	}
}

// Authenticate разрешает bearer-токен в пользователя.
// Истёкший токен заносится в чёрный список.
// Любая ошибка проверки — auth.ErrInvalidCredential.
func (s *UserService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenExpired) {
			if _, rerr := s.store.Tokens().Revoke(ctx, token, claims.Expiry(), s.now().UTC()); rerr != nil {
				s.logger.Warn("Не удалось отозвать истёкший токен", slog.String("error", rerr.Error()))
			}
		}
		return nil, fmt.Errorf("%w: %v", auth.ErrInvalidCredential, err)
	}

	revoked, err := s.store.Tokens().IsRevoked(ctx, token)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, fmt.Errorf("%w: токен отозван", auth.ErrInvalidCredential)
	}

	u, err := s.lookup(ctx, claims.Username())
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь не существует", auth.ErrInvalidCredential)
		}
		return nil, err
	}
	return u, nil
}

// Login проверяет пароль и выдаёт токен.
func (s *UserService) Login(ctx context.Context, username, password string) (*IssuedToken, error) {
	if username == "" || password == "" {
		return nil, validationError("username и password обязательны")
	}
	u, err := s.store.Users().GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, auth.ErrInvalidCredential
		}
		return nil, err
	}
	if err := s.hasher.Verify(u.PasswordHash, password); err != nil {
		return nil, err
	}

	issued, err := s.issue(u.Username)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Пользователь вошёл", slog.String("username", u.Username))
	return issued, nil
}

// Logout отзывает токен. Чужой токен может отозвать только ADMIN.
// Невалидный или уже отозванный токен — ErrValidation.
func (s *UserService) Logout(ctx context.Context, actor *model.User, token string) error {
	if err := requireUser(actor); err != nil {
		return err
	}
	if token == "" {
		return validationError("отсутствует token")
	}

	claims, err := s.tokens.Parse(token)
	if err != nil && !errors.Is(err, auth.ErrTokenExpired) {
		return validationError("невалидный токен")
	}
	if claims.Username() != actor.Username && !actor.Permissions.Has(permission.Admin) {
		return auth.ErrInsufficientPermission
	}

	ok, err := s.store.Tokens().Revoke(ctx, token, claims.Expiry(), s.now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		return validationError("токен уже отозван")
	}

	s.logger.Info("Токен отозван",
		slog.String("actor", actor.Username),
		slog.String("token_owner", claims.Username()),
	)
	return nil
}

// Extend выдаёт новый токен текущему пользователю.
func (s *UserService) Extend(ctx context.Context, actor *model.User) (*IssuedToken, error) {
	if err := requireUser(actor); err != nil {
		return nil, err
	}
	return s.issue(actor.Username)
}

// ChangePassword меняет пароль текущего пользователя.
// Неверный текущий пароль — ErrValidation.
func (s *UserService) ChangePassword(ctx context.Context, actor *model.User, oldPassword, newPassword string) error {
	if err := requireUser(actor); err != nil {
		return err
	}
	if newPassword == "" {
		return validationError("новый пароль не может быть пустым")
	}

	err := s.store.InTx(ctx, func(tx repository.Store) error {
		u, err := tx.Users().GetByUsername(ctx, actor.Username)
		if err != nil {
			return mapRepoError(err)
		}
		if err := s.hasher.Verify(u.PasswordHash, oldPassword); err != nil {
			if errors.Is(err, auth.ErrInvalidCredential) {
				return validationError("неверный текущий пароль")
			}
			return err
		}
		if u.PasswordHash, err = s.hasher.Hash(newPassword); err != nil {
			return err
		}
		return tx.Users().Update(ctx, u)
	})
	if err != nil {
		return err
	}

	s.cache.Delete(actor.Username)
	s.logger.Info("Пароль изменён", slog.String("username", actor.Username))
	return nil
}

// Whoami возвращает эффективные права субъекта (для анонима — права по умолчанию).
func (s *UserService) Whoami(ctx context.Context, actor *model.User) (auth.Decision, error) {
	return s.authz.Authorize(ctx, actor, permission.New(), true)
}

// Get возвращает пользователя. Доступно самому пользователю и ADMIN.
func (s *UserService) Get(ctx context.Context, actor *model.User, username string) (*model.User, error) {
	if err := requireUser(actor); err != nil {
		return nil, err
	}
	if actor.Username != username && !actor.Permissions.Has(permission.Admin) {
		return nil, auth.ErrInsufficientPermission
	}
	u, err := s.store.Users().GetByUsername(ctx, username)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return u, nil
}

// List возвращает страницу пользователей. Требуется ADMIN.
func (s *UserService) List(ctx context.Context, actor *model.User, page, perPage int) (*Page[*model.User], error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	page, perPage, err := normalizePage(page, perPage)
	if err != nil {
		return nil, err
	}

	total, err := s.store.Users().Count(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.store.Users().List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	return newPage(items, page, perPage, total), nil
}

// Create создаёт пользователя. Требуется ADMIN.
func (s *UserService) Create(ctx context.Context, actor *model.User, nu NewUser) (*model.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	u, err := s.create(ctx, nu)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Пользователь создан",
		slog.String("actor", actor.Username),
		slog.String("username", u.Username),
		slog.Any("permissions", u.Permissions.Names()),
	)
	return u, nil
}

// Update изменяет пароль и/или права. replace=true (PUT) требует оба поля.
// Требуется ADMIN.
func (s *UserService) Update(
	ctx context.Context,
	actor *model.User,
	username string,
	upd model.UserUpdate,
	replace bool,
) (*model.User, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if replace && (!upd.Password.Set || !upd.Permissions.Set) {
		return nil, validationError("поля password и permissions обязательны")
	}
	if upd.Password.Set && (upd.Password.Null || upd.Password.Value == "") {
		return nil, validationError("password не может быть пустым")
	}
	if upd.Permissions.Null {
		return nil, validationError("permissions не может быть null")
	}

	var result *model.User
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		u, err := tx.Users().GetByUsername(ctx, username)
		if err != nil {
			return mapRepoError(err)
		}
		if upd.Password.Set {
			if u.PasswordHash, err = s.hasher.Hash(upd.Password.Value); err != nil {
				return err
			}
		}
		if upd.Permissions.Set {
			u.Permissions = upd.Permissions.Value
		}
		if err := tx.Users().Update(ctx, u); err != nil {
			return mapRepoError(err)
		}
		result = u
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Delete(username)
	s.logger.Info("Пользователь изменён",
		slog.String("actor", actor.Username),
		slog.String("username", username),
	)
	return result, nil
}

// Delete удаляет пользователя; его шары становятся анонимными. Требуется ADMIN.
func (s *UserService) Delete(ctx context.Context, actor *model.User, username string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if err := s.store.Users().Delete(ctx, username); err != nil {
		return mapRepoError(err)
	}
	s.cache.Delete(username)
	s.logger.Info("Пользователь удалён",
		slog.String("actor", actor.Username),
		slog.String("username", username),
	)
	return nil
}

// Bootstrap создаёт администратора со всеми правами, если его ещё нет.
func (s *UserService) Bootstrap(ctx context.Context, username, password string) error {
	_, err := s.create(ctx, NewUser{Username: username, Password: password, Permissions: permission.All()})
	switch {
	case err == nil:
		s.logger.Info("Создан начальный администратор", slog.String("username", username))
		return nil
	case errors.Is(err, ErrConflict):
		s.logger.Debug("Начальный администратор уже существует", slog.String("username", username))
		return nil
	default:
		return fmt.Errorf("ошибка создания начального администратора: %w", err)
	}
}

func (s *UserService) create(ctx context.Context, nu NewUser) (*model.User, error) {
	if err := validateUsername(nu.Username); err != nil {
		return nil, err
	}
	if nu.Password == "" {
		return nil, validationError("password не может быть пустым")
	}
	hash, err := s.hasher.Hash(nu.Password)
	if err != nil {
		return nil, err
	}
	u := &model.User{
		Username:     nu.Username,
		PasswordHash: hash,
		RegisterDate: s.now().UTC(),
		Permissions:  nu.Permissions,
	}
	if err := s.store.Users().Create(ctx, u); err != nil {
		return nil, mapRepoError(err)
	}
	return u, nil
}

func (s *UserService) lookup(ctx context.Context, username string) (*model.User, error) {
	if u, ok := s.cache.Get(username); ok {
		return u, nil
	}
	u, err := s.store.Users().GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	s.cache.Set(u)
	return u, nil
}

func (s *UserService) issue(username string) (*IssuedToken, error) {
	token, expires, err := s.tokens.Issue(username)
	if err != nil {
		return nil, err
	}
	return &IssuedToken{Username: username, Token: token, ExpiresAt: expires}, nil
}

func validateUsername(name string) error {
	if name == "" {
		return validationError("username не может быть пустым")
	}
	if len(name) > maxUsernameLength {
		return validationError("username длиннее %d символов", maxUsernameLength)
	}
	if reservedUsernames[strings.ToLower(name)] {
		return validationError("имя %s зарезервировано", name)
	}
	for _, r := range name {
		if r == '/' || r == '?' || r == '#' || r == '%' || r <= ' ' {
			return validationError("недопустимый символ в username")
		}
	}
	return nil
}

// requireUser — требуется аутентифицированный субъект.
func requireUser(actor *model.User) error {
	return auth.Evaluate(actor, permission.Set{}, permission.New(), false).Err()
}
