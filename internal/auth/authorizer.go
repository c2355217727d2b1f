// Пакет auth — проверка прав, токены и пароли.
//
// Authorizer отвечает только на вопрос «есть ли у субъекта нужные права».
// Владение шарой и блокировка проверяются вызывающей операцией.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/dogeystamp/sachet-server/internal/domain/model"
	"github.com/dogeystamp/sachet-server/internal/domain/permission"
)

var (
	// ErrMissingCredential — требуется аутентификация (401).
	ErrMissingCredential = errors.New("требуется аутентификация")
	// ErrInvalidCredential — неверные учётные данные или токен (401).
	ErrInvalidCredential = errors.New("неверные учётные данные")
	// ErrInsufficientPermission — недостаточно прав (403).
	ErrInsufficientPermission = errors.New("недостаточно прав")
	// ErrNotOwner — субъект не владелец объекта (403).
	ErrNotOwner = errors.New("нет прав на чужой объект")
)

// Reason — причина отказа.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonMissingCredential      Reason = "missing_credential"
	ReasonInsufficientPermission Reason = "insufficient_permission"
)

// Decision — результат проверки прав.
type Decision struct {
	// Allowed — доступ разрешён
	Allowed bool
	// Reason — причина отказа
	Reason Reason
	// Actor — аутентифицированный пользователь; nil для анонима
	Actor *model.User
	// Permissions — эффективные права субъекта
	Permissions permission.Set
}

// Anonymous — true, если решение принято для анонимного субъекта.
func (d Decision) Anonymous() bool {
	return d.Actor == nil
}

// Username — имя субъекта для сравнения с владельцем; nil для анонима.
func (d Decision) Username() *string {
	if d.Actor == nil {
		return nil
	}
	name := d.Actor.Username
	return &name
}

// Err возвращает ошибку отказа или nil.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	switch d.Reason {
	case ReasonMissingCredential:
		return ErrMissingCredential
	default:
		return ErrInsufficientPermission
	}
}

// Evaluate — чистая функция проверки прав.
// defaults — права анонимного субъекта из настроек сервера.
func Evaluate(actor *model.User, defaults, required permission.Set, allowAnonymous bool) Decision {
	if actor == nil {
		if !allowAnonymous {
			return Decision{Reason: ReasonMissingCredential}
		}
		if !defaults.Contains(required) {
			return Decision{Reason: ReasonInsufficientPermission, Permissions: defaults}
		}
		return Decision{Allowed: true, Permissions: defaults}
	}

	if !actor.Permissions.Contains(required) {
		return Decision{Reason: ReasonInsufficientPermission, Actor: actor, Permissions: actor.Permissions}
	}
	return Decision{Allowed: true, Actor: actor, Permissions: actor.Permissions}
}

// SettingsProvider — источник прав анонимного субъекта.
// Реализуется service.SettingsService.
type SettingsProvider interface {
	DefaultPermissions(ctx context.Context) (permission.Set, error)
}

// Authorizer — проверка прав с чтением настроек сервера.
type Authorizer struct {
	settings SettingsProvider
}

// NewAuthorizer создаёт Authorizer.
func NewAuthorizer(settings SettingsProvider) *Authorizer {
	return &Authorizer{settings: settings}
}

// Authorize проверяет права субъекта. Настройки читаются только для анонима.
func (a *Authorizer) Authorize(
	ctx context.Context,
	actor *model.User,
	required permission.Set,
	allowAnonymous bool,
) (Decision, error) {
	var defaults permission.Set
	if actor == nil && allowAnonymous {
		var err error
		defaults, err = a.settings.DefaultPermissions(ctx)
		if err != nil {
			return Decision{}, fmt.Errorf("чтение прав по умолчанию: %w", err)
		}
	}
	return Evaluate(actor, defaults, required, allowAnonymous), nil
}

// Require — Authorize с преобразованием отказа в ошибку.
func (a *Authorizer) Require(
	ctx context.Context,
	actor *model.User,
	required permission.Set,
	allowAnonymous bool,
) (Decision, error) {
	d, err := a.Authorize(ctx, actor, required, allowAnonymous)
	if err != nil {
		return d, err
	}
	return d, d.Err()
}
