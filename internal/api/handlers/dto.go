// dto.go — представление сущностей в API и тела запросов.
// Поля только для чтения (share_id, initialized, locked, create_date,
// register_date) принимаются во входящем JSON и игнорируются.
package handlers

import (
	"encoding/json"
	"time"

	"github.com/dogeystamp/sachet-server/internal/domain/model"
	"github.com/dogeystamp/sachet-server/internal/domain/permission"
)

// shareResponse — шара в ответе.
type shareResponse struct {
	ShareID     string    `json:"share_id"`
	OwnerName   *string   `json:"owner_name"`
	FileName    string    `json:"file_name"`
	Initialized bool      `json:"initialized"`
	Locked      bool      `json:"locked"`
	CreateDate  time.Time `json:"create_date"`
}

func toShareResponse(s *model.Share) shareResponse {
	return shareResponse{
		ShareID:     s.ShareID,
		OwnerName:   s.OwnerName,
		FileName:    s.FileName,
		Initialized: s.Initialized,
		Locked:      s.Locked,
		CreateDate:  s.CreateDate,
	}
}

// userResponse — пользователь в ответе. Хэш пароля не отдаётся.
type userResponse struct {
	Username     string         `json:"username"`
	RegisterDate time.Time      `json:"register_date"`
	Permissions  permission.Set `json:"permissions"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		Username:     u.Username,
		RegisterDate: u.RegisterDate,
		Permissions:  u.Permissions,
	}
}

// settingsResponse — настройки сервера в ответе.
type settingsResponse struct {
	DefaultPermissions permission.Set `json:"default_permissions"`
}

// whoamiResponse — ответ /whoami.
type whoamiResponse struct {
	Username    *string        `json:"username"`
	Permissions permission.Set `json:"permissions"`
}

// tokenResponse — ответ входа и продления токена.
type tokenResponse struct {
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Username  string    `json:"username"`
	AuthToken string    `json:"auth_token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// createShareRequest — тело POST /files.
type createShareRequest struct {
	FileName string `json:"file_name"`
}

// shareUpdateRequest — тело PATCH/PUT /files/{id}.
type shareUpdateRequest struct {
	FileName  model.Optional[string] `json:"file_name"`
	OwnerName model.Optional[string] `json:"owner_name"`

	ShareID     json.RawMessage `json:"share_id"`
	Initialized json.RawMessage `json:"initialized"`
	Locked      json.RawMessage `json:"locked"`
	CreateDate  json.RawMessage `json:"create_date"`
}

func (r shareUpdateRequest) toModel() model.ShareUpdate {
	return model.ShareUpdate{FileName: r.FileName, OwnerName: r.OwnerName}
}

// loginRequest — тело POST /users/login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// logoutRequest — тело POST /users/logout.
type logoutRequest struct {
	Token string `json:"token"`
}

// passwordRequest — тело POST /users/password.
type passwordRequest struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// createUserRequest — тело POST /users.
type createUserRequest struct {
	Username    string         `json:"username"`
	Password    string         `json:"password"`
	Permissions permission.Set `json:"permissions"`

	RegisterDate json.RawMessage `json:"register_date"`
}

// userUpdateRequest — тело PATCH/PUT /users/{name}.
type userUpdateRequest struct {
	Password    model.Optional[string]         `json:"password"`
	Permissions model.Optional[permission.Set] `json:"permissions"`

	Username     json.RawMessage `json:"username"`
	RegisterDate json.RawMessage `json:"register_date"`
}

func (r userUpdateRequest) toModel() model.UserUpdate {
	return model.UserUpdate{Password: r.Password, Permissions: r.Permissions}
}

// settingsUpdateRequest — тело PATCH/PUT /admin/settings.
type settingsUpdateRequest struct {
	DefaultPermissions model.Optional[permission.Set] `json:"default_permissions"`
}

func (r settingsUpdateRequest) toModel() model.SettingsUpdate {
	return model.SettingsUpdate{DefaultPermissions: r.DefaultPermissions}
}
