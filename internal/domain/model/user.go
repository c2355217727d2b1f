// Пакет model — доменные модели Sachet.
// Связи между сущностями — только через внешние ключи (OwnerName, ShareID, UploadID),
// обход выполняется запросом к репозиторию по ключу.
package model

import (
	"time"

	"github.com/dogeystamp/sachet-server/internal/domain/permission"
)

// User — пользователь. Хранится в таблице users.
type User struct {
	// Username — уникальное имя (первичный ключ)
	Username string
	// PasswordHash — bcrypt-хэш пароля
	PasswordHash string
	// RegisterDate — время регистрации
	RegisterDate time.Time
	// Permissions — права пользователя
	Permissions permission.Set
}

// ServerSettings — единственная запись настроек сервера.
type ServerSettings struct {
	// DefaultPermissions — права анонимного пользователя
	DefaultPermissions permission.Set
}

// DefaultServerSettings — значения при ленивом создании: все права.
func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{DefaultPermissions: permission.All()}
}
