package model

import (
	"bytes"
	"encoding/json"

	"github.com/dogeystamp/sachet-server/internal/domain/permission"
)

// Optional — поле частичного обновления с тремя состояниями:
// ключ отсутствует (Set=false), явный null (Set=true, Null=true), значение.
type Optional[T any] struct {
	Set   bool
	Null  bool
	Value T
}

// Some создаёт заполненное поле.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Set: true, Value: v}
}

// Null создаёт поле с явным null.
func Null[T any]() Optional[T] {
	return Optional[T]{Set: true, Null: true}
}

// UnmarshalJSON вызывается только для присутствующего ключа.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

// Ptr возвращает значение как указатель (nil для null или отсутствия).
func (o Optional[T]) Ptr() *T {
	if !o.Set || o.Null {
		return nil
	}
	v := o.Value
	return &v
}

// ShareUpdate — изменение метаданных шары.
// Для PATCH неуказанные поля не меняются, для PUT обязательны оба поля.
type ShareUpdate struct {
	// FileName — новое имя файла
	FileName Optional[string]
	// OwnerName — новый владелец; null — анонимная шара
	OwnerName Optional[string]
}

// Apply применяет изменения к шаре на месте.
// Проверка существования нового владельца — задача вызывающего.
func (u ShareUpdate) Apply(s *Share) {
	if u.FileName.Set && !u.FileName.Null {
		s.FileName = u.FileName.Value
	}
	if u.OwnerName.Set {
		s.OwnerName = u.OwnerName.Ptr()
	}
}

// UserUpdate — изменение пользователя.
type UserUpdate struct {
	// Password — новый пароль (открытым текстом, хэшируется сервисом)
	Password Optional[string]
	// Permissions — новые права
	Permissions Optional[permission.Set]
}

// SettingsUpdate — изменение настроек сервера.
type SettingsUpdate struct {
	// DefaultPermissions — права анонимного пользователя
	DefaultPermissions Optional[permission.Set]
}

// Apply применяет изменения к настройкам на месте.
func (u SettingsUpdate) Apply(s *ServerSettings) {
	if u.DefaultPermissions.Set && !u.DefaultPermissions.Null {
		s.DefaultPermissions = u.DefaultPermissions.Value
	}
}
