// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import (
	"errors"
	"fmt"

	"github.com/dogeystamp/sachet-server/internal/domain/share"
)

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrConflict — конфликт (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — ресурс уже существует")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")

	// Ошибки состояния шары (423).
	ErrAlreadyInitialized = share.ErrAlreadyInitialized
	ErrNotInitialized     = share.ErrNotInitialized
	ErrLocked             = share.ErrLocked
)

// validationError оборачивает сообщение в ErrValidation.
func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
