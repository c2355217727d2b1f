// Пакет errors — ответы с ошибками в формате Sachet.
// Единый формат: {"status": "fail", "message": "..."}.
// Все HTTP-ответы с ошибками должны использовать WriteError или FromError.
package errors

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dogeystamp/sachet-server/internal/auth"
	"github.com/dogeystamp/sachet-server/internal/domain/permission"
	"github.com/dogeystamp/sachet-server/internal/service"
)

// errorBody — структура тела ответа ошибки.
type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// WriteError записывает ответ ошибки в стандартном формате.
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	if statusCode == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{Status: "fail", Message: message})
}

// --- Конструкторы для типичных ошибок ---

// ValidationError — 400 некорректные входные данные.
func ValidationError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, message)
}

// Unauthorized — 401 требуется аутентификация.
func Unauthorized(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, message)
}

// NotFound — 404 ресурс не найден.
func NotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, message)
}

// MethodNotAllowed — 405 метод не поддерживается.
func MethodNotAllowed(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusMethodNotAllowed, message)
}

// InternalError — 500 внутренняя ошибка.
func InternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, message)
}

// StatusFromError возвращает HTTP статус для ошибки сервисного слоя.
func StatusFromError(err error) int {
	switch {
	case errors.Is(err, auth.ErrMissingCredential), errors.Is(err, auth.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrInsufficientPermission), errors.Is(err, auth.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyInitialized),
		errors.Is(err, service.ErrNotInitialized),
		errors.Is(err, service.ErrLocked):
		return http.StatusLocked
	case errors.Is(err, service.ErrValidation), errors.Is(err, permission.ErrInvalidPermissionName):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// FromError записывает ответ для ошибки сервисного слоя.
// Внутренние ошибки логируются, клиенту уходит обобщённое сообщение.
func FromError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := StatusFromError(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Внутренняя ошибка",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		InternalError(w, "Внутренняя ошибка сервера")
		return
	}
	WriteError(w, status, err.Error())
}
