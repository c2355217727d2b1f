package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dogeystamp/sachet-server/internal/auth"
	"github.com/dogeystamp/sachet-server/internal/domain/permission"
	"github.com/dogeystamp/sachet-server/internal/service"
)

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"нет учётных данных", auth.ErrMissingCredential, http.StatusUnauthorized},
		{"неверный токен", fmt.Errorf("%w: подпись", auth.ErrInvalidCredential), http.StatusUnauthorized},
		{"недостаточно прав", auth.ErrInsufficientPermission, http.StatusForbidden},
		{"не владелец", auth.ErrNotOwner, http.StatusForbidden},
		{"не найдено", fmt.Errorf("%w: шара", service.ErrNotFound), http.StatusNotFound},
		{"уже инициализирована", service.ErrAlreadyInitialized, http.StatusLocked},
		{"не инициализирована", service.ErrNotInitialized, http.StatusLocked},
		{"заблокирована", service.ErrLocked, http.StatusLocked},
		{"валидация", fmt.Errorf("%w: x", service.ErrValidation), http.StatusBadRequest},
		{"имя права", permission.ErrInvalidPermissionName, http.StatusBadRequest},
		{"конфликт", service.ErrConflict, http.StatusConflict},
		{"прочее", errors.New("сбой"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFromError(tt.err); got != tt.want {
				t.Errorf("StatusFromError() = %d, хотели %d", got, tt.want)
			}
		})
	}
}

func TestFromError_Body(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := httptest.NewRequest(http.MethodGet, "/files", nil)

	w := httptest.NewRecorder()
	FromError(w, r, logger, errors.New("секрет базы данных"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("статус = %d", w.Code)
	}
	var body errorBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Decode ошибка: %v", err)
	}
	if body.Status != "fail" || body.Message == "секрет базы данных" {
		t.Errorf("тело = %+v", body)
	}

	w = httptest.NewRecorder()
	FromError(w, r, logger, auth.ErrMissingCredential)
	if w.Code != http.StatusUnauthorized || w.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Errorf("401: статус = %d, WWW-Authenticate = %q", w.Code, w.Header().Get("WWW-Authenticate"))
	}
}
