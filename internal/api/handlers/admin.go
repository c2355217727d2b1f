// admin.go — HTTP handlers настроек сервера (/admin/settings).
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/dogeystamp/sachet-server/internal/api/errors"
	"github.com/dogeystamp/sachet-server/internal/api/middleware"
	"github.com/dogeystamp/sachet-server/internal/service"
)

// AdminHandler — обработчик настроек сервера.
type AdminHandler struct {
	settings *service.SettingsService
	logger   *slog.Logger
}

// NewAdminHandler создаёт обработчик настроек.
func NewAdminHandler(settings *service.SettingsService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		settings: settings,
		logger:   logger.With(slog.String("component", "admin_handler")),
	}
}

// GetSettings обрабатывает GET /admin/settings.
func (h *AdminHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{DefaultPermissions: s.DefaultPermissions})
}

// PatchSettings обрабатывает PATCH /admin/settings.
func (h *AdminHandler) PatchSettings(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

// PutSettings обрабатывает PUT /admin/settings.
func (h *AdminHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *AdminHandler) update(w http.ResponseWriter, r *http.Request, replace bool) {
	var req settingsUpdateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	if _, err := h.settings.Update(r.Context(), middleware.UserFromContext(r.Context()), req.toModel(), replace); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "")
}
