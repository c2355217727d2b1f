// users.go — HTTP handlers пользователей и сессий:
// вход, выход, продление токена, смена пароля, управление пользователями, whoami.
package handlers

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/dogeystamp/sachet-server/internal/api/errors"
	"github.com/dogeystamp/sachet-server/internal/api/middleware"
	"github.com/dogeystamp/sachet-server/internal/service"
)

// UsersHandler — обработчик endpoints /users и /whoami.
type UsersHandler struct {
	users  *service.UserService
	logger *slog.Logger
}

// NewUsersHandler создаёт обработчик пользователей.
func NewUsersHandler(users *service.UserService, logger *slog.Logger) *UsersHandler {
	return &UsersHandler{
		users:  users,
		logger: logger.With(slog.String("component", "users_handler")),
	}
}

// Login обрабатывает POST /users/login.
func (h *UsersHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	issued, err := h.users.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Status:    "success",
		Message:   "Logged in.",
		Username:  issued.Username,
		AuthToken: issued.Token,
		ExpiresAt: issued.ExpiresAt,
	})
}

// Logout обрабатывает POST /users/logout: отзыв переданного токена
// или, если тело пустое, токена самого запроса.
func (h *UsersHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := decodeJSON(r, &req, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}
	// без token в теле отзывается токен самого запроса
	if req.Token == "" {
		req.Token = middleware.TokenFromContext(r.Context())
	}

	if err := h.users.Logout(r.Context(), middleware.UserFromContext(r.Context()), req.Token); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Logged out.")
}

// Extend обрабатывает POST /users/extend: выдача нового токена.
func (h *UsersHandler) Extend(w http.ResponseWriter, r *http.Request) {
	issued, err := h.users.Extend(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Status:    "success",
		Message:   "Renewed token.",
		Username:  issued.Username,
		AuthToken: issued.Token,
		ExpiresAt: issued.ExpiresAt,
	})
}

// ChangePassword обрабатывает POST /users/password.
func (h *UsersHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	err := h.users.ChangePassword(r.Context(), middleware.UserFromContext(r.Context()), req.Old, req.New)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "Changed password.")
}

// List обрабатывает GET /users.
func (h *UsersHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := parsePagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	p, err := h.users.List(r.Context(), middleware.UserFromContext(r.Context()), page, perPage)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(p, toUserResponse))
}

// Create обрабатывает POST /users.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	u, err := h.users.Create(r.Context(), middleware.UserFromContext(r.Context()), service.NewUser{
		Username:    req.Username,
		Password:    req.Password,
		Permissions: req.Permissions,
	})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, urlResponse{Status: "success", URL: "/users/" + url.PathEscape(u.Username)})
}

// Get обрабатывает GET /users/{name}.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	u, err := h.users.Get(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "name"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// Patch обрабатывает PATCH /users/{name}.
func (h *UsersHandler) Patch(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

// Put обрабатывает PUT /users/{name}.
func (h *UsersHandler) Put(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *UsersHandler) update(w http.ResponseWriter, r *http.Request, replace bool) {
	var req userUpdateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	_, err := h.users.Update(r.Context(), middleware.UserFromContext(r.Context()),
		chi.URLParam(r, "name"), req.toModel(), replace)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "")
}

// Delete обрабатывает DELETE /users/{name}.
func (h *UsersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "name")); err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "")
}

// Whoami обрабатывает GET /whoami: имя субъекта (null для анонима)
// и его эффективные права.
func (h *UsersHandler) Whoami(w http.ResponseWriter, r *http.Request) {
	d, err := h.users.Whoami(r.Context(), middleware.UserFromContext(r.Context()))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, whoamiResponse{Username: d.Username(), Permissions: d.Permissions})
}
