// auth.go — middleware аутентификации по bearer-токену Sachet.
// Заголовок Authorization необязателен: без него запрос выполняется
// от имени анонимного субъекта. Присутствующий, но неверный токен — 401.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/dogeystamp/sachet-server/internal/api/errors"
	"github.com/dogeystamp/sachet-server/internal/auth"
	"github.com/dogeystamp/sachet-server/internal/domain/model"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyUser — аутентифицированный пользователь в контексте запроса.
	ContextKeyUser contextKey = "sachet_user"
	// ContextKeyToken — bearer-токен запроса.
	ContextKeyToken contextKey = "sachet_token"
)

// Authenticator — разрешение токена в пользователя.
// Реализуется service.UserService.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// BearerAuth — middleware аутентификации.
type BearerAuth struct {
	authn  Authenticator
	logger *slog.Logger
}

// NewBearerAuth создаёт middleware аутентификации.
func NewBearerAuth(authn Authenticator, logger *slog.Logger) *BearerAuth {
	return &BearerAuth{
		authn:  authn,
		logger: logger.With(slog.String("component", "bearer_auth")),
	}
}

// Middleware возвращает HTTP middleware.
func (a *BearerAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := parseBearer(header)
			if !ok {
				apierrors.Unauthorized(w, "Некорректный заголовок Authorization")
				return
			}

			user, err := a.authn.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidCredential) {
					a.logger.Debug("Токен отклонён", slog.String("error", err.Error()))
					apierrors.Unauthorized(w, "Невалидный или отозванный токен")
					return
				}
				apierrors.FromError(w, r, a.logger, err)
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeyUser, user)
			ctx = context.WithValue(ctx, ContextKeyToken, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserFromContext возвращает пользователя запроса или nil для анонима.
func UserFromContext(ctx context.Context) *model.User {
	u, _ := ctx.Value(ContextKeyUser).(*model.User)
	return u
}

// TokenFromContext возвращает bearer-токен запроса.
func TokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(ContextKeyToken).(string)
	return t
}

// parseBearer извлекает токен из "Bearer <token>".
func parseBearer(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
