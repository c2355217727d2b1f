// Пакет server — HTTP-сервер Sachet с graceful shutdown.
// Без TLS: TLS termination выполняется обратным прокси.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/dogeystamp/sachet-server/internal/api/errors"
	"github.com/dogeystamp/sachet-server/internal/api/handlers"
	"github.com/dogeystamp/sachet-server/internal/config"
)

// Handlers — набор обработчиков API.
type Handlers struct {
	Files  *handlers.FilesHandler
	Users  *handlers.UsersHandler
	Admin  *handlers.AdminHandler
	Health *handlers.HealthHandler
}

// Server — HTTP-сервер Sachet.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными маршрутами и middleware.
// middlewares применяются к API-маршрутам в порядке переданного среза.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, middlewares ...func(http.Handler) http.Handler) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(h, middlewares...),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter строит маршрутизатор API. Каждому запросу присваивается
// X-Request-Id. Health endpoints и /metrics обслуживаются без middlewares.
func NewRouter(h Handlers, middlewares ...func(http.Handler) http.Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.NotFound(w, "Маршрут не найден")
	})
	router.MethodNotAllowed(methodNotAllowed)

	router.Get("/health/live", h.Health.Live)
	router.Get("/health/ready", h.Health.Ready)
	router.Get("/metrics", h.Health.Metrics)

	router.Group(func(r chi.Router) {
		for _, mw := range middlewares {
			r.Use(mw)
		}

		r.Route("/files", func(r chi.Router) {
			r.Post("/", h.Files.Create)
			r.Get("/", h.Files.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Files.Get)
				r.Patch("/", h.Files.Patch)
				r.Put("/", h.Files.Put)
				r.Delete("/", h.Files.Delete)
				r.Post("/content", h.Files.UploadContent)
				r.Put("/content", h.Files.ReplaceContent)
				r.Get("/content", h.Files.Download)
				r.Post("/lock", h.Files.Lock)
				r.Post("/unlock", h.Files.Unlock)
			})
		})

		r.Route("/users", func(r chi.Router) {
			postOnly(r, "/login", h.Users.Login)
			postOnly(r, "/logout", h.Users.Logout)
			postOnly(r, "/extend", h.Users.Extend)
			postOnly(r, "/password", h.Users.ChangePassword)
			r.Get("/", h.Users.List)
			r.Post("/", h.Users.Create)
			r.Route("/{name}", func(r chi.Router) {
				r.Get("/", h.Users.Get)
				r.Patch("/", h.Users.Patch)
				r.Put("/", h.Users.Put)
				r.Delete("/", h.Users.Delete)
			})
		})

		r.Route("/admin/settings", func(r chi.Router) {
			r.Get("/", h.Admin.GetSettings)
			r.Patch("/", h.Admin.PatchSettings)
			r.Put("/", h.Admin.PutSettings)
		})

		r.Get("/whoami", h.Users.Whoami)
	})

	return router
}

// postOnly регистрирует действие, доступное только через POST.
// Прочие методы отвечают 405: иначе chi отдал бы запрос маршруту /{name}.
func postOnly(r chi.Router, pattern string, h http.HandlerFunc) {
	r.Post(pattern, h)
	for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		r.MethodFunc(method, pattern, methodNotAllowed)
	}
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	apierrors.MethodNotAllowed(w, "Метод не поддерживается")
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
