// main.go — точка входа Sachet.
// Инициализирует: config, logger, PostgreSQL (миграции, pool), хранилище
// содержимого, сервисы, фоновую очистку, topologymetrics, HTTP-сервер.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/dogeystamp/sachet-server/internal/api/handlers"
	"github.com/dogeystamp/sachet-server/internal/api/middleware"
	"github.com/dogeystamp/sachet-server/internal/auth"
	"github.com/dogeystamp/sachet-server/internal/config"
	"github.com/dogeystamp/sachet-server/internal/database"
	"github.com/dogeystamp/sachet-server/internal/repository"
	"github.com/dogeystamp/sachet-server/internal/server"
	"github.com/dogeystamp/sachet-server/internal/service"
	"github.com/dogeystamp/sachet-server/internal/storage/blob"
	"github.com/dogeystamp/sachet-server/internal/storage/filestore"
	"github.com/dogeystamp/sachet-server/internal/storage/s3store"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Ошибка загрузки конфигурации: %v", err)
	}

	// 2. Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Sachet запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("storage", cfg.Storage),
	)

	ctx := context.Background()

	// 3. PostgreSQL: миграции и пул соединений
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций", slog.String("error", err.Error()))
		os.Exit(1)
	}
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	store := repository.NewStore(pool)

	// 4. Хранилище содержимого
	blobs, err := newBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка инициализации хранилища содержимого", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 5. Сервисы
	settingsSvc := service.NewSettingsService(store, logger)
	authz := auth.NewAuthorizer(settingsSvc)
	assembler := service.NewUploadAssembler(store, blobs, logger)
	shareSvc := service.NewShareService(store, blobs, authz, assembler, logger)
	userSvc := service.NewUserService(
		store,
		auth.NewPasswordHasher(cfg.BcryptCost),
		auth.NewTokenManager(cfg.SecretKey, cfg.TokenTTL),
		authz,
		service.NewUserCache(cfg.UserCacheSize, cfg.UserCacheTTL),
		logger,
	)

	if cfg.BootstrapAdminUser != "" {
		if err := userSvc.Bootstrap(ctx, cfg.BootstrapAdminUser, cfg.BootstrapAdminPassword); err != nil {
			logger.Error("Ошибка создания администратора", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// 6. Фоновые процессы
	// 6.1 Очистка брошенных шар и загрузок
	reaper := service.NewReaper(store, blobs, cfg.ShareTTL, cfg.UploadTTL, cfg.ReaperInterval, logger)
	reaper.Start(ctx)

	// 6.2 topologymetrics — мониторинг зависимостей
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	var deps handlers.DependencyReporter
	dephealthSvc, err := service.NewDephealthService(service.DephealthConfig{
		ServiceID:     "sachet",
		Group:         cfg.DephealthGroup,
		DB:            sqlDB,
		PostgresURL:   cfg.DatabaseURL(),
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		dephealthSvc = nil
	} else if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		dephealthSvc = nil
	} else {
		deps = dephealthSvc
	}

	// 7. Handlers и middleware
	h := server.Handlers{
		Files:  handlers.NewFilesHandler(shareSvc, cfg.MaxUploadSize, logger),
		Users:  handlers.NewUsersHandler(userSvc, logger),
		Admin:  handlers.NewAdminHandler(settingsSvc, logger),
		Health: handlers.NewHealthHandler(database.NewReadinessChecker(pool), deps),
	}

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h,
		middleware.MetricsMiddleware(),
		middleware.NewBearerAuth(userSvc, logger).Middleware(),
		middleware.RequestLogger(logger),
	)

	runErr := srv.Run()

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")
	reaper.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("Sachet остановлен")
}

// newBlobStore создаёт хранилище содержимого по SACHET_STORAGE.
func newBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (blob.Store, error) {
	switch cfg.Storage {
	case config.StorageFilesystem:
		fs, err := filestore.New(cfg.FileDir)
		if err != nil {
			return nil, err
		}
		logger.Info("Файловое хранилище инициализировано", slog.String("dir", cfg.FileDir))
		return fs, nil
	case config.StorageS3:
		return s3store.New(ctx, s3store.Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			KeyPrefix:       cfg.S3KeyPrefix,
		}, logger)
	default:
		return nil, fmt.Errorf("неизвестный тип хранилища: %s", cfg.Storage)
	}
}
