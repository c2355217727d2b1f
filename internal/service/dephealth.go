// dephealth.go — граф зависимостей Sachet для topologymetrics.
// В граф входит только PostgreSQL: проверка идёт через *sql.DB поверх
// общего pgxpool, поэтому исчерпание пула видно как отказ зависимости.
// Хранилище содержимого в граф не входит.
package service

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	"github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/pgcheck"
)

// dependencyPostgres — имя зависимости в метриках app_dependency_*.
const dependencyPostgres = "postgresql"

// DephealthConfig — параметры мониторинга зависимостей.
type DephealthConfig struct {
	// ServiceID — имя вершины графа (этот экземпляр Sachet)
	ServiceID string
	// Group — лейбл группы (SACHET_DEPHEALTH_GROUP)
	Group string
	// DB — адаптер пула, stdlib.OpenDBFromPool
	DB *sql.DB
	// PostgresURL — только для лейблов host/port
	PostgresURL string
	// CheckInterval — период проверки (SACHET_DEPHEALTH_CHECK_INTERVAL)
	CheckInterval time.Duration
}

// DephealthService — периодическая проверка зависимостей.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт мониторинг. extra — дополнительные опции SDK,
// например dephealth.WithRegisterer для изолированного registry в тестах.
func NewDephealthService(cfg DephealthConfig, logger *slog.Logger, extra ...dephealth.Option) (*DephealthService, error) {
	if cfg.DB == nil {
		return nil, errors.New("dephealth: не задан *sql.DB")
	}

	opts := append([]dephealth.Option{
		dephealth.WithLogger(logger),
		dephealth.AddDependency(dependencyPostgres, dephealth.TypePostgres,
			pgcheck.New(pgcheck.WithDB(cfg.DB)),
			dephealth.FromURL(cfg.PostgresURL),
			dephealth.CheckInterval(cfg.CheckInterval),
			dephealth.Critical(true),
		),
	}, extra...)

	dh, err := dephealth.New(cfg.ServiceID, cfg.Group, opts...)
	if err != nil {
		return nil, err
	}
	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// Start запускает проверки в фоне.
func (ds *DephealthService) Start(ctx context.Context) error {
	if err := ds.dh.Start(ctx); err != nil {
		return err
	}
	ds.logger.Info("Мониторинг зависимостей запущен", slog.String("dependency", dependencyPostgres))
	return nil
}

// Stop останавливает проверки.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health — состояние по ключу "<зависимость>:<host>:<port>".
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
