// reaper.go — фоновая очистка брошенных шар и загрузок.
//
// Один проход (Sweep) выполняет пять фаз:
//  1. Удаляет неинициализированные шары старше ShareTTL (сначала blob, затем строку)
//  2. Удаляет незавершённые сессии загрузки старше UploadTTL вместе с чанками
//  3. Удаляет осиротевшие объекты чанков и склейки без строки сессии
//  4. Удаляет временные файлы записи, брошенные при сбое (если хранилище их оставляет)
//  5. Удаляет из чёрного списка токены с истёкшим сроком действия
//
// Ошибка удаления blob пропускает элемент: строка остаётся до следующего прохода.
// Запускается как горутина с периодическим тикером (SACHET_REAPER_INTERVAL).
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dogeystamp/sachet-server/internal/repository"
	"github.com/dogeystamp/sachet-server/internal/storage/blob"
)

// Prometheus метрики очистки
var (
	reaperRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sachet_reaper_runs_total",
		Help: "Общее количество проходов очистки",
	})
	reaperSharesDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sachet_reaper_shares_deleted_total",
		Help: "Общее количество удалённых неинициализированных шар",
	})
	reaperSessionsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sachet_reaper_sessions_deleted_total",
		Help: "Общее количество удалённых незавершённых загрузок",
	})
	reaperBlobsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sachet_reaper_blobs_deleted_total",
		Help: "Общее количество удалённых осиротевших объектов",
	})
	reaperErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sachet_reaper_errors_total",
		Help: "Общее количество ошибок очистки",
	})
	reaperDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sachet_reaper_duration_seconds",
		Help:    "Длительность прохода очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// SweepResult — результат одного прохода очистки.
type SweepResult struct {
	// SharesDeleted — удалённые неинициализированные шары
	SharesDeleted int
	// SessionsDeleted — удалённые незавершённые сессии загрузки
	SessionsDeleted int
	// BlobsDeleted — удалённые осиротевшие объекты
	BlobsDeleted int
	// TempDeleted — удалённые временные файлы незавершённых записей
	TempDeleted int
	// TokensPruned — удалённые записи чёрного списка
	TokensPruned int
	// Errors — количество ошибок при обработке элементов
	Errors int
	// Duration — длительность выполнения
	Duration time.Duration
}

// Reaper — сервис фоновой очистки.
type Reaper struct {
	store     repository.Store
	blobs     blob.Store
	shareTTL  time.Duration
	uploadTTL time.Duration
	interval  time.Duration
	now       func() time.Time
	logger    *slog.Logger

	mu     sync.Mutex // защита от параллельных проходов
	cancel context.CancelFunc
	done   chan struct{}
}

// NewReaper создаёт сервис очистки.
func NewReaper(
	store repository.Store,
	blobs blob.Store,
	shareTTL, uploadTTL, interval time.Duration,
	logger *slog.Logger,
) *Reaper {
	return &Reaper{
		store:     store,
		blobs:     blobs,
		shareTTL:  shareTTL,
		uploadTTL: uploadTTL,
		interval:  interval,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "reaper")),
	}
}

// Start запускает фоновую горутину очистки.
func (r *Reaper) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})

	go r.run(runCtx)

	r.logger.Info("Очистка запущена",
		slog.String("interval", r.interval.String()),
		slog.String("share_ttl", r.shareTTL.String()),
		slog.String("upload_ttl", r.uploadTTL.String()),
	)
}

// Stop останавливает фоновую очистку и ждёт завершения текущего прохода.
func (r *Reaper) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.logger.Info("Очистка остановлена")
}

func (r *Reaper) run(ctx context.Context) {
	defer close(r.done)

	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет проход очистки на текущий момент времени.
func (r *Reaper) RunOnce(ctx context.Context) *SweepResult {
	return r.Sweep(ctx, r.now().UTC())
}

// Sweep выполняет один проход очистки относительно момента now.
// Потокобезопасен: параллельные проходы сериализуются.
func (r *Reaper) Sweep(ctx context.Context, now time.Time) *SweepResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	result := &SweepResult{}

	r.logger.Debug("Проход очистки начат")

	r.sweepShares(ctx, now.Add(-r.shareTTL), result)
	r.sweepSessions(ctx, now.Add(-r.uploadTTL), result)
	r.sweepOrphans(ctx, now, result)
	r.sweepTemp(ctx, now.Add(-r.uploadTTL), result)

	pruned, err := r.store.Tokens().DeleteExpired(ctx, now)
	if err != nil {
		result.Errors++
		r.logger.Error("Ошибка очистки чёрного списка токенов", slog.String("error", err.Error()))
	}
	result.TokensPruned = pruned

	result.Duration = time.Since(start)

	reaperRunsTotal.Inc()
	reaperSharesDeletedTotal.Add(float64(result.SharesDeleted))
	reaperSessionsDeletedTotal.Add(float64(result.SessionsDeleted))
	reaperBlobsDeletedTotal.Add(float64(result.BlobsDeleted + result.TempDeleted))
	reaperErrorsTotal.Add(float64(result.Errors))
	reaperDurationSeconds.Observe(result.Duration.Seconds())

	r.logger.Info("Проход очистки завершён",
		slog.Int("shares", result.SharesDeleted),
		slog.Int("sessions", result.SessionsDeleted),
		slog.Int("blobs", result.BlobsDeleted),
		slog.Int("temp", result.TempDeleted),
		slog.Int("tokens", result.TokensPruned),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)
	return result
}

// sweepShares удаляет неинициализированные шары, созданные раньше before.
// Состояние перепроверяется под блокировкой строки: загрузка могла завершиться.
func (r *Reaper) sweepShares(ctx context.Context, before time.Time, result *SweepResult) {
	shares, err := r.store.Shares().ListUninitializedBefore(ctx, before)
	if err != nil {
		result.Errors++
		r.logger.Error("Ошибка получения неинициализированных шар", slog.String("error", err.Error()))
		return
	}

	for _, candidate := range shares {
		deleted := false
		err := r.store.InTx(ctx, func(tx repository.Store) error {
			sh, err := tx.Shares().GetForUpdate(ctx, candidate.ShareID)
			if err != nil {
				return err
			}
			if sh.Initialized {
				return nil
			}
			if err := blob.DeleteIfExists(ctx, r.blobs, sh.ShareID); err != nil {
				return err
			}
			if err := tx.Shares().Delete(ctx, sh.ShareID); err != nil {
				return err
			}
			deleted = true
			return nil
		})
		switch {
		case err == nil:
		case errors.Is(err, repository.ErrNotFound):
			continue
		default:
			result.Errors++
			r.logger.Error("Ошибка удаления неинициализированной шары",
				slog.String("share_id", candidate.ShareID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if deleted {
			result.SharesDeleted++
			r.logger.Debug("Неинициализированная шара удалена", slog.String("share_id", candidate.ShareID))
		}
	}
}

// sweepSessions удаляет сессии загрузки, начатые раньше before,
// вместе с объектами чанков и склейки.
func (r *Reaper) sweepSessions(ctx context.Context, before time.Time, result *SweepResult) {
	sessions, err := r.store.Uploads().ListSessionsBefore(ctx, before)
	if err != nil {
		result.Errors++
		r.logger.Error("Ошибка получения незавершённых загрузок", slog.String("error", err.Error()))
		return
	}

	for _, sess := range sessions {
		err := r.store.InTx(ctx, func(tx repository.Store) error {
			chunks, err := tx.Uploads().ListChunks(ctx, sess.UploadID)
			if err != nil {
				return err
			}
			for _, c := range chunks {
				if err := blob.DeleteIfExists(ctx, r.blobs, c.BlobKey); err != nil {
					return err
				}
			}
			if err := blob.DeleteIfExists(ctx, r.blobs, blob.ScratchKey(sess.ShareID, sess.UploadID)); err != nil {
				return err
			}
			return tx.Uploads().DeleteSession(ctx, sess.UploadID)
		})
		switch {
		case err == nil:
			result.SessionsDeleted++
			r.logger.Debug("Незавершённая загрузка удалена",
				slog.String("upload_id", sess.UploadID),
				slog.String("share_id", sess.ShareID),
			)
		case errors.Is(err, repository.ErrNotFound):
		default:
			result.Errors++
			r.logger.Error("Ошибка удаления незавершённой загрузки",
				slog.String("upload_id", sess.UploadID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// sweepOrphans удаляет объекты загрузки без строки сессии и объекты
// содержимого без строки шары. Учитываются только объекты старше TTL,
// чтобы не задеть загрузку, чья транзакция ещё не зафиксирована.
func (r *Reaper) sweepOrphans(ctx context.Context, now time.Time, result *SweepResult) {
	infos, err := r.blobs.List(ctx)
	if err != nil {
		result.Errors++
		r.logger.Error("Ошибка получения списка объектов", slog.String("error", err.Error()))
		return
	}

	uploadCutoff := now.Add(-r.uploadTTL)
	shareCutoff := now.Add(-r.shareTTL)

	for _, info := range infos {
		orphan, err := r.isOrphan(ctx, info, uploadCutoff, shareCutoff)
		if err != nil {
			result.Errors++
			r.logger.Error("Ошибка проверки объекта",
				slog.String("blob_key", info.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !orphan {
			continue
		}
		if err := blob.DeleteIfExists(ctx, r.blobs, info.Name); err != nil {
			result.Errors++
			r.logger.Error("Ошибка удаления осиротевшего объекта",
				slog.String("blob_key", info.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.BlobsDeleted++
		r.logger.Debug("Осиротевший объект удалён", slog.String("blob_key", info.Name))
	}
}

// sweepTemp удаляет временные файлы записи старше before.
func (r *Reaper) sweepTemp(ctx context.Context, before time.Time, result *SweepResult) {
	purger, ok := r.blobs.(blob.TempPurger)
	if !ok {
		return
	}
	n, err := purger.PurgeTemp(ctx, before)
	result.TempDeleted += n
	if err != nil {
		result.Errors++
		r.logger.Error("Ошибка удаления временных файлов", slog.String("error", err.Error()))
	}
}

func (r *Reaper) isOrphan(ctx context.Context, info blob.Info, uploadCutoff, shareCutoff time.Time) (bool, error) {
	if key, ok := blob.ParseUploadKey(info.Name); ok {
		if !info.ModTime.Before(uploadCutoff) {
			return false, nil
		}
		_, err := r.store.Uploads().GetSession(ctx, key.UploadID)
		switch {
		case err == nil:
			return false, nil
		case errors.Is(err, repository.ErrNotFound):
			return true, nil
		default:
			return false, err
		}
	}

	if _, err := uuid.Parse(info.Name); err != nil {
		return false, nil
	}
	if !info.ModTime.Before(shareCutoff) {
		return false, nil
	}
	_, err := r.store.Shares().GetByID(ctx, info.Name)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, repository.ErrNotFound):
		return true, nil
	default:
		return false, err
	}
}
