// uploads.go — приём порционной загрузки и склейка чанков.
//
// Каждый чанк сохраняется в BlobStore под ключом {shareID}_{uploadID}_{index}.
// Регистрация чанка и счётчик сессии меняются в одной транзакции
// с блокировкой строк шары и сессии (FOR UPDATE). Вызов, принёсший
// последний недостающий чанк, склеивает чанки в порядке индекса
// во временный объект {shareID}_{uploadID} и публикует его под ключом шары.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dogeystamp/sachet-server/internal/domain/model"
	"github.com/dogeystamp/sachet-server/internal/domain/share"
	"github.com/dogeystamp/sachet-server/internal/repository"
	"github.com/dogeystamp/sachet-server/internal/storage/blob"
)

// Prometheus метрики загрузки
var (
	uploadChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sachet_upload_chunks_total",
		Help: "Общее количество принятых чанков",
	})
	uploadDuplicateChunksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sachet_upload_duplicate_chunks_total",
		Help: "Общее количество повторно присланных чанков",
	})
	uploadsCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sachet_uploads_completed_total",
		Help: "Общее количество завершённых порционных загрузок",
	})
	uploadMergeDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sachet_upload_merge_duration_seconds",
		Help:    "Длительность склейки чанков в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// maxUploadIDLength — ограничение длины идентификатора загрузки.
const maxUploadIDLength = 128

// ChunkStatus — итог приёма чанка.
type ChunkStatus int

const (
	// ChunkAccepted — чанк принят, загрузка не завершена.
	ChunkAccepted ChunkStatus = iota
	// UploadCompleted — чанк был последним, содержимое опубликовано.
	UploadCompleted
)

// ChunkParams — параметры одного чанка.
type ChunkParams struct {
	// UploadID — идентификатор загрузки от клиента (dzuuid)
	UploadID string
	// ShareID — целевая шара
	ShareID string
	// Index — номер чанка с нуля (dzchunkindex)
	Index int
	// Total — общее количество чанков (dztotalchunks)
	Total int
	// Op — share.OpUploadFirst или share.OpReplace
	Op share.Operation
	// Data — содержимое чанка
	Data io.Reader
}

// ChunkResult — результат приёма чанка.
type ChunkResult struct {
	Status   ChunkStatus
	Received int
	Total    int
}

// UploadAssembler — сборка порционных загрузок.
type UploadAssembler struct {
	store  repository.Store
	blobs  blob.Store
	now    func() time.Time
	logger *slog.Logger
}

// NewUploadAssembler создаёт сборщик порционных загрузок.
func NewUploadAssembler(store repository.Store, blobs blob.Store, logger *slog.Logger) *UploadAssembler {
	return &UploadAssembler{
		store:  store,
		blobs:  blobs,
		now:    time.Now,
		logger: logger.With(slog.String("component", "upload_assembler")),
	}
}

// ReceiveChunk принимает чанк. UploadCompleted возвращается только
// вызову, который принёс последний недостающий чанк.
//
// Повторный индекс перезаписывает содержимое чанка, но не увеличивает
// счётчик. Индекс вне [0, total), а также total или шара, отличные
// от уже открытой сессии, — ошибка валидации.
func (a *UploadAssembler) ReceiveChunk(ctx context.Context, p ChunkParams) (*ChunkResult, error) {
	if err := validateChunk(p); err != nil {
		return nil, err
	}

	chunkKey := blob.ChunkKey(p.ShareID, p.UploadID, p.Index)
	if _, err := blob.Put(ctx, a.blobs, chunkKey, p.Data); err != nil {
		return nil, fmt.Errorf("ошибка записи чанка: %w", err)
	}

	var (
		result   ChunkResult
		inserted bool
		chunks   []*model.Chunk
	)
	err := a.store.InTx(ctx, func(tx repository.Store) error {
		sh, err := tx.Shares().GetForUpdate(ctx, p.ShareID)
		if err != nil {
			return mapRepoError(err)
		}
		if err := share.Check(shareState(sh), p.Op); err != nil {
			return err
		}

		sess, err := tx.Uploads().EnsureSession(ctx, &model.UploadSession{
			UploadID:    p.UploadID,
			ShareID:     p.ShareID,
			TotalChunks: p.Total,
			CreateDate:  a.now().UTC(),
		})
		if err != nil {
			return mapRepoError(err)
		}
		if sess.ShareID != p.ShareID {
			return validationError("загрузка %s относится к другой шаре", p.UploadID)
		}
		if sess.TotalChunks != p.Total {
			return validationError("dztotalchunks=%d не совпадает с сессией (%d)", p.Total, sess.TotalChunks)
		}

		inserted, err = tx.Uploads().AddChunk(ctx, &model.Chunk{
			UploadID: p.UploadID,
			Index:    p.Index,
			BlobKey:  chunkKey,
		})
		if err != nil {
			return mapRepoError(err)
		}

		received := sess.ReceivedChunks
		if inserted {
			if received, err = tx.Uploads().IncrementReceived(ctx, p.UploadID); err != nil {
				return mapRepoError(err)
			}
		}
		result = ChunkResult{Status: ChunkAccepted, Received: received, Total: sess.TotalChunks}
		if received < sess.TotalChunks {
			return nil
		}

		chunks, err = tx.Uploads().ListChunks(ctx, p.UploadID)
		if err != nil {
			return err
		}
		if err := a.merge(ctx, p.ShareID, p.UploadID, sess.TotalChunks, chunks); err != nil {
			return err
		}
		if err := tx.Uploads().MarkCompleted(ctx, p.UploadID); err != nil {
			return err
		}
		if err := tx.Uploads().DeleteSession(ctx, p.UploadID); err != nil {
			return err
		}
		sh.Initialized = true
		if err := tx.Shares().Update(ctx, sh); err != nil {
			return err
		}
		result.Status = UploadCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}

	uploadChunksTotal.Inc()
	if !inserted {
		uploadDuplicateChunksTotal.Inc()
		a.logger.Debug("Повторный чанк",
			slog.String("upload_id", p.UploadID),
			slog.Int("index", p.Index),
		)
	}

	if result.Status == UploadCompleted {
		uploadsCompletedTotal.Inc()
		a.removeChunkBlobs(ctx, chunks)
		a.logger.Info("Порционная загрузка завершена",
			slog.String("share_id", p.ShareID),
			slog.String("upload_id", p.UploadID),
			slog.Int("chunks", result.Total),
		)
	}
	return &result, nil
}

// merge склеивает чанки в порядке индекса и публикует результат под ключом шары.
// Старое содержимое удаляется перед переименованием.
func (a *UploadAssembler) merge(ctx context.Context, shareID, uploadID string, total int, chunks []*model.Chunk) error {
	start := time.Now()

	if len(chunks) != total {
		return fmt.Errorf("ожидалось %d чанков, найдено %d", total, len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			return fmt.Errorf("отсутствует чанк %d", i)
		}
	}

	scratch := blob.ScratchKey(shareID, uploadID)
	w, err := a.blobs.Create(ctx, scratch)
	if err != nil {
		return fmt.Errorf("ошибка создания файла склейки: %w", err)
	}
	if err := appendChunks(ctx, a.blobs, w, chunks); err != nil {
		if ab, ok := w.(interface{ Abort() error }); ok {
			_ = ab.Abort()
		} else {
			_ = w.Close()
		}
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("ошибка записи файла склейки: %w", err)
	}

	if err := blob.DeleteIfExists(ctx, a.blobs, shareID); err != nil {
		return fmt.Errorf("ошибка удаления старого содержимого: %w", err)
	}
	if err := a.blobs.Rename(ctx, scratch, shareID); err != nil {
		return fmt.Errorf("ошибка публикации содержимого: %w", err)
	}

	uploadMergeDurationSeconds.Observe(time.Since(start).Seconds())
	return nil
}

func appendChunks(ctx context.Context, blobs blob.Store, w io.Writer, chunks []*model.Chunk) error {
	for _, c := range chunks {
		obj, err := blobs.Open(ctx, c.BlobKey)
		if err != nil {
			return fmt.Errorf("ошибка открытия чанка %d: %w", c.Index, err)
		}
		_, err = io.Copy(w, obj)
		obj.Close()
		if err != nil {
			return fmt.Errorf("ошибка копирования чанка %d: %w", c.Index, err)
		}
	}
	return nil
}

// removeChunkBlobs удаляет чанки после коммита. Ошибки только логируются:
// оставшиеся объекты удалит Reaper.
func (a *UploadAssembler) removeChunkBlobs(ctx context.Context, chunks []*model.Chunk) {
	for _, c := range chunks {
		if err := blob.DeleteIfExists(ctx, a.blobs, c.BlobKey); err != nil {
			a.logger.Warn("Не удалось удалить чанк",
				slog.String("blob_key", c.BlobKey),
				slog.String("error", err.Error()),
			)
		}
	}
}

func validateChunk(p ChunkParams) error {
	if p.UploadID == "" {
		return validationError("отсутствует dzuuid")
	}
	if len(p.UploadID) > maxUploadIDLength {
		return validationError("dzuuid длиннее %d символов", maxUploadIDLength)
	}
	if !blob.ValidUploadID(p.UploadID) {
		return validationError("dzuuid допускает только латиницу, цифры и дефис")
	}
	if p.Total < 1 {
		return validationError("dztotalchunks должен быть положительным")
	}
	if p.Index < 0 || p.Index >= p.Total {
		return validationError("dzchunkindex=%d вне диапазона [0, %d)", p.Index, p.Total)
	}
	if p.Op != share.OpUploadFirst && p.Op != share.OpReplace {
		return fmt.Errorf("недопустимая операция загрузки: %s", p.Op)
	}
	if p.Data == nil {
		return validationError("отсутствует содержимое чанка")
	}
	return nil
}

func shareState(sh *model.Share) share.State {
	return share.State{Initialized: sh.Initialized, Locked: sh.Locked}
}

// mapRepoError переводит ошибки репозитория в ошибки сервиса.
func mapRepoError(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, repository.ErrConflict):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	default:
		return err
	}
}
