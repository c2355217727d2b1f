// shares.go — жизненный цикл шары.
//
// Каждая операция начинается с проверки прав через Authorizer
// (анонимный доступ разрешён, права берутся из настроек сервера),
// затем проверяются существование шары, владение и состояние.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dogeystamp/sachet-server/internal/auth"
	"github.com/dogeystamp/sachet-server/internal/domain/model"
	"github.com/dogeystamp/sachet-server/internal/domain/permission"
	"github.com/dogeystamp/sachet-server/internal/domain/share"
	"github.com/dogeystamp/sachet-server/internal/repository"
	"github.com/dogeystamp/sachet-server/internal/storage/blob"
)

// ChunkFields — метаданные чанка из multipart-формы.
type ChunkFields struct {
	UploadID string
	Index    int
	Total    int
}

// ContentUpload — загрузка содержимого шары.
type ContentUpload struct {
	// Replace — замена содержимого (PUT); иначе первичная загрузка (POST)
	Replace bool
	// Chunk — метаданные чанка; nil для загрузки целиком
	Chunk *ChunkFields
	// Data — содержимое (целиком или чанк)
	Data io.Reader
}

// UploadResult — результат загрузки содержимого.
type UploadResult struct {
	// Completed — содержимое опубликовано (для чанка — он был последним)
	Completed bool
	Received  int
	Total     int
}

// Content — открытое содержимое шары.
type Content struct {
	Share  *model.Share
	Object blob.Object
}

// ShareService — операции над шарами.
type ShareService struct {
	store     repository.Store
	blobs     blob.Store
	authz     *auth.Authorizer
	assembler *UploadAssembler
	now       func() time.Time
	logger    *slog.Logger
}

// NewShareService создаёт сервис шар.
func NewShareService(
	store repository.Store,
	blobs blob.Store,
	authz *auth.Authorizer,
	assembler *UploadAssembler,
	logger *slog.Logger,
) *ShareService {
	return &ShareService{
		store:     store,
		blobs:     blobs,
		authz:     authz,
		assembler: assembler,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "share_service")),
	}
}

// Create создаёт неинициализированную шару. Пустое имя файла
// заменяется идентификатором шары. Требуется CREATE.
func (s *ShareService) Create(ctx context.Context, actor *model.User, fileName string) (*model.Share, error) {
	d, err := s.authz.Require(ctx, actor, permission.New(permission.Create), true)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()
	if fileName == "" {
		fileName = id
	}
	sh := &model.Share{
		ShareID:    id,
		OwnerName:  d.Username(),
		FileName:   fileName,
		CreateDate: s.now().UTC(),
	}
	if err := s.store.Shares().Create(ctx, sh); err != nil {
		return nil, mapRepoError(err)
	}

	s.logger.Info("Шара создана",
		slog.String("share_id", sh.ShareID),
		slog.Bool("anonymous", d.Anonymous()),
	)
	return sh, nil
}

// Get возвращает метаданные шары. Требуется READ.
func (s *ShareService) Get(ctx context.Context, actor *model.User, shareID string) (*model.Share, error) {
	if _, err := s.authz.Require(ctx, actor, permission.New(permission.Read), true); err != nil {
		return nil, err
	}
	return s.get(ctx, shareID)
}

// List возвращает страницу шар в порядке создания. Требуется LIST.
func (s *ShareService) List(ctx context.Context, actor *model.User, page, perPage int) (*Page[*model.Share], error) {
	if _, err := s.authz.Require(ctx, actor, permission.New(permission.List), true); err != nil {
		return nil, err
	}
	page, perPage, err := normalizePage(page, perPage)
	if err != nil {
		return nil, err
	}

	total, err := s.store.Shares().Count(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.store.Shares().List(ctx, perPage, (page-1)*perPage)
	if err != nil {
		return nil, err
	}
	return newPage(items, page, perPage, total), nil
}

// UploadContent загружает содержимое: первичная загрузка требует CREATE,
// замена — MODIFY. В обоих случаях субъект должен быть владельцем.
// Чанки передаются UploadAssembler, загрузка целиком пишется сразу.
func (s *ShareService) UploadContent(
	ctx context.Context,
	actor *model.User,
	shareID string,
	up ContentUpload,
) (*UploadResult, error) {
	op, required := share.OpUploadFirst, permission.New(permission.Create)
	if up.Replace {
		op, required = share.OpReplace, permission.New(permission.Modify)
	}

	d, err := s.authz.Require(ctx, actor, required, true)
	if err != nil {
		return nil, err
	}
	sh, err := s.get(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if err := guard(sh, d, op); err != nil {
		return nil, err
	}

	if up.Chunk != nil {
		res, err := s.assembler.ReceiveChunk(ctx, ChunkParams{
			UploadID: up.Chunk.UploadID,
			ShareID:  sh.ShareID,
			Index:    up.Chunk.Index,
			Total:    up.Chunk.Total,
			Op:       op,
			Data:     up.Data,
		})
		if err != nil {
			return nil, err
		}
		return &UploadResult{
			Completed: res.Status == UploadCompleted,
			Received:  res.Received,
			Total:     res.Total,
		}, nil
	}

	if up.Data == nil {
		return nil, validationError("отсутствует поле upload")
	}
	var size int64
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		cur, err := tx.Shares().GetForUpdate(ctx, sh.ShareID)
		if err != nil {
			return mapRepoError(err)
		}
		if err := guard(cur, d, op); err != nil {
			return err
		}
		if size, err = blob.Put(ctx, s.blobs, cur.ShareID, up.Data); err != nil {
			return fmt.Errorf("ошибка записи содержимого: %w", err)
		}
		if cur.Initialized {
			return nil
		}
		cur.Initialized = true
		return tx.Shares().Update(ctx, cur)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Содержимое шары загружено",
		slog.String("share_id", sh.ShareID),
		slog.Bool("replace", up.Replace),
		slog.Int64("size", size),
	)
	return &UploadResult{Completed: true, Received: 1, Total: 1}, nil
}

// ReadContent открывает содержимое шары. Требуется READ.
// Неинициализированная шара — ErrNotFound. Вызывающий закрывает Object.
func (s *ShareService) ReadContent(ctx context.Context, actor *model.User, shareID string) (*Content, error) {
	if _, err := s.authz.Require(ctx, actor, permission.New(permission.Read), true); err != nil {
		return nil, err
	}
	sh, err := s.get(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if err := share.Check(shareState(sh), share.OpRead); err != nil {
		return nil, fmt.Errorf("%w: содержимое не загружено", ErrNotFound)
	}

	obj, err := s.blobs.Open(ctx, sh.ShareID)
	if err != nil {
		if errors.Is(err, blob.ErrNotExist) {
			return nil, fmt.Errorf("%w: содержимое отсутствует в хранилище", ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка открытия содержимого: %w", err)
	}
	return &Content{Share: sh, Object: obj}, nil
}

// Update изменяет метаданные. replace=true (PUT) требует оба поля.
// Требуется MODIFY и владение; заблокированная шара — ErrLocked.
// Новый владелец должен существовать, иначе ErrValidation.
func (s *ShareService) Update(
	ctx context.Context,
	actor *model.User,
	shareID string,
	upd model.ShareUpdate,
	replace bool,
) (*model.Share, error) {
	d, err := s.authz.Require(ctx, actor, permission.New(permission.Modify), true)
	if err != nil {
		return nil, err
	}
	if replace && (!upd.FileName.Set || !upd.OwnerName.Set) {
		return nil, validationError("поля file_name и owner_name обязательны")
	}
	if upd.FileName.Set && (upd.FileName.Null || upd.FileName.Value == "") {
		return nil, validationError("file_name не может быть пустым")
	}

	id, err := parseShareID(shareID)
	if err != nil {
		return nil, err
	}

	var result *model.Share
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		sh, err := tx.Shares().GetForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err)
		}
		if err := guard(sh, d, share.OpModifyMeta); err != nil {
			return err
		}

		upd.Apply(sh)
		if sh.OwnerName != nil {
			if _, err := tx.Users().GetByUsername(ctx, *sh.OwnerName); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					return validationError("пользователь %s не существует", *sh.OwnerName)
				}
				return err
			}
		}
		if err := tx.Shares().Update(ctx, sh); err != nil {
			return mapRepoError(err)
		}
		result = sh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// SetLocked блокирует или разблокирует шару. Требуется LOCK.
// Операция идемпотентна.
func (s *ShareService) SetLocked(ctx context.Context, actor *model.User, shareID string, locked bool) (*model.Share, error) {
	if _, err := s.authz.Require(ctx, actor, permission.New(permission.Lock), true); err != nil {
		return nil, err
	}
	op := share.OpLock
	if !locked {
		op = share.OpUnlock
	}
	id, err := parseShareID(shareID)
	if err != nil {
		return nil, err
	}

	var result *model.Share
	err = s.store.InTx(ctx, func(tx repository.Store) error {
		sh, err := tx.Shares().GetForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err)
		}
		if err := share.Check(shareState(sh), op); err != nil {
			return err
		}
		result = sh
		if sh.Locked == locked {
			return nil
		}
		sh.Locked = locked
		return tx.Shares().Update(ctx, sh)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Блокировка шары изменена",
		slog.String("share_id", id),
		slog.Bool("locked", locked),
	)
	return result, nil
}

// Delete удаляет шару и её содержимое. Требуется DELETE и владение;
// заблокированная шара — ErrLocked.
func (s *ShareService) Delete(ctx context.Context, actor *model.User, shareID string) error {
	d, err := s.authz.Require(ctx, actor, permission.New(permission.Delete), true)
	if err != nil {
		return err
	}
	id, err := parseShareID(shareID)
	if err != nil {
		return err
	}

	err = s.store.InTx(ctx, func(tx repository.Store) error {
		sh, err := tx.Shares().GetForUpdate(ctx, id)
		if err != nil {
			return mapRepoError(err)
		}
		if err := guard(sh, d, share.OpDelete); err != nil {
			return err
		}
		if err := tx.Shares().Delete(ctx, sh.ShareID); err != nil {
			return mapRepoError(err)
		}
		if err := blob.DeleteIfExists(ctx, s.blobs, sh.ShareID); err != nil {
			return fmt.Errorf("ошибка удаления содержимого: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Шара удалена", slog.String("share_id", id))
	return nil
}

func (s *ShareService) get(ctx context.Context, shareID string) (*model.Share, error) {
	id, err := parseShareID(shareID)
	if err != nil {
		return nil, err
	}
	sh, err := s.store.Shares().GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return sh, nil
}

// parseShareID приводит идентификатор к каноническому виду UUID.
func parseShareID(shareID string) (string, error) {
	id, err := uuid.Parse(shareID)
	if err != nil {
		return "", fmt.Errorf("%w: шара %s", ErrNotFound, shareID)
	}
	return id.String(), nil
}

// guard проверяет владение и допустимость операции в текущем состоянии.
func guard(sh *model.Share, d auth.Decision, op share.Operation) error {
	if !sh.IsOwnedBy(d.Username()) {
		return auth.ErrNotOwner
	}
	return share.Check(shareState(sh), op)
}
