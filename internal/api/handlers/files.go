// files.go — HTTP handlers шар: метаданные, содержимое, блокировка.
// Субъект запроса берётся из контекста (nil — анонимный доступ).
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/dogeystamp/sachet-server/internal/api/errors"
	"github.com/dogeystamp/sachet-server/internal/api/middleware"
	"github.com/dogeystamp/sachet-server/internal/service"
)

// multipartMemory — часть multipart-формы, хранимая в памяти;
// остальное сбрасывается во временные файлы.
const multipartMemory = 32 << 20

// FilesHandler — обработчик endpoints /files.
type FilesHandler struct {
	shares        *service.ShareService
	maxUploadSize int64
	logger        *slog.Logger
}

// NewFilesHandler создаёт обработчик шар.
// maxUploadSize — ограничение тела запроса загрузки содержимого (0 — без ограничения).
func NewFilesHandler(shares *service.ShareService, maxUploadSize int64, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{
		shares:        shares,
		maxUploadSize: maxUploadSize,
		logger:        logger.With(slog.String("component", "files_handler")),
	}
}

// Create обрабатывает POST /files. Тело {"file_name": ...} необязательно.
func (h *FilesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createShareRequest
	if err := decodeJSON(r, &req, true); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	sh, err := h.shares.Create(r.Context(), middleware.UserFromContext(r.Context()), req.FileName)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, urlResponse{Status: "success", URL: "/files/" + sh.ShareID})
}

// List обрабатывает GET /files.
func (h *FilesHandler) List(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := parsePagination(r)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	p, err := h.shares.List(r.Context(), middleware.UserFromContext(r.Context()), page, perPage)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(p, toShareResponse))
}

// Get обрабатывает GET /files/{id}.
func (h *FilesHandler) Get(w http.ResponseWriter, r *http.Request) {
	sh, err := h.shares.Get(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toShareResponse(sh))
}

// Patch обрабатывает PATCH /files/{id} (частичное изменение).
func (h *FilesHandler) Patch(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, false)
}

// Put обрабатывает PUT /files/{id} (полная замена метаданных).
func (h *FilesHandler) Put(w http.ResponseWriter, r *http.Request) {
	h.update(w, r, true)
}

func (h *FilesHandler) update(w http.ResponseWriter, r *http.Request, replace bool) {
	var req shareUpdateRequest
	if err := decodeJSON(r, &req, false); err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	_, err := h.shares.Update(r.Context(), middleware.UserFromContext(r.Context()),
		chi.URLParam(r, "id"), req.toModel(), replace)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "")
}

// Delete обрабатывает DELETE /files/{id}.
func (h *FilesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.shares.Delete(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "")
}

// UploadContent обрабатывает POST /files/{id}/content (первичная загрузка).
// 201 — содержимое опубликовано, 200 — чанк принят, загрузка продолжается.
func (h *FilesHandler) UploadContent(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, false)
}

// ReplaceContent обрабатывает PUT /files/{id}/content (замена содержимого).
func (h *FilesHandler) ReplaceContent(w http.ResponseWriter, r *http.Request) {
	h.upload(w, r, true)
}

func (h *FilesHandler) upload(w http.ResponseWriter, r *http.Request, replace bool) {
	if h.maxUploadSize > 0 {
		if r.ContentLength > h.maxUploadSize {
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Размер запроса превышает %d байт", h.maxUploadSize))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("Размер запроса превышает %d байт", maxErr.Limit))
			return
		}
		apierrors.ValidationError(w, fmt.Sprintf("Ошибка разбора multipart: %s", err.Error()))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("upload")
	if err != nil {
		apierrors.ValidationError(w, "Отсутствует поле upload")
		return
	}
	defer file.Close()

	chunk, err := parseChunkFields(r.MultipartForm)
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	res, err := h.shares.UploadContent(r.Context(), middleware.UserFromContext(r.Context()),
		chi.URLParam(r, "id"), service.ContentUpload{
			Replace: replace,
			Chunk:   chunk,
			Data:    file,
		})
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}

	status := http.StatusOK
	if res.Completed && !replace {
		status = http.StatusCreated
	}
	writeSuccess(w, status, "")
}

// parseChunkFields извлекает dzuuid, dzchunkindex, dztotalchunks.
// Без всех трёх полей загрузка считается цельной.
func parseChunkFields(form *multipart.Form) (*service.ChunkFields, error) {
	uploadID := formValue(form, "dzuuid")
	index := formValue(form, "dzchunkindex")
	total := formValue(form, "dztotalchunks")
	if uploadID == "" && index == "" && total == "" {
		return nil, nil
	}
	if uploadID == "" || index == "" || total == "" {
		return nil, errors.New("поля dzuuid, dzchunkindex и dztotalchunks передаются вместе")
	}

	idx, err := strconv.Atoi(index)
	if err != nil {
		return nil, errors.New("dzchunkindex: ожидалось целое число")
	}
	tot, err := strconv.Atoi(total)
	if err != nil {
		return nil, errors.New("dztotalchunks: ожидалось целое число")
	}
	return &service.ChunkFields{UploadID: uploadID, Index: idx, Total: tot}, nil
}

func formValue(form *multipart.Form, key string) string {
	if vs := form.Value[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Download обрабатывает GET /files/{id}/content.
// Поддерживает Range-запросы через http.ServeContent.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	content, err := h.shares.ReadContent(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	defer content.Object.Close()

	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": content.Share.FileName}))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, "", content.Object.ModTime(), content.Object)
}

// Lock обрабатывает POST /files/{id}/lock.
func (h *FilesHandler) Lock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, true)
}

// Unlock обрабатывает POST /files/{id}/unlock.
func (h *FilesHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	h.setLocked(w, r, false)
}

func (h *FilesHandler) setLocked(w http.ResponseWriter, r *http.Request, locked bool) {
	_, err := h.shares.SetLocked(r.Context(), middleware.UserFromContext(r.Context()), chi.URLParam(r, "id"), locked)
	if err != nil {
		fail(w, r, h.logger, err)
		return
	}
	writeSuccess(w, http.StatusOK, "")
}
