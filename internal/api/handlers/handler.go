// handler.go — общие вспомогательные функции HTTP-обработчиков Sachet:
// запись JSON, декодирование тела запроса, параметры пагинации.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	apierrors "github.com/dogeystamp/sachet-server/internal/api/errors"
	"github.com/dogeystamp/sachet-server/internal/service"
)

// maxJSONBody — ограничение размера JSON-тела запроса.
const maxJSONBody = 1 << 20

// statusResponse — простой ответ об успехе.
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// urlResponse — ответ на создание ресурса.
type urlResponse struct {
	Status string `json:"status"`
	URL    string `json:"url"`
}

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeSuccess записывает {"status": "success"}.
func writeSuccess(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, statusResponse{Status: "success", Message: message})
}

// errBadBody — тело запроса не разобрано.
var errBadBody = errors.New("некорректное тело запроса")

// decodeJSON разбирает тело запроса в dst. Неизвестные поля запрещены.
// Пустое тело допускается, если allowEmpty.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return fmt.Errorf("%w: %v", errBadBody, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: лишние данные после JSON", errBadBody)
	}
	return nil
}

// parsePagination разбирает page и per_page. Отсутствующий параметр — 0
// (значение по умолчанию сервисного слоя), нечисловой — ошибка.
func parsePagination(r *http.Request) (page, perPage int, err error) {
	q := r.URL.Query()
	if page, err = queryInt(q.Get("page")); err != nil {
		return 0, 0, fmt.Errorf("page: %w", err)
	}
	if perPage, err = queryInt(q.Get("per_page")); err != nil {
		return 0, 0, fmt.Errorf("per_page: %w", err)
	}
	return page, perPage, nil
}

func queryInt(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("ожидалось целое число")
	}
	return n, nil
}

// fail записывает ответ для ошибки сервисного слоя.
func fail(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	apierrors.FromError(w, r, logger, err)
}

// pageResponse — страница списка в формате API.
type pageResponse[R any] struct {
	Data    []R  `json:"data"`
	Page    int  `json:"page"`
	PerPage int  `json:"per_page"`
	Pages   int  `json:"pages"`
	Total   int  `json:"total"`
	Next    *int `json:"next"`
	Prev    *int `json:"prev"`
}

// toPageResponse преобразует страницу сервисного слоя.
func toPageResponse[T, R any](p *service.Page[T], conv func(T) R) pageResponse[R] {
	data := make([]R, 0, len(p.Items))
	for _, item := range p.Items {
		data = append(data, conv(item))
	}
	return pageResponse[R]{
		Data:    data,
		Page:    p.Page,
		PerPage: p.PerPage,
		Pages:   p.Pages,
		Total:   p.Total,
		Next:    p.Next(),
		Prev:    p.Prev(),
	}
}
