package handlers

import (
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dogeystamp/sachet-server/internal/service"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name        string
		query       string
		wantPage    int
		wantPerPage int
		wantErr     bool
	}{
		{"без параметров", "", 0, 0, false},
		{"оба параметра", "?page=3&per_page=50", 3, 50, false},
		{"отрицательные передаются сервису", "?page=-1", -1, 0, false},
		{"нечисловой page", "?page=one", 0, 0, true},
		{"нечисловой per_page", "?per_page=1.5", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/files"+tt.query, nil)
			page, perPage, err := parsePagination(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ошибка = %v, ожидалась: %v", err, tt.wantErr)
			}
			if page != tt.wantPage || perPage != tt.wantPerPage {
				t.Errorf("page/per_page = %d/%d, ожидалось %d/%d", page, perPage, tt.wantPage, tt.wantPerPage)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		allowEmpty bool
		wantErr    bool
	}{
		{"корректное тело", `{"file_name":"a.txt"}`, false, false},
		{"пустое тело разрешено", "", true, false},
		{"пустое тело запрещено", "", false, true},
		{"неизвестное поле", `{"name":"a.txt"}`, true, true},
		{"неверный тип", `{"file_name":1}`, true, true},
		{"два объекта", `{"file_name":"a"}{"file_name":"b"}`, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/files", strings.NewReader(tt.body))
			var req createShareRequest
			err := decodeJSON(r, &req, tt.allowEmpty)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ошибка = %v, ожидалась: %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, errBadBody) {
				t.Errorf("ошибка %v не оборачивает errBadBody", err)
			}
		})
	}
}

func TestParseChunkFields(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string][]string
		want    *service.ChunkFields
		wantErr bool
	}{
		{"без полей чанка", map[string][]string{}, nil, false},
		{
			"все поля",
			map[string][]string{"dzuuid": {"abc"}, "dzchunkindex": {"1"}, "dztotalchunks": {"3"}},
			&service.ChunkFields{UploadID: "abc", Index: 1, Total: 3},
			false,
		},
		{"нет dztotalchunks", map[string][]string{"dzuuid": {"abc"}, "dzchunkindex": {"1"}}, nil, true},
		{"нечисловой индекс", map[string][]string{"dzuuid": {"abc"}, "dzchunkindex": {"x"}, "dztotalchunks": {"3"}}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseChunkFields(&multipart.Form{Value: tt.values})
			if (err != nil) != tt.wantErr {
				t.Fatalf("ошибка = %v, ожидалась: %v", err, tt.wantErr)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("ожидался nil, получено %+v", got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Errorf("получено %+v, ожидалось %+v", got, tt.want)
			}
		})
	}
}
