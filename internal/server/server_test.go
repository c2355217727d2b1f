package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/dogeystamp/sachet-server/internal/api/handlers"
	"github.com/dogeystamp/sachet-server/internal/api/middleware"
	"github.com/dogeystamp/sachet-server/internal/auth"
	"github.com/dogeystamp/sachet-server/internal/domain/model"
	"github.com/dogeystamp/sachet-server/internal/domain/permission"
	"github.com/dogeystamp/sachet-server/internal/repository/memory"
	"github.com/dogeystamp/sachet-server/internal/service"
	"github.com/dogeystamp/sachet-server/internal/storage/filestore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// stubChecker — ReadinessChecker с фиксированным ответом.
type stubChecker struct{ status string }

func (c stubChecker) CheckReady() (string, string) { return c.status, "" }

// stubDeps — DependencyReporter с фиксированным состоянием.
type stubDeps map[string]bool

func (d stubDeps) Health() map[string]bool { return d }

// apiEnv — полный стек API поверх хранилища в памяти.
type apiEnv struct {
	store   *memory.Store
	hasher  *auth.PasswordHasher
	handler http.Handler
}

func setupAPI(t *testing.T, maxUploadSize int64) *apiEnv {
	t.Helper()

	blobs, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	logger := testLogger()
	store := memory.New()
	hasher := auth.NewPasswordHasher(4)

	settings := service.NewSettingsService(store, logger)
	authz := auth.NewAuthorizer(settings)
	assembler := service.NewUploadAssembler(store, blobs, logger)
	shares := service.NewShareService(store, blobs, authz, assembler, logger)
	users := service.NewUserService(store, hasher, auth.NewTokenManager("test-secret", time.Hour),
		authz, service.NewUserCache(100, time.Minute), logger)

	h := Handlers{
		Files:  handlers.NewFilesHandler(shares, maxUploadSize, logger),
		Users:  handlers.NewUsersHandler(users, logger),
		Admin:  handlers.NewAdminHandler(settings, logger),
		Health: handlers.NewHealthHandler(stubChecker{status: "ok"}, stubDeps{"postgresql:127.0.0.1:5432": true}),
	}
	router := NewRouter(h,
		middleware.MetricsMiddleware(),
		middleware.NewBearerAuth(users, logger).Middleware(),
		middleware.RequestLogger(logger),
	)
	return &apiEnv{store: store, hasher: hasher, handler: router}
}

// addUser создаёт пользователя с паролем "password".
func (e *apiEnv) addUser(t *testing.T, name string, perms permission.Set) {
	t.Helper()
	hash, err := e.hasher.Hash("password")
	if err != nil {
		t.Fatalf("Hash ошибка: %v", err)
	}
	err = e.store.Users().Create(context.Background(), &model.User{
		Username:     name,
		PasswordHash: hash,
		RegisterDate: time.Now().UTC(),
		Permissions:  perms,
	})
	if err != nil {
		t.Fatalf("Create(%s) ошибка: %v", name, err)
	}
}

// setDefaults задаёт права анонимного пользователя.
func (e *apiEnv) setDefaults(t *testing.T, flags ...permission.Flag) {
	t.Helper()
	err := e.store.Settings().Save(context.Background(), &model.ServerSettings{DefaultPermissions: permission.New(flags...)})
	if err != nil {
		t.Fatalf("Save настроек ошибка: %v", err)
	}
}

// do выполняет запрос. body: nil, []byte, string или значение для JSON.
func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		r = bytes.NewReader(b)
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Marshal ошибка: %v", err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// upload отправляет multipart-форму с полем upload и необязательными полями чанка.
func (e *apiEnv) upload(t *testing.T, method, path, token string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField ошибка: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("upload", "blob")
	if err != nil {
		t.Fatalf("CreateFormFile ошибка: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("Write ошибка: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("Close ошибка: %v", err)
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// login возвращает токен пользователя.
func (e *apiEnv) login(t *testing.T, name string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/users/login", "", map[string]string{"username": name, "password": "password"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login(%s) статус = %d: %s", name, rec.Code, rec.Body.String())
	}
	var resp struct {
		Status    string `json:"status"`
		Username  string `json:"username"`
		AuthToken string `json:"auth_token"`
	}
	decode(t, rec, &resp)
	if resp.Status != "success" || resp.Username != name || resp.AuthToken == "" {
		t.Fatalf("неожиданный ответ login: %+v", resp)
	}
	return resp.AuthToken
}

// createShare создаёт шару и возвращает её URL.
func (e *apiEnv) createShare(t *testing.T, token, fileName string) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/files", token, map[string]string{"file_name": fileName})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /files статус = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		URL string `json:"url"`
	}
	decode(t, rec, &resp)
	if !strings.HasPrefix(resp.URL, "/files/") {
		t.Fatalf("url = %q, ожидался префикс /files/", resp.URL)
	}
	return resp.URL
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("Ошибка декодирования ответа %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("статус = %d, ожидалось %d; тело: %s", rec.Code, want, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	env := setupAPI(t, 0)

	expectStatus(t, env.do(t, http.MethodGet, "/health/live", "", nil), http.StatusOK)
	rec := env.do(t, http.MethodGet, "/health/ready", "", nil)
	expectStatus(t, rec, http.StatusOK)
	var ready struct {
		Status       string          `json:"status"`
		Dependencies map[string]bool `json:"dependencies"`
	}
	decode(t, rec, &ready)
	if ready.Status != "ok" || !ready.Dependencies["postgresql:127.0.0.1:5432"] {
		t.Errorf("неожиданный ответ readiness: %+v", ready)
	}
	expectStatus(t, env.do(t, http.MethodGet, "/metrics", "", nil), http.StatusOK)

	// невалидный токен не влияет на health
	expectStatus(t, env.do(t, http.MethodGet, "/health/live", "garbage", nil), http.StatusOK)
}

func TestHealth_NotReady(t *testing.T) {
	router := NewRouter(Handlers{Health: handlers.NewHealthHandler(stubChecker{status: "fail"}, nil)})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	expectStatus(t, rec, http.StatusServiceUnavailable)
}

func TestRouting_NotFoundAndMethod(t *testing.T) {
	env := setupAPI(t, 0)

	rec := env.do(t, http.MethodGet, "/nope", "", nil)
	expectStatus(t, rec, http.StatusNotFound)
	var body map[string]string
	decode(t, rec, &body)
	if body["status"] != "fail" {
		t.Errorf("status = %q, ожидалось fail", body["status"])
	}

	expectStatus(t, env.do(t, http.MethodDelete, "/files", "", nil), http.StatusMethodNotAllowed)
}

func TestRouting_UserActionsArePostOnly(t *testing.T) {
	env := setupAPI(t, 0)
	env.addUser(t, "admin", permission.All())
	token := env.login(t, "admin")

	for _, action := range []string{"login", "logout", "extend", "password"} {
		for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodPatch, http.MethodDelete} {
			for _, tok := range []string{"", token} {
				rec := env.do(t, method, "/users/"+action, tok, nil)
				if rec.Code != http.StatusMethodNotAllowed {
					t.Errorf("%s /users/%s (токен: %v): статус = %d, ожидалось 405",
						method, action, tok != "", rec.Code)
				}
			}
		}
	}

	// пользователь admin не удалён через DELETE /users/logout
	expectStatus(t, env.do(t, http.MethodGet, "/users/admin", token, nil), http.StatusOK)
}

func TestAnonymousShareLifecycle(t *testing.T) {
	env := setupAPI(t, 0)
	payload := []byte("hello sachet")

	url := env.createShare(t, "", "notes.txt")

	// до загрузки содержимого
	expectStatus(t, env.do(t, http.MethodGet, url+"/content", "", nil), http.StatusNotFound)
	expectStatus(t, env.upload(t, http.MethodPut, url+"/content", "", payload, nil), http.StatusLocked)

	expectStatus(t, env.upload(t, http.MethodPost, url+"/content", "", payload, nil), http.StatusCreated)
	expectStatus(t, env.upload(t, http.MethodPost, url+"/content", "", payload, nil), http.StatusLocked)

	rec := env.do(t, http.MethodGet, url, "", nil)
	expectStatus(t, rec, http.StatusOK)
	var meta struct {
		ShareID     string  `json:"share_id"`
		OwnerName   *string `json:"owner_name"`
		FileName    string  `json:"file_name"`
		Initialized bool    `json:"initialized"`
		Locked      bool    `json:"locked"`
	}
	decode(t, rec, &meta)
	if meta.OwnerName != nil || meta.FileName != "notes.txt" || !meta.Initialized || meta.Locked {
		t.Errorf("неожиданные метаданные: %+v", meta)
	}
	if url != "/files/"+meta.ShareID {
		t.Errorf("share_id = %q не соответствует url %q", meta.ShareID, url)
	}

	rec = env.do(t, http.MethodGet, url+"/content", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if !bytes.Equal(rec.Body.Bytes(), payload) {
		t.Errorf("содержимое = %q, ожидалось %q", rec.Body.String(), payload)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "notes.txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	replaced := []byte("replaced content")
	expectStatus(t, env.upload(t, http.MethodPut, url+"/content", "", replaced, nil), http.StatusOK)
	rec = env.do(t, http.MethodGet, url+"/content", "", nil)
	if !bytes.Equal(rec.Body.Bytes(), replaced) {
		t.Errorf("после замены содержимое = %q", rec.Body.String())
	}

	expectStatus(t, env.do(t, http.MethodDelete, url, "", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, url, "", nil), http.StatusNotFound)
}

func TestDownload_Range(t *testing.T) {
	env := setupAPI(t, 0)
	url := env.createShare(t, "", "range.bin")
	expectStatus(t, env.upload(t, http.MethodPost, url+"/content", "", []byte("0123456789"), nil), http.StatusCreated)

	req := httptest.NewRequest(http.MethodGet, url+"/content", nil)
	req.Header.Set("Range", "bytes=2-5")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	expectStatus(t, rec, http.StatusPartialContent)
	if rec.Body.String() != "2345" {
		t.Errorf("тело = %q, ожидалось 2345", rec.Body.String())
	}
}

func TestChunkedUpload(t *testing.T) {
	env := setupAPI(t, 0)
	url := env.createShare(t, "", "chunked.bin")
	parts := []string{"aaaa", "bbbb", "cc"}

	// чанки в обратном порядке
	for i := len(parts) - 1; i >= 0; i-- {
		want := http.StatusOK
		if i == 0 {
			want = http.StatusCreated
		}
		rec := env.upload(t, http.MethodPost, url+"/content", "", []byte(parts[i]), map[string]string{
			"dzuuid":        "upload-1",
			"dzchunkindex":  fmt.Sprint(i),
			"dztotalchunks": fmt.Sprint(len(parts)),
		})
		expectStatus(t, rec, want)
	}

	rec := env.do(t, http.MethodGet, url+"/content", "", nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "aaaabbbbcc" {
		t.Errorf("содержимое = %q, ожидалось aaaabbbbcc", rec.Body.String())
	}
}

func TestChunkedUpload_BadFields(t *testing.T) {
	env := setupAPI(t, 0)
	url := env.createShare(t, "", "bad.bin")

	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"нечисловой индекс", map[string]string{"dzuuid": "u", "dzchunkindex": "x", "dztotalchunks": "2"}},
		{"нечисловое количество", map[string]string{"dzuuid": "u", "dzchunkindex": "0", "dztotalchunks": "two"}},
		{"неполный набор", map[string]string{"dzuuid": "u", "dzchunkindex": "0"}},
		{"индекс вне диапазона", map[string]string{"dzuuid": "u", "dzchunkindex": "2", "dztotalchunks": "2"}},
		{"нулевое количество", map[string]string{"dzuuid": "u", "dzchunkindex": "0", "dztotalchunks": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, env.upload(t, http.MethodPost, url+"/content", "", []byte("x"), tt.fields), http.StatusBadRequest)
		})
	}

	// без поля upload
	req := httptest.NewRequest(http.MethodPost, url+"/content", strings.NewReader("not multipart"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestUpload_TooLarge(t *testing.T) {
	env := setupAPI(t, 64)
	url := env.createShare(t, "", "big.bin")

	rec := env.upload(t, http.MethodPost, url+"/content", "", bytes.Repeat([]byte("x"), 1024), nil)
	expectStatus(t, rec, http.StatusRequestEntityTooLarge)
}

func TestShareLockAndOwnership(t *testing.T) {
	env := setupAPI(t, 0)
	env.addUser(t, "alice", permission.All())
	env.addUser(t, "bob", permission.All())
	alice := env.login(t, "alice")
	bob := env.login(t, "bob")

	url := env.createShare(t, alice, "alice.txt")
	expectStatus(t, env.upload(t, http.MethodPost, url+"/content", alice, []byte("data"), nil), http.StatusCreated)

	// чужой пользователь и аноним не владеют шарой
	expectStatus(t, env.do(t, http.MethodPatch, url, bob, map[string]any{"file_name": "bob.txt"}), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodDelete, url, "", nil), http.StatusForbidden)
	expectStatus(t, env.upload(t, http.MethodPut, url+"/content", bob, []byte("evil"), nil), http.StatusForbidden)

	expectStatus(t, env.do(t, http.MethodPost, url+"/lock", alice, nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, url+"/lock", alice, nil), http.StatusOK)

	expectStatus(t, env.do(t, http.MethodPatch, url, alice, map[string]any{"file_name": "x"}), http.StatusLocked)
	expectStatus(t, env.do(t, http.MethodPut, url, alice, map[string]any{"file_name": "x", "owner_name": "alice"}), http.StatusLocked)
	expectStatus(t, env.do(t, http.MethodDelete, url, alice, nil), http.StatusLocked)
	expectStatus(t, env.upload(t, http.MethodPut, url+"/content", alice, []byte("new"), nil), http.StatusLocked)
	expectStatus(t, env.do(t, http.MethodGet, url+"/content", alice, nil), http.StatusOK)

	expectStatus(t, env.do(t, http.MethodPost, url+"/unlock", alice, nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPatch, url, alice, map[string]any{"file_name": "renamed.txt"}), http.StatusOK)

	// передача владения, затем alice больше не владелец
	expectStatus(t, env.do(t, http.MethodPatch, url, alice, map[string]any{"owner_name": "bob"}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodDelete, url, alice, nil), http.StatusForbidden)

	// несуществующий владелец
	expectStatus(t, env.do(t, http.MethodPatch, url, bob, map[string]any{"owner_name": "ghost"}), http.StatusBadRequest)

	// PUT без обязательного ключа
	expectStatus(t, env.do(t, http.MethodPut, url, bob, map[string]any{"file_name": "only.txt"}), http.StatusBadRequest)

	// поля только для чтения игнорируются, неизвестные отклоняются
	expectStatus(t, env.do(t, http.MethodPatch, url, bob, map[string]any{"locked": true, "initialized": false}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPatch, url, bob, map[string]any{"color": "red"}), http.StatusBadRequest)

	rec := env.do(t, http.MethodGet, url, bob, nil)
	var meta struct {
		OwnerName *string `json:"owner_name"`
		FileName  string  `json:"file_name"`
		Locked    bool    `json:"locked"`
	}
	decode(t, rec, &meta)
	if meta.OwnerName == nil || *meta.OwnerName != "bob" || meta.FileName != "renamed.txt" || meta.Locked {
		t.Errorf("неожиданные метаданные: %+v", meta)
	}

	// null делает шару анонимной
	expectStatus(t, env.do(t, http.MethodPatch, url, bob, `{"owner_name": null}`), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodDelete, url, "", nil), http.StatusOK)
}

func TestAnonymous_NoDefaultPermissions(t *testing.T) {
	env := setupAPI(t, 0)
	env.setDefaults(t)
	env.addUser(t, "admin", permission.All())
	admin := env.login(t, "admin")

	url := env.createShare(t, admin, "secret.txt")
	expectStatus(t, env.upload(t, http.MethodPost, url+"/content", admin, []byte("secret"), nil), http.StatusCreated)

	tests := []struct {
		method string
		path   string
		upload bool
		body   any
	}{
		{http.MethodPost, "/files", false, map[string]string{"file_name": "x"}},
		{http.MethodGet, "/files", false, nil},
		{http.MethodGet, url, false, nil},
		{http.MethodPatch, url, false, map[string]string{"file_name": "x"}},
		{http.MethodPut, url, false, map[string]any{"file_name": "x", "owner_name": nil}},
		{http.MethodDelete, url, false, nil},
		{http.MethodPost, url + "/content", true, nil},
		{http.MethodPut, url + "/content", true, nil},
		{http.MethodGet, url + "/content", false, nil},
		{http.MethodPost, url + "/lock", false, nil},
		{http.MethodPost, url + "/unlock", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if tt.upload {
				rec = env.upload(t, tt.method, tt.path, "", []byte("changed"), nil)
			} else {
				rec = env.do(t, tt.method, tt.path, "", tt.body)
			}
			if rec.Code != http.StatusUnauthorized && rec.Code != http.StatusForbidden {
				t.Errorf("статус = %d, ожидалось 401 или 403; тело: %s", rec.Code, rec.Body.String())
			}
		})
	}

	rec := env.do(t, http.MethodGet, url+"/content", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Body.String() != "secret" {
		t.Errorf("содержимое изменилось: %q", rec.Body.String())
	}
}

func TestAnonymous_CreateOnly(t *testing.T) {
	env := setupAPI(t, 0)
	env.setDefaults(t, permission.Create)

	url := env.createShare(t, "", "drop.txt")
	expectStatus(t, env.upload(t, http.MethodPost, url+"/content", "", []byte("dropped"), nil), http.StatusCreated)

	expectStatus(t, env.do(t, http.MethodGet, url, "", nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodGet, url+"/content", "", nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodGet, "/files", "", nil), http.StatusForbidden)
}

func TestSharePermissions(t *testing.T) {
	env := setupAPI(t, 0)
	env.setDefaults(t, permission.Read)
	env.addUser(t, "reader", permission.New(permission.Read))
	env.addUser(t, "admin", permission.All())
	reader := env.login(t, "reader")
	admin := env.login(t, "admin")

	expectStatus(t, env.do(t, http.MethodPost, "/files", "", nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodPost, "/files", reader, nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodGet, "/files", "", nil), http.StatusForbidden)

	url := env.createShare(t, admin, "")
	expectStatus(t, env.do(t, http.MethodGet, url, "", nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, url+"/lock", reader, nil), http.StatusForbidden)

	// неизвестный и некорректный идентификатор
	expectStatus(t, env.do(t, http.MethodGet, "/files/00000000-0000-0000-0000-000000000000", "", nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodGet, "/files/not-a-uuid", "", nil), http.StatusNotFound)
}

func TestListFiles_Pagination(t *testing.T) {
	env := setupAPI(t, 0)
	for i := 0; i < 5; i++ {
		env.createShare(t, "", fmt.Sprintf("file-%d", i))
	}

	rec := env.do(t, http.MethodGet, "/files?page=2&per_page=2", "", nil)
	expectStatus(t, rec, http.StatusOK)
	var page struct {
		Data    []map[string]any `json:"data"`
		Page    int              `json:"page"`
		PerPage int              `json:"per_page"`
		Pages   int              `json:"pages"`
		Total   int              `json:"total"`
		Next    *int             `json:"next"`
		Prev    *int             `json:"prev"`
	}
	decode(t, rec, &page)
	if len(page.Data) != 2 || page.Page != 2 || page.Pages != 3 || page.Total != 5 {
		t.Errorf("неожиданная страница: %+v", page)
	}
	if page.Next == nil || *page.Next != 3 || page.Prev == nil || *page.Prev != 1 {
		t.Errorf("next/prev = %v/%v, ожидалось 3/1", page.Next, page.Prev)
	}

	rec = env.do(t, http.MethodGet, "/files?page=3&per_page=2", "", nil)
	decode(t, rec, &page)
	if page.Next != nil || len(page.Data) != 1 {
		t.Errorf("последняя страница: next=%v, элементов %d", page.Next, len(page.Data))
	}

	expectStatus(t, env.do(t, http.MethodGet, "/files?page=one", "", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/files?per_page=-1", "", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/files?page=0", "", nil), http.StatusOK)
}

func TestAuthFlow(t *testing.T) {
	env := setupAPI(t, 0)
	env.setDefaults(t, permission.Read)
	env.addUser(t, "alice", permission.New(permission.Create, permission.Read))

	// неверные учётные данные
	expectStatus(t, env.do(t, http.MethodPost, "/users/login", "",
		map[string]string{"username": "alice", "password": "wrong"}), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodPost, "/users/login", "",
		map[string]string{"username": "ghost", "password": "password"}), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodPost, "/users/login", "", map[string]string{}), http.StatusBadRequest)

	token := env.login(t, "alice")

	var who struct {
		Username    *string  `json:"username"`
		Permissions []string `json:"permissions"`
	}
	rec := env.do(t, http.MethodGet, "/whoami", token, nil)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &who)
	if who.Username == nil || *who.Username != "alice" || len(who.Permissions) != 2 {
		t.Errorf("whoami = %+v", who)
	}

	rec = env.do(t, http.MethodGet, "/whoami", "", nil)
	decode(t, rec, &who)
	if who.Username != nil || len(who.Permissions) != 1 || who.Permissions[0] != "READ" {
		t.Errorf("анонимный whoami = %+v", who)
	}

	// некорректный заголовок — 401 даже на анонимном endpoint
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Token abc")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	expectStatus(t, rr, http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodGet, "/whoami", "garbage", nil), http.StatusUnauthorized)

	// продление
	rec = env.do(t, http.MethodPost, "/users/extend", token, nil)
	expectStatus(t, rec, http.StatusOK)
	var ext struct {
		AuthToken string `json:"auth_token"`
	}
	decode(t, rec, &ext)
	if ext.AuthToken == "" {
		t.Fatal("extend не вернул токен")
	}
	expectStatus(t, env.do(t, http.MethodPost, "/users/extend", "", nil), http.StatusUnauthorized)

	// выход
	expectStatus(t, env.do(t, http.MethodPost, "/users/logout", token, map[string]string{"token": token}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/whoami", token, nil), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodPost, "/users/logout", ext.AuthToken,
		map[string]string{"token": token}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/users/logout", ext.AuthToken, map[string]string{"token": "garbage"}), http.StatusBadRequest)

	// продлённый токен по-прежнему действует
	expectStatus(t, env.do(t, http.MethodGet, "/whoami", ext.AuthToken, nil), http.StatusOK)

	// без token в теле отзывается токен запроса
	expectStatus(t, env.do(t, http.MethodPost, "/users/logout", ext.AuthToken, nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/whoami", ext.AuthToken, nil), http.StatusUnauthorized)
}

func TestChangePassword(t *testing.T) {
	env := setupAPI(t, 0)
	env.addUser(t, "alice", permission.New(permission.Read))
	token := env.login(t, "alice")

	expectStatus(t, env.do(t, http.MethodPost, "/users/password", token,
		map[string]string{"old": "wrong", "new": "secret"}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/users/password", "",
		map[string]string{"old": "password", "new": "secret"}), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodPost, "/users/password", token,
		map[string]string{"old": "password", "new": "secret"}), http.StatusOK)

	expectStatus(t, env.do(t, http.MethodPost, "/users/login", "",
		map[string]string{"username": "alice", "password": "password"}), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodPost, "/users/login", "",
		map[string]string{"username": "alice", "password": "secret"}), http.StatusOK)
}

func TestUserManagement(t *testing.T) {
	env := setupAPI(t, 0)
	env.addUser(t, "admin", permission.All())
	env.addUser(t, "alice", permission.New(permission.Read))
	admin := env.login(t, "admin")
	alice := env.login(t, "alice")

	// создание
	rec := env.do(t, http.MethodPost, "/users", admin, map[string]any{
		"username": "bob", "password": "bobpass", "permissions": []string{"READ", "CREATE"},
	})
	expectStatus(t, rec, http.StatusCreated)
	var created struct {
		URL string `json:"url"`
	}
	decode(t, rec, &created)
	if created.URL != "/users/bob" {
		t.Errorf("url = %q, ожидалось /users/bob", created.URL)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/users", admin, map[string]any{
		"username": "bob", "password": "x", "permissions": []string{},
	}), http.StatusConflict)
	expectStatus(t, env.do(t, http.MethodPost, "/users", admin, map[string]any{
		"username": "carol", "password": "x", "permissions": []string{"FLY"},
	}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/users", admin, map[string]any{
		"username": "login", "password": "x", "permissions": []string{},
	}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/users", alice, map[string]any{
		"username": "dave", "password": "x", "permissions": []string{},
	}), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodPost, "/users", "", map[string]any{
		"username": "dave", "password": "x", "permissions": []string{},
	}), http.StatusUnauthorized)

	// чтение: сам пользователь или ADMIN
	rec = env.do(t, http.MethodGet, "/users/alice", alice, nil)
	expectStatus(t, rec, http.StatusOK)
	var user map[string]any
	decode(t, rec, &user)
	if user["username"] != "alice" {
		t.Errorf("username = %v", user["username"])
	}
	if _, ok := user["password"]; ok {
		t.Error("ответ содержит password")
	}
	if _, ok := user["password_hash"]; ok {
		t.Error("ответ содержит password_hash")
	}
	expectStatus(t, env.do(t, http.MethodGet, "/users/bob", alice, nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodGet, "/users/bob", admin, nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/users/ghost", admin, nil), http.StatusNotFound)

	// список
	rec = env.do(t, http.MethodGet, "/users?per_page=2", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	var page struct {
		Data  []map[string]any `json:"data"`
		Total int              `json:"total"`
	}
	decode(t, rec, &page)
	if page.Total != 3 || len(page.Data) != 2 {
		t.Errorf("total = %d, элементов %d", page.Total, len(page.Data))
	}
	expectStatus(t, env.do(t, http.MethodGet, "/users", alice, nil), http.StatusForbidden)

	// изменение прав действует на уже выданный токен
	expectStatus(t, env.do(t, http.MethodPatch, "/users/alice", admin,
		map[string]any{"permissions": []string{"READ", "LIST"}}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/files", alice, nil), http.StatusOK)

	expectStatus(t, env.do(t, http.MethodPut, "/users/alice", admin,
		map[string]any{"permissions": []string{"READ"}}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPut, "/users/alice", admin,
		map[string]any{"password": "newpass", "permissions": []string{"READ"}}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/users/login", "",
		map[string]string{"username": "alice", "password": "newpass"}), http.StatusOK)

	// удаление
	expectStatus(t, env.do(t, http.MethodDelete, "/users/alice", alice, nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodDelete, "/users/alice", admin, nil), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodGet, "/whoami", alice, nil), http.StatusUnauthorized)
	expectStatus(t, env.do(t, http.MethodDelete, "/users/alice", admin, nil), http.StatusNotFound)
}

func TestAdminSettings(t *testing.T) {
	env := setupAPI(t, 0)
	env.addUser(t, "admin", permission.All())
	env.addUser(t, "alice", permission.New(permission.Read))
	admin := env.login(t, "admin")
	alice := env.login(t, "alice")

	rec := env.do(t, http.MethodGet, "/admin/settings", admin, nil)
	expectStatus(t, rec, http.StatusOK)
	var settings struct {
		DefaultPermissions []string `json:"default_permissions"`
	}
	decode(t, rec, &settings)
	if len(settings.DefaultPermissions) != len(permission.All().Names()) {
		t.Errorf("default_permissions = %v, ожидались все права", settings.DefaultPermissions)
	}

	expectStatus(t, env.do(t, http.MethodGet, "/admin/settings", alice, nil), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodGet, "/admin/settings", "", nil), http.StatusUnauthorized)

	expectStatus(t, env.do(t, http.MethodPatch, "/admin/settings", admin,
		map[string]any{"default_permissions": []string{"READ"}}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/files", "", nil), http.StatusForbidden)

	expectStatus(t, env.do(t, http.MethodPut, "/admin/settings", admin, map[string]any{}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPatch, "/admin/settings", admin,
		map[string]any{"default_permissions": []string{"NOPE"}}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPut, "/admin/settings", admin,
		map[string]any{"default_permissions": []string{"CREATE", "READ"}}), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodPost, "/files", "", nil), http.StatusCreated)
}
