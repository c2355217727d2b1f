package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dogeystamp/sachet-server/internal/auth"
	"github.com/dogeystamp/sachet-server/internal/domain/model"
	"github.com/dogeystamp/sachet-server/internal/domain/permission"
	"github.com/dogeystamp/sachet-server/internal/repository/memory"
	"github.com/dogeystamp/sachet-server/internal/storage/filestore"
)

// testEnv — сервисы поверх хранилища в памяти и FileStore во временной директории.
type testEnv struct {
	store     *memory.Store
	blobs     *filestore.FileStore
	settings  *SettingsService
	authz     *auth.Authorizer
	assembler *UploadAssembler
	shares    *ShareService
	users     *UserService
	reaper    *Reaper
	hasher    *auth.PasswordHasher
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupTestEnv создаёт тестовое окружение сервисов.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	blobs, err := filestore.New(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания FileStore: %v", err)
	}
	logger := testLogger()
	store := memory.New()

	settings := NewSettingsService(store, logger)
	authz := auth.NewAuthorizer(settings)
	assembler := NewUploadAssembler(store, blobs, logger)
	hasher := auth.NewPasswordHasher(4)

	return &testEnv{
		store:     store,
		blobs:     blobs,
		settings:  settings,
		authz:     authz,
		assembler: assembler,
		shares:    NewShareService(store, blobs, authz, assembler, logger),
		users: NewUserService(store, hasher, auth.NewTokenManager("test-secret", time.Hour),
			authz, NewUserCache(100, time.Minute), logger),
		reaper: NewReaper(store, blobs, 24*time.Hour, 24*time.Hour, time.Hour, logger),
		hasher: hasher,
	}
}

// addUser создаёт пользователя напрямую в хранилище.
func (e *testEnv) addUser(t *testing.T, name string, perms permission.Set) *model.User {
	t.Helper()
	hash, err := e.hasher.Hash("password")
	if err != nil {
		t.Fatalf("Hash ошибка: %v", err)
	}
	u := &model.User{
		Username:     name,
		PasswordHash: hash,
		RegisterDate: time.Now().UTC(),
		Permissions:  perms,
	}
	if err := e.store.Users().Create(context.Background(), u); err != nil {
		t.Fatalf("Create(%s) ошибка: %v", name, err)
	}
	return u
}

// setDefaults задаёт права анонимного пользователя.
func (e *testEnv) setDefaults(t *testing.T, flags ...permission.Flag) {
	t.Helper()
	err := e.store.Settings().Save(context.Background(), &model.ServerSettings{DefaultPermissions: permission.New(flags...)})
	if err != nil {
		t.Fatalf("Save настроек ошибка: %v", err)
	}
}

// readShare читает содержимое шары целиком.
func (e *testEnv) readShare(t *testing.T, actor *model.User, shareID string) []byte {
	t.Helper()
	c, err := e.shares.ReadContent(context.Background(), actor, shareID)
	if err != nil {
		t.Fatalf("ReadContent ошибка: %v", err)
	}
	defer c.Object.Close()
	data, err := io.ReadAll(c.Object)
	if err != nil {
		t.Fatalf("ReadAll ошибка: %v", err)
	}
	return data
}

// blobNames возвращает имена объектов в хранилище.
func (e *testEnv) blobNames(t *testing.T) []string {
	t.Helper()
	infos, err := e.blobs.List(context.Background())
	if err != nil {
		t.Fatalf("List ошибка: %v", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names
}

// testPayload возвращает детерминированное содержимое длины n.
func testPayload(n int) []byte {
	return bytes.Repeat([]byte("sachet-"), n/7+1)[:n]
}
