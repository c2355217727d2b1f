// Пакет filestore — хранилище объектов в директории на диске.
// Запись: temp файл → запись → fsync → атомарный rename при Close.
// Имена объектов — плоские, без разделителей путей.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dogeystamp/sachet-server/internal/storage/blob"
)

// tmpPrefix — префикс временных файлов, невидимых в List.
const tmpPrefix = ".tmp-"

// FileStore — объекты в директории dataDir.
type FileStore struct {
	// dataDir — корневая директория хранения (SACHET_FILE_DIR)
	dataDir string
}

var (
	_ blob.Store      = (*FileStore)(nil)
	_ blob.TempPurger = (*FileStore)(nil)
)

// New создаёт FileStore. Создаёт директорию, если её нет.
func New(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию данных %s: %w", dataDir, err)
	}
	return &FileStore{dataDir: dataDir}, nil
}

// DataDir возвращает путь к директории данных.
func (s *FileStore) DataDir() string {
	return s.dataDir
}

// Create открывает объект на запись. Объект появляется под именем name
// только после успешного Close; до этого данные лежат во временном файле.
func (s *FileStore) Create(_ context.Context, name string) (io.WriteCloser, error) {
	fullPath, err := s.path(name)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(s.dataDir, tmpPrefix+"*")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	return &atomicWriter{f: f, target: fullPath}, nil
}

// Open открывает объект на чтение.
func (s *FileStore) Open(_ context.Context, name string) (blob.Object, error) {
	fullPath, err := s.path(name)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", blob.ErrNotExist, name)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", name, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", name, err)
	}
	return &fileObject{File: f, info: info}, nil
}

// Delete удаляет объект.
func (s *FileStore) Delete(_ context.Context, name string) error {
	fullPath, err := s.path(name)
	if err != nil {
		return err
	}

	if err := os.Remove(fullPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", blob.ErrNotExist, name)
		}
		return fmt.Errorf("ошибка удаления файла %s: %w", name, err)
	}
	return nil
}

// Rename переименовывает объект без перезаписи приёмника.
// Жёсткая ссылка + удаление исходного имени: link не заменяет
// существующий файл, в отличие от rename.
func (s *FileStore) Rename(_ context.Context, oldName, newName string) error {
	oldPath, err := s.path(oldName)
	if err != nil {
		return err
	}
	newPath, err := s.path(newName)
	if err != nil {
		return err
	}

	if _, err := os.Stat(oldPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", blob.ErrNotExist, oldName)
		}
		return fmt.Errorf("ошибка получения информации о файле %s: %w", oldName, err)
	}

	err = os.Link(oldPath, newPath)
	switch {
	case err == nil:
		if err := os.Remove(oldPath); err != nil {
			return fmt.Errorf("ошибка удаления исходного файла %s: %w", oldName, err)
		}
		return nil
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %s", blob.ErrExist, newName)
	}

	// ФС без жёстких ссылок
	if _, statErr := os.Stat(newPath); statErr == nil {
		return fmt.Errorf("%w: %s", blob.ErrExist, newName)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		return fmt.Errorf("ошибка переименования %s → %s: %w", oldName, newName, err)
	}
	return nil
}

// List возвращает объекты директории, пропуская временные файлы.
func (s *FileStore) List(_ context.Context) ([]blob.Info, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", s.dataDir, err)
	}

	result := make([]blob.Info, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", e.Name(), err)
		}
		result = append(result, blob.Info{
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return result, nil
}

// PurgeTemp удаляет временные файлы, брошенные незавершённой записью.
// Файлы моложе before не трогаются: запись может идти прямо сейчас.
func (s *FileStore) PurgeTemp(_ context.Context, before time.Time) (int, error) {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return 0, fmt.Errorf("ошибка чтения директории %s: %w", s.dataDir, err)
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("ошибка получения информации о файле %s: %w", e.Name(), err)
		}
		if !info.ModTime().Before(before) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dataDir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("ошибка удаления временного файла %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// path проверяет имя и возвращает абсолютный путь.
func (s *FileStore) path(name string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("%w: %q", blob.ErrInvalidName, name)
	}
	return filepath.Join(s.dataDir, name), nil
}

// validName допускает только буквы, цифры, дефис, подчёркивание и точку.
// Имя не может начинаться с точки: так исключены "..", скрытые
// и временные файлы.
func validName(name string) bool {
	if name == "" || name[0] == '.' || len(name) > 255 {
		return false
	}
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.' {
			continue
		}
		return false
	}
	return true
}

// atomicWriter — запись во временный файл с публикацией при Close.
type atomicWriter struct {
	f      *os.File
	target string
	done   bool
}

func (w *atomicWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Close: fsync → close → rename. При ошибке временный файл удаляется.
func (w *atomicWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	tmpPath := w.f.Name()

	if err := w.f.Sync(); err != nil {
		w.f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := w.f.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка закрытия файла: %w", err)
	}
	if err := os.Rename(tmpPath, w.target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return nil
}

// Abort отменяет запись и удаляет временный файл.
func (w *atomicWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	if err := os.Remove(w.f.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("ошибка удаления временного файла: %w", err)
	}
	return nil
}

// fileObject — открытый файл с закэшированным Stat.
type fileObject struct {
	*os.File
	info fs.FileInfo
}

func (o *fileObject) Size() int64 {
	return o.info.Size()
}

func (o *fileObject) ModTime() time.Time {
	return o.info.ModTime()
}
