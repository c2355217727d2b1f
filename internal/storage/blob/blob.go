// Пакет blob — контракт хранилища двоичного содержимого.
//
// Все операции адресуются непрозрачным именем, выбранным вызывающим
// (share id или составной ключ загрузки). Каталогов в контракте нет.
// Реализации: filestore (диск) и s3store (S3-совместимое хранилище).
package blob

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrNotExist — объект не найден.
	ErrNotExist = errors.New("объект не найден")
	// ErrExist — объект уже существует.
	ErrExist = errors.New("объект уже существует")
	// ErrInvalidName — недопустимое имя объекта.
	ErrInvalidName = errors.New("недопустимое имя объекта")
)

// Object — открытый для чтения объект с поддержкой Seek.
type Object interface {
	io.ReadSeekCloser
	// Size — размер объекта в байтах
	Size() int64
	// ModTime — время последней записи
	ModTime() time.Time
}

// Info — описание объекта в списке.
type Info struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// Store — хранилище двоичных объектов.
type Store interface {
	// Create открывает объект на запись с усечением.
	// Содержимое становится видимым после успешного Close.
	Create(ctx context.Context, name string) (io.WriteCloser, error)
	// Open открывает объект на чтение. ErrNotExist, если объекта нет.
	Open(ctx context.Context, name string) (Object, error)
	// Delete удаляет объект. ErrNotExist, если объекта нет.
	Delete(ctx context.Context, name string) error
	// Rename переименовывает объект. ErrExist, если приёмник существует.
	Rename(ctx context.Context, oldName, newName string) error
	// List возвращает все объекты хранилища.
	List(ctx context.Context) ([]Info, error)
}

// TempPurger — хранилище, в котором после сбоя посреди записи
// остаются незавершённые временные объекты.
type TempPurger interface {
	// PurgeTemp удаляет временные объекты, изменённые раньше before.
	PurgeTemp(ctx context.Context, before time.Time) (int, error)
}

// DeleteIfExists удаляет объект, игнорируя его отсутствие.
func DeleteIfExists(ctx context.Context, s Store, name string) error {
	if err := s.Delete(ctx, name); err != nil && !errors.Is(err, ErrNotExist) {
		return err
	}
	return nil
}

// Put записывает объект целиком из reader.
// При ошибке копирования объект не становится видимым.
func Put(ctx context.Context, s Store, name string, r io.Reader) (int64, error) {
	w, err := s.Create(ctx, name)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(w, r)
	if err != nil {
		if a, ok := w.(interface{ Abort() error }); ok {
			_ = a.Abort()
		} else {
			_ = w.Close()
		}
		return n, err
	}
	if err := w.Close(); err != nil {
		return n, err
	}
	return n, nil
}
