// Пакет s3store — хранилище объектов в S3-совместимом бакете.
//
// Запись буферизуется во временный файл и отправляется PutObject при Close.
// Чтение с Seek реализовано ranged GetObject от текущей позиции.
// Rename = HeadObject приёмника + CopyObject + DeleteObject.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dogeystamp/sachet-server/internal/storage/blob"
)

// Client — используемое подмножество API S3.
// Реализуется *s3.Client, в тестах подменяется.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	s3.ListObjectsV2APIClient
}

// Config — параметры подключения к S3.
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	// KeyPrefix — префикс ключей объектов в бакете
	KeyPrefix string
}

// Store — объекты в бакете S3.
type Store struct {
	client Client
	bucket string
	prefix string
	logger *slog.Logger
}

var _ blob.Store = (*Store)(nil)

// New создаёт клиент S3 по конфигурации и Store поверх него.
// Для MinIO/Localstack (задан Endpoint) включается path-style адресация.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("S3: не задан bucket")
	}

	opts := []func(*awsConfig.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, awsConfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("загрузка конфигурации AWS: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	logger.Info("S3 хранилище инициализировано",
		slog.String("bucket", cfg.Bucket),
		slog.String("region", cfg.Region),
		slog.String("prefix", cfg.KeyPrefix),
	)
	return NewWithClient(client, cfg.Bucket, cfg.KeyPrefix, logger), nil
}

// NewWithClient создаёт Store с готовым клиентом.
func NewWithClient(client Client, bucket, prefix string, logger *slog.Logger) *Store {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger.With(slog.String("component", "s3store")),
	}
}

func (s *Store) key(name string) (string, error) {
	if name == "" || strings.Contains(name, "/") {
		return "", fmt.Errorf("%w: %q", blob.ErrInvalidName, name)
	}
	return s.prefix + name, nil
}

// Create буферизует запись во временный файл, PutObject выполняется при Close.
func (s *Store) Create(ctx context.Context, name string) (io.WriteCloser, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}
	f, err := os.CreateTemp("", "sachet-s3-*")
	if err != nil {
		return nil, fmt.Errorf("ошибка создания временного файла: %w", err)
	}
	return &uploadWriter{ctx: ctx, store: s, key: key, f: f}, nil
}

// Open возвращает объект с размером из HeadObject.
func (s *Store) Open(ctx context.Context, name string) (blob.Object, error) {
	key, err := s.key(name)
	if err != nil {
		return nil, err
	}

	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", blob.ErrNotExist, name)
		}
		return nil, fmt.Errorf("S3 HeadObject %s: %w", name, err)
	}

	obj := &object{ctx: ctx, store: s, key: key}
	if head.ContentLength != nil {
		obj.size = *head.ContentLength
	}
	if head.LastModified != nil {
		obj.modTime = *head.LastModified
	}
	return obj, nil
}

// Delete удаляет объект. DeleteObject в S3 не сообщает об отсутствии,
// поэтому существование проверяется HeadObject.
func (s *Store) Delete(ctx context.Context, name string) error {
	key, err := s.key(name)
	if err != nil {
		return err
	}

	exists, err := s.exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", blob.ErrNotExist, name)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return fmt.Errorf("S3 DeleteObject %s: %w", name, err)
	}
	return nil
}

// Rename копирует объект под новым ключом и удаляет исходный.
func (s *Store) Rename(ctx context.Context, oldName, newName string) error {
	oldKey, err := s.key(oldName)
	if err != nil {
		return err
	}
	newKey, err := s.key(newName)
	if err != nil {
		return err
	}

	exists, err := s.exists(ctx, newKey)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", blob.ErrExist, newName)
	}

	if _, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(newKey),
		CopySource: aws.String(s.bucket + "/" + oldKey),
	}); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", blob.ErrNotExist, oldName)
		}
		return fmt.Errorf("S3 CopyObject %s → %s: %w", oldName, newName, err)
	}

	if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(oldKey),
	}); err != nil {
		return fmt.Errorf("S3 DeleteObject %s: %w", oldName, err)
	}
	return nil
}

// List перечисляет объекты под префиксом постранично.
func (s *Store) List(ctx context.Context) ([]blob.Info, error) {
	var result []blob.Info

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("S3 ListObjectsV2: %w", err)
		}
		for _, o := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(o.Key), s.prefix)
			// Вложенные «каталоги» не относятся к хранилищу
			if name == "" || strings.Contains(name, "/") {
				continue
			}
			info := blob.Info{Name: name}
			if o.Size != nil {
				info.Size = *o.Size
			}
			if o.LastModified != nil {
				info.ModTime = *o.LastModified
			}
			result = append(result, info)
		}
	}
	return result, nil
}

func (s *Store) exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("S3 HeadObject %s: %w", key, err)
}

// isNotFound: GetObject/CopyObject возвращают NoSuchKey, HeadObject — NotFound.
func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	return errors.As(err, &noSuchKey) || errors.As(err, &notFound)
}

// uploadWriter — буфер во временном файле, PutObject при Close.
type uploadWriter struct {
	ctx   context.Context
	store *Store
	key   string
	f     *os.File
	done  bool
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

func (w *uploadWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	defer os.Remove(w.f.Name())
	defer w.f.Close()

	size, err := w.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("ошибка определения размера буфера: %w", err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("ошибка перемотки буфера: %w", err)
	}

	if _, err := w.store.client.PutObject(w.ctx, &s3.PutObjectInput{
		Bucket:        aws.String(w.store.bucket),
		Key:           aws.String(w.key),
		Body:          w.f,
		ContentLength: aws.Int64(size),
	}); err != nil {
		return fmt.Errorf("S3 PutObject %s: %w", w.key, err)
	}
	return nil
}

// Abort отменяет запись без отправки в S3.
func (w *uploadWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.f.Close()
	return os.Remove(w.f.Name())
}

// object — ReadSeekCloser поверх ranged GetObject.
// Тело ответа открывается лениво при первом Read после Seek.
type object struct {
	ctx     context.Context
	store   *Store
	key     string
	size    int64
	modTime time.Time
	offset  int64
	body    io.ReadCloser
}

func (o *object) Size() int64        { return o.size }
func (o *object) ModTime() time.Time { return o.modTime }

func (o *object) Read(p []byte) (int, error) {
	if o.offset >= o.size {
		return 0, io.EOF
	}
	if o.body == nil {
		out, err := o.store.client.GetObject(o.ctx, &s3.GetObjectInput{
			Bucket: aws.String(o.store.bucket),
			Key:    aws.String(o.key),
			Range:  aws.String(fmt.Sprintf("bytes=%d-", o.offset)),
		})
		if err != nil {
			if isNotFound(err) {
				return 0, fmt.Errorf("%w: %s", blob.ErrNotExist, o.key)
			}
			return 0, fmt.Errorf("S3 GetObject %s: %w", o.key, err)
		}
		o.body = out.Body
	}

	n, err := o.body.Read(p)
	o.offset += int64(n)
	return n, err
}

func (o *object) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = o.offset + offset
	case io.SeekEnd:
		abs = o.size + offset
	default:
		return 0, errors.New("s3store: недопустимый whence")
	}
	if abs < 0 {
		return 0, errors.New("s3store: отрицательная позиция")
	}
	if abs != o.offset && o.body != nil {
		o.body.Close()
		o.body = nil
	}
	o.offset = abs
	return abs, nil
}

func (o *object) Close() error {
	if o.body != nil {
		err := o.body.Close()
		o.body = nil
		return err
	}
	return nil
}
