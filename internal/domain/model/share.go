package model

import "time"

// Share — единица публикации: метаданные + (в будущем) содержимое.
// Хранится в таблице shares, содержимое — в BlobStore под ключом ShareID.
type Share struct {
	// ShareID — UUID шары
	ShareID string
	// OwnerName — владелец; nil — анонимная шара
	OwnerName *string
	// FileName — отображаемое имя файла
	FileName string
	// Initialized — содержимое загружено
	Initialized bool
	// Locked — запрет изменения и удаления (чтение разрешено)
	Locked bool
	// CreateDate — время создания
	CreateDate time.Time
}

// IsOwnedBy проверяет совпадение владельца с действующим субъектом.
// Анонимная шара принадлежит только анонимному субъекту.
func (s *Share) IsOwnedBy(username *string) bool {
	if s.OwnerName == nil || username == nil {
		return s.OwnerName == nil && username == nil
	}
	return *s.OwnerName == *username
}

// UploadSession — отслеживание незавершённой порционной загрузки.
type UploadSession struct {
	// UploadID — идентификатор загрузки от клиента (dzuuid)
	UploadID string
	// ShareID — целевая шара
	ShareID string
	// TotalChunks — ожидаемое количество чанков
	TotalChunks int
	// ReceivedChunks — количество принятых (уникальных) чанков
	ReceivedChunks int
	// Completed — все чанки приняты и склеены
	Completed bool
	// CreateDate — время приёма первого чанка
	CreateDate time.Time
}

// Chunk — один фрагмент порционной загрузки.
type Chunk struct {
	// ChunkID — числовой идентификатор
	ChunkID int64
	// UploadID — сессия загрузки
	UploadID string
	// Index — порядковый номер с нуля
	Index int
	// BlobKey — временный ключ в BlobStore
	BlobKey string
}
