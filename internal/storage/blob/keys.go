package blob

import (
	"fmt"
	"strconv"
	"strings"
)

// Ключи порционной загрузки:
//   - {shareID}_{uploadID}_{index} — чанк
//   - {shareID}_{uploadID}         — временный файл склейки
//
// Ни shareID (UUID), ни uploadID не содержат "_", поэтому разбор однозначен.

const keySep = "_"

// ValidUploadID сообщает, годится ли идентификатор загрузки для ключей:
// латиница, цифры и дефис.
func ValidUploadID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' {
			continue
		}
		return false
	}
	return true
}

// ChunkKey возвращает ключ чанка.
func ChunkKey(shareID, uploadID string, index int) string {
	return fmt.Sprintf("%s%s%s%s%d", shareID, keySep, uploadID, keySep, index)
}

// ScratchKey возвращает ключ временного файла склейки.
func ScratchKey(shareID, uploadID string) string {
	return shareID + keySep + uploadID
}

// UploadKey — разобранный ключ объекта порционной загрузки.
type UploadKey struct {
	ShareID  string
	UploadID string
	// Index — номер чанка; -1 для файла склейки
	Index int
}

// ParseUploadKey разбирает ключ чанка или файла склейки.
// ok=false для ключа содержимого шары и для ключей чужого формата.
func ParseUploadKey(name string) (UploadKey, bool) {
	parts := strings.Split(name, keySep)
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || !ValidUploadID(parts[1]) {
		return UploadKey{}, false
	}

	key := UploadKey{ShareID: parts[0], UploadID: parts[1], Index: -1}
	if len(parts) == 3 {
		idx, err := strconv.Atoi(parts[2])
		if err != nil || idx < 0 {
			return UploadKey{}, false
		}
		key.Index = idx
	}
	return key, true
}
