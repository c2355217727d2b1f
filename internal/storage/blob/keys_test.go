package blob

import "testing"

// TestParseUploadKey проверяет разбор ключей порционной загрузки.
func TestParseUploadKey(t *testing.T) {
	const share = "7d0b6a1e-2f43-4c4e-9a57-0d2f1d3c4b5a"

	tests := []struct {
		name   string
		key    string
		wantOK bool
		want   UploadKey
	}{
		{"содержимое шары", share, false, UploadKey{}},
		{"чанк", ChunkKey(share, "U1", 3), true, UploadKey{ShareID: share, UploadID: "U1", Index: 3}},
		{"файл склейки", ScratchKey(share, "U1"), true, UploadKey{ShareID: share, UploadID: "U1", Index: -1}},
		{"uploadID-UUID", ChunkKey(share, "0f8e-11aa", 12), true, UploadKey{ShareID: share, UploadID: "0f8e-11aa", Index: 12}},
		{"пустой uploadID", share + "_", false, UploadKey{}},
		{"лишний сегмент", share + "_a_3_1", false, UploadKey{}},
		{"нечисловой индекс", share + "_a_x", false, UploadKey{}},
		{"отрицательный индекс", share + "_a_-1", false, UploadKey{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseUploadKey(tt.key)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, хотели %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("ParseUploadKey(%q) = %+v, хотели %+v", tt.key, got, tt.want)
			}
		})
	}
}

func TestValidUploadID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"U1", true},
		{"6f1c2e9a-3b7d-4c1e-8f00-1a2b3c4d5e6f", true},
		{"", false},
		{"a_3", false},
		{"../x", false},
		{"a b", false},
		{"файл", false},
	}

	for _, tt := range tests {
		if got := ValidUploadID(tt.id); got != tt.want {
			t.Errorf("ValidUploadID(%q) = %v, хотели %v", tt.id, got, tt.want)
		}
	}
}

// TestKeys_NoCollision: ключ склейки одной загрузки не совпадает
// с ключом чанка другой при допустимых идентификаторах.
func TestKeys_NoCollision(t *testing.T) {
	const share = "7d0b6a1e-2f43-4c4e-9a57-0d2f1d3c4b5a"

	scratch := ScratchKey(share, "a-3")
	if scratch == ChunkKey(share, "a", 3) {
		t.Fatalf("ключи совпали: %q", scratch)
	}
	got, ok := ParseUploadKey(scratch)
	if !ok || got.UploadID != "a-3" || got.Index != -1 {
		t.Errorf("ParseUploadKey(%q) = %+v, %v", scratch, got, ok)
	}
}
