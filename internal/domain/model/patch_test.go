package model

import (
	"encoding/json"
	"testing"
)

type shareBody struct {
	FileName  Optional[string] `json:"file_name"`
	OwnerName Optional[string] `json:"owner_name"`
}

// TestOptional_ThreeStates проверяет различение отсутствия ключа, null и значения.
func TestOptional_ThreeStates(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantSet   bool
		wantNull  bool
		wantValue string
	}{
		{"ключ отсутствует", `{"file_name":"a.txt"}`, false, false, ""},
		{"явный null", `{"owner_name":null}`, true, true, ""},
		{"значение", `{"owner_name":"bob"}`, true, false, "bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b shareBody
			if err := json.Unmarshal([]byte(tt.body), &b); err != nil {
				t.Fatalf("Unmarshal ошибка: %v", err)
			}
			if b.OwnerName.Set != tt.wantSet || b.OwnerName.Null != tt.wantNull || b.OwnerName.Value != tt.wantValue {
				t.Errorf("OwnerName = %+v", b.OwnerName)
			}
		})
	}
}

// TestShareUpdate_Apply проверяет слияние частичного обновления.
func TestShareUpdate_Apply(t *testing.T) {
	alice := "alice"
	s := &Share{ShareID: "id", OwnerName: &alice, FileName: "old.txt"}

	ShareUpdate{FileName: Some("new.txt")}.Apply(s)
	if s.FileName != "new.txt" || s.OwnerName == nil || *s.OwnerName != "alice" {
		t.Fatalf("после смены имени: %+v", s)
	}

	ShareUpdate{OwnerName: Null[string]()}.Apply(s)
	if s.OwnerName != nil {
		t.Errorf("owner_name=null должен сделать шару анонимной, получено %q", *s.OwnerName)
	}
	if s.FileName != "new.txt" {
		t.Errorf("file_name не должен меняться, получено %q", s.FileName)
	}
}

// TestIsOwnedBy проверяет совпадение владельца.
func TestIsOwnedBy(t *testing.T) {
	alice, bob := "alice", "bob"
	tests := []struct {
		name  string
		owner *string
		actor *string
		want  bool
	}{
		{"оба анонимны", nil, nil, true},
		{"анонимная шара, пользователь", nil, &alice, false},
		{"шара пользователя, аноним", &alice, nil, false},
		{"тот же пользователь", &alice, &alice, true},
		{"другой пользователь", &alice, &bob, false},
	}
	for _, tt := range tests {
		s := &Share{OwnerName: tt.owner}
		if got := s.IsOwnedBy(tt.actor); got != tt.want {
			t.Errorf("%s: IsOwnedBy = %v, хотели %v", tt.name, got, tt.want)
		}
	}
}
