// Пакет permission — набор прав (capability bitmask) Sachet.
// Set — неизменяемое значение: все операции возвращают новый набор.
// В БД хранится как BIGINT, в JSON — как массив имён флагов.
package permission

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Flag — отдельное право.
type Flag uint64

// Права в порядке объявления. Порядок определяет и битовую позицию,
// и порядок имён при сериализации.
const (
	Create Flag = 1 << iota
	Read
	Modify
	Delete
	Lock
	List
	Admin
)

// ErrInvalidPermissionName — неизвестное имя права при разборе.
var ErrInvalidPermissionName = errors.New("недопустимое имя права")

// declared — флаги и их имена в порядке объявления.
var declared = []struct {
	flag Flag
	name string
}{
	{Create, "CREATE"},
	{Read, "READ"},
	{Modify, "MODIFY"},
	{Delete, "DELETE"},
	{Lock, "LOCK"},
	{List, "LIST"},
	{Admin, "ADMIN"},
}

// allBits — маска всех объявленных флагов.
var allBits = func() uint64 {
	var m uint64
	for _, d := range declared {
		m |= uint64(d.flag)
	}
	return m
}()

// String возвращает имя флага.
func (f Flag) String() string {
	for _, d := range declared {
		if d.flag == f {
			return d.name
		}
	}
	return fmt.Sprintf("Flag(%d)", uint64(f))
}

// Set — неизменяемый набор прав.
type Set struct {
	bits uint64
}

// New создаёт набор из перечисленных флагов.
func New(flags ...Flag) Set {
	var s Set
	for _, f := range flags {
		s.bits |= uint64(f)
	}
	return s
}

// All возвращает набор со всеми правами.
func All() Set {
	return Set{bits: allBits}
}

// FromInt64 восстанавливает набор из значения колонки БД.
// Неизвестные биты отбрасываются.
func FromInt64(v int64) Set {
	return Set{bits: uint64(v) & allBits}
}

// Int64 возвращает значение для записи в БД.
func (s Set) Int64() int64 {
	return int64(s.bits)
}

// Contains — true, если каждый бит required установлен в s.
func (s Set) Contains(required Set) bool {
	return s.bits&required.bits == required.bits
}

// Has проверяет один флаг.
func (s Set) Has(f Flag) bool {
	return s.bits&uint64(f) == uint64(f)
}

// Union возвращает объединение наборов.
func (s Set) Union(other Set) Set {
	return Set{bits: s.bits | other.bits}
}

// With возвращает набор с добавленными флагами.
func (s Set) With(flags ...Flag) Set {
	return s.Union(New(flags...))
}

// IsEmpty — true для пустого набора.
func (s Set) IsEmpty() bool {
	return s.bits == 0
}

// Names возвращает имена флагов в порядке объявления.
func (s Set) Names() []string {
	names := make([]string, 0, len(declared))
	for _, d := range declared {
		if s.bits&uint64(d.flag) != 0 {
			names = append(names, d.name)
		}
	}
	return names
}

// String — имена через запятую, для логов.
func (s Set) String() string {
	return strings.Join(s.Names(), ",")
}

// Parse разбирает список имён прав. Пустой список — пустой набор.
// Неизвестное имя — ErrInvalidPermissionName.
func Parse(names []string) (Set, error) {
	var s Set
	for _, n := range names {
		f, ok := lookup(n)
		if !ok {
			return Set{}, fmt.Errorf("%w: %q", ErrInvalidPermissionName, n)
		}
		s.bits |= uint64(f)
	}
	return s, nil
}

func lookup(name string) (Flag, bool) {
	for _, d := range declared {
		if d.name == name {
			return d.flag, true
		}
	}
	return 0, false
}

// MarshalJSON сериализует набор как массив имён.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON разбирает массив имён.
func (s *Set) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("%w: ожидается массив имён", ErrInvalidPermissionName)
	}
	parsed, err := Parse(names)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
