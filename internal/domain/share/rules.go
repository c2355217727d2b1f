// Пакет share — правила состояний шары.
//
// Состояние — комбинация двух независимых флагов:
//   - initialized: содержимое загружено (false → true ровно один раз)
//   - locked: запрет изменения и удаления, чтение разрешено
//
// Начальное состояние: uninitialized + unlocked. Удаление — конечный переход.
// Пакет чистый: без хранилища и прав, только матрица состояние × операция.
package share

import "errors"

// Operation — операция над шарой.
type Operation string

const (
	OpUploadFirst Operation = "upload_first"
	OpReplace     Operation = "replace"
	OpRead        Operation = "read"
	OpModifyMeta  Operation = "modify_meta"
	OpLock        Operation = "lock"
	OpUnlock      Operation = "unlock"
	OpDelete      Operation = "delete"
)

var (
	// ErrAlreadyInitialized — повторная первичная загрузка.
	ErrAlreadyInitialized = errors.New("шара уже инициализирована")
	// ErrNotInitialized — содержимое ещё не загружено.
	ErrNotInitialized = errors.New("шара не инициализирована")
	// ErrLocked — шара заблокирована.
	ErrLocked = errors.New("шара заблокирована")
)

// State — состояние шары.
type State struct {
	Initialized bool
	Locked      bool
}

// requirement — условия допустимости операции.
type requirement struct {
	// needInitialized: nil — не важно
	needInitialized *bool
	// refusedWhenLocked — операция запрещена для заблокированной шары
	refusedWhenLocked bool
}

var (
	yes = true
	no  = false
)

// rules — матрица допустимых операций.
var rules = map[Operation]requirement{
	OpUploadFirst: {needInitialized: &no, refusedWhenLocked: true},
	OpReplace:     {needInitialized: &yes, refusedWhenLocked: true},
	OpRead:        {needInitialized: &yes},
	OpModifyMeta:  {refusedWhenLocked: true},
	OpLock:        {},
	OpUnlock:      {},
	OpDelete:      {refusedWhenLocked: true},
}

// Check проверяет, допустима ли операция в текущем состоянии.
// Проверка инициализации выполняется раньше проверки блокировки:
// повторная первичная загрузка в заблокированную шару — ErrAlreadyInitialized.
func Check(s State, op Operation) error {
	req, ok := rules[op]
	if !ok {
		return errors.New("неизвестная операция: " + string(op))
	}

	if req.needInitialized != nil && *req.needInitialized != s.Initialized {
		if s.Initialized {
			return ErrAlreadyInitialized
		}
		return ErrNotInitialized
	}
	if req.refusedWhenLocked && s.Locked {
		return ErrLocked
	}
	return nil
}
