package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
)

// envReader читает переменные окружения и накапливает ошибки разбора.
// При ошибке возвращается значение по умолчанию, чтобы разбор продолжился.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e *envReader) err() error {
	return errors.Join(e.errs...)
}

// raw возвращает непустое значение переменной.
func (e *envReader) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *envReader) required(key string) string {
	v, ok := e.raw(key)
	if !ok {
		e.fail(key, errors.New("обязательная переменная не задана"))
	}
	return v
}

func (e *envReader) oneOf(key, def string, allowed ...string) string {
	v := e.str(key, def)
	if !slices.Contains(allowed, v) {
		e.fail(key, fmt.Errorf("недопустимое значение %q, допустимые: %s", v, strings.Join(allowed, ", ")))
		return def
	}
	return v
}

func (e *envReader) intIn(key string, def, lo, hi int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, fmt.Errorf("некорректное целое число %q", v))
		return def
	}
	if n < lo || n > hi {
		e.fail(key, fmt.Errorf("значение %d вне диапазона %d-%d", n, lo, hi))
		return def
	}
	return n
}

// size разбирает положительный размер в байтах.
func (e *envReader) size(key string, def int64) int64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		e.fail(key, fmt.Errorf("ожидается положительное число байт, получено %q", v))
		return def
	}
	return n
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, fmt.Errorf("некорректная длительность %q (формат Go: 30s, 15m, 1h)", v))
		return def
	}
	return d
}

func (e *envReader) positiveDuration(key string, def time.Duration) time.Duration {
	d := e.duration(key, def)
	if d <= 0 {
		e.fail(key, errors.New("длительность должна быть положительной"))
		return def
	}
	return d
}

func (e *envReader) logLevel(key string, def slog.Level) slog.Level {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	// slog понимает DEBUG, INFO, WARN, ERROR и смещения вида INFO+2
	if strings.EqualFold(v, "warning") {
		v = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(v)); err != nil {
		e.fail(key, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", v))
		return def
	}
	return lvl
}
