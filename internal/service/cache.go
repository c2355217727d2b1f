// cache.go — LRU-кэш пользователей с TTL для разрешения bearer-токенов.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dogeystamp/sachet-server/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	userCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sachet_user_cache_hits_total",
		Help: "Общее количество попаданий в кэш пользователей.",
	})
	userCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sachet_user_cache_misses_total",
		Help: "Общее количество промахов кэша пользователей.",
	})
)

// UserCache — кэш пользователей по имени.
// Записи инвалидируются при любом изменении пользователя.
type UserCache struct {
	cache *expirable.LRU[string, model.User]
}

// NewUserCache создаёт кэш. maxSize <= 0 отключает кэширование.
func NewUserCache(maxSize int, ttl time.Duration) *UserCache {
	if maxSize <= 0 {
		return &UserCache{}
	}
	return &UserCache{cache: expirable.NewLRU[string, model.User](maxSize, nil, ttl)}
}

// Get возвращает копию пользователя из кэша.
func (c *UserCache) Get(username string) (*model.User, bool) {
	if c.cache == nil {
		return nil, false
	}
	u, ok := c.cache.Get(username)
	if !ok {
		userCacheMissesTotal.Inc()
		return nil, false
	}
	userCacheHitsTotal.Inc()
	return &u, true
}

// Set добавляет или обновляет запись.
func (c *UserCache) Set(u *model.User) {
	if c.cache == nil {
		return
	}
	c.cache.Add(u.Username, *u)
}

// Delete удаляет запись.
func (c *UserCache) Delete(username string) {
	if c.cache == nil {
		return
	}
	c.cache.Remove(username)
}
