package overrides

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/guardrailhq/guardrail/internal/config"
	"github.com/guardrailhq/guardrail/internal/models"
)

// DefaultTTL is how long a loaded override set stays fresh.
const DefaultTTL = 30 * time.Second

// Cache serves enabled endpoint limit overrides from the database with a
// short freshness window, so admin changes reach the limiter without a
// query per request.
type Cache struct {
	db    *gorm.DB
	ttl   time.Duration
	nowFn func() time.Time

	mu       sync.RWMutex
	loadedAt time.Time
	entries  map[string]config.LimitConfig
}

// NewCache constructs a Cache. ttl <= 0 selects DefaultTTL.
func NewCache(conn *gorm.DB, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		db:    conn,
		ttl:   ttl,
		nowFn: time.Now,
	}
}

// Lookup returns the override for an endpoint, if one is enabled. Satisfies
// ratelimit.OverrideLookup.
func (c *Cache) Lookup(endpoint string) (config.LimitConfig, bool) {
	if c == nil || c.db == nil {
		return config.LimitConfig{}, false
	}
	c.refresh()

	c.mu.RLock()
	defer c.mu.RUnlock()
	limit, ok := c.entries[endpoint]
	return limit, ok
}

// Invalidate forces a reload on the next lookup. Called after admin writes.
func (c *Cache) Invalidate() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
}

func (c *Cache) refresh() {
	now := c.nowFn()

	c.mu.RLock()
	fresh := c.entries != nil && now.Sub(c.loadedAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries != nil && now.Sub(c.loadedAt) < c.ttl {
		return
	}

	var rows []models.EndpointLimit
	if errFind := c.db.Where("is_enabled = ?", true).Find(&rows).Error; errFind != nil {
		// Keep serving the previous set; retry after a full TTL.
		log.WithError(errFind).Warn("overrides: load endpoint limits failed")
		c.loadedAt = now
		return
	}

	entries := make(map[string]config.LimitConfig, len(rows))
	for _, row := range rows {
		entries[row.Endpoint] = config.LimitConfig{
			Requests:      row.Requests,
			WindowSeconds: row.WindowSeconds,
			Burst:         row.Burst,
		}
	}
	c.entries = entries
	c.loadedAt = now
}
