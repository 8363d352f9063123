package overrides

import (
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/guardrailhq/guardrail/internal/db"
	"github.com/guardrailhq/guardrail/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(filepath.Join(t.TempDir(), "overrides.db"))
	if errOpen != nil {
		t.Fatalf("open: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestCache_ServesEnabledOverrides(t *testing.T) {
	conn := newTestDB(t)
	row := models.EndpointLimit{Endpoint: "/v1/search", Requests: 30, WindowSeconds: 60, Burst: 10, IsEnabled: true}
	if errCreate := conn.Create(&row).Error; errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}
	disabled := models.EndpointLimit{Endpoint: "/v1/off", Requests: 5, WindowSeconds: 60, IsEnabled: false}
	if errCreate := conn.Create(&disabled).Error; errCreate != nil {
		t.Fatalf("create disabled: %v", errCreate)
	}

	cache := NewCache(conn, time.Minute)
	limit, ok := cache.Lookup("/v1/search")
	if !ok {
		t.Fatal("enabled override not found")
	}
	if limit.Requests != 30 || limit.WindowSeconds != 60 {
		t.Fatalf("limit = %+v", limit)
	}
	if _, ok := cache.Lookup("/v1/off"); ok {
		t.Fatal("disabled override served")
	}
	if _, ok := cache.Lookup("/v1/absent"); ok {
		t.Fatal("missing override served")
	}
}

func TestCache_InvalidatePicksUpChanges(t *testing.T) {
	conn := newTestDB(t)
	cache := NewCache(conn, time.Hour)

	if _, ok := cache.Lookup("/v1/new"); ok {
		t.Fatal("override found before creation")
	}

	row := models.EndpointLimit{Endpoint: "/v1/new", Requests: 9, WindowSeconds: 30, IsEnabled: true}
	if errCreate := conn.Create(&row).Error; errCreate != nil {
		t.Fatalf("create: %v", errCreate)
	}

	// Still cached.
	if _, ok := cache.Lookup("/v1/new"); ok {
		t.Fatal("stale cache served new row before invalidation")
	}

	cache.Invalidate()
	if _, ok := cache.Lookup("/v1/new"); !ok {
		t.Fatal("override missing after invalidation")
	}
}

func TestCache_NilReceiverLookup(t *testing.T) {
	var cache *Cache
	if _, ok := cache.Lookup("/v1/data"); ok {
		t.Fatal("nil cache returned an override")
	}
}
