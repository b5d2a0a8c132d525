// Package tenancytest provides in-memory data stores for tests of tenant-scoped code.
package tenancytest

import (
	"context"
	"fmt"
	"regexp"
	"sync/atomic"
	"testing"

	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	seq     atomic.Int64
	unsafeN = regexp.MustCompile(`[^a-zA-Z0-9_]`)
)

// OpenSQLite opens a private in-memory database. Every name gets its own store
// for the lifetime of the returned handle. The store has a single connection,
// so code under test must use the transaction handle inside transactions.
func OpenSQLite(name string) (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared&_busy_timeout=5000",
		unsafeN.ReplaceAllString(name, "_"), seq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return db, nil
}

// Dialer returns a dialer that opens a fresh in-memory store per data store id
func Dialer() tenancy.DialerFunc {
	return func(ctx context.Context, dataStoreID string) (*gorm.DB, error) {
		return OpenSQLite(dataStoreID)
	}
}

// NewPool returns a pool over in-memory stores with tenant tables migrated.
// The pool is closed when the test ends.
func NewPool(t testing.TB, opts ...tenancy.PoolOption) *tenancy.Pool {
	t.Helper()
	opts = append([]tenancy.PoolOption{tenancy.WithMigrations(models.TenantModels()...)}, opts...)
	pool := tenancy.NewPool(Dialer(), tenancy.NewGuard(false), opts...)
	t.Cleanup(pool.Close)
	return pool
}

// MasterDB returns an in-memory master store with the registry tables migrated
func MasterDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite("master_" + t.Name())
	if err != nil {
		t.Fatalf("open master store: %v", err)
	}
	if err := db.AutoMigrate(&models.Tenant{}, &models.Account{}); err != nil {
		t.Fatalf("migrate master store: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// Tenant returns a fresh tenant identity and its handle from pool
func Tenant(t testing.TB, pool *tenancy.Pool, slug string) (tenancy.Meta, tenancy.Handle) {
	t.Helper()
	tenant := &models.Tenant{Slug: slug, DataStoreID: "tenant_" + unsafeN.ReplaceAllString(slug, "_"), Status: models.TenantStatusPaid, IsActive: true}
	_ = tenant.BeforeCreate(nil)
	meta := tenancy.MetaFromTenant(tenant)
	h, err := pool.Handle(context.Background(), meta)
	if err != nil {
		t.Fatalf("acquire handle for %s: %v", slug, err)
	}
	return meta, h
}
