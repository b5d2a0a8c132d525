package tenancy_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy/tenancytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// sharedStore returns two tenants whose handles point at the same data store,
// so isolation rests on the guard alone.
func sharedStore(t *testing.T) (*gorm.DB, tenancy.Meta, tenancy.Meta) {
	t.Helper()
	pool := tenancytest.NewPool(t)
	a := tenancy.Meta{ID: uuid.New(), Slug: "alpha", DataStoreID: "shared"}
	b := tenancy.Meta{ID: uuid.New(), Slug: "bravo", DataStoreID: "shared"}
	db, err := pool.Acquire(context.Background(), "shared")
	require.NoError(t, err)
	return db, a, b
}

func in(t *testing.T, meta tenancy.Meta) context.Context {
	t.Helper()
	ctx, err := tenancy.WithTenant(context.Background(), meta)
	require.NoError(t, err)
	return ctx
}

func employee(name string) *models.Employee {
	return &models.Employee{Name: name, Username: name, Role: models.RoleCashier, AuthProvider: models.ProviderLocal, IsActive: true}
}

func TestGuardStampsCreates(t *testing.T) {
	db, a, _ := sharedStore(t)

	e := employee("sari")
	require.NoError(t, db.WithContext(in(t, a)).Create(e).Error)
	assert.Equal(t, a.ID, e.TenantID)
}

func TestGuardScopesReads(t *testing.T) {
	db, a, b := sharedStore(t)
	require.NoError(t, db.WithContext(in(t, a)).Create(employee("sari")).Error)
	require.NoError(t, db.WithContext(in(t, b)).Create(employee("budi")).Error)

	var got []models.Employee
	require.NoError(t, db.WithContext(in(t, a)).Find(&got).Error)
	require.Len(t, got, 1)
	assert.Equal(t, "sari", got[0].Name)

	var n int64
	require.NoError(t, db.WithContext(in(t, b)).Model(&models.Employee{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	var foreign models.Employee
	err := db.WithContext(in(t, a)).Where("username = ?", "budi").First(&foreign).Error
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestGuardScopesWrites(t *testing.T) {
	db, a, b := sharedStore(t)
	budi := employee("budi")
	require.NoError(t, db.WithContext(in(t, b)).Create(budi).Error)

	res := db.WithContext(in(t, a)).Model(&models.Employee{}).Where("id = ?", budi.ID).Update("name", "hijacked")
	require.NoError(t, res.Error)
	assert.Zero(t, res.RowsAffected)

	res = db.WithContext(in(t, a)).Where("id = ?", budi.ID).Delete(&models.Employee{})
	require.NoError(t, res.Error)
	assert.Zero(t, res.RowsAffected)

	var still models.Employee
	require.NoError(t, db.WithContext(in(t, b)).First(&still, "id = ?", budi.ID).Error)
	assert.Equal(t, "budi", still.Name)
}

func TestGuardRejectsCrossTenantWrite(t *testing.T) {
	db, a, b := sharedStore(t)

	e := employee("mallory")
	e.TenantID = b.ID
	err := db.WithContext(in(t, a)).Create(e).Error
	assert.ErrorIs(t, err, tenancy.ErrCrossTenantWrite)
	assert.Equal(t, errs.EInternal, errs.ErrorCode(err))
	assert.Equal(t, 500, errs.HTTPStatus(err))
}

func TestGuardRequiresContext(t *testing.T) {
	db, _, _ := sharedStore(t)

	var got []models.Employee
	err := db.WithContext(context.Background()).Find(&got).Error
	assert.ErrorIs(t, err, tenancy.ErrNoTenantContext)

	err = db.WithContext(context.Background()).Create(employee("x")).Error
	assert.ErrorIs(t, err, tenancy.ErrNoTenantContext)
}

func TestStrictGuardPanics(t *testing.T) {
	db, err := tenancytest.OpenSQLite(t.Name())
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(models.TenantModels()...))
	require.NoError(t, db.Use(tenancy.NewGuard(true)))

	assert.Panics(t, func() {
		var got []models.Employee
		db.WithContext(context.Background()).Find(&got)
	})
}

func TestGuardKeepsMissingWhereProtection(t *testing.T) {
	db, a, _ := sharedStore(t)
	require.NoError(t, db.WithContext(in(t, a)).Create(employee("sari")).Error)

	err := db.WithContext(in(t, a)).Delete(&models.Employee{}).Error
	assert.ErrorIs(t, err, gorm.ErrMissingWhereClause)
}

func TestGuardIgnoresUnownedModels(t *testing.T) {
	db, _, _ := sharedStore(t)
	require.NoError(t, db.AutoMigrate(&models.Tenant{}))

	require.NoError(t, db.Create(&models.Tenant{Name: "Cafe", Slug: "cafe", DataStoreID: "tenant_cafe", Status: models.TenantStatusTrial, IsActive: true}).Error)
	var n int64
	require.NoError(t, db.Model(&models.Tenant{}).Count(&n).Error)
	assert.Equal(t, int64(1), n)
}

// Any interleaving of creates across tenants leaves each tenant seeing exactly its own rows.
func TestGuardIsolationProperty(t *testing.T) {
	db, _, _ := sharedStore(t)
	rng := rand.New(rand.NewSource(42))

	tenants := make([]tenancy.Meta, 5)
	for i := range tenants {
		tenants[i] = tenancy.Meta{ID: uuid.New(), Slug: "t", DataStoreID: "shared"}
	}
	created := make(map[uuid.UUID]map[uuid.UUID]bool)

	for i := 0; i < 200; i++ {
		meta := tenants[rng.Intn(len(tenants))]
		e := employee(uuid.NewString())
		require.NoError(t, db.WithContext(in(t, meta)).Create(e).Error)
		if created[meta.ID] == nil {
			created[meta.ID] = make(map[uuid.UUID]bool)
		}
		created[meta.ID][e.ID] = true
	}

	for _, meta := range tenants {
		var rows []models.Employee
		require.NoError(t, db.WithContext(in(t, meta)).Find(&rows).Error)
		assert.Len(t, rows, len(created[meta.ID]))
		for _, r := range rows {
			assert.Equal(t, meta.ID, r.TenantID)
			assert.True(t, created[meta.ID][r.ID], "row %s leaked into tenant %s", r.ID, meta.ID)
		}
	}
}

func TestRepository(t *testing.T) {
	db, a, b := sharedStore(t)
	repoA := tenancy.NewRepository[models.Employee](tenancy.Handle{TenantID: a.ID, DB: db})
	ctxA, ctxB := in(t, a), in(t, b)

	sari := employee("sari")
	require.NoError(t, repoA.Create(ctxA, sari))
	require.NoError(t, repoA.Create(ctxB, employee("budi")))

	dup := employee("sari")
	err := repoA.Create(ctxA, dup)
	assert.Error(t, err)

	rows, err := repoA.Find(ctxA, nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	got, err := repoA.First(ctxA, "username = ?", "sari")
	require.NoError(t, err)
	assert.Equal(t, sari.ID, got.ID)

	_, err = repoA.First(ctxA, "username = ?", "budi")
	assert.Error(t, err)

	n, err := repoA.Update(ctxA, map[string]interface{}{"name": "Sari W"}, "id = ?", sari.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	count, err := repoA.Count(ctxB, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	n, err = repoA.Delete(ctxA, "id = ?", sari.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = repoA.Find(context.Background(), nil)
	assert.True(t, errors.Is(err, tenancy.ErrNoTenantContext))
}
