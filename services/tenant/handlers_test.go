package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/pavitra93/go-multi-tenant-pos/shared/config"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/middleware"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/pavitra93/go-multi-tenant-pos/shared/registry"
	"github.com/pavitra93/go-multi-tenant-pos/shared/session"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy/tenancytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const platformKey = "platform-secret"

type fixture struct {
	router *gin.Engine
	reg    *registry.Registry
	pool   *tenancy.Pool
}

func newFixture(t *testing.T) *fixture {
	gin.SetMode(gin.TestMode)
	reg := registry.New(tenancytest.MasterDB(t))
	pool := tenancytest.NewPool(t)
	authority := session.NewAuthority(session.NewTokenIssuer([]byte("secret"), "cafe-pos"), session.NewHasher(bcrypt.MinCost))

	router := gin.New()
	registerRoutes(router, reg, pool, authority, &config.Config{
		PlatformAdminKey: platformKey,
		LoginRateLimit:   100,
		LoginRateBurst:   100,
	})
	return &fixture{router: router, reg: reg, pool: pool}
}

func (f *fixture) do(method, path string, body interface{}, admin bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set(middleware.PlatformKeyHeader, platformKey)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	var out map[string]interface{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestRegisterTenantWithOwner(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(http.MethodPost, "/tenants", gin.H{
		"name": "My Cafe",
		"slug": "my-cafe",
		"owner": gin.H{
			"name":     "Budi",
			"username": "budi",
			"email":    "Budi@Example.com",
			"password": "owner-pass-1",
		},
	}, false)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	data := body["data"].(map[string]interface{})
	status := data["status"].(map[string]interface{})
	assert.Equal(t, "trial", status["status"])
	assert.EqualValues(t, 14, status["days_remaining"])
	assert.Equal(t, "owner", data["owner"].(map[string]interface{})["role"])

	ctx := context.Background()
	tenant, err := f.reg.LookupAccount(ctx, "budi@example.com")
	require.NoError(t, err)
	assert.Equal(t, "my-cafe", tenant.Slug)

	meta := tenancy.MetaFromTenant(tenant)
	h, err := f.pool.Handle(ctx, meta)
	require.NoError(t, err)
	err = tenancy.Run(ctx, meta, func(ctx context.Context) error {
		owner, err := tenancy.NewRepository[models.Employee](h).First(ctx, "username = ?", "budi")
		if err != nil {
			return err
		}
		assert.Equal(t, models.RoleOwner, owner.Role)
		assert.True(t, owner.IsVerified)
		assert.Equal(t, tenant.ID, owner.TenantID)
		return nil
	})
	require.NoError(t, err)
}

func TestRegisterTenantRejects(t *testing.T) {
	f := newFixture(t)

	w, _ := f.do(http.MethodPost, "/tenants", gin.H{"name": "My Cafe", "slug": "my-cafe"}, false)
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := f.do(http.MethodPost, "/tenants", gin.H{"name": "Copy", "slug": "my-cafe"}, false)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, false, body["success"])

	w, _ = f.do(http.MethodPost, "/tenants", gin.H{"name": "Bad", "slug": "My Cafe!"}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(http.MethodPost, "/tenants", gin.H{"name": "Short", "slug": "ab"}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(http.MethodPost, "/tenants", gin.H{"name": "Reserved", "slug": "admin"}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(http.MethodPost, "/tenants", gin.H{"slug": "no-name"}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegisterTenantValidatesOwnerFirst(t *testing.T) {
	f := newFixture(t)
	owner := gin.H{"name": "Sari", "username": "sari", "password": "owner-pass-1", "pin": "abc"}

	w, _ := f.do(http.MethodPost, "/tenants", gin.H{"name": "Half Cafe", "slug": "half-cafe", "owner": owner}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	_, err := f.reg.Resolve(context.Background(), "half-cafe")
	assert.True(t, errs.Is(err, errs.ENotFound))

	owner["pin"] = "1234"
	w, _ = f.do(http.MethodPost, "/tenants", gin.H{"name": "Half Cafe", "slug": "half-cafe", "owner": owner}, false)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestRegisterTenantRejectsTakenOwnerEmail(t *testing.T) {
	f := newFixture(t)
	owner := gin.H{"name": "Budi", "username": "budi", "email": "budi@example.com", "password": "owner-pass-1"}

	w, _ := f.do(http.MethodPost, "/tenants", gin.H{"name": "My Cafe", "slug": "my-cafe", "owner": owner}, false)
	require.Equal(t, http.StatusCreated, w.Code)

	w, _ = f.do(http.MethodPost, "/tenants", gin.H{"name": "Second", "slug": "second-cafe", "owner": owner}, false)
	assert.Equal(t, http.StatusConflict, w.Code)

	_, err := f.reg.Resolve(context.Background(), "second-cafe")
	assert.True(t, errs.Is(err, errs.ENotFound))

	tenant, err := f.reg.LookupAccount(context.Background(), "budi@example.com")
	require.NoError(t, err)
	assert.Equal(t, "my-cafe", tenant.Slug)
}

func TestTenantLookupAndAdministration(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(http.MethodPost, "/tenants", gin.H{"name": "My Cafe", "slug": "my-cafe"}, false)
	require.Equal(t, http.StatusCreated, w.Code)

	w, body := f.do(http.MethodGet, "/tenants/my-cafe", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "My Cafe", body["data"].(map[string]interface{})["name"])

	w, _ = f.do(http.MethodGet, "/tenants/nowhere", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(http.MethodGet, "/tenants", nil, false)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = f.do(http.MethodGet, "/tenants", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["data"], 1)

	w, _ = f.do(http.MethodPut, "/tenants/my-cafe/active", gin.H{"is_active": false}, false)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = f.do(http.MethodPut, "/tenants/my-cafe/active", gin.H{"is_active": false}, true)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = f.do(http.MethodGet, "/tenants/my-cafe/status", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["data"].(map[string]interface{})["is_active"])

	w, _ = f.do(http.MethodPut, "/tenants/my-cafe/status", gin.H{"status": "paid"}, true)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = f.do(http.MethodPut, "/tenants/my-cafe/status", gin.H{"status": "bogus"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeactivateKeepsPooledHandleOpen(t *testing.T) {
	f := newFixture(t)
	w, _ := f.do(http.MethodPost, "/tenants", gin.H{"name": "My Cafe", "slug": "my-cafe"}, false)
	require.Equal(t, http.StatusCreated, w.Code)

	ctx := context.Background()
	tenant, err := f.reg.Resolve(ctx, "my-cafe")
	require.NoError(t, err)
	meta := tenancy.MetaFromTenant(tenant)
	h, err := f.pool.Handle(ctx, meta)
	require.NoError(t, err)

	w, _ = f.do(http.MethodPut, "/tenants/my-cafe/active", gin.H{"is_active": false}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.pool.Len())

	err = tenancy.Run(ctx, meta, func(ctx context.Context) error {
		_, err := tenancy.NewRepository[models.Employee](h).Count(ctx, nil)
		return err
	})
	assert.NoError(t, err)
}
