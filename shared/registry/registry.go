// Package registry is the master-store directory of tenants: slug resolution,
// registration, subscription status and the email-to-tenant account directory.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/metrics"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Cache stores resolved tenants by slug
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, expiration time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// StatusReport is the subscription view of a tenant
type StatusReport struct {
	Slug          string              `json:"slug"`
	Status        models.TenantStatus `json:"status"`
	DaysRemaining int                 `json:"days_remaining"`
	IsActive      bool                `json:"is_active"`
	TrialEndsAt   *time.Time          `json:"trial_ends_at,omitempty"`
}

// Registry resolves and manages tenants in the master store
type Registry struct {
	db             *gorm.DB
	cache          Cache
	cacheTTL       time.Duration
	resolveTimeout time.Duration
	trialPeriod    time.Duration
	now            func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithCache caches resolved tenants for ttl
func WithCache(c Cache, ttl time.Duration) Option {
	return func(r *Registry) {
		r.cache = c
		r.cacheTTL = ttl
	}
}

// WithResolveTimeout bounds master store lookups
func WithResolveTimeout(d time.Duration) Option {
	return func(r *Registry) { r.resolveTimeout = d }
}

// WithTrialPeriod sets the trial length for new tenants
func WithTrialPeriod(d time.Duration) Option {
	return func(r *Registry) { r.trialPeriod = d }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry over the master store
func New(db *gorm.DB, opts ...Option) *Registry {
	r := &Registry{
		db:             db,
		resolveTimeout: 3 * time.Second,
		trialPeriod:    14 * 24 * time.Hour,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Migrate creates the master store tables
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Tenant{}, &models.Account{})
}

// Resolve finds the tenant registered under slug. Inactive tenants are returned;
// callers decide whether to serve them.
func (r *Registry) Resolve(ctx context.Context, slug string) (*models.Tenant, error) {
	const op = "registry.Resolve"
	slug = NormalizeSlug(slug)
	if slug == "" {
		return nil, errs.New(errs.ENotFound, op, "tenant slug is required")
	}

	ctx, cancel := context.WithTimeout(ctx, r.resolveTimeout)
	defer cancel()

	if t, ok := r.cached(ctx, slug); ok {
		metrics.Tenancy.RegistryLookups.WithLabelValues("cache").Inc()
		return t, nil
	}

	var t models.Tenant
	if err := r.db.WithContext(ctx).Where("slug = ?", slug).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			metrics.Tenancy.RegistryLookups.WithLabelValues("miss").Inc()
			return nil, errs.New(errs.ENotFound, op, "tenant %q not found", slug)
		}
		return nil, storeError(ctx, op, err)
	}
	metrics.Tenancy.RegistryLookups.WithLabelValues("store").Inc()
	r.remember(ctx, &t)
	return &t, nil
}

// Get finds a tenant by id
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	const op = "registry.Get"
	ctx, cancel := context.WithTimeout(ctx, r.resolveTimeout)
	defer cancel()

	var t models.Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.ENotFound, op, "tenant %s not found", id)
		}
		return nil, storeError(ctx, op, err)
	}
	return &t, nil
}

// List returns every tenant ordered by creation
func (r *Registry) List(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&tenants).Error; err != nil {
		return nil, storeError(ctx, "registry.List", err)
	}
	return tenants, nil
}

// Register creates a tenant on trial. The slug must already be valid; it is not
// rewritten. A taken slug fails with EConflict and changes nothing.
func (r *Registry) Register(ctx context.Context, name, slug string) (*models.Tenant, error) {
	const op = "registry.Register"
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errs.New(errs.EInvalid, op, "tenant name is required")
	}
	if err := ValidateSlug(slug); err != nil {
		return nil, err
	}

	var taken int64
	if err := r.db.WithContext(ctx).Model(&models.Tenant{}).Unscoped().Where("slug = ?", slug).Count(&taken).Error; err != nil {
		return nil, storeError(ctx, op, err)
	}
	if taken > 0 {
		return nil, errs.New(errs.EConflict, op, "slug %q is already taken", slug)
	}

	trialEnds := r.now().Add(r.trialPeriod)
	t := &models.Tenant{
		ID:          uuid.New(),
		Name:        name,
		Slug:        slug,
		DataStoreID: DataStoreID(slug),
		Status:      models.TenantStatusTrial,
		TrialEndsAt: &trialEnds,
		IsActive:    true,
	}
	if err := r.db.WithContext(ctx).Create(t).Error; err != nil {
		if errs.IsUniqueViolation(err) {
			return nil, errs.New(errs.EConflict, op, "slug %q is already taken", slug)
		}
		return nil, storeError(ctx, op, err)
	}

	logrus.WithFields(logrus.Fields{"tenant_id": t.ID, "slug": slug}).Info("Registered tenant")
	return t, nil
}

// Status reports the subscription state of the tenant under slug
func (r *Registry) Status(ctx context.Context, slug string) (*StatusReport, error) {
	t, err := r.Resolve(ctx, slug)
	if err != nil {
		return nil, err
	}
	return Report(t, r.now()), nil
}

// Report builds the subscription view of t at now
func Report(t *models.Tenant, now time.Time) *StatusReport {
	return &StatusReport{
		Slug:          t.Slug,
		Status:        t.Status,
		DaysRemaining: t.TrialDaysRemaining(now),
		IsActive:      t.IsOperational(now),
		TrialEndsAt:   t.TrialEndsAt,
	}
}

// SetActive flips the operational flag of a tenant
func (r *Registry) SetActive(ctx context.Context, id uuid.UUID, active bool) (*models.Tenant, error) {
	return r.update(ctx, "registry.SetActive", id, map[string]interface{}{"is_active": active})
}

// SetStatus changes the subscription state of a tenant
func (r *Registry) SetStatus(ctx context.Context, id uuid.UUID, status models.TenantStatus) (*models.Tenant, error) {
	const op = "registry.SetStatus"
	if !status.Valid() {
		return nil, errs.New(errs.EInvalid, op, "unknown tenant status %q", status)
	}
	return r.update(ctx, op, id, map[string]interface{}{"status": status})
}

func (r *Registry) update(ctx context.Context, op string, id uuid.UUID, values map[string]interface{}) (*models.Tenant, error) {
	t, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(t).Updates(values).Error; err != nil {
		return nil, storeError(ctx, op, err)
	}
	r.forget(ctx, t.Slug)

	logrus.WithFields(logrus.Fields{"tenant_id": id, "slug": t.Slug, "changes": values}).Info("Updated tenant")
	return r.Get(ctx, id)
}

// Abandon removes a tenant whose onboarding failed, together with its account
// links, so the slug can be registered again. Established tenants are never
// removed; use SetActive.
func (r *Registry) Abandon(ctx context.Context, id uuid.UUID) error {
	const op = "registry.Abandon"
	var t models.Tenant
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().First(&t, "id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Where("tenant_id = ?", id).Delete(&models.Account{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&t).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.New(errs.ENotFound, op, "tenant not found")
	}
	if err != nil {
		return storeError(ctx, op, err)
	}
	r.forget(ctx, t.Slug)

	logrus.WithFields(logrus.Fields{"tenant_id": id, "slug": t.Slug}).Warn("Abandoned tenant after failed onboarding")
	return nil
}

// LinkAccount records that email signs in to tenantID
func (r *Registry) LinkAccount(ctx context.Context, email string, tenantID uuid.UUID) error {
	const op = "registry.LinkAccount"
	email = normalizeEmail(email)
	if email == "" {
		return errs.New(errs.EInvalid, op, "email is required")
	}
	err := r.db.WithContext(ctx).Create(&models.Account{Email: email, TenantID: tenantID}).Error
	if errs.IsUniqueViolation(err) {
		return errs.New(errs.EConflict, op, "email %q is already registered", email)
	}
	if err != nil {
		return storeError(ctx, op, err)
	}
	return nil
}

// LookupAccount returns the tenant that email signs in to
func (r *Registry) LookupAccount(ctx context.Context, email string) (*models.Tenant, error) {
	const op = "registry.LookupAccount"
	email = normalizeEmail(email)

	var account models.Account
	err := r.db.WithContext(ctx).Preload("Tenant").Where("email = ?", email).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && account.Tenant == nil) {
		return nil, errs.New(errs.ENotFound, op, "no tenant found for this account")
	}
	if err != nil {
		return nil, storeError(ctx, op, err)
	}
	return account.Tenant, nil
}

func (r *Registry) cached(ctx context.Context, slug string) (*models.Tenant, bool) {
	if r.cache == nil {
		return nil, false
	}
	raw, err := r.cache.Get(ctx, cacheKey(slug))
	if err != nil {
		if !errors.Is(err, utils.ErrCacheMiss) {
			logrus.WithFields(logrus.Fields{"slug": slug, "error": err}).Warn("Tenant cache read failed")
		}
		return nil, false
	}
	var t models.Tenant
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, false
	}
	return &t, true
}

func (r *Registry) remember(ctx context.Context, t *models.Tenant) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(t.Slug), string(raw), r.cacheTTL); err != nil {
		logrus.WithFields(logrus.Fields{"slug": t.Slug, "error": err}).Warn("Tenant cache write failed")
	}
}

func (r *Registry) forget(ctx context.Context, slug string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, cacheKey(slug)); err != nil {
		logrus.WithFields(logrus.Fields{"slug": slug, "error": err}).Warn("Tenant cache invalidation failed")
	}
}

func cacheKey(slug string) string {
	return "tenant:slug:" + slug
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func storeError(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
		return &errs.Error{Code: errs.EUnavailable, Op: op, Msg: "tenant registry timed out", Err: err}
	}
	return &errs.Error{Code: errs.EInternal, Op: op, Err: err}
}
