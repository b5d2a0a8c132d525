// Package session authenticates principals inside a tenant, issues session
// tokens and enforces the single active session on shared-device roles.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/events"
	"github.com/pavitra93/go-multi-tenant-pos/shared/metrics"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LoginInput is a login attempt. Identifier is a username or an email.
// Credential is a password or a PIN.
type LoginInput struct {
	Identifier    string `json:"identifier" binding:"required"`
	Credential    string `json:"credential" binding:"required"`
	TrustedDevice bool   `json:"trusted_device"`
}

// PrincipalView is the client-facing view of an employee
type PrincipalView struct {
	ID       uuid.UUID           `json:"id"`
	Name     string              `json:"name"`
	Username string              `json:"username"`
	Email    string              `json:"email,omitempty"`
	Role     models.EmployeeRole `json:"role"`
}

// LoginResult is a successful login
type LoginResult struct {
	Token      string         `json:"token"`
	ExpiresAt  time.Time      `json:"expires_at"`
	TenantSlug string         `json:"tenant_slug"`
	Principal  PrincipalView  `json:"principal"`
	Replaced   *PrincipalView `json:"replaced,omitempty"`
}

// EnrollInput creates a principal. At least one of Password and PIN is required.
type EnrollInput struct {
	Name         string              `json:"name" binding:"required"`
	Username     string              `json:"username" binding:"required"`
	Email        string              `json:"email"`
	Role         models.EmployeeRole `json:"role" binding:"required"`
	Password     string              `json:"password"`
	PIN          string              `json:"pin"`
	AuthProvider models.AuthProvider `json:"-"`
	Verified     bool                `json:"-"`
}

// Authority runs the login protocol against tenant handles
type Authority struct {
	hasher          *Hasher
	tokens          *TokenIssuer
	locker          Locker
	publisher       events.Publisher
	restricted      map[models.EmployeeRole]struct{}
	requireVerified bool
	sharedTTL       time.Duration
	personalTTL     time.Duration
	now             func() time.Time
}

// Option configures an Authority
type Option func(*Authority)

// WithLocker replaces the in-process commit lock, e.g. with a RedisLocker
func WithLocker(l Locker) Option {
	return func(a *Authority) { a.locker = l }
}

// WithPublisher sends session events to p
func WithPublisher(p events.Publisher) Option {
	return func(a *Authority) { a.publisher = p }
}

// WithRestrictedRoles sets the roles limited to one active session per tenant
func WithRestrictedRoles(roles ...string) Option {
	return func(a *Authority) {
		a.restricted = make(map[models.EmployeeRole]struct{}, len(roles))
		for _, r := range roles {
			if r = strings.TrimSpace(r); r != "" {
				a.restricted[models.EmployeeRole(r)] = struct{}{}
			}
		}
	}
}

// WithVerification toggles the email verification requirement
func WithVerification(required bool) Option {
	return func(a *Authority) { a.requireVerified = required }
}

// WithTokenTTLs sets token lifetimes for shared devices and trusted personal devices
func WithTokenTTLs(shared, personal time.Duration) Option {
	return func(a *Authority) {
		a.sharedTTL = shared
		a.personalTTL = personal
	}
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// NewAuthority creates a session authority
func NewAuthority(tokens *TokenIssuer, hasher *Hasher, opts ...Option) *Authority {
	a := &Authority{
		hasher:          hasher,
		tokens:          tokens,
		locker:          NewKeyedMutex(),
		publisher:       events.NopPublisher{},
		restricted:      map[models.EmployeeRole]struct{}{models.RoleCashier: {}},
		requireVerified: true,
		sharedTTL:       12 * time.Hour,
		personalTTL:     7 * 24 * time.Hour,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IsRestricted reports whether role is limited to one active session per tenant
func (a *Authority) IsRestricted(role models.EmployeeRole) bool {
	_, ok := a.restricted[role]
	return ok
}

// ValidateToken checks a session token
func (a *Authority) ValidateToken(token string) (*Claims, error) {
	return a.tokens.ValidateToken(token)
}

// Login authenticates in against the tenant established on ctx and starts a session.
//
// For restricted roles only one principal per tenant may hold a session. A
// conflicting session is honoured while any shift is OPEN and is cleared as
// stale otherwise. The decision is re-checked inside the commit transaction
// under a per-tenant lock, so concurrent logins cannot both win.
func (a *Authority) Login(ctx context.Context, h tenancy.Handle, in LoginInput) (*LoginResult, error) {
	const op = "session.Login"
	meta, err := a.tenant(ctx, h)
	if err != nil {
		return nil, err
	}
	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Credential == "" {
		return nil, errs.New(errs.EInvalid, op, "identifier and credential are required")
	}
	logger := logrus.WithFields(logrus.Fields{"tenant": meta.Slug, "identifier": identifier})

	db := h.DB.WithContext(ctx)
	emp, err := findPrincipal(db, identifier)
	if err != nil {
		a.countLogin(err)
		return nil, err
	}

	if a.requireVerified && emp.RequiresVerification() {
		err := errs.New(errs.EVerificationRequired, op, "please verify your email before signing in")
		a.countLogin(err)
		return nil, err
	}

	restricted := a.IsRestricted(emp.Role)
	if restricted {
		if _, err := a.arbitrate(db, emp); err != nil {
			a.rejected(ctx, meta, emp, err)
			return nil, err
		}
	}

	if !a.hasher.verify(emp, in.Credential) {
		err := errs.New(errs.EUnauthorized, op, "invalid credentials")
		a.countLogin(err)
		logger.Info("Login rejected: invalid credentials")
		return nil, err
	}

	ttl := a.personalTTL
	if restricted || !in.TrustedDevice {
		ttl = a.sharedTTL
	}
	token, expiresAt, err := a.tokens.Issue(Claims{
		PrincipalID: emp.ID,
		Name:        emp.Name,
		Role:        string(emp.Role),
		TenantID:    meta.ID,
		TenantSlug:  meta.Slug,
	}, ttl)
	if err != nil {
		a.countLogin(err)
		return nil, err
	}

	replaced, err := a.commit(ctx, h, meta, emp, restricted)
	if err != nil {
		if _, ok := errs.ActivePrincipal(err); ok {
			a.rejected(ctx, meta, emp, err)
			return nil, err
		}
		a.countLogin(err)
		return nil, err
	}

	result := &LoginResult{
		Token:      token,
		ExpiresAt:  expiresAt,
		TenantSlug: meta.Slug,
		Principal:  view(emp),
	}
	if replaced != nil {
		v := view(replaced)
		result.Replaced = &v
		metrics.Session.StaleRecoveries.Inc()
		logger.WithFields(logrus.Fields{
			"principal":       emp.ID,
			"stale_principal": replaced.ID,
			"stale_name":      replaced.Name,
		}).Warn("Cleared stale shared-device session: no shift is open")
		a.publish(ctx, meta, events.EventStaleRecovery, emp, replaced)
	}

	metrics.Session.Logins.WithLabelValues("ok").Inc()
	logger.WithFields(logrus.Fields{"principal": emp.ID, "role": emp.Role}).Info("Login succeeded")
	a.publish(ctx, meta, events.EventLogin, emp, nil)
	return result, nil
}

// commit sets the presence flag, clearing a stale restricted session first
func (a *Authority) commit(ctx context.Context, h tenancy.Handle, meta tenancy.Meta, emp *models.Employee, restricted bool) (*models.Employee, error) {
	const op = "session.commit"
	if restricted {
		unlock, err := a.locker.Lock(ctx, lockKey(meta.ID))
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	var replaced *models.Employee
	err := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := a.now().UTC()
		if restricted {
			if err := advisoryLock(tx, lockKey(meta.ID)); err != nil {
				return errs.Wrap(op, err)
			}
			stale, err := a.arbitrate(tx, emp)
			if err != nil {
				return err
			}
			if stale != nil {
				res := tx.Model(&models.Employee{}).
					Where("id = ? AND is_logged_in = ?", stale.ID, true).
					Update("is_logged_in", false)
				if res.Error != nil {
					return errs.Wrap(op, res.Error)
				}
				if res.RowsAffected == 1 {
					replaced = stale
					if err := tx.Create(&models.SessionAudit{EmployeeID: stale.ID, Action: models.ActionStaleRecovery, ReplacedBy: &emp.ID}).Error; err != nil {
						return errs.Wrap(op, err)
					}
				}
			}
		}

		res := tx.Model(&models.Employee{}).Where("id = ?", emp.ID).Updates(map[string]interface{}{
			"is_logged_in":  true,
			"last_login_at": now,
		})
		if res.Error != nil {
			return errs.Wrap(op, res.Error)
		}
		if res.RowsAffected == 0 {
			return errs.New(errs.ENotFound, op, "principal no longer exists")
		}
		return errs.Wrap(op, tx.Create(&models.SessionAudit{EmployeeID: emp.ID, Action: models.ActionLogin}).Error)
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

// arbitrate looks for another restricted principal holding the session. It
// returns a conflict while any shift is OPEN and the stale holder otherwise.
func (a *Authority) arbitrate(db *gorm.DB, emp *models.Employee) (*models.Employee, error) {
	const op = "session.arbitrate"
	var holder models.Employee
	err := db.Where("role IN ? AND is_logged_in = ? AND id <> ?", a.restrictedRoles(), true, emp.ID).
		Order("last_login_at DESC").
		First(&holder).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Wrap(op, err)
	}

	var open int64
	if err := db.Model(&models.Shift{}).Where("status = ?", models.ShiftOpen).Count(&open).Error; err != nil {
		return nil, errs.Wrap(op, err)
	}
	if open > 0 {
		return nil, &errs.Error{
			Code:            errs.EConflict,
			Op:              op,
			Msg:             holder.Name + " is still signed in with an open shift. Ask them to close the shift and sign out first.",
			ActivePrincipal: &errs.Principal{ID: holder.ID.String(), Name: holder.Name},
		}
	}
	return &holder, nil
}

// Logout clears the presence flag for principalID. Logging out twice is not an error.
func (a *Authority) Logout(ctx context.Context, h tenancy.Handle, principalID uuid.UUID) error {
	const op = "session.Logout"
	meta, err := a.tenant(ctx, h)
	if err != nil {
		return err
	}

	var emp models.Employee
	cleared := false
	err = h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", principalID).First(&emp).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errs.New(errs.ENotFound, op, "principal not found")
			}
			return errs.Wrap(op, err)
		}
		res := tx.Model(&models.Employee{}).Where("id = ? AND is_logged_in = ?", principalID, true).Update("is_logged_in", false)
		if res.Error != nil {
			return errs.Wrap(op, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		cleared = true
		return errs.Wrap(op, tx.Create(&models.SessionAudit{EmployeeID: principalID, Action: models.ActionLogout}).Error)
	})
	if err != nil {
		return err
	}

	if cleared {
		metrics.Session.Logouts.Inc()
		logrus.WithFields(logrus.Fields{"tenant": meta.Slug, "principal": principalID}).Info("Logout succeeded")
		a.publish(ctx, meta, events.EventLogout, &emp, nil)
	}
	return nil
}

// Enroll creates a principal in the tenant established on ctx
func (a *Authority) Enroll(ctx context.Context, h tenancy.Handle, in EnrollInput) (*models.Employee, error) {
	const op = "session.Enroll"
	if _, err := a.tenant(ctx, h); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	emp := &models.Employee{
		Name:         in.Name,
		Username:     in.Username,
		Email:        in.Email,
		Role:         in.Role,
		AuthProvider: in.AuthProvider,
		IsVerified:   in.Verified,
		IsActive:     true,
	}
	var err error
	if in.Password != "" {
		if emp.PasswordHash, err = a.hasher.Hash(in.Password); err != nil {
			return nil, errs.Wrap(op, err)
		}
	}
	if in.PIN != "" {
		if emp.PinHash, err = a.hasher.Hash(in.PIN); err != nil {
			return nil, errs.Wrap(op, err)
		}
	}

	if err := tenancy.NewRepository[models.Employee](h).Create(ctx, emp); err != nil {
		if errs.Is(err, errs.EConflict) {
			return nil, errs.New(errs.EConflict, op, "username %q is already taken", in.Username)
		}
		return nil, err
	}
	return emp, nil
}

// Validate normalizes in and checks it without touching a store
func (in *EnrollInput) Validate() error {
	const op = "session.Enroll"
	in.Name = strings.TrimSpace(in.Name)
	in.Username = strings.ToLower(strings.TrimSpace(in.Username))
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	switch {
	case in.Name == "" || in.Username == "":
		return errs.New(errs.EInvalid, op, "name and username are required")
	case in.Password == "" && in.PIN == "":
		return errs.New(errs.EInvalid, op, "a password or a PIN is required")
	case in.PIN != "" && !validPIN(in.PIN):
		return errs.New(errs.EInvalid, op, "PIN must be 4 to 8 digits")
	case !validRole(in.Role):
		return errs.New(errs.EInvalid, op, "unknown role %q", in.Role)
	}
	if in.AuthProvider == "" {
		in.AuthProvider = models.ProviderLocal
	}
	return nil
}

func (a *Authority) tenant(ctx context.Context, h tenancy.Handle) (tenancy.Meta, error) {
	meta, ok := tenancy.FromContext(ctx)
	if !ok {
		return tenancy.Meta{}, tenancy.ErrNoTenantContext
	}
	if h.DB == nil || h.TenantID != meta.ID {
		return tenancy.Meta{}, &errs.Error{Code: errs.EInternal, Op: "session", Msg: "data store handle does not belong to the established tenant"}
	}
	return meta, nil
}

func (a *Authority) restrictedRoles() []string {
	roles := make([]string, 0, len(a.restricted))
	for r := range a.restricted {
		roles = append(roles, string(r))
	}
	return roles
}

// rejected records a refused login. A conflict is logged and published but
// leaves the tenant store untouched.
func (a *Authority) rejected(ctx context.Context, meta tenancy.Meta, emp *models.Employee, err error) {
	a.countLogin(err)
	holder, ok := errs.ActivePrincipal(err)
	if !ok {
		return
	}
	logrus.WithFields(logrus.Fields{
		"tenant":    meta.Slug,
		"principal": emp.ID,
		"holder":    holder.ID,
	}).Info("Login rejected: shared-device session in use")

	other := &models.Employee{Name: holder.Name}
	if id, perr := uuid.Parse(holder.ID); perr == nil {
		other.ID = id
	}
	a.publish(ctx, meta, events.EventLoginConflict, emp, other)
}

func (a *Authority) countLogin(err error) {
	outcome := "error"
	switch {
	case err == nil:
		outcome = "ok"
	case errs.Is(err, errs.EConflict):
		outcome = "conflict"
	case errs.Is(err, errs.EUnauthorized):
		outcome = "invalid_credentials"
	case errs.Is(err, errs.ENotFound):
		outcome = "not_found"
	case errs.Is(err, errs.EVerificationRequired):
		outcome = "unverified"
	}
	metrics.Session.Logins.WithLabelValues(outcome).Inc()
}

func (a *Authority) publish(ctx context.Context, meta tenancy.Meta, typ events.SessionEventType, emp, other *models.Employee) {
	event := events.SessionEvent{
		ID:            uuid.NewString(),
		Type:          typ,
		TenantID:      meta.ID,
		TenantSlug:    meta.Slug,
		PrincipalID:   emp.ID,
		PrincipalName: emp.Name,
		Role:          string(emp.Role),
		OccurredAt:    a.now().UTC(),
	}
	if other != nil {
		id := other.ID
		event.OtherID = &id
		event.OtherName = other.Name
	}
	if err := a.publisher.Publish(ctx, event); err != nil {
		logrus.WithFields(logrus.Fields{"event_type": typ, "error": err}).Warn("Failed to queue session event")
	}
}

// findPrincipal matches identifier against username or email, then display name.
// All comparisons ignore case.
func findPrincipal(db *gorm.DB, identifier string) (*models.Employee, error) {
	key := strings.ToLower(identifier)
	var emp models.Employee
	err := db.Where("(username = ? OR email = ?) AND is_active = ?", key, key, true).First(&emp).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		err = db.Where("LOWER(name) = ? AND is_active = ?", key, true).First(&emp).Error
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.New(errs.ENotFound, "session.Login", "no account matches %q", identifier)
	}
	if err != nil {
		return nil, errs.Wrap("session.Login", err)
	}
	return &emp, nil
}

func view(e *models.Employee) PrincipalView {
	return PrincipalView{ID: e.ID, Name: e.Name, Username: e.Username, Email: e.Email, Role: e.Role}
}

func lockKey(tenantID uuid.UUID) string {
	return "session:" + tenantID.String()
}

func validRole(r models.EmployeeRole) bool {
	switch r {
	case models.RoleOwner, models.RoleAdmin, models.RoleManager, models.RoleCashier, models.RoleBarista:
		return true
	}
	return false
}

func validPIN(pin string) bool {
	if len(pin) < 4 || len(pin) > 8 {
		return false
	}
	for _, c := range pin {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
