package tenancy

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/metrics"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// Column is the tenant discriminator on every tenant-owned table
const Column = "tenant_id"

// ErrCrossTenantWrite is returned when a write names a tenant other than the established one
var ErrCrossTenantWrite = &errs.Error{Code: errs.EInternal, Op: "tenancy.Guard", Msg: "row belongs to another tenant"}

// Guard is a gorm plugin that scopes statements on models implementing
// models.TenantOwned to the tenant established on the statement context.
// Reads, updates and deletes get a tenant_id predicate. Creates and updates
// have a zero TenantID stamped with the established tenant.
//
// Raw SQL and models that do not implement models.TenantOwned are not touched.
type Guard struct {
	// Strict panics instead of failing the statement when no tenant is established.
	// Enable it in development so missing contexts surface immediately.
	Strict bool

	owned sync.Map // reflect.Type -> bool
}

// NewGuard creates a scoping guard
func NewGuard(strict bool) *Guard {
	return &Guard{Strict: strict}
}

// Name implements gorm.Plugin
func (g *Guard) Name() string {
	return "tenancy:guard"
}

// Initialize implements gorm.Plugin
func (g *Guard) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:create").Register("tenancy:stamp_create", g.stamp); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("tenancy:scope_query", g.scope); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("tenancy:stamp_update", g.stamp); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("tenancy:scope_update", g.scopeWrite); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("tenancy:scope_delete", g.scopeWrite); err != nil {
		return err
	}
	return cb.Row().Before("gorm:row").Register("tenancy:scope_row", g.scope)
}

func (g *Guard) scope(db *gorm.DB) {
	if db.Error != nil || !g.isOwned(db.Statement) {
		return
	}
	meta, ok := g.tenant(db)
	if !ok {
		return
	}
	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: clause.CurrentTable, Name: Column}, Value: meta.ID},
	}})
}

// scopeWrite leaves statements with no conditions alone so gorm still rejects
// them with ErrMissingWhereClause instead of touching every row of the tenant.
func (g *Guard) scopeWrite(db *gorm.DB) {
	if db.Error != nil || !g.isOwned(db.Statement) {
		return
	}
	if unconditioned(db.Statement) {
		g.tenant(db)
		return
	}
	g.scope(db)
}

func (g *Guard) stamp(db *gorm.DB) {
	if db.Error != nil || !g.isOwned(db.Statement) {
		return
	}
	meta, ok := g.tenant(db)
	if !ok {
		return
	}
	field := db.Statement.Schema.LookUpField(Column)
	if field == nil {
		return
	}

	rv := db.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			g.stampOne(db, field, reflect.Indirect(rv.Index(i)), meta)
		}
	case reflect.Struct:
		g.stampOne(db, field, rv, meta)
	}
}

func (g *Guard) stampOne(db *gorm.DB, field *schema.Field, rv reflect.Value, meta Meta) {
	if rv.Kind() != reflect.Struct {
		return
	}
	ctx := db.Statement.Context
	value, zero := field.ValueOf(ctx, rv)
	if zero {
		if err := field.Set(ctx, rv, meta.ID); err != nil {
			db.AddError(err)
		}
		return
	}
	if id, ok := value.(uuid.UUID); ok && id != meta.ID {
		metrics.Tenancy.GuardViolations.WithLabelValues("cross_tenant").Inc()
		logrus.WithFields(logrus.Fields{
			"tenant_id": meta.ID,
			"row_owner": id,
			"table":     db.Statement.Table,
		}).Error("Rejected cross-tenant write")
		db.AddError(ErrCrossTenantWrite)
	}
}

func (g *Guard) tenant(db *gorm.DB) (Meta, bool) {
	if meta, ok := FromContext(db.Statement.Context); ok {
		return meta, true
	}
	metrics.Tenancy.GuardViolations.WithLabelValues("no_context").Inc()
	if g.Strict {
		panic(fmt.Sprintf("tenancy: statement on %q without a tenant context", db.Statement.Table))
	}
	logrus.WithField("table", db.Statement.Table).Error("Tenant-owned statement issued without a tenant context")
	db.AddError(ErrNoTenantContext)
	return Meta{}, false
}

func (g *Guard) isOwned(stmt *gorm.Statement) bool {
	if stmt.Schema == nil {
		return false
	}
	typ := stmt.Schema.ModelType
	if v, ok := g.owned.Load(typ); ok {
		return v.(bool)
	}
	_, owned := reflect.New(typ).Interface().(models.TenantOwned)
	g.owned.Store(typ, owned)
	return owned
}

// unconditioned reports whether an update or delete would hit every row
func unconditioned(stmt *gorm.Statement) bool {
	if stmt.AllowGlobalUpdate {
		return false
	}
	if _, ok := stmt.Clauses["WHERE"]; ok {
		return false
	}
	rv := stmt.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return rv.Len() == 0
	case reflect.Struct:
		if pk := stmt.Schema.PrioritizedPrimaryField; pk != nil {
			_, zero := pk.ValueOf(stmt.Context, rv)
			return zero
		}
	}
	return true
}
