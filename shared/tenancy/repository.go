package tenancy

import (
	"context"
	"errors"

	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"gorm.io/gorm"
)

// Repository is typed access to one tenant-owned model. Every call requires a
// tenant on ctx and is scoped to it by the guard installed on the handle.
type Repository[T models.TenantOwned] struct {
	db *gorm.DB
}

// NewRepository returns a repository over h
func NewRepository[T models.TenantOwned](h Handle) *Repository[T] {
	return &Repository[T]{db: h.DB}
}

func (r *Repository[T]) session(ctx context.Context) (*gorm.DB, error) {
	if _, ok := FromContext(ctx); !ok {
		return nil, ErrNoTenantContext
	}
	return r.db.WithContext(ctx), nil
}

// Find returns every row matching the conditions
func (r *Repository[T]) Find(ctx context.Context, query interface{}, args ...interface{}) ([]T, error) {
	db, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	var out []T
	if query != nil {
		db = db.Where(query, args...)
	}
	if err := db.Find(&out).Error; err != nil {
		return nil, errs.Wrap("tenancy.Repository.Find", err)
	}
	return out, nil
}

// First returns the first row matching the conditions or an ENotFound error
func (r *Repository[T]) First(ctx context.Context, query interface{}, args ...interface{}) (*T, error) {
	db, err := r.session(ctx)
	if err != nil {
		return nil, err
	}
	var out T
	if err := db.Where(query, args...).First(&out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &errs.Error{Code: errs.ENotFound, Op: "tenancy.Repository.First", Msg: "record not found"}
		}
		return nil, errs.Wrap("tenancy.Repository.First", err)
	}
	return &out, nil
}

// Count returns the number of rows matching the conditions
func (r *Repository[T]) Count(ctx context.Context, query interface{}, args ...interface{}) (int64, error) {
	db, err := r.session(ctx)
	if err != nil {
		return 0, err
	}
	var model T
	var n int64
	db = db.Model(&model)
	if query != nil {
		db = db.Where(query, args...)
	}
	if err := db.Count(&n).Error; err != nil {
		return 0, errs.Wrap("tenancy.Repository.Count", err)
	}
	return n, nil
}

// Create inserts v, stamping its tenant
func (r *Repository[T]) Create(ctx context.Context, v *T) error {
	db, err := r.session(ctx)
	if err != nil {
		return err
	}
	if err := db.Create(v).Error; err != nil {
		if errs.IsUniqueViolation(err) {
			return &errs.Error{Code: errs.EConflict, Op: "tenancy.Repository.Create", Msg: "record already exists", Err: err}
		}
		return errs.Wrap("tenancy.Repository.Create", err)
	}
	return nil
}

// Save updates every column of v
func (r *Repository[T]) Save(ctx context.Context, v *T) error {
	db, err := r.session(ctx)
	if err != nil {
		return err
	}
	return errs.Wrap("tenancy.Repository.Save", db.Save(v).Error)
}

// Update sets the given columns on rows matching the conditions and returns the affected count
func (r *Repository[T]) Update(ctx context.Context, values map[string]interface{}, query interface{}, args ...interface{}) (int64, error) {
	db, err := r.session(ctx)
	if err != nil {
		return 0, err
	}
	var model T
	res := db.Model(&model).Where(query, args...).Updates(values)
	if res.Error != nil {
		return 0, errs.Wrap("tenancy.Repository.Update", res.Error)
	}
	return res.RowsAffected, nil
}

// Delete removes rows matching the conditions and returns the affected count
func (r *Repository[T]) Delete(ctx context.Context, query interface{}, args ...interface{}) (int64, error) {
	db, err := r.session(ctx)
	if err != nil {
		return 0, err
	}
	var model T
	res := db.Where(query, args...).Delete(&model)
	if res.Error != nil {
		return 0, errs.Wrap("tenancy.Repository.Delete", res.Error)
	}
	return res.RowsAffected, nil
}
