package tenancy

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/metrics"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Dialer opens a connection to one tenant data store
type Dialer interface {
	Dial(ctx context.Context, dataStoreID string) (*gorm.DB, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, dataStoreID string) (*gorm.DB, error)

// Dial implements Dialer
func (f DialerFunc) Dial(ctx context.Context, dataStoreID string) (*gorm.DB, error) {
	return f(ctx, dataStoreID)
}

// Handle is a data store connection bound to the tenant it was acquired for
type Handle struct {
	TenantID uuid.UUID
	DB       *gorm.DB
}

// Pool keeps at most one open handle per data store. Concurrent first requests
// for the same data store share a single dial. Failed dials are not cached.
type Pool struct {
	dialer         Dialer
	guard          *Guard
	migrate        []interface{}
	acquireTimeout time.Duration
	dialTimeout    time.Duration
	breaker        *utils.CircuitBreaker

	handles sync.Map // data store id -> *gorm.DB
	group   singleflight.Group
}

// PoolOption configures a Pool
type PoolOption func(*Pool)

// WithAcquireTimeout bounds how long a caller waits for a cold handle
func WithAcquireTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.acquireTimeout = d }
}

// WithDialTimeout bounds a single dial, independent of any caller
func WithDialTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.dialTimeout = d }
}

// WithMigrations migrates the given models on every newly dialed data store
func WithMigrations(models ...interface{}) PoolOption {
	return func(p *Pool) { p.migrate = append(p.migrate, models...) }
}

// WithBreaker replaces the circuit breaker that protects the dialer
func WithBreaker(cb *utils.CircuitBreaker) PoolOption {
	return func(p *Pool) { p.breaker = cb }
}

// NewPool creates a pool that dials with d and installs guard on every handle
func NewPool(d Dialer, guard *Guard, opts ...PoolOption) *Pool {
	p := &Pool{
		dialer:         d,
		guard:          guard,
		acquireTimeout: 5 * time.Second,
		dialTimeout:    15 * time.Second,
		breaker:        utils.NewCircuitBreaker(5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Acquire returns the handle for dataStoreID, dialing it on first use. Hot
// lookups never block on other tenants' dials. A caller that gives up waiting
// leaves the shared dial running for the others.
func (p *Pool) Acquire(ctx context.Context, dataStoreID string) (*gorm.DB, error) {
	const op = "tenancy.Pool.Acquire"
	if dataStoreID == "" {
		return nil, &errs.Error{Code: errs.EInvalid, Op: op, Msg: "data store id is required"}
	}
	if db, ok := p.handles.Load(dataStoreID); ok {
		return db.(*gorm.DB), nil
	}

	start := time.Now()
	defer func() { metrics.Tenancy.PoolAcquireWait.Observe(time.Since(start).Seconds()) }()

	ctx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	ch := p.group.DoChan(dataStoreID, func() (interface{}, error) {
		return p.establish(dataStoreID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*gorm.DB), nil
	case <-ctx.Done():
		return nil, &errs.Error{Code: errs.EUnavailable, Op: op, Msg: "timed out waiting for data store connection", Err: ctx.Err()}
	}
}

// Handle acquires the data store named by meta and binds it to meta's tenant
func (p *Pool) Handle(ctx context.Context, meta Meta) (Handle, error) {
	db, err := p.Acquire(ctx, meta.DataStoreID)
	if err != nil {
		return Handle{}, err
	}
	return Handle{TenantID: meta.ID, DB: db}, nil
}

func (p *Pool) establish(dataStoreID string) (*gorm.DB, error) {
	const op = "tenancy.Pool.establish"
	if db, ok := p.handles.Load(dataStoreID); ok {
		return db.(*gorm.DB), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.dialTimeout)
	defer cancel()

	var db *gorm.DB
	err := p.breaker.Call(func() error {
		var err error
		db, err = p.dialer.Dial(ctx, dataStoreID)
		return err
	})
	if err != nil {
		logger := logrus.WithFields(logrus.Fields{"data_store": dataStoreID, "error": err})
		if errors.Is(err, utils.ErrCircuitOpen) || errors.Is(err, utils.ErrTooManyRequests) {
			metrics.Tenancy.PoolDials.WithLabelValues("circuit_open").Inc()
			logger.Warn("Data store dial skipped, circuit open")
			return nil, &errs.Error{Code: errs.EUnavailable, Op: op, Msg: "data store temporarily unavailable", Err: err}
		}
		metrics.Tenancy.PoolDials.WithLabelValues("error").Inc()
		logger.Error("Failed to dial data store")
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &errs.Error{Code: errs.EUnavailable, Op: op, Msg: "data store dial timed out", Err: err}
		}
		return nil, &errs.Error{Code: errs.EInternal, Op: op, Msg: "connection failure", Err: err}
	}

	if len(p.migrate) > 0 {
		if err := db.WithContext(ctx).AutoMigrate(p.migrate...); err != nil {
			closeDB(db)
			return nil, &errs.Error{Code: errs.EInternal, Op: op, Msg: "failed to migrate data store", Err: err}
		}
	}
	if p.guard != nil {
		if err := db.Use(p.guard); err != nil {
			closeDB(db)
			return nil, &errs.Error{Code: errs.EInternal, Op: op, Msg: "failed to install tenant guard", Err: err}
		}
	}

	p.handles.Store(dataStoreID, db)
	metrics.Tenancy.PoolDials.WithLabelValues("ok").Inc()
	metrics.Tenancy.PoolHandles.Inc()
	logrus.WithField("data_store", dataStoreID).Info("Opened data store connection")
	return db, nil
}

// Len returns the number of open handles
func (p *Pool) Len() int {
	n := 0
	p.handles.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Evict closes and forgets the handle for dataStoreID. The next Acquire dials again.
// Only call it when no request can hold the handle, such as a tenant abandoned
// during onboarding.
func (p *Pool) Evict(dataStoreID string) {
	if db, ok := p.handles.LoadAndDelete(dataStoreID); ok {
		closeDB(db.(*gorm.DB))
		metrics.Tenancy.PoolHandles.Dec()
	}
}

// Close closes every open handle
func (p *Pool) Close() {
	p.handles.Range(func(key, _ interface{}) bool {
		p.Evict(key.(string))
		return true
	})
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
