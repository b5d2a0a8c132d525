package tenancy_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavitra93/go-multi-tenant-pos/shared/errs"
	"github.com/pavitra93/go-multi-tenant-pos/shared/models"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy"
	"github.com/pavitra93/go-multi-tenant-pos/shared/tenancy/tenancytest"
	"github.com/pavitra93/go-multi-tenant-pos/shared/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type countingDialer struct {
	calls atomic.Int32
	delay time.Duration
	fail  atomic.Int32 // number of leading calls that fail
	gate  chan struct{}
}

func (d *countingDialer) Dial(ctx context.Context, id string) (*gorm.DB, error) {
	n := d.calls.Add(1)
	if d.gate != nil {
		<-d.gate
	}
	time.Sleep(d.delay)
	if n <= d.fail.Load() {
		return nil, errors.New("connection refused")
	}
	return tenancytest.OpenSQLite(id)
}

func newPool(t *testing.T, d tenancy.Dialer, opts ...tenancy.PoolOption) *tenancy.Pool {
	opts = append([]tenancy.PoolOption{tenancy.WithMigrations(models.TenantModels()...)}, opts...)
	p := tenancy.NewPool(d, tenancy.NewGuard(false), opts...)
	t.Cleanup(p.Close)
	return p
}

func TestAcquireCoalescesConcurrentDials(t *testing.T) {
	d := &countingDialer{delay: 50 * time.Millisecond}
	pool := newPool(t, d)

	const n = 50
	handles := make([]*gorm.DB, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := pool.Acquire(context.Background(), "tenant_my_cafe")
			assert.NoError(t, err)
			handles[i] = db
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), d.calls.Load())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, 1, pool.Len())
}

func TestAcquireReusesHandle(t *testing.T) {
	d := &countingDialer{}
	pool := newPool(t, d)

	first, err := pool.Acquire(context.Background(), "tenant_a")
	require.NoError(t, err)
	second, err := pool.Acquire(context.Background(), "tenant_a")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestAcquireDoesNotCacheFailures(t *testing.T) {
	d := &countingDialer{}
	d.fail.Store(1)
	pool := newPool(t, d)

	_, err := pool.Acquire(context.Background(), "tenant_a")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.EInternal))
	assert.Equal(t, 0, pool.Len())

	db, err := pool.Acquire(context.Background(), "tenant_a")
	require.NoError(t, err)
	assert.NotNil(t, db)
	assert.Equal(t, int32(2), d.calls.Load())
}

func TestAcquireTimeoutIsRetryable(t *testing.T) {
	d := &countingDialer{gate: make(chan struct{})}
	pool := newPool(t, d, tenancy.WithAcquireTimeout(20*time.Millisecond))

	_, err := pool.Acquire(context.Background(), "tenant_slow")
	require.Error(t, err)
	assert.True(t, errs.Retryable(err))

	// the abandoned dial still completes and is cached for the next caller
	close(d.gate)
	assert.Eventually(t, func() bool { return pool.Len() == 1 }, time.Second, 5*time.Millisecond)
	_, err = pool.Acquire(context.Background(), "tenant_slow")
	assert.NoError(t, err)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestHotAcquireDoesNotWaitOnColdDial(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	d := tenancy.DialerFunc(func(ctx context.Context, id string) (*gorm.DB, error) {
		if id == "tenant_slow" {
			<-gate
		}
		return tenancytest.OpenSQLite(id)
	})
	pool := newPool(t, d, tenancy.WithAcquireTimeout(time.Second))

	_, err := pool.Acquire(context.Background(), "tenant_fast")
	require.NoError(t, err)

	go func() { _, _ = pool.Acquire(context.Background(), "tenant_slow") }()

	done := make(chan struct{})
	go func() {
		_, _ = pool.Acquire(context.Background(), "tenant_fast")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("hot acquire blocked behind a cold dial")
	}
}

func TestAcquireCircuitOpen(t *testing.T) {
	d := &countingDialer{}
	d.fail.Store(100)
	pool := newPool(t, d, tenancy.WithBreaker(utils.NewCircuitBreaker(1, time.Minute)))

	_, err := pool.Acquire(context.Background(), "tenant_a")
	require.Error(t, err)

	_, err = pool.Acquire(context.Background(), "tenant_b")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.EUnavailable))
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestAcquireRequiresID(t *testing.T) {
	pool := newPool(t, &countingDialer{})
	_, err := pool.Acquire(context.Background(), "")
	assert.True(t, errs.Is(err, errs.EInvalid))
}

func TestHandleBindsTenant(t *testing.T) {
	pool := newPool(t, &countingDialer{})
	meta := newMeta("my_cafe")

	h, err := pool.Handle(context.Background(), meta)
	require.NoError(t, err)
	assert.Equal(t, meta.ID, h.TenantID)

	assert.True(t, h.DB.Migrator().HasTable(&models.Employee{}))
	assert.True(t, h.DB.Migrator().HasTable(&models.Shift{}))
}

func TestEvict(t *testing.T) {
	d := &countingDialer{}
	pool := newPool(t, d)

	_, err := pool.Acquire(context.Background(), "tenant_a")
	require.NoError(t, err)
	pool.Evict("tenant_a")
	assert.Equal(t, 0, pool.Len())

	_, err = pool.Acquire(context.Background(), "tenant_a")
	require.NoError(t, err)
	assert.Equal(t, int32(2), d.calls.Load())
}
