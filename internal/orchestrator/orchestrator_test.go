package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evsched/evsched/internal/models"
)

type fakePlanner struct {
	mu      sync.Mutex
	calls   int32
	active  int32
	overlap bool
	block   chan struct{}
	err     error
}

func (f *fakePlanner) RefreshVehicleChargePlan(ctx context.Context, vehicleID uuid.UUID) error {
	if atomic.AddInt32(&f.active, 1) > 1 {
		f.mu.Lock()
		f.overlap = true
		f.mu.Unlock()
	}
	defer atomic.AddInt32(&f.active, -1)

	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		<-f.block
	}
	return f.err
}

func (f *fakePlanner) callCount() int32 {
	return atomic.LoadInt32(&f.calls)
}

type fakeVehicleLister struct {
	vehicles []*models.Vehicle
	err      error
}

func (f *fakeVehicleLister) ListVehiclesByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Vehicle, error) {
	return f.vehicles, f.err
}

func (f *fakeVehicleLister) ListVehiclesByPriceCode(ctx context.Context, priceCode string) ([]*models.Vehicle, error) {
	return f.vehicles, f.err
}

func waitShutdown(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.Shutdown(ctx))
}

func TestRefreshRuns(t *testing.T) {
	planner := &fakePlanner{}
	o := New(planner, &fakeVehicleLister{}, zap.NewNop())

	o.Refresh(uuid.New())
	waitShutdown(t, o)

	assert.Equal(t, int32(1), planner.callCount())
}

func TestRefreshCoalesces(t *testing.T) {
	planner := &fakePlanner{block: make(chan struct{})}
	o := New(planner, &fakeVehicleLister{}, zap.NewNop())
	id := uuid.New()

	o.Refresh(id)
	// 等第一次进入执行，后续请求只应合并成一次
	require.Eventually(t, func() bool { return planner.callCount() == 1 },
		time.Second, time.Millisecond)
	for range [10]struct{}{} {
		o.Refresh(id)
	}
	close(planner.block)
	waitShutdown(t, o)

	assert.Equal(t, int32(2), planner.callCount())
}

func TestRefreshSerializesPerVehicle(t *testing.T) {
	planner := &fakePlanner{}
	o := New(planner, &fakeVehicleLister{}, zap.NewNop())
	id := uuid.New()

	var wg sync.WaitGroup
	for range [20]struct{}{} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Refresh(id)
		}()
	}
	wg.Wait()
	waitShutdown(t, o)

	assert.False(t, planner.overlap, "refreshes for one vehicle must not overlap")
}

func TestRefreshErrorKeepsOrchestratorAlive(t *testing.T) {
	planner := &fakePlanner{err: errors.New("db gone")}
	o := New(planner, &fakeVehicleLister{}, zap.NewNop())
	id := uuid.New()

	o.Refresh(id)
	waitShutdown(t, o)
	assert.Equal(t, int32(1), planner.callCount())

	// 失败后仍可继续调度
	planner.err = nil
	o2 := New(planner, &fakeVehicleLister{}, zap.NewNop())
	o2.Refresh(id)
	waitShutdown(t, o2)
	assert.Equal(t, int32(2), planner.callCount())
}

func TestWithVehicleLockBlocksRefresh(t *testing.T) {
	planner := &fakePlanner{}
	o := New(planner, &fakeVehicleLister{}, zap.NewNop())
	id := uuid.New()

	release := make(chan struct{})
	held := make(chan struct{})
	go o.WithVehicleLock(id, func() error {
		close(held)
		<-release
		return nil
	})

	<-held
	o.Refresh(id)
	// 摄取持锁期间重规划不得进入
	assert.Never(t, func() bool { return planner.callCount() > 0 },
		50*time.Millisecond, 5*time.Millisecond)

	close(release)
	waitShutdown(t, o)
	assert.Equal(t, int32(1), planner.callCount())
}

func TestPriceListRefreshedFansOut(t *testing.T) {
	planner := &fakePlanner{}
	vehicles := []*models.Vehicle{
		{ID: uuid.New()}, {ID: uuid.New()}, {ID: uuid.New()},
	}
	o := New(planner, &fakeVehicleLister{vehicles: vehicles}, zap.NewNop())

	require.NoError(t, o.PriceListRefreshed(context.Background(), "SE3"))
	waitShutdown(t, o)

	assert.Equal(t, int32(3), planner.callCount())
}

func TestRefreshAccountPropagatesError(t *testing.T) {
	o := New(&fakePlanner{}, &fakeVehicleLister{err: errors.New("db gone")}, zap.NewNop())
	err := o.RefreshAccount(context.Background(), uuid.New())
	assert.Error(t, err)
	waitShutdown(t, o)
}
