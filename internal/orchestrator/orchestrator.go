package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evsched/evsched/internal/models"
)

// refreshTimeout 单次重规划允许的最长耗时
const refreshTimeout = 30 * time.Second

// Planner 重规划入口
type Planner interface {
	RefreshVehicleChargePlan(ctx context.Context, vehicleID uuid.UUID) error
}

// Store 编排器需要的车辆查询
type Store interface {
	ListVehiclesByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Vehicle, error)
	ListVehiclesByPriceCode(ctx context.Context, priceCode string) ([]*models.Vehicle, error)
}

// refreshState 单辆车的重规划排队状态
type refreshState struct {
	running bool
	queued  bool
}

// Orchestrator 重规划编排器。每辆车的变更串行执行；同一辆车上
// 更新的请求会合并掉还没开始的旧请求。
type Orchestrator struct {
	planner Planner
	store   Store
	logger  *zap.Logger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	states map[uuid.UUID]*refreshState
	locks  sync.Map // uuid.UUID -> *sync.Mutex
}

// New 创建编排器
func New(planner Planner, store Store, logger *zap.Logger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		planner: planner,
		store:   store,
		logger:  logger,
		baseCtx: ctx,
		cancel:  cancel,
		states:  make(map[uuid.UUID]*refreshState),
	}
}

// vehicleLock 车辆级互斥锁，摄取与重规划共用
func (o *Orchestrator) vehicleLock(id uuid.UUID) *sync.Mutex {
	l, _ := o.locks.LoadOrStore(id, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// WithVehicleLock 在车辆临界区内执行 fn
func (o *Orchestrator) WithVehicleLock(id uuid.UUID, fn func() error) error {
	l := o.vehicleLock(id)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// Refresh 请求重规划一辆车。异步执行，同车请求合并。
func (o *Orchestrator) Refresh(vehicleID uuid.UUID) {
	o.mu.Lock()
	st, ok := o.states[vehicleID]
	if !ok {
		st = &refreshState{}
		o.states[vehicleID] = st
	}
	st.queued = true
	if st.running {
		o.mu.Unlock()
		return
	}
	st.running = true
	o.mu.Unlock()

	o.wg.Add(1)
	go o.drain(vehicleID, st)
}

func (o *Orchestrator) drain(vehicleID uuid.UUID, st *refreshState) {
	defer o.wg.Done()
	for {
		o.mu.Lock()
		if !st.queued {
			st.running = false
			o.mu.Unlock()
			return
		}
		st.queued = false
		o.mu.Unlock()

		err := o.WithVehicleLock(vehicleID, func() error {
			ctx, cancel := context.WithTimeout(o.baseCtx, refreshTimeout)
			defer cancel()
			return o.planner.RefreshVehicleChargePlan(ctx, vehicleID)
		})
		if err != nil {
			o.logger.Error("重规划失败，保留既有计划",
				zap.String("vehicle_id", vehicleID.String()),
				zap.Error(err))
		}
	}
}

// RefreshAccount 重规划账户下所有车辆
func (o *Orchestrator) RefreshAccount(ctx context.Context, accountID uuid.UUID) error {
	vehicles, err := o.store.ListVehiclesByAccount(ctx, accountID)
	if err != nil {
		return fmt.Errorf("refresh account: %w", err)
	}
	for _, v := range vehicles {
		o.Refresh(v.ID)
	}
	return nil
}

// PriceListRefreshed 电价更新后重规划受影响的车辆
func (o *Orchestrator) PriceListRefreshed(ctx context.Context, priceCode string) error {
	vehicles, err := o.store.ListVehiclesByPriceCode(ctx, priceCode)
	if err != nil {
		return fmt.Errorf("price list refreshed: %w", err)
	}
	o.logger.Info("电价已更新，触发重规划",
		zap.String("price_code", priceCode),
		zap.Int("vehicles", len(vehicles)))
	for _, v := range vehicles {
		o.Refresh(v.ID)
	}
	return nil
}

// Shutdown 等待在途重规划结束
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.cancel()
		return nil
	case <-ctx.Done():
		o.cancel()
		return ctx.Err()
	}
}
