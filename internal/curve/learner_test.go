package curve

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evsched/evsched/internal/models"
	"github.com/evsched/evsched/internal/repository"
)

type fakeCurveStore struct {
	currents map[uuid.UUID]*models.ChargeCurrent
	points   map[int]*models.ChargeCurve
	resets   int
}

func newFakeCurveStore() *fakeCurveStore {
	return &fakeCurveStore{
		currents: make(map[uuid.UUID]*models.ChargeCurrent),
		points:   make(map[int]*models.ChargeCurve),
	}
}

func (f *fakeCurveStore) GetChargeCurrent(ctx context.Context, chargeID uuid.UUID) (*models.ChargeCurrent, error) {
	cc, ok := f.currents[chargeID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := *cc
	copied.Powers = append([]float64(nil), cc.Powers...)
	copied.OutsideDeciTemps = append([]int64(nil), cc.OutsideDeciTemps...)
	return &copied, nil
}

func (f *fakeCurveStore) CreateChargeCurrent(ctx context.Context, cc *models.ChargeCurrent) error {
	copied := *cc
	f.currents[cc.ChargeID] = &copied
	return nil
}

func (f *fakeCurveStore) AppendChargeSample(ctx context.Context, chargeID uuid.UUID, power float64, outsideDeciTemp int64) error {
	cc := f.currents[chargeID]
	cc.Powers = append(cc.Powers, power)
	cc.OutsideDeciTemps = append(cc.OutsideDeciTemps, outsideDeciTemp)
	return nil
}

func (f *fakeCurveStore) ResetChargeCurrent(ctx context.Context, cc *models.ChargeCurrent) error {
	f.currents[cc.ChargeID] = &models.ChargeCurrent{
		ChargeID:   cc.ChargeID,
		StartTS:    cc.StartTS,
		StartLevel: cc.StartLevel,
		StartAdded: cc.StartAdded,
	}
	f.resets++
	return nil
}

func (f *fakeCurveStore) SetChargeCurve(ctx context.Context, c *models.ChargeCurve) error {
	f.points[c.Level] = c
	return nil
}

func (f *fakeCurveStore) GetChargeCurve(ctx context.Context, vehicleID, locationID uuid.UUID) (map[int]*models.ChargeCurve, error) {
	return f.points, nil
}

func testCharge() *models.Charge {
	return &models.Charge{
		ID:         uuid.New(),
		VehicleID:  uuid.New(),
		LocationID: uuid.New(),
		StartTS:    time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC),
		StartLevel: 50,
	}
}

func TestObserveFirstPercentDiscarded(t *testing.T) {
	store := newFakeCurveStore()
	l := NewLearner(store, zap.NewNop())
	charge := testCharge()
	now := charge.StartTS

	require.NoError(t, l.Observe(context.Background(), charge, 50, 1000, 7000, nil, now))

	// 50 → 51 是充电后的第一个不完整百分比
	now = now.Add(80 * time.Second)
	require.NoError(t, l.Observe(context.Background(), charge, 51, 1100, 7000, nil, now))
	assert.Empty(t, store.points)

	// 51 → 52 是完整的百分比，落一个曲线点
	now = now.Add(90 * time.Second)
	require.NoError(t, l.Observe(context.Background(), charge, 52, 1200, 7000, nil, now))
	require.Contains(t, store.points, 52)
	assert.InDelta(t, 90, store.points[52].Duration, 0.001)
	assert.InDelta(t, 100, store.points[52].EnergyAdded, 0.001)
	// 7000 W × 90 s / 60 = 10500 Wm
	assert.InDelta(t, 10500, store.points[52].EnergyUsed, 0.001)
}

func TestObserveMultiPercentJumpDiscarded(t *testing.T) {
	store := newFakeCurveStore()
	l := NewLearner(store, zap.NewNop())
	charge := testCharge()
	now := charge.StartTS

	require.NoError(t, l.Observe(context.Background(), charge, 51, 1100, 7000, nil, now))

	// 离线间隙：一次跨了 3%
	now = now.Add(5 * time.Minute)
	require.NoError(t, l.Observe(context.Background(), charge, 54, 1500, 7000, nil, now))
	assert.Empty(t, store.points)

	// 基准已重置到 54，下一个完整百分比照常入库
	now = now.Add(100 * time.Second)
	require.NoError(t, l.Observe(context.Background(), charge, 55, 1600, 7000, nil, now))
	assert.Contains(t, store.points, 55)
}

func TestObserveResetsBaseline(t *testing.T) {
	store := newFakeCurveStore()
	l := NewLearner(store, zap.NewNop())
	charge := testCharge()
	now := charge.StartTS

	require.NoError(t, l.Observe(context.Background(), charge, 50, 1000, 7000, nil, now))
	now = now.Add(time.Minute)
	require.NoError(t, l.Observe(context.Background(), charge, 51, 1100, 7000, nil, now))

	cc := store.currents[charge.ID]
	assert.Equal(t, 51, cc.StartLevel)
	assert.Equal(t, now, cc.StartTS)
	assert.Empty(t, cc.Powers)
}

func TestChargeDuration(t *testing.T) {
	store := newFakeCurveStore()
	l := NewLearner(store, zap.NewNop())
	vehicleID, locationID := uuid.New(), uuid.New()

	t.Run("fallback when curve missing", func(t *testing.T) {
		d, err := l.ChargeDuration(context.Background(), vehicleID, locationID, 50, 52)
		require.NoError(t, err)
		// 100 s + 100 s × 0.75
		assert.Equal(t, 175*time.Second, d)
	})

	t.Run("stored durations with last percent shaved", func(t *testing.T) {
		store.points[51] = &models.ChargeCurve{Level: 51, Duration: 60}
		store.points[52] = &models.ChargeCurve{Level: 52, Duration: 80}
		d, err := l.ChargeDuration(context.Background(), vehicleID, locationID, 50, 52)
		require.NoError(t, err)
		// 60 s + 80 s × 0.75
		assert.Equal(t, 120*time.Second, d)
	})

	t.Run("zero when already at target", func(t *testing.T) {
		d, err := l.ChargeDuration(context.Background(), vehicleID, locationID, 70, 70)
		require.NoError(t, err)
		assert.Equal(t, time.Duration(0), d)
	})
}
