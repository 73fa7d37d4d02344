package planner

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

type fakeStore struct {
	vehicle       *models.Vehicle
	location      *models.Location
	maxCurveLevel int
	pred          *repository.RoutinePrediction
	prices        []models.PricePoint

	savedPlan   models.ChargePlan
	savedStatus string
	planSaved   bool
	tripCleared bool
	actions     []*models.Action
}

func (f *fakeStore) GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	return f.vehicle, nil
}

func (f *fakeStore) GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	return f.location, nil
}

func (f *fakeStore) MaxCurveLevel(ctx context.Context, vehicleID, locationID uuid.UUID) (int, error) {
	return f.maxCurveLevel, nil
}

func (f *fakeStore) PredictRoutine(ctx context.Context, vehicleID, locationID uuid.UUID, now time.Time) (*repository.RoutinePrediction, error) {
	if f.pred == nil {
		return &repository.RoutinePrediction{}, nil
	}
	return f.pred, nil
}

func (f *fakeStore) PricesForPlan(ctx context.Context, priceCode string, from, before time.Time) ([]models.PricePoint, error) {
	var out []models.PricePoint
	for _, p := range f.prices {
		if !p.TS.Before(from) && p.TS.Before(before) {
			out = append(out, p)
		}
	}
	// 电价升序
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Price < out[i].Price || (out[j].Price == out[i].Price && out[j].TS.Before(out[i].TS)) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (f *fakeStore) SetChargePlan(ctx context.Context, id uuid.UUID, plan models.ChargePlan, smartStatus string) error {
	f.savedPlan = plan
	f.savedStatus = smartStatus
	f.planSaved = true
	return nil
}

func (f *fakeStore) ClearScheduledTrip(ctx context.Context, id uuid.UUID) error {
	f.tripCleared = true
	return nil
}

func (f *fakeStore) EmitAction(ctx context.Context, a *models.Action) error {
	f.actions = append(f.actions, a)
	return nil
}

// fakeCurve 线性曲线：每 1% 固定秒数
type fakeCurve struct {
	secondsPerLevel int
}

func (f *fakeCurve) ChargeDuration(ctx context.Context, vehicleID, locationID uuid.UUID, from, to int) (time.Duration, error) {
	if to <= from {
		return 0, nil
	}
	return time.Duration(to-from) * time.Duration(f.secondsPerLevel) * time.Second, nil
}

type fakeStats struct {
	stats *models.CurrentStats
}

func (f *fakeStats) CurrentStats(ctx context.Context, v *models.Vehicle, locationID uuid.UUID) (*models.CurrentStats, error) {
	return f.stats, nil
}

func testVehicle(level, min, max int) (*models.Vehicle, *models.Location) {
	locID := uuid.New()
	loc := &models.Location{ID: locID, AccountID: uuid.New(), Name: "home", PriceCode: "SE3"}
	v := &models.Vehicle{
		ID:            uuid.New(),
		AccountID:     loc.AccountID,
		Level:         level,
		MinimumCharge: min,
		MaximumCharge: max,
		LocationID:    &locID,
	}
	return v, loc
}

func newTestPlanner(store *fakeStore, curve *fakeCurve, stats *fakeStats, now time.Time) *Planner {
	p := New(store, curve, stats, nil, zap.NewNop())
	p.now = func() time.Time { return now }
	return p
}

func TestRefreshLearningFallback(t *testing.T) {
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	v, loc := testVehicle(50, 50, 90)
	store := &fakeStore{vehicle: v, location: loc}
	stats := &fakeStats{stats: &models.CurrentStats{Threshold: 100}}
	curve := &fakeCurve{secondsPerLevel: 100}

	p := newTestPlanner(store, curve, stats, now)
	require.NoError(t, p.RefreshVehicleChargePlan(context.Background(), v.ID))

	require.True(t, store.planSaved)
	assert.Equal(t, statusLearning, store.savedStatus)
	require.Len(t, store.savedPlan, 1)

	seg := store.savedPlan[0]
	assert.Nil(t, seg.ChargeStart)
	require.NotNil(t, seg.ChargeStop)
	assert.Equal(t, now.Add(40*100*time.Second), *seg.ChargeStop)
	assert.Equal(t, 90, seg.Level)
	assert.Equal(t, models.ChargeTypeFill, seg.ChargeType)
	assert.Equal(t, "learning", seg.Comment)
}

func TestRefreshEmergencyFirst(t *testing.T) {
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	v, loc := testVehicle(20, 50, 90)
	lct := 60.0
	avg7 := 10.0
	depart := 7 * 3600.0 // 07:00
	store := &fakeStore{
		vehicle:       v,
		location:      loc,
		maxCurveLevel: 100,
		pred:          &repository.RoutinePrediction{AvgUsed7: &avg7, DepartSecondsOfDay: &depart},
	}
	for h := 0; h < 12; h++ {
		store.prices = append(store.prices, models.PricePoint{
			PriceCode: "SE3",
			TS:        now.Add(time.Duration(h+1) * time.Hour).Truncate(time.Hour),
			Price:     int64(100000 + h*1000),
		})
	}
	stats := &fakeStats{stats: &models.CurrentStats{
		LevelChargeTime:  &lct,
		WeeklyAvg7Price:  100000,
		WeeklyAvg21Price: 100000,
		Threshold:        100,
	}}
	curve := &fakeCurve{secondsPerLevel: 60}

	p := newTestPlanner(store, curve, stats, now)
	require.NoError(t, p.RefreshVehicleChargePlan(context.Background(), v.ID))

	require.True(t, store.planSaved)
	assert.Equal(t, statusEnabled, store.savedStatus)
	require.NotEmpty(t, store.savedPlan)

	first := store.savedPlan[0]
	assert.Nil(t, first.ChargeStart)
	assert.Equal(t, models.ChargeTypeMinimum, first.ChargeType)
	assert.Equal(t, 50, first.Level)
	require.NotNil(t, first.ChargeStop)
	assert.Equal(t, now.Add(30*60*time.Second), *first.ChargeStop)
}

func TestRefreshCalibration(t *testing.T) {
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	v, loc := testVehicle(80, 50, 90)
	store := &fakeStore{vehicle: v, location: loc, maxCurveLevel: 95}
	stats := &fakeStats{stats: &models.CurrentStats{Threshold: 100}}

	p := newTestPlanner(store, &fakeCurve{secondsPerLevel: 60}, stats, now)
	require.NoError(t, p.RefreshVehicleChargePlan(context.Background(), v.ID))

	assert.Equal(t, statusCalibration, store.savedStatus)
	require.Len(t, store.savedPlan, 1)
	seg := store.savedPlan[0]
	assert.Nil(t, seg.ChargeStart)
	assert.Nil(t, seg.ChargeStop)
	assert.Equal(t, 100, seg.Level)
	assert.Equal(t, models.ChargeTypeCalibrate, seg.ChargeType)
	assert.Equal(t, "Charge calibration", seg.Comment)
}

func TestRefreshScheduledTrip(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	v, loc := testVehicle(60, 50, 90)
	tripLevel := 80
	tripTime := now.Add(4 * time.Hour)
	v.TripLevel = &tripLevel
	v.TripTime = &tripTime

	lct := 60.0
	store := &fakeStore{vehicle: v, location: loc, maxCurveLevel: 100}
	stats := &fakeStats{stats: &models.CurrentStats{
		LevelChargeTime:  &lct,
		WeeklyAvg7Price:  100000,
		WeeklyAvg21Price: 100000,
		Threshold:        100,
	}}
	curve := &fakeCurve{secondsPerLevel: 60}

	p := newTestPlanner(store, curve, stats, now)
	require.NoError(t, p.RefreshVehicleChargePlan(context.Background(), v.ID))

	require.True(t, store.planSaved)

	// 出发前 15 分钟减去补电耗时
	topup := 20 * 60 * time.Second
	topupStart := tripTime.Add(-15*time.Minute - topup)
	var found bool
	for _, seg := range store.savedPlan {
		if seg.ChargeType == models.ChargeTypeTrip && seg.Level == 80 {
			require.NotNil(t, seg.ChargeStart)
			assert.Equal(t, topupStart, *seg.ChargeStart)
			found = true
		}
	}
	assert.True(t, found, "expected trip top-up segment in %+v", store.savedPlan)
}

func TestRefreshExpiredTripCleared(t *testing.T) {
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	v, loc := testVehicle(80, 50, 90)
	tripLevel := 90
	tripTime := now.Add(-2 * time.Hour)
	v.TripLevel = &tripLevel
	v.TripTime = &tripTime

	store := &fakeStore{vehicle: v, location: loc, maxCurveLevel: 100}
	stats := &fakeStats{stats: &models.CurrentStats{Threshold: 100}}

	p := newTestPlanner(store, &fakeCurve{secondsPerLevel: 60}, stats, now)
	require.NoError(t, p.RefreshVehicleChargePlan(context.Background(), v.ID))

	assert.True(t, store.tripCleared)
}

func TestRefreshNoLocation(t *testing.T) {
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	v, _ := testVehicle(60, 50, 90)
	v.LocationID = nil
	existing := models.ChargePlan{
		{Level: 50, ChargeType: models.ChargeTypeMinimum, Comment: "emergency charge"},
	}
	v.ChargePlan = existing

	store := &fakeStore{vehicle: v}
	p := newTestPlanner(store, &fakeCurve{secondsPerLevel: 60}, &fakeStats{}, now)
	require.NoError(t, p.RefreshVehicleChargePlan(context.Background(), v.ID))

	// 不在已知地点：计划原样保留，智能状态清空
	assert.Equal(t, existing, store.savedPlan)
	assert.Equal(t, "", store.savedStatus)
}

func TestRefreshEmitsAction(t *testing.T) {
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	v, loc := testVehicle(50, 50, 90)
	store := &fakeStore{vehicle: v, location: loc}
	p := newTestPlanner(store, &fakeCurve{secondsPerLevel: 100}, &fakeStats{stats: &models.CurrentStats{Threshold: 100}}, now)

	require.NoError(t, p.RefreshVehicleChargePlan(context.Background(), v.ID))

	require.Len(t, store.actions, 1)
	assert.Equal(t, v.ID, store.actions[0].TargetID)
	assert.Equal(t, "charge_plan_updated", store.actions[0].Action)
}

func TestGenerateChargePlanCheapestHours(t *testing.T) {
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	v, loc := testVehicle(70, 50, 90)
	cheap := now.Add(5 * time.Hour)
	store := &fakeStore{
		vehicle:  v,
		location: loc,
		prices: []models.PricePoint{
			{PriceCode: "SE3", TS: now.Add(1 * time.Hour), Price: 300000},
			{PriceCode: "SE3", TS: now.Add(2 * time.Hour), Price: 200000},
			{PriceCode: "SE3", TS: cheap, Price: 100000},
		},
	}
	p := newTestPlanner(store, &fakeCurve{secondsPerLevel: 90}, &fakeStats{}, now)

	segs, err := p.generateChargePlan(context.Background(), v, loc, now, 90, models.ChargeTypeRoutine, "routine charge", now.Add(12*time.Hour), nil)
	require.NoError(t, err)

	// 20 级 × 90 秒 = 30 分钟，全部落在最便宜的小时里
	require.Len(t, segs, 1)
	require.NotNil(t, segs[0].ChargeStart)
	assert.Equal(t, cheap, *segs[0].ChargeStart)
	assert.Equal(t, cheap.Add(30*time.Minute), *segs[0].ChargeStop)
	assert.Equal(t, models.ChargeTypeRoutine, segs[0].ChargeType)
}

func TestGenerateChargePlanMaxPriceStops(t *testing.T) {
	now := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	v, loc := testVehicle(70, 50, 90)
	store := &fakeStore{
		vehicle:  v,
		location: loc,
		prices: []models.PricePoint{
			{PriceCode: "SE3", TS: now.Add(1 * time.Hour), Price: 300000},
			{PriceCode: "SE3", TS: now.Add(2 * time.Hour), Price: 200000},
		},
	}
	p := newTestPlanner(store, &fakeCurve{secondsPerLevel: 90}, &fakeStats{}, now)

	maxPrice := 150000.0
	segs, err := p.generateChargePlan(context.Background(), v, loc, now, 90, models.ChargeTypeFill, "low price", now.Add(12*time.Hour), &maxPrice)
	require.NoError(t, err)
	assert.Empty(t, segs)
}
