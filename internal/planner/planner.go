package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evsched/evsched/internal/models"
	"github.com/evsched/evsched/internal/repository"
)

// planHorizon 没有日常预测时的计划视界
const planHorizon = 36 * time.Hour

// tripMargin 预定行程出发前的预留缓冲
const tripMargin = 15 * time.Minute

// 智能状态文案
const (
	statusEnabled     = "Smart charging enabled"
	statusLearning    = "Smart charging disabled (still learning)"
	statusCalibration = "Charge calibration needed"
	statusPaused      = "Smart charging paused"
)

// Store 规划器需要的持久化操作
type Store interface {
	GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error)
	GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error)
	MaxCurveLevel(ctx context.Context, vehicleID, locationID uuid.UUID) (int, error)
	PredictRoutine(ctx context.Context, vehicleID, locationID uuid.UUID, now time.Time) (*repository.RoutinePrediction, error)
	PricesForPlan(ctx context.Context, priceCode string, from, before time.Time) ([]models.PricePoint, error)
	SetChargePlan(ctx context.Context, id uuid.UUID, plan models.ChargePlan, smartStatus string) error
	ClearScheduledTrip(ctx context.Context, id uuid.UUID) error
	EmitAction(ctx context.Context, a *models.Action) error
}

// DurationEstimator 充电耗时估计
type DurationEstimator interface {
	ChargeDuration(ctx context.Context, vehicleID, locationID uuid.UUID, from, to int) (time.Duration, error)
}

// StatsProvider 阈值统计来源
type StatsProvider interface {
	CurrentStats(ctx context.Context, v *models.Vehicle, locationID uuid.UUID) (*models.CurrentStats, error)
}

// Broadcaster 计划更新推送
type Broadcaster interface {
	BroadcastPlanUpdate(vehicleID uuid.UUID, plan models.ChargePlan, smartStatus string)
}

// Planner 为单辆车生成充电计划
type Planner struct {
	store   Store
	curve   DurationEstimator
	stats   StatsProvider
	hub     Broadcaster
	logger  *zap.Logger
	now     func() time.Time
}

// New 创建规划器。hub 可以为 nil。
func New(store Store, curve DurationEstimator, stats StatsProvider, hub Broadcaster, logger *zap.Logger) *Planner {
	return &Planner{
		store:  store,
		curve:  curve,
		stats:  stats,
		hub:    hub,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RefreshVehicleChargePlan 重建车辆的充电计划并持久化。
// 任何失败都保留既有计划不动。
func (p *Planner) RefreshVehicleChargePlan(ctx context.Context, vehicleID uuid.UUID) error {
	now := p.now().UTC()

	v, err := p.store.GetVehicle(ctx, vehicleID)
	if err != nil {
		return fmt.Errorf("refresh plan: %w", err)
	}

	if v.LocationID == nil {
		// 不在已知地点：只清理智能状态，计划原样保留
		return p.store.SetChargePlan(ctx, v.ID, v.ChargePlan, "")
	}
	loc, err := p.store.GetLocation(ctx, *v.LocationID)
	if err != nil {
		return fmt.Errorf("refresh plan location: %w", err)
	}

	if v.PausedUntil != nil && now.Before(*v.PausedUntil) {
		return p.persist(ctx, v, nil, statusPaused)
	}

	// 进行中的应急段跨重规划保留
	var plan models.ChargePlan
	if v.Level < v.MinimumCharge+1 {
		for _, seg := range v.ChargePlan {
			if seg.ChargeStart == nil {
				plan = append(plan, seg)
			}
		}
	}

	// 已有部分曲线但未覆盖到 100% 时先做一次校准满充；
	// 完全没有曲线的车走学习路径
	maxLevel, err := p.store.MaxCurveLevel(ctx, v.ID, loc.ID)
	if err != nil {
		return fmt.Errorf("max curve level: %w", err)
	}
	if v.Level < v.MaximumCharge && maxLevel > 0 && maxLevel < 100 {
		plan = models.ChargePlan{{
			Level:      100,
			ChargeType: models.ChargeTypeCalibrate,
			Comment:    "Charge calibration",
		}}
		return p.persist(ctx, v, plan, statusCalibration)
	}

	stats, err := p.stats.CurrentStats(ctx, v, loc.ID)
	if err != nil {
		return fmt.Errorf("current stats: %w", err)
	}

	// 应急最低电量
	if v.Level < v.MinimumCharge {
		dur, err := p.curve.ChargeDuration(ctx, v.ID, loc.ID, v.Level, v.MinimumCharge)
		if err != nil {
			return fmt.Errorf("emergency duration: %w", err)
		}
		stop := now.Add(dur)
		plan = append(plan, models.ChargePlanSegment{
			ChargeStop: &stop,
			Level:      v.MinimumCharge,
			ChargeType: models.ChargeTypeMinimum,
			Comment:    "emergency charge",
		})
	}

	// 日常预测
	minimumLevel := v.MinimumCharge
	disconnect := now.Add(planHorizon)
	learning := true
	if stats.LevelChargeTime != nil {
		pred, err := p.store.PredictRoutine(ctx, v.ID, loc.ID, now)
		if err != nil {
			return fmt.Errorf("predict routine: %w", err)
		}
		charge, haveCharge := predictedCharge(pred)
		if haveCharge && pred.DepartSecondsOfDay != nil {
			learning = false
			minimumLevel = v.MinimumCharge + int(math.Round(charge)) + 5
			if minimumLevel > v.MaximumCharge {
				minimumLevel = v.MaximumCharge
			}
			dur, err := p.curve.ChargeDuration(ctx, v.ID, loc.ID, v.Level, minimumLevel)
			if err != nil {
				return fmt.Errorf("routine duration: %w", err)
			}
			before := projectDepart(now, *pred.DepartSecondsOfDay)
			if before.Before(now.Add(dur / 2)) {
				before = before.Add(24 * time.Hour)
			}
			segs, err := p.generateChargePlan(ctx, v, loc, now, minimumLevel, models.ChargeTypeRoutine, "routine charge", before, nil)
			if err != nil {
				return err
			}
			plan = append(plan, segs...)
			disconnect = before
		}
	}

	smartStatus := statusEnabled
	if learning {
		segs, err := p.generateChargePlan(ctx, v, loc, now, v.MaximumCharge, models.ChargeTypeFill, "learning", disconnect, nil)
		if err != nil {
			return err
		}
		plan = append(plan, segs...)
		smartStatus = statusLearning
	}

	// 用户偏好：学习期不叠加
	if !learning && v.AnxietyLevel >= 1 {
		target := v.MaximumCharge
		if v.AnxietyLevel == 1 {
			target = (minimumLevel + v.MaximumCharge) / 2
		}
		segs, err := p.generateChargePlan(ctx, v, loc, now, target, models.ChargeTypePrefered, "charge setting", disconnect, nil)
		if err != nil {
			return err
		}
		plan = append(plan, segs...)
	}

	// 预定行程
	if v.TripLevel != nil && v.TripTime != nil {
		tripTime := v.TripTime.UTC()
		switch {
		case now.After(tripTime.Add(time.Hour)):
			if err := p.store.ClearScheduledTrip(ctx, v.ID); err != nil {
				return fmt.Errorf("clear trip: %w", err)
			}
		case !now.Before(tripTime.Add(-36 * time.Hour)):
			departLevel := *v.TripLevel
			prepareLevel := departLevel
			if prepareLevel > v.MaximumCharge {
				prepareLevel = v.MaximumCharge
			}
			if v.Level > prepareLevel {
				prepareLevel = v.Level
			}
			var topup time.Duration
			if departLevel > v.Level {
				topup, err = p.curve.ChargeDuration(ctx, v.ID, loc.ID, v.Level, departLevel)
				if err != nil {
					return fmt.Errorf("topup duration: %w", err)
				}
			}
			topupStart := tripTime.Add(-tripMargin - topup)
			segs, err := p.generateChargePlan(ctx, v, loc, now, prepareLevel, models.ChargeTypeTrip, "upcoming trip", topupStart, nil)
			if err != nil {
				return err
			}
			plan = append(plan, segs...)
			if topup > 0 {
				start := topupStart
				plan = append(plan, models.ChargePlanSegment{
					ChargeStart: &start,
					Level:       departLevel,
					ChargeType:  models.ChargeTypeTrip,
					Comment:     "topping up before trip",
				})
			}
			if topupStart.After(disconnect) {
				disconnect = topupStart
			}
		}
	}

	// 低价填充
	average := stats.WeeklyAvg7Price + (stats.WeeklyAvg7Price-stats.WeeklyAvg21Price)/2
	thresholdPrice := average * float64(stats.Threshold) / 100
	segs, err := p.generateChargePlan(ctx, v, loc, now, v.MaximumCharge, models.ChargeTypeFill, "low price", disconnect, &thresholdPrice)
	if err != nil {
		return err
	}
	plan = append(plan, segs...)

	final := cleanupPlan(plan)
	if len(final) == 0 {
		final = nil
	}
	return p.persist(ctx, v, final, smartStatus)
}

// generateChargePlan 在 before 之前的时段里按电价从低到高分配充电时间
func (p *Planner) generateChargePlan(ctx context.Context, v *models.Vehicle, loc *models.Location, now time.Time, targetLevel int, typ models.ChargeType, comment string, before time.Time, maxPrice *float64) (models.ChargePlan, error) {
	timeNeeded, err := p.curve.ChargeDuration(ctx, v.ID, loc.ID, v.Level, targetLevel)
	if err != nil {
		return nil, fmt.Errorf("charge duration: %w", err)
	}
	if timeNeeded <= 0 {
		return nil, nil
	}

	prices, err := p.store.PricesForPlan(ctx, loc.PriceCode, now.Add(-time.Hour), before)
	if err != nil {
		return nil, fmt.Errorf("prices for plan: %w", err)
	}
	if len(prices) == 0 {
		// 无电价数据：从现在起连续充到目标
		stop := now.Add(timeNeeded)
		return models.ChargePlan{{
			ChargeStop: &stop,
			Level:      targetLevel,
			ChargeType: typ,
			Comment:    comment,
		}}, nil
	}

	var segs models.ChargePlan
	timeLeft := timeNeeded
	for _, pt := range prices {
		if maxPrice != nil && float64(pt.Price) > *maxPrice {
			break
		}
		tsStart := pt.TS
		if tsStart.Before(now) {
			tsStart = now
		}
		end := tsStart.Add(timeLeft)
		if before.Before(end) {
			end = before
		}
		if hourEnd := pt.TS.Add(time.Hour); hourEnd.Before(end) {
			end = hourEnd
		}
		if !end.After(tsStart) {
			continue
		}

		var start *time.Time
		if !pt.TS.Before(now) {
			ts := pt.TS
			start = &ts
		}
		stop := end
		segs = append(segs, models.ChargePlanSegment{
			ChargeStart: start,
			ChargeStop:  &stop,
			Level:       targetLevel,
			ChargeType:  typ,
			Comment:     comment,
		})
		timeLeft -= end.Sub(tsStart)
		if timeLeft <= 0 {
			break
		}
	}
	return segs, nil
}

// persist 落库计划并向外发布
func (p *Planner) persist(ctx context.Context, v *models.Vehicle, plan models.ChargePlan, smartStatus string) error {
	if err := p.store.SetChargePlan(ctx, v.ID, plan, smartStatus); err != nil {
		return fmt.Errorf("set charge plan: %w", err)
	}

	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	action := &models.Action{
		TargetID:     v.ID,
		ProviderName: "core",
		Action:       "charge_plan_updated",
		Data:         models.ProviderData(data),
	}
	if err := p.store.EmitAction(ctx, action); err != nil {
		p.logger.Warn("计划更新动作落库失败",
			zap.String("vehicle_id", v.ID.String()),
			zap.Error(err))
	}

	if p.hub != nil {
		p.hub.BroadcastPlanUpdate(v.ID, plan, smartStatus)
	}
	p.logger.Info("充电计划已更新",
		zap.String("vehicle_id", v.ID.String()),
		zap.Int("segments", len(plan)),
		zap.String("smart_status", smartStatus))
	return nil
}

// predictedCharge 取 7 日均值与历史 0.6 分位中的较大者
func predictedCharge(pred *repository.RoutinePrediction) (float64, bool) {
	var charge float64
	var have bool
	if pred.AvgUsed7 != nil {
		charge = *pred.AvgUsed7
		have = true
	}
	if pred.UsedP60 != nil && (!have || *pred.UsedP60 > charge) {
		charge = *pred.UsedP60
		have = true
	}
	return charge, have
}

// projectDepart 把"当日零点起秒数"投影到今天
func projectDepart(now time.Time, secondsOfDay float64) time.Time {
	day := now.Truncate(24 * time.Hour)
	return day.Add(time.Duration(secondsOfDay) * time.Second)
}
