package curve

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evsched/evsched/internal/models"
	"github.com/evsched/evsched/internal/repository"
)

// fallbackSecondsPerLevel 无曲线数据时每 1% 电量的保守估计耗时
const fallbackSecondsPerLevel = 100.0

// Store 学习器需要的持久化操作
type Store interface {
	GetChargeCurrent(ctx context.Context, chargeID uuid.UUID) (*models.ChargeCurrent, error)
	CreateChargeCurrent(ctx context.Context, cc *models.ChargeCurrent) error
	AppendChargeSample(ctx context.Context, chargeID uuid.UUID, power float64, outsideDeciTemp int64) error
	ResetChargeCurrent(ctx context.Context, cc *models.ChargeCurrent) error
	SetChargeCurve(ctx context.Context, c *models.ChargeCurve) error
	GetChargeCurve(ctx context.Context, vehicleID, locationID uuid.UUID) (map[int]*models.ChargeCurve, error)
}

// Learner 按 (车辆, 地点, 电量) 学习每 1% 的充电耗时曲线
type Learner struct {
	store  Store
	logger *zap.Logger
}

// NewLearner 创建充电曲线学习器
func NewLearner(store Store, logger *zap.Logger) *Learner {
	return &Learner{store: store, logger: logger}
}

// Observe 处理一个充电中样本：累积功率，电量每整升 1% 时落一个曲线点。
// 充电开始后的第一个 1% 是不完整的百分比，丢弃；一次跨越多于 1% 的
// 跳变说明漏采了样本，同样丢弃。
func (l *Learner) Observe(ctx context.Context, charge *models.Charge, level int, added, power float64, outsideDeciTemp *int, now time.Time) error {
	cc, err := l.store.GetChargeCurrent(ctx, charge.ID)
	if errors.Is(err, repository.ErrNotFound) {
		cc = &models.ChargeCurrent{
			ChargeID:   charge.ID,
			StartTS:    now,
			StartLevel: level,
			StartAdded: added,
		}
		if err := l.store.CreateChargeCurrent(ctx, cc); err != nil {
			return fmt.Errorf("create charge current: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("get charge current: %w", err)
	}

	var temp int64
	if outsideDeciTemp != nil {
		temp = int64(*outsideDeciTemp)
	}
	if err := l.store.AppendChargeSample(ctx, charge.ID, power, temp); err != nil {
		return fmt.Errorf("append charge sample: %w", err)
	}
	cc.Powers = append(cc.Powers, power)
	cc.OutsideDeciTemps = append(cc.OutsideDeciTemps, temp)

	gain := level - cc.StartLevel
	if gain == 0 {
		return nil
	}

	// cc.StartLevel == charge.StartLevel 时这是充电后的第一个百分比
	if gain == 1 && cc.StartLevel > charge.StartLevel {
		duration := now.Sub(cc.StartTS).Seconds()
		point := &models.ChargeCurve{
			VehicleID:   charge.VehicleID,
			LocationID:  charge.LocationID,
			Level:       level,
			Duration:    duration,
			AvgDeciTemp: int(math.Round(meanInt64(cc.OutsideDeciTemps))),
			EnergyUsed:  mean(cc.Powers) * duration / 60,
			EnergyAdded: added - cc.StartAdded,
		}
		if err := l.store.SetChargeCurve(ctx, point); err != nil {
			return fmt.Errorf("set charge curve: %w", err)
		}
		l.logger.Debug("充电曲线点已更新",
			zap.String("vehicle_id", charge.VehicleID.String()),
			zap.Int("level", level),
			zap.Float64("duration", duration))
	} else if gain > 1 {
		l.logger.Debug("电量跳变超过 1%，丢弃该区间",
			zap.String("charge_id", charge.ID.String()),
			zap.Int("gain", gain))
	}

	cc.StartTS = now
	cc.StartLevel = level
	cc.StartAdded = added
	if err := l.store.ResetChargeCurrent(ctx, cc); err != nil {
		return fmt.Errorf("reset charge current: %w", err)
	}
	return nil
}

// ChargeDuration 估算从 from 充到 to 的耗时。缺失的电量点按每 1%
// 100 秒估计；最后一个百分比通常在到达目标前就停了，按 75% 计。
func (l *Learner) ChargeDuration(ctx context.Context, vehicleID, locationID uuid.UUID, from, to int) (time.Duration, error) {
	points, err := l.store.GetChargeCurve(ctx, vehicleID, locationID)
	if err != nil {
		return 0, fmt.Errorf("get charge curve: %w", err)
	}
	var ms float64
	for level := from + 1; level <= to; level++ {
		seconds := fallbackSecondsPerLevel
		if p, ok := points[level]; ok {
			seconds = p.Duration
		}
		factor := 1.0
		if level == to {
			factor = 0.75
		}
		ms += seconds * factor * 1000
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func meanInt64(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}
