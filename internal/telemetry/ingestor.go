package telemetry

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
	"github.com/evsched/evsched/internal/state"
)

// shortTripMeters 低于该里程的行程视为挪车，不入库
const shortTripMeters = 1000

// maxEventGap 超过该间隔的样本不再计入小时桶，视为采样中断
const maxEventGap = 3 * time.Hour

// Sample 厂商适配器上报的一次遥测样本
type Sample struct {
	ID                 uuid.UUID `json:"id" binding:"required"`
	Lat                float64   `json:"lat"`
	Lon                float64   `json:"lon"`
	BatteryLevel       int       `json:"batteryLevel"`
	Odometer           int64     `json:"odometer"` // m
	OutsideTemperature *float64  `json:"outsideTemperature"` // ℃
	InsideTemperature  *float64  `json:"insideTemperature"`  // ℃
	ClimateControl     bool      `json:"climateControl"`
	IsDriving          bool      `json:"isDriving"`
	ConnectedCharger   *string   `json:"connectedCharger"` // ac|dc，null 表示未插枪
	ChargingTo         *int      `json:"chargingTo"`
	EstimatedTimeLeft  *int      `json:"estimatedTimeLeft"` // min
	PowerUse           float64   `json:"powerUse"`    // kW
	EnergyAdded        float64   `json:"energyAdded"` // kWh
}

// Store 摄取流程需要的持久化操作
type Store interface {
	GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error)
	LookupKnownLocation(ctx context.Context, accountID uuid.UUID, latMicro, lonMicro int64) (*models.Location, error)
	GetConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error)
	ConnectionChargedSeconds(ctx context.Context, connectedID uuid.UUID) (float64, error)
	GetCharge(ctx context.Context, id uuid.UUID) (*models.Charge, error)
	GetTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error)
	PriceAt(ctx context.Context, priceCode string, ts time.Time) (int64, error)
	UpsertEventMap(ctx context.Context, e *models.EventMapRow) error
	CommitVehicleData(ctx context.Context, u *repository.VehicleDataCommit) error
}

// CurveLearner 充电曲线学习入口
type CurveLearner interface {
	Observe(ctx context.Context, charge *models.Charge, level int, added, power float64, outsideDeciTemp *int, now time.Time) error
}

// StatsRefresher 拔枪后重算阈值统计
type StatsRefresher interface {
	CreateNewStats(ctx context.Context, v *models.Vehicle, locationID uuid.UUID) (*models.CurrentStats, error)
}

// Replanner 触发车辆重规划
type Replanner interface {
	Refresh(vehicleID uuid.UUID)
}

// Ingestor 遥测样本摄取器：驱动连接、充电、行程三个状态机
type Ingestor struct {
	store    Store
	learner  CurveLearner
	stats    StatsRefresher
	replan   Replanner
	machines *state.Manager
	logger   *zap.Logger
	now      func() time.Time
}

// NewIngestor 创建摄取器
func NewIngestor(store Store, learner CurveLearner, stats StatsRefresher, replan Replanner, machines *state.Manager, logger *zap.Logger) *Ingestor {
	return &Ingestor{
		store:    store,
		learner:  learner,
		stats:    stats,
		replan:   replan,
		machines: machines,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Ingest 处理一次样本。样本内的持久化失败整体放弃本次样本，
// 车辆行与子行的规范变更在单个事务内提交。
func (i *Ingestor) Ingest(ctx context.Context, s *Sample) error {
	now := i.now().UTC()

	v, err := i.store.GetVehicle(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("ingest vehicle %s: %w", s.ID, err)
	}

	prevLevel := v.Level
	prevOdometer := v.Odometer
	prevUpdated := v.Updated
	prevLocationID := v.LocationID

	v.LatMicro = int64(math.Round(s.Lat * 1e6))
	v.LonMicro = int64(math.Round(s.Lon * 1e6))
	v.Level = s.BatteryLevel
	v.Odometer = s.Odometer
	v.OutsideDeciTemp = deciTemp(s.OutsideTemperature)
	v.InsideDeciTemp = deciTemp(s.InsideTemperature)
	v.ClimateOn = s.ClimateControl
	v.Driving = s.IsDriving
	v.ChargingTo = s.ChargingTo
	v.Estimate = s.EstimatedTimeLeft

	connected := s.ConnectedCharger != nil
	charging := connected && s.ChargingTo != nil
	v.Connected = connected

	powerW := s.PowerUse * 1000
	addedWm := s.EnergyAdded * 60000

	loc, err := i.store.LookupKnownLocation(ctx, v.AccountID, v.LatMicro, v.LonMicro)
	if err != nil {
		return fmt.Errorf("lookup location: %w", err)
	}
	if loc != nil {
		id := loc.ID
		v.LocationID = &id
	} else {
		v.LocationID = nil
	}

	commit := &repository.VehicleDataCommit{Vehicle: v}
	var doReplan, refreshStats bool
	var closedLocationID uuid.UUID

	// 连接状态机
	switch {
	case connected && v.ConnectedID == nil:
		if loc == nil {
			i.logger.Warn("未知地点插枪，连接不入库",
				zap.String("vehicle_id", v.ID.String()))
		} else {
			conn := &models.Connection{
				ID:         uuid.New(),
				VehicleID:  v.ID,
				LocationID: loc.ID,
				Type:       *s.ConnectedCharger,
				StartTS:    now,
				EndTS:      now,
				StartLevel: v.Level,
				EndLevel:   v.Level,
				Connected:  true,
			}
			commit.CreateConnection = conn
			v.ConnectedID = &conn.ID
			doReplan = true
		}

	case !connected && v.ConnectedID != nil:
		conn, err := i.store.GetConnection(ctx, *v.ConnectedID)
		if err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
		conn.EndTS = now
		conn.EndLevel = v.Level
		conn.Connected = false
		commit.UpdateConnection = conn
		if v.ChargeID != nil {
			chargeID := *v.ChargeID
			commit.DeleteChargeCurrent = &chargeID
			v.ChargeID = nil
		}
		v.ConnectedID = nil
		v.ChargePlan = nil
		commit.ClearChargePlan = true
		refreshStats = true
		closedLocationID = conn.LocationID
	}

	// 充电状态机
	var deltaUsed float64
	if v.ConnectedID != nil {
		switch {
		case charging && v.ChargeID == nil:
			charge := &models.Charge{
				ID:          uuid.New(),
				ConnectedID: *v.ConnectedID,
				VehicleID:   v.ID,
				Type:        derefString(s.ConnectedCharger),
				StartTS:     now,
				EndTS:       now,
				StartLevel:  v.Level,
				EndLevel:    v.Level,
				StartAdded:  addedWm,
				EndAdded:    addedWm,
				TargetLevel: derefInt(s.ChargingTo),
				Estimate:    derefInt(s.EstimatedTimeLeft),
			}
			if loc != nil {
				charge.LocationID = loc.ID
			}
			commit.CreateCharge = charge
			v.ChargeID = &charge.ID
			doReplan = true

		case charging && v.ChargeID != nil:
			charge, err := i.store.GetCharge(ctx, *v.ChargeID)
			if err != nil {
				return fmt.Errorf("update charge: %w", err)
			}
			conn := commit.CreateConnection
			if conn == nil {
				if conn, err = i.store.GetConnection(ctx, *v.ConnectedID); err != nil {
					return fmt.Errorf("update charge connection: %w", err)
				}
			}

			deltaTime := now.Sub(charge.EndTS).Seconds()
			deltaUsed = powerW * deltaTime / 60
			if deltaUsed < 0 {
				deltaUsed = 0
			}

			if loc != nil && deltaUsed > 0 {
				priceNow, err := i.priceAtOrZero(ctx, loc.PriceCode, now)
				if err != nil {
					return err
				}
				// 节省额以"若从插枪起持续充电"的虚拟时刻电价为基准。
				// 已入库的充电秒数包含本次充电到上一个样本为止的部分，
				// 这里只补上一个样本之后的增量，避免重复计入。
				charged, err := i.store.ConnectionChargedSeconds(ctx, conn.ID)
				if err != nil {
					return fmt.Errorf("charged seconds: %w", err)
				}
				virtual := conn.StartTS.Add(time.Duration(charged+deltaTime) * time.Second)
				priceThen, err := i.priceAtOrZero(ctx, loc.PriceCode, virtual)
				if err != nil {
					return err
				}
				kwh := deltaUsed / 60000
				conn.Cost += float64(priceNow) / 100000 * kwh
				conn.Saved += float64(priceThen-priceNow) / 100000 * kwh
			}

			charge.EndTS = now
			charge.EndLevel = v.Level
			charge.EndAdded = addedWm
			charge.EnergyUsed += deltaUsed
			charge.TargetLevel = derefInt(s.ChargingTo)
			charge.Estimate = derefInt(s.EstimatedTimeLeft)
			commit.UpdateCharge = charge

			conn.EndTS = now
			conn.EndLevel = v.Level
			conn.EnergyUsed += deltaUsed
			if commit.CreateConnection == nil {
				commit.UpdateConnection = conn
			}

			if err := i.learner.Observe(ctx, charge, v.Level, addedWm, powerW, v.OutsideDeciTemp, now); err != nil {
				return fmt.Errorf("curve observe: %w", err)
			}

		case !charging && v.ChargeID != nil:
			charge, err := i.store.GetCharge(ctx, *v.ChargeID)
			if err != nil {
				return fmt.Errorf("close charge: %w", err)
			}
			charge.EndLevel = v.Level
			commit.UpdateCharge = charge
			chargeID := *v.ChargeID
			commit.DeleteChargeCurrent = &chargeID
			v.ChargeID = nil
			doReplan = true
		}
	}

	// 行程状态机。驶离或换了地点但没带行驶标志的样本（漏采）同样开行程
	moved := !sameLocation(prevLocationID, v.LocationID)
	switch {
	case v.TripID == nil:
		if s.IsDriving || moved {
			trip := &models.Trip{
				ID:                   uuid.New(),
				VehicleID:            v.ID,
				StartTS:              now,
				EndTS:                now,
				StartLevel:           prevLevel,
				EndLevel:             v.Level,
				StartLocationID:      prevLocationID,
				EndLocationID:        v.LocationID,
				StartOdometer:        prevOdometer,
				StartOutsideDeciTemp: derefInt(v.OutsideDeciTemp),
				Distance:             maxInt64(0, s.Odometer-prevOdometer),
			}
			commit.CreateTrip = trip
			v.TripID = &trip.ID
		}

	// 行程在已知地点落点或插枪时结束；未知地点停车视为中途停留
	case !s.IsDriving && (loc != nil || connected):
		trip, err := i.store.GetTrip(ctx, *v.TripID)
		if err != nil {
			return fmt.Errorf("close trip: %w", err)
		}
		trip.EndTS = now
		trip.EndLevel = v.Level
		trip.EndLocationID = v.LocationID
		trip.Distance = maxInt64(0, s.Odometer-trip.StartOdometer)
		if trip.Distance < shortTripMeters {
			tripID := trip.ID
			commit.DeleteTrip = &tripID
		} else {
			commit.UpdateTrip = trip
		}
		v.TripID = nil
		doReplan = true

	default:
		trip, err := i.store.GetTrip(ctx, *v.TripID)
		if err != nil {
			return fmt.Errorf("update trip: %w", err)
		}
		trip.EndTS = now
		trip.EndLevel = v.Level
		trip.EndLocationID = v.LocationID
		trip.Distance = maxInt64(0, s.Odometer-trip.StartOdometer)
		commit.UpdateTrip = trip
	}

	// 插枪期间连接行每个样本都刷新末端值
	if v.ConnectedID != nil && commit.CreateConnection == nil && commit.UpdateConnection == nil {
		conn, err := i.store.GetConnection(ctx, *v.ConnectedID)
		if err != nil {
			return fmt.Errorf("touch connection: %w", err)
		}
		conn.EndTS = now
		conn.EndLevel = v.Level
		commit.UpdateConnection = conn
	}

	// 小时桶聚合
	deltaTime := now.Sub(prevUpdated)
	if deltaTime > 0 && deltaTime < maxEventGap && !prevUpdated.IsZero() {
		event := &models.EventMapRow{
			VehicleID:    v.ID,
			Hour:         now.Truncate(time.Hour),
			MinimumLevel: v.Level,
			MaximumLevel: v.Level,
		}
		if s.IsDriving {
			event.DrivenSeconds = int64(deltaTime.Seconds())
			event.DrivenMeters = maxInt64(0, s.Odometer-prevOdometer)
		}
		if charging {
			event.ChargedSeconds = int64(deltaTime.Seconds())
			event.ChargeEnergy = deltaUsed
		}
		if err := i.store.UpsertEventMap(ctx, event); err != nil {
			return fmt.Errorf("event map: %w", err)
		}
	}

	target := state.Derive(v.Driving, connected, v.ChargeID != nil)
	machine := i.machines.GetOrCreate(v.ID, v.Status)
	machine.Advance(target)
	v.Status = target

	if connected && v.Level != prevLevel {
		doReplan = true
	}

	v.Updated = now
	if err := i.store.CommitVehicleData(ctx, commit); err != nil {
		return fmt.Errorf("commit vehicle data: %w", err)
	}

	if refreshStats {
		if _, err := i.stats.CreateNewStats(ctx, v, closedLocationID); err != nil {
			i.logger.Warn("拔枪后统计重算失败",
				zap.String("vehicle_id", v.ID.String()),
				zap.Error(err))
		}
	}
	if doReplan {
		i.replan.Refresh(v.ID)
	}
	return nil
}

// priceAtOrZero 没有电价数据时按 0 计费
func (i *Ingestor) priceAtOrZero(ctx context.Context, priceCode string, ts time.Time) (int64, error) {
	price, err := i.store.PriceAt(ctx, priceCode, ts)
	if errors.Is(err, repository.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("price at %s: %w", ts.Format(time.RFC3339), err)
	}
	return price, nil
}

func sameLocation(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func deciTemp(celsius *float64) *int {
	if celsius == nil {
		return nil
	}
	d := int(math.Round(*celsius * 10))
	return &d
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
