package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/evsched/evsched/internal/models"
)

// 领域操作的扁平入口。引擎侧以窄接口消费这些方法，便于在测试中替换。

func (g *Gateway) GetVehicle(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	return g.Vehicles.Get(ctx, id)
}

func (g *Gateway) ListVehiclesByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Vehicle, error) {
	return g.Vehicles.ListByAccount(ctx, accountID)
}

func (g *Gateway) ListVehiclesByPriceCode(ctx context.Context, priceCode string) ([]*models.Vehicle, error) {
	return g.Vehicles.ListByPriceCode(ctx, priceCode)
}

func (g *Gateway) UpdateVehicleConfig(ctx context.Context, v *models.Vehicle) error {
	return g.Vehicles.UpdateConfig(ctx, v)
}

func (g *Gateway) SetChargePlan(ctx context.Context, id uuid.UUID, plan models.ChargePlan, smartStatus string) error {
	return g.Vehicles.SetChargePlan(ctx, id, plan, smartStatus)
}

func (g *Gateway) ClearScheduledTrip(ctx context.Context, id uuid.UUID) error {
	return g.Vehicles.ClearScheduledTrip(ctx, id)
}

func (g *Gateway) GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	return g.Locations.Get(ctx, id)
}

func (g *Gateway) GetLocations(ctx context.Context, accountID uuid.UUID) ([]*models.Location, error) {
	return g.Locations.ListByAccount(ctx, accountID)
}

func (g *Gateway) LookupKnownLocation(ctx context.Context, accountID uuid.UUID, latMicro, lonMicro int64) (*models.Location, error) {
	return g.Locations.LookupKnown(ctx, accountID, latMicro, lonMicro)
}

func (g *Gateway) UpdatePriceList(ctx context.Context, priceCode string, points []models.PricePoint) error {
	return g.Prices.Update(ctx, priceCode, points)
}

func (g *Gateway) LatestPriceTS(ctx context.Context, priceCode string) (time.Time, error) {
	return g.Prices.LatestTS(ctx, priceCode)
}

func (g *Gateway) EarliestPriceTS(ctx context.Context, priceCode string) (time.Time, error) {
	return g.Prices.EarliestTS(ctx, priceCode)
}

func (g *Gateway) PricesSince(ctx context.Context, priceCode string, since time.Time) ([]models.PricePoint, error) {
	return g.Prices.ListSince(ctx, priceCode, since)
}

func (g *Gateway) PricesForPlan(ctx context.Context, priceCode string, from, before time.Time) ([]models.PricePoint, error) {
	return g.Prices.ListForPlan(ctx, priceCode, from, before)
}

func (g *Gateway) PriceAverages(ctx context.Context, priceCode string, now time.Time) (avg7, avg21 float64, err error) {
	return g.Prices.Averages(ctx, priceCode, now)
}

func (g *Gateway) PriceAt(ctx context.Context, priceCode string, ts time.Time) (int64, error) {
	return g.Prices.At(ctx, priceCode, ts)
}

func (g *Gateway) GetConnection(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	return g.Connections.Get(ctx, id)
}

func (g *Gateway) ClosedConnectionsSince(ctx context.Context, vehicleID uuid.UUID, since time.Time) ([]*models.Connection, error) {
	return g.Connections.ListClosedSince(ctx, vehicleID, since)
}

func (g *Gateway) ConnectionChargedSeconds(ctx context.Context, connectedID uuid.UUID) (float64, error) {
	return g.Connections.ChargedSeconds(ctx, connectedID)
}

func (g *Gateway) GetCharge(ctx context.Context, id uuid.UUID) (*models.Charge, error) {
	return g.Charges.Get(ctx, id)
}

func (g *Gateway) GetChargeCurrent(ctx context.Context, chargeID uuid.UUID) (*models.ChargeCurrent, error) {
	return g.Charges.GetCurrent(ctx, chargeID)
}

func (g *Gateway) CreateChargeCurrent(ctx context.Context, cc *models.ChargeCurrent) error {
	return g.Charges.CreateCurrent(ctx, cc)
}

func (g *Gateway) AppendChargeSample(ctx context.Context, chargeID uuid.UUID, power float64, outsideDeciTemp int64) error {
	return g.Charges.AppendCurrentSample(ctx, chargeID, power, outsideDeciTemp)
}

func (g *Gateway) ResetChargeCurrent(ctx context.Context, cc *models.ChargeCurrent) error {
	return g.Charges.ResetCurrent(ctx, cc)
}

func (g *Gateway) DeleteChargeCurrent(ctx context.Context, chargeID uuid.UUID) error {
	return g.Charges.DeleteCurrent(ctx, chargeID)
}

func (g *Gateway) SetChargeCurve(ctx context.Context, c *models.ChargeCurve) error {
	return g.Curves.Set(ctx, c)
}

func (g *Gateway) GetChargeCurve(ctx context.Context, vehicleID, locationID uuid.UUID) (map[int]*models.ChargeCurve, error) {
	return g.Curves.Get(ctx, vehicleID, locationID)
}

func (g *Gateway) MaxCurveLevel(ctx context.Context, vehicleID, locationID uuid.UUID) (int, error) {
	return g.Curves.MaxLevel(ctx, vehicleID, locationID)
}

func (g *Gateway) MedianCurveDuration(ctx context.Context, vehicleID, locationID uuid.UUID) (*float64, error) {
	return g.Curves.MedianDuration(ctx, vehicleID, locationID)
}

func (g *Gateway) GetTrip(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	return g.Trips.Get(ctx, id)
}

func (g *Gateway) UpsertEventMap(ctx context.Context, e *models.EventMapRow) error {
	return g.Events.Upsert(ctx, e)
}

func (g *Gateway) InsertStats(ctx context.Context, s *models.CurrentStats) error {
	return g.Stats.Insert(ctx, s)
}

func (g *Gateway) LatestStats(ctx context.Context, vehicleID, locationID uuid.UUID) (*models.CurrentStats, error) {
	return g.Stats.Latest(ctx, vehicleID, locationID)
}

func (g *Gateway) PredictRoutine(ctx context.Context, vehicleID, locationID uuid.UUID, now time.Time) (*RoutinePrediction, error) {
	return g.Stats.PredictRoutine(ctx, vehicleID, locationID, now)
}

func (g *Gateway) EmitAction(ctx context.Context, a *models.Action) error {
	return g.Actions.Emit(ctx, a)
}

// VehicleDataCommit 一次遥测样本的规范状态变更，整体在单个事务内提交
type VehicleDataCommit struct {
	Vehicle *models.Vehicle

	CreateConnection *models.Connection
	UpdateConnection *models.Connection

	CreateCharge *models.Charge
	UpdateCharge *models.Charge

	CreateTrip *models.Trip
	UpdateTrip *models.Trip
	DeleteTrip *uuid.UUID

	DeleteChargeCurrent *uuid.UUID

	// 拔枪时计划随连接一起失效
	ClearChargePlan bool
	SmartStatus     string
}

// CommitVehicleData 事务提交车辆行与其关联子行
func (g *Gateway) CommitVehicleData(ctx context.Context, u *VehicleDataCommit) error {
	return g.Tx(ctx, func(tx *Gateway) error {
		if u.CreateConnection != nil {
			if err := tx.Connections.Create(ctx, u.CreateConnection); err != nil {
				return err
			}
		}
		if u.UpdateConnection != nil {
			if err := tx.Connections.Update(ctx, u.UpdateConnection); err != nil {
				return err
			}
		}
		if u.CreateCharge != nil {
			if err := tx.Charges.Create(ctx, u.CreateCharge); err != nil {
				return err
			}
		}
		if u.UpdateCharge != nil {
			if err := tx.Charges.Update(ctx, u.UpdateCharge); err != nil {
				return err
			}
		}
		if u.CreateTrip != nil {
			if err := tx.Trips.Create(ctx, u.CreateTrip); err != nil {
				return err
			}
		}
		if u.UpdateTrip != nil {
			if err := tx.Trips.Update(ctx, u.UpdateTrip); err != nil {
				return err
			}
		}
		if u.DeleteTrip != nil {
			if err := tx.Trips.Delete(ctx, *u.DeleteTrip); err != nil {
				return err
			}
		}
		if u.DeleteChargeCurrent != nil {
			if err := tx.Charges.DeleteCurrent(ctx, *u.DeleteChargeCurrent); err != nil {
				return err
			}
		}
		if u.ClearChargePlan {
			if err := tx.Vehicles.SetChargePlan(ctx, u.Vehicle.ID, nil, u.SmartStatus); err != nil {
				return err
			}
		}
		return tx.Vehicles.UpdateSample(ctx, u.Vehicle)
	})
}
