package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evsched/evsched/internal/models"
)

// VehicleRepository 车辆数据仓库
type VehicleRepository struct {
	q Querier
}

const vehicleColumns = `id, account_id, name, minimum_charge, maximum_charge, anxiety_level,
	trip_level, trip_time, paused_until, location_id, lat_micro, lon_micro, level, odometer,
	outside_deci_temp, inside_deci_temp, climate_on, driving, connected, charging_to, estimate,
	connected_id, charge_id, trip_id, charge_plan, smart_status, status, updated, provider_data`

func scanVehicle(row interface{ Scan(...any) error }) (*models.Vehicle, error) {
	v := &models.Vehicle{}
	err := row.Scan(
		&v.ID,
		&v.AccountID,
		&v.Name,
		&v.MinimumCharge,
		&v.MaximumCharge,
		&v.AnxietyLevel,
		&v.TripLevel,
		&v.TripTime,
		&v.PausedUntil,
		&v.LocationID,
		&v.LatMicro,
		&v.LonMicro,
		&v.Level,
		&v.Odometer,
		&v.OutsideDeciTemp,
		&v.InsideDeciTemp,
		&v.ClimateOn,
		&v.Driving,
		&v.Connected,
		&v.ChargingTo,
		&v.Estimate,
		&v.ConnectedID,
		&v.ChargeID,
		&v.TripID,
		&v.ChargePlan,
		&v.SmartStatus,
		&v.Status,
		&v.Updated,
		&v.ProviderData,
	)
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Get 获取车辆
func (r *VehicleRepository) Get(ctx context.Context, id uuid.UUID) (*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicle WHERE id = $1`
	v, err := scanVehicle(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get vehicle: %w", classify(err))
	}
	return v, nil
}

// ListByAccount 获取账户下所有车辆
func (r *VehicleRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicle WHERE account_id = $1 ORDER BY name`
	rows, err := r.q.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list vehicles: %w", classify(err))
	}
	defer rows.Close()

	var vehicles []*models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// ListByPriceCode 获取价格代码影响到的所有车辆（车辆当前所在地点使用该代码）
func (r *VehicleRepository) ListByPriceCode(ctx context.Context, priceCode string) ([]*models.Vehicle, error) {
	query := `
		SELECT ` + vehicleColumns + ` FROM vehicle
		WHERE location_id IN (SELECT id FROM location WHERE price_code = $1)
	`
	rows, err := r.q.Query(ctx, query, priceCode)
	if err != nil {
		return nil, fmt.Errorf("list vehicles by price code: %w", classify(err))
	}
	defer rows.Close()

	var vehicles []*models.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vehicle: %w", err)
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// Create 创建车辆
func (r *VehicleRepository) Create(ctx context.Context, v *models.Vehicle) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	v.Updated = time.Now().UTC()
	query := `
		INSERT INTO vehicle (id, account_id, name, minimum_charge, maximum_charge, anxiety_level, updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.Exec(ctx, query, v.ID, v.AccountID, v.Name, v.MinimumCharge, v.MaximumCharge, v.AnxietyLevel, v.Updated)
	if err != nil {
		return fmt.Errorf("insert vehicle: %w", classify(err))
	}
	return nil
}

// UpdateSample 写入一次遥测样本的规范字段
func (r *VehicleRepository) UpdateSample(ctx context.Context, v *models.Vehicle) error {
	query := `
		UPDATE vehicle SET
			location_id = $2, lat_micro = $3, lon_micro = $4, level = $5, odometer = $6,
			outside_deci_temp = $7, inside_deci_temp = $8, climate_on = $9, driving = $10,
			connected = $11, charging_to = $12, estimate = $13,
			connected_id = $14, charge_id = $15, trip_id = $16, status = $17, updated = $18
		WHERE id = $1
	`
	_, err := r.q.Exec(ctx, query,
		v.ID, v.LocationID, v.LatMicro, v.LonMicro, v.Level, v.Odometer,
		v.OutsideDeciTemp, v.InsideDeciTemp, v.ClimateOn, v.Driving,
		v.Connected, v.ChargingTo, v.Estimate,
		v.ConnectedID, v.ChargeID, v.TripID, v.Status, v.Updated,
	)
	if err != nil {
		return fmt.Errorf("update vehicle sample: %w", classify(err))
	}
	return nil
}

// UpdateConfig 更新用户配置子集
func (r *VehicleRepository) UpdateConfig(ctx context.Context, v *models.Vehicle) error {
	if v.MinimumCharge < 0 || v.MaximumCharge > 100 || v.MinimumCharge > v.MaximumCharge {
		return fmt.Errorf("charge bounds %d-%d: %w", v.MinimumCharge, v.MaximumCharge, ErrInvalidInput)
	}
	if v.AnxietyLevel < 0 || v.AnxietyLevel > 2 {
		return fmt.Errorf("anxiety level %d: %w", v.AnxietyLevel, ErrInvalidInput)
	}
	query := `
		UPDATE vehicle SET
			name = $2, minimum_charge = $3, maximum_charge = $4, anxiety_level = $5,
			trip_level = $6, trip_time = $7, paused_until = $8, status = $9, provider_data = $10
		WHERE id = $1
	`
	tag, err := r.q.Exec(ctx, query,
		v.ID, v.Name, v.MinimumCharge, v.MaximumCharge, v.AnxietyLevel,
		v.TripLevel, v.TripTime, v.PausedUntil, v.Status, v.ProviderData,
	)
	if err != nil {
		return fmt.Errorf("update vehicle config: %w", classify(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update vehicle config: %w", ErrNotFound)
	}
	return nil
}

// SetChargePlan 持久化充电计划与智能状态
func (r *VehicleRepository) SetChargePlan(ctx context.Context, id uuid.UUID, plan models.ChargePlan, smartStatus string) error {
	query := `UPDATE vehicle SET charge_plan = $2, smart_status = $3 WHERE id = $1`
	_, err := r.q.Exec(ctx, query, id, plan, smartStatus)
	if err != nil {
		return fmt.Errorf("set charge plan: %w", classify(err))
	}
	return nil
}

// ClearScheduledTrip 清除已过期的预定行程
func (r *VehicleRepository) ClearScheduledTrip(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE vehicle SET trip_level = NULL, trip_time = NULL WHERE id = $1`
	_, err := r.q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("clear scheduled trip: %w", classify(err))
	}
	return nil
}
