package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/evsched/evsched/internal/models"
)

// ChargeRepository 充电数据仓库（charge 与 charge_current）
type ChargeRepository struct {
	q Querier
}

const chargeColumns = `id, connected_id, vehicle_id, location_id, type, start_ts, end_ts,
	start_level, end_level, start_added, end_added, target_level, estimate, energy_used`

func scanCharge(row interface{ Scan(...any) error }) (*models.Charge, error) {
	c := &models.Charge{}
	err := row.Scan(
		&c.ID, &c.ConnectedID, &c.VehicleID, &c.LocationID, &c.Type, &c.StartTS, &c.EndTS,
		&c.StartLevel, &c.EndLevel, &c.StartAdded, &c.EndAdded, &c.TargetLevel, &c.Estimate, &c.EnergyUsed,
	)
	if err != nil {
		return nil, err
	}
	c.StartTS = c.StartTS.UTC()
	c.EndTS = c.EndTS.UTC()
	return c, nil
}

// Create 创建充电
func (r *ChargeRepository) Create(ctx context.Context, c *models.Charge) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	query := `
		INSERT INTO charge (id, connected_id, vehicle_id, location_id, type, start_ts, end_ts,
			start_level, end_level, start_added, end_added, target_level, estimate, energy_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err := r.q.Exec(ctx, query,
		c.ID, c.ConnectedID, c.VehicleID, c.LocationID, c.Type, c.StartTS, c.EndTS,
		c.StartLevel, c.EndLevel, c.StartAdded, c.EndAdded, c.TargetLevel, c.Estimate, c.EnergyUsed,
	)
	if err != nil {
		return fmt.Errorf("insert charge: %w", classify(err))
	}
	return nil
}

// Get 获取充电
func (r *ChargeRepository) Get(ctx context.Context, id uuid.UUID) (*models.Charge, error) {
	query := `SELECT ` + chargeColumns + ` FROM charge WHERE id = $1`
	c, err := scanCharge(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get charge: %w", classify(err))
	}
	return c, nil
}

// Update 更新进行中充电的结束侧字段
func (r *ChargeRepository) Update(ctx context.Context, c *models.Charge) error {
	query := `
		UPDATE charge SET
			end_ts = $2, end_level = $3, end_added = $4, target_level = $5, estimate = $6, energy_used = $7
		WHERE id = $1
	`
	_, err := r.q.Exec(ctx, query, c.ID, c.EndTS, c.EndLevel, c.EndAdded, c.TargetLevel, c.Estimate, c.EnergyUsed)
	if err != nil {
		return fmt.Errorf("update charge: %w", classify(err))
	}
	return nil
}

// CreateCurrent 创建活跃充电的累积状态行
func (r *ChargeRepository) CreateCurrent(ctx context.Context, cc *models.ChargeCurrent) error {
	query := `
		INSERT INTO charge_current (charge_id, start_ts, start_level, start_added, powers, outside_deci_temps)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.q.Exec(ctx, query, cc.ChargeID, cc.StartTS, cc.StartLevel, cc.StartAdded, cc.Powers, cc.OutsideDeciTemps)
	if err != nil {
		return fmt.Errorf("insert charge current: %w", classify(err))
	}
	return nil
}

// GetCurrent 获取活跃充电的累积状态
func (r *ChargeRepository) GetCurrent(ctx context.Context, chargeID uuid.UUID) (*models.ChargeCurrent, error) {
	cc := &models.ChargeCurrent{}
	query := `
		SELECT charge_id, start_ts, start_level, start_added, powers, outside_deci_temps
		FROM charge_current WHERE charge_id = $1
	`
	err := r.q.QueryRow(ctx, query, chargeID).Scan(
		&cc.ChargeID, &cc.StartTS, &cc.StartLevel, &cc.StartAdded, &cc.Powers, &cc.OutsideDeciTemps,
	)
	if err != nil {
		return nil, fmt.Errorf("get charge current: %w", classify(err))
	}
	cc.StartTS = cc.StartTS.UTC()
	return cc, nil
}

// AppendCurrentSample 追加一个功率/温度样本
func (r *ChargeRepository) AppendCurrentSample(ctx context.Context, chargeID uuid.UUID, power float64, outsideDeciTemp int64) error {
	query := `
		UPDATE charge_current SET
			powers = array_append(powers, $2),
			outside_deci_temps = array_append(outside_deci_temps, $3)
		WHERE charge_id = $1
	`
	_, err := r.q.Exec(ctx, query, chargeID, power, outsideDeciTemp)
	if err != nil {
		return fmt.Errorf("append charge current sample: %w", classify(err))
	}
	return nil
}

// ResetCurrent 在学到一个 1% 增量后重置累积窗口
func (r *ChargeRepository) ResetCurrent(ctx context.Context, cc *models.ChargeCurrent) error {
	query := `
		UPDATE charge_current SET
			start_ts = $2, start_level = $3, start_added = $4, powers = '{}', outside_deci_temps = '{}'
		WHERE charge_id = $1
	`
	_, err := r.q.Exec(ctx, query, cc.ChargeID, cc.StartTS, cc.StartLevel, cc.StartAdded)
	if err != nil {
		return fmt.Errorf("reset charge current: %w", classify(err))
	}
	return nil
}

// DeleteCurrent 充电终止时删除累积状态
func (r *ChargeRepository) DeleteCurrent(ctx context.Context, chargeID uuid.UUID) error {
	_, err := r.q.Exec(ctx, `DELETE FROM charge_current WHERE charge_id = $1`, chargeID)
	if err != nil {
		return fmt.Errorf("delete charge current: %w", classify(err))
	}
	return nil
}
