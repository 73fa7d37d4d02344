package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/evsched/evsched/internal/models"
)

// ChargeCurveRepository 充电曲线数据仓库
type ChargeCurveRepository struct {
	q Querier
}

// Set 写入（或覆盖）某电量百分比的曲线点
func (r *ChargeCurveRepository) Set(ctx context.Context, c *models.ChargeCurve) error {
	query := `
		INSERT INTO charge_curve (vehicle_id, location_id, level, duration, avg_deci_temp, energy_used, energy_added)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (vehicle_id, location_id, level) DO UPDATE SET
			duration = EXCLUDED.duration,
			avg_deci_temp = EXCLUDED.avg_deci_temp,
			energy_used = EXCLUDED.energy_used,
			energy_added = EXCLUDED.energy_added
	`
	_, err := r.q.Exec(ctx, query, c.VehicleID, c.LocationID, c.Level, c.Duration, c.AvgDeciTemp, c.EnergyUsed, c.EnergyAdded)
	if err != nil {
		return fmt.Errorf("upsert charge curve: %w", classify(err))
	}
	return nil
}

// Get 返回该 (车辆, 地点) 的 level → 曲线点映射
func (r *ChargeCurveRepository) Get(ctx context.Context, vehicleID, locationID uuid.UUID) (map[int]*models.ChargeCurve, error) {
	query := `
		SELECT vehicle_id, location_id, level, duration, avg_deci_temp, energy_used, energy_added
		FROM charge_curve WHERE vehicle_id = $1 AND location_id = $2
	`
	rows, err := r.q.Query(ctx, query, vehicleID, locationID)
	if err != nil {
		return nil, fmt.Errorf("get charge curve: %w", classify(err))
	}
	defer rows.Close()

	curve := make(map[int]*models.ChargeCurve)
	for rows.Next() {
		c := &models.ChargeCurve{}
		if err := rows.Scan(&c.VehicleID, &c.LocationID, &c.Level, &c.Duration, &c.AvgDeciTemp, &c.EnergyUsed, &c.EnergyAdded); err != nil {
			return nil, fmt.Errorf("scan charge curve: %w", err)
		}
		curve[c.Level] = c
	}
	return curve, rows.Err()
}

// MaxLevel 曲线中已学到的最高电量百分比；无数据返回 0
func (r *ChargeCurveRepository) MaxLevel(ctx context.Context, vehicleID, locationID uuid.UUID) (int, error) {
	var level *int
	query := `SELECT MAX(level) FROM charge_curve WHERE vehicle_id = $1 AND location_id = $2`
	err := r.q.QueryRow(ctx, query, vehicleID, locationID).Scan(&level)
	if err != nil {
		return 0, fmt.Errorf("max curve level: %w", classify(err))
	}
	if level == nil {
		return 0, nil
	}
	return *level, nil
}

// MedianDuration 曲线时长中位数（percentile_cont 0.5）；无数据返回 nil
func (r *ChargeCurveRepository) MedianDuration(ctx context.Context, vehicleID, locationID uuid.UUID) (*float64, error) {
	var median *float64
	query := `
		SELECT percentile_cont(0.5) WITHIN GROUP (ORDER BY duration)
		FROM charge_curve WHERE vehicle_id = $1 AND location_id = $2
	`
	err := r.q.QueryRow(ctx, query, vehicleID, locationID).Scan(&median)
	if err != nil {
		return nil, fmt.Errorf("median curve duration: %w", classify(err))
	}
	return median, nil
}
