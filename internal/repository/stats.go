package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evsched/evsched/internal/models"
)

// StatsRepository 阈值统计数据仓库
type StatsRepository struct {
	q Querier
}

// Insert 写入一条新的统计结果
func (r *StatsRepository) Insert(ctx context.Context, s *models.CurrentStats) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	query := `
		INSERT INTO current_stats (id, vehicle_id, location_id, price_list_ts,
			level_charge_time, weekly_avg7_price, weekly_avg21_price, threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.q.Exec(ctx, query,
		s.ID, s.VehicleID, s.LocationID, s.PriceListTS,
		s.LevelChargeTime, s.WeeklyAvg7Price, s.WeeklyAvg21Price, s.Threshold,
	)
	if err != nil {
		return fmt.Errorf("insert current stats: %w", classify(err))
	}
	return nil
}

// Latest 最新一条统计结果；无数据返回 ErrNotFound
func (r *StatsRepository) Latest(ctx context.Context, vehicleID, locationID uuid.UUID) (*models.CurrentStats, error) {
	s := &models.CurrentStats{}
	query := `
		SELECT id, vehicle_id, location_id, price_list_ts, level_charge_time,
			weekly_avg7_price, weekly_avg21_price, threshold
		FROM current_stats
		WHERE vehicle_id = $1 AND location_id = $2
		ORDER BY created DESC LIMIT 1
	`
	err := r.q.QueryRow(ctx, query, vehicleID, locationID).Scan(
		&s.ID, &s.VehicleID, &s.LocationID, &s.PriceListTS, &s.LevelChargeTime,
		&s.WeeklyAvg7Price, &s.WeeklyAvg21Price, &s.Threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("latest current stats: %w", classify(err))
	}
	s.PriceListTS = s.PriceListTS.UTC()
	return s, nil
}

// RoutinePrediction 日常预测的原始量
type RoutinePrediction struct {
	// 最近 7 天平均消耗（%）
	AvgUsed7 *float64
	// 近 6 周同星期的消耗 0.6 分位（%）
	UsedP60 *float64
	// 近 6 周同星期充电结束时刻的 0.2 离散分位（当日零点起秒数）
	DepartSecondsOfDay *float64
}

// PredictRoutine 基于近 6 周已结束连接做日常预测
func (r *StatsRepository) PredictRoutine(ctx context.Context, vehicleID, locationID uuid.UUID, now time.Time) (*RoutinePrediction, error) {
	query := `
		WITH hist AS (
			SELECT c.end_ts, c.location_id,
				c.end_level - LEAD(c.start_level) OVER (ORDER BY c.start_ts) AS used
			FROM connected c
			WHERE c.vehicle_id = $1 AND c.connected = false
				AND c.start_ts >= $3::timestamptz - INTERVAL '42 days'
		),
		at_loc AS (
			SELECT end_ts, used FROM hist
			WHERE used IS NOT NULL AND used > 0 AND location_id = $2
		)
		SELECT
			(SELECT AVG(used) FROM at_loc WHERE end_ts >= $3::timestamptz - INTERVAL '7 days'),
			(SELECT percentile_cont(0.6) WITHIN GROUP (ORDER BY used)
				FROM at_loc WHERE EXTRACT(ISODOW FROM end_ts) = EXTRACT(ISODOW FROM $3::timestamptz)),
			(SELECT percentile_disc(0.2) WITHIN GROUP (ORDER BY EXTRACT(EPOCH FROM (end_ts - date_trunc('day', end_ts))))
				FROM at_loc WHERE EXTRACT(ISODOW FROM end_ts) = EXTRACT(ISODOW FROM $3::timestamptz))
	`
	p := &RoutinePrediction{}
	err := r.q.QueryRow(ctx, query, vehicleID, locationID, now).Scan(&p.AvgUsed7, &p.UsedP60, &p.DepartSecondsOfDay)
	if err != nil {
		return nil, fmt.Errorf("predict routine: %w", classify(err))
	}
	return p, nil
}
