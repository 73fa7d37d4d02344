package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/evsched/evsched/internal/models"
)

// TripRepository 行程数据仓库
type TripRepository struct {
	q Querier
}

const tripColumns = `id, vehicle_id, start_ts, end_ts, start_level, end_level,
	start_location_id, end_location_id, start_odometer, start_outside_deci_temp, distance`

// Create 创建行程
func (r *TripRepository) Create(ctx context.Context, t *models.Trip) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	query := `
		INSERT INTO trip (id, vehicle_id, start_ts, end_ts, start_level, end_level,
			start_location_id, end_location_id, start_odometer, start_outside_deci_temp, distance)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.q.Exec(ctx, query,
		t.ID, t.VehicleID, t.StartTS, t.EndTS, t.StartLevel, t.EndLevel,
		t.StartLocationID, t.EndLocationID, t.StartOdometer, t.StartOutsideDeciTemp, t.Distance,
	)
	if err != nil {
		return fmt.Errorf("insert trip: %w", classify(err))
	}
	return nil
}

// Get 获取行程
func (r *TripRepository) Get(ctx context.Context, id uuid.UUID) (*models.Trip, error) {
	t := &models.Trip{}
	query := `SELECT ` + tripColumns + ` FROM trip WHERE id = $1`
	err := r.q.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.VehicleID, &t.StartTS, &t.EndTS, &t.StartLevel, &t.EndLevel,
		&t.StartLocationID, &t.EndLocationID, &t.StartOdometer, &t.StartOutsideDeciTemp, &t.Distance,
	)
	if err != nil {
		return nil, fmt.Errorf("get trip: %w", classify(err))
	}
	t.StartTS = t.StartTS.UTC()
	t.EndTS = t.EndTS.UTC()
	return t, nil
}

// Update 更新进行中行程
func (r *TripRepository) Update(ctx context.Context, t *models.Trip) error {
	query := `
		UPDATE trip SET
			end_ts = $2, end_level = $3, end_location_id = $4, distance = $5
		WHERE id = $1
	`
	_, err := r.q.Exec(ctx, query, t.ID, t.EndTS, t.EndLevel, t.EndLocationID, t.Distance)
	if err != nil {
		return fmt.Errorf("update trip: %w", classify(err))
	}
	return nil
}

// Delete 删除行程（不足 1 km 的短途在落点后丢弃）
func (r *TripRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.q.Exec(ctx, `DELETE FROM trip WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete trip: %w", classify(err))
	}
	return nil
}
