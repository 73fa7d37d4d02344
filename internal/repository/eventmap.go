package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/evsched/evsched/internal/models"
)

// EventMapRepository 小时级事件聚合仓库
type EventMapRepository struct {
	q Querier
}

// Upsert 原子合并一个小时桶：电量取 min/max，时长与能量求和
func (r *EventMapRepository) Upsert(ctx context.Context, e *models.EventMapRow) error {
	query := `
		INSERT INTO event_map (vehicle_id, hour, minimum_level, maximum_level,
			driven_seconds, driven_meters, charged_seconds, charge_energy)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (vehicle_id, hour) DO UPDATE SET
			minimum_level = LEAST(event_map.minimum_level, EXCLUDED.minimum_level),
			maximum_level = GREATEST(event_map.maximum_level, EXCLUDED.maximum_level),
			driven_seconds = event_map.driven_seconds + EXCLUDED.driven_seconds,
			driven_meters = event_map.driven_meters + EXCLUDED.driven_meters,
			charged_seconds = event_map.charged_seconds + EXCLUDED.charged_seconds,
			charge_energy = event_map.charge_energy + EXCLUDED.charge_energy
	`
	_, err := r.q.Exec(ctx, query,
		e.VehicleID, e.Hour.UTC().Truncate(time.Hour), e.MinimumLevel, e.MaximumLevel,
		e.DrivenSeconds, e.DrivenMeters, e.ChargedSeconds, e.ChargeEnergy,
	)
	if err != nil {
		return fmt.Errorf("upsert event map: %w", classify(err))
	}
	return nil
}
