package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evsched/evsched/internal/models"
)

// ConnectionRepository 插枪连接数据仓库
type ConnectionRepository struct {
	q Querier
}

const connectionColumns = `id, vehicle_id, location_id, type, start_ts, end_ts, start_level, end_level,
	energy_used, cost, saved, connected`

func scanConnection(row interface{ Scan(...any) error }) (*models.Connection, error) {
	c := &models.Connection{}
	err := row.Scan(
		&c.ID, &c.VehicleID, &c.LocationID, &c.Type, &c.StartTS, &c.EndTS,
		&c.StartLevel, &c.EndLevel, &c.EnergyUsed, &c.Cost, &c.Saved, &c.Connected,
	)
	if err != nil {
		return nil, err
	}
	c.StartTS = c.StartTS.UTC()
	c.EndTS = c.EndTS.UTC()
	return c, nil
}

// Create 创建连接
func (r *ConnectionRepository) Create(ctx context.Context, c *models.Connection) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	query := `
		INSERT INTO connected (id, vehicle_id, location_id, type, start_ts, end_ts, start_level, end_level, connected)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true)
	`
	_, err := r.q.Exec(ctx, query, c.ID, c.VehicleID, c.LocationID, c.Type, c.StartTS, c.EndTS, c.StartLevel, c.EndLevel)
	if err != nil {
		return fmt.Errorf("insert connection: %w", classify(err))
	}
	return nil
}

// Get 获取连接
func (r *ConnectionRepository) Get(ctx context.Context, id uuid.UUID) (*models.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connected WHERE id = $1`
	c, err := scanConnection(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get connection: %w", classify(err))
	}
	return c, nil
}

// Update 原地更新进行中连接的结束侧字段
func (r *ConnectionRepository) Update(ctx context.Context, c *models.Connection) error {
	query := `
		UPDATE connected SET
			end_ts = $2, end_level = $3, energy_used = $4, cost = $5, saved = $6, connected = $7
		WHERE id = $1
	`
	_, err := r.q.Exec(ctx, query, c.ID, c.EndTS, c.EndLevel, c.EnergyUsed, c.Cost, c.Saved, c.Connected)
	if err != nil {
		return fmt.Errorf("update connection: %w", classify(err))
	}
	return nil
}

// ListClosedSince 已结束的连接，开始时间不早于 since，按开始时间升序
func (r *ConnectionRepository) ListClosedSince(ctx context.Context, vehicleID uuid.UUID, since time.Time) ([]*models.Connection, error) {
	query := `
		SELECT ` + connectionColumns + ` FROM connected
		WHERE vehicle_id = $1 AND connected = false AND start_ts >= $2
		ORDER BY start_ts
	`
	rows, err := r.q.Query(ctx, query, vehicleID, since)
	if err != nil {
		return nil, fmt.Errorf("list closed connections: %w", classify(err))
	}
	defer rows.Close()

	var connections []*models.Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan connection: %w", err)
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

// ChargedSeconds 连接内所有充电累计时长（秒），用于虚拟时移的 price_then
func (r *ConnectionRepository) ChargedSeconds(ctx context.Context, connectedID uuid.UUID) (float64, error) {
	var seconds float64
	query := `
		SELECT COALESCE(SUM(EXTRACT(EPOCH FROM (end_ts - start_ts))), 0)
		FROM charge WHERE connected_id = $1
	`
	err := r.q.QueryRow(ctx, query, connectedID).Scan(&seconds)
	if err != nil {
		return 0, fmt.Errorf("charged seconds: %w", classify(err))
	}
	return seconds, nil
}
