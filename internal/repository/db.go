package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string, ssl bool) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 连接池配置
	config.MaxConns = 10
	config.MinConns = 2
	if !ssl {
		config.ConnConfig.TLSConfig = nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	// 测试连接
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// WithTx 在单个事务内执行 fn，出错回滚
func (db *DB) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return withRetry(ctx, func() error {
		tx, err := db.Pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateVehicles,
		migrationCreateLocations,
		migrationCreatePriceList,
		migrationCreateConnected,
		migrationCreateCharges,
		migrationCreateChargeCurrent,
		migrationCreateChargeCurve,
		migrationCreateTrips,
		migrationCreateEventMap,
		migrationCreateCurrentStats,
		migrationCreateActions,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateVehicles = `
CREATE TABLE IF NOT EXISTS vehicle (
    id UUID PRIMARY KEY,
    account_id UUID NOT NULL,
    name VARCHAR(255) NOT NULL DEFAULT '',
    minimum_charge INT NOT NULL DEFAULT 30,
    maximum_charge INT NOT NULL DEFAULT 80,
    anxiety_level INT NOT NULL DEFAULT 0,
    trip_level INT,
    trip_time TIMESTAMP WITH TIME ZONE,
    paused_until TIMESTAMP WITH TIME ZONE,
    location_id UUID,
    lat_micro BIGINT NOT NULL DEFAULT 0,
    lon_micro BIGINT NOT NULL DEFAULT 0,
    level INT NOT NULL DEFAULT 0,
    odometer BIGINT NOT NULL DEFAULT 0,
    outside_deci_temp INT,
    inside_deci_temp INT,
    climate_on BOOLEAN NOT NULL DEFAULT false,
    driving BOOLEAN NOT NULL DEFAULT false,
    connected BOOLEAN NOT NULL DEFAULT false,
    charging_to INT,
    estimate INT,
    connected_id UUID,
    charge_id UUID,
    trip_id UUID,
    charge_plan JSONB,
    smart_status VARCHAR(255) NOT NULL DEFAULT '',
    status VARCHAR(64) NOT NULL DEFAULT '',
    updated TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    provider_data JSONB,
    CHECK (minimum_charge <= maximum_charge)
);
CREATE INDEX IF NOT EXISTS idx_vehicle_account_id ON vehicle(account_id);
`

const migrationCreateLocations = `
CREATE TABLE IF NOT EXISTS location (
    id UUID PRIMARY KEY,
    account_id UUID NOT NULL,
    name VARCHAR(255) NOT NULL DEFAULT '',
    lat_micro BIGINT NOT NULL,
    lon_micro BIGINT NOT NULL,
    geo_fence_radius INT NOT NULL DEFAULT 50,
    price_code VARCHAR(64) NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_location_account_id ON location(account_id);
`

const migrationCreatePriceList = `
CREATE TABLE IF NOT EXISTS price_list (
    price_code VARCHAR(64) NOT NULL,
    ts TIMESTAMP WITH TIME ZONE NOT NULL,
    price BIGINT NOT NULL,
    PRIMARY KEY (price_code, ts)
);
CREATE INDEX IF NOT EXISTS idx_price_list_ts ON price_list(ts);
`

const migrationCreateConnected = `
CREATE TABLE IF NOT EXISTS connected (
    id UUID PRIMARY KEY,
    vehicle_id UUID NOT NULL,
    location_id UUID NOT NULL,
    type VARCHAR(8) NOT NULL DEFAULT 'ac',
    start_ts TIMESTAMP WITH TIME ZONE NOT NULL,
    end_ts TIMESTAMP WITH TIME ZONE NOT NULL,
    start_level INT NOT NULL,
    end_level INT NOT NULL,
    energy_used DOUBLE PRECISION NOT NULL DEFAULT 0,
    cost DOUBLE PRECISION NOT NULL DEFAULT 0,
    saved DOUBLE PRECISION NOT NULL DEFAULT 0,
    connected BOOLEAN NOT NULL DEFAULT true
);
CREATE INDEX IF NOT EXISTS idx_connected_vehicle_id ON connected(vehicle_id);
CREATE INDEX IF NOT EXISTS idx_connected_start_ts ON connected(start_ts);
`

const migrationCreateCharges = `
CREATE TABLE IF NOT EXISTS charge (
    id UUID PRIMARY KEY,
    connected_id UUID NOT NULL,
    vehicle_id UUID NOT NULL,
    location_id UUID NOT NULL,
    type VARCHAR(8) NOT NULL DEFAULT 'ac',
    start_ts TIMESTAMP WITH TIME ZONE NOT NULL,
    end_ts TIMESTAMP WITH TIME ZONE NOT NULL,
    start_level INT NOT NULL,
    end_level INT NOT NULL,
    start_added DOUBLE PRECISION NOT NULL DEFAULT 0,
    end_added DOUBLE PRECISION NOT NULL DEFAULT 0,
    target_level INT NOT NULL DEFAULT 0,
    estimate INT NOT NULL DEFAULT 0,
    energy_used DOUBLE PRECISION NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_charge_connected_id ON charge(connected_id);
CREATE INDEX IF NOT EXISTS idx_charge_vehicle_id ON charge(vehicle_id);
`

const migrationCreateChargeCurrent = `
CREATE TABLE IF NOT EXISTS charge_current (
    charge_id UUID PRIMARY KEY,
    start_ts TIMESTAMP WITH TIME ZONE NOT NULL,
    start_level INT NOT NULL,
    start_added DOUBLE PRECISION NOT NULL DEFAULT 0,
    powers DOUBLE PRECISION[] NOT NULL DEFAULT '{}',
    outside_deci_temps BIGINT[] NOT NULL DEFAULT '{}'
);
`

const migrationCreateChargeCurve = `
CREATE TABLE IF NOT EXISTS charge_curve (
    vehicle_id UUID NOT NULL,
    location_id UUID NOT NULL,
    level INT NOT NULL,
    duration DOUBLE PRECISION NOT NULL,
    avg_deci_temp INT NOT NULL DEFAULT 0,
    energy_used DOUBLE PRECISION NOT NULL DEFAULT 0,
    energy_added DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (vehicle_id, location_id, level)
);
`

const migrationCreateTrips = `
CREATE TABLE IF NOT EXISTS trip (
    id UUID PRIMARY KEY,
    vehicle_id UUID NOT NULL,
    start_ts TIMESTAMP WITH TIME ZONE NOT NULL,
    end_ts TIMESTAMP WITH TIME ZONE NOT NULL,
    start_level INT NOT NULL,
    end_level INT NOT NULL,
    start_location_id UUID,
    end_location_id UUID,
    start_odometer BIGINT NOT NULL DEFAULT 0,
    start_outside_deci_temp INT NOT NULL DEFAULT 0,
    distance BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_trip_vehicle_id ON trip(vehicle_id);
`

const migrationCreateEventMap = `
CREATE TABLE IF NOT EXISTS event_map (
    vehicle_id UUID NOT NULL,
    hour TIMESTAMP WITH TIME ZONE NOT NULL,
    minimum_level INT NOT NULL,
    maximum_level INT NOT NULL,
    driven_seconds BIGINT NOT NULL DEFAULT 0,
    driven_meters BIGINT NOT NULL DEFAULT 0,
    charged_seconds BIGINT NOT NULL DEFAULT 0,
    charge_energy DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (vehicle_id, hour)
);
`

const migrationCreateCurrentStats = `
CREATE TABLE IF NOT EXISTS current_stats (
    id UUID PRIMARY KEY,
    vehicle_id UUID NOT NULL,
    location_id UUID NOT NULL,
    price_list_ts TIMESTAMP WITH TIME ZONE NOT NULL,
    level_charge_time DOUBLE PRECISION,
    weekly_avg7_price DOUBLE PRECISION NOT NULL DEFAULT 0,
    weekly_avg21_price DOUBLE PRECISION NOT NULL DEFAULT 0,
    threshold INT NOT NULL DEFAULT 100,
    created TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_current_stats_vehicle_location ON current_stats(vehicle_id, location_id, created DESC);
`

const migrationCreateActions = `
CREATE TABLE IF NOT EXISTS action (
    id UUID PRIMARY KEY,
    target_id UUID NOT NULL,
    provider_name VARCHAR(64) NOT NULL DEFAULT '',
    action VARCHAR(64) NOT NULL,
    data JSONB,
    created TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_action_target_id ON action(target_id);
`
