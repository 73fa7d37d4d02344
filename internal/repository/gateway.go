package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier pgxpool.Pool 与 pgx.Tx 的公共查询接口
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Gateway 持久化网关：所有领域查询的聚合入口
type Gateway struct {
	db *DB

	Vehicles    *VehicleRepository
	Locations   *LocationRepository
	Prices      *PriceRepository
	Connections *ConnectionRepository
	Charges     *ChargeRepository
	Curves      *ChargeCurveRepository
	Trips       *TripRepository
	Events      *EventMapRepository
	Stats       *StatsRepository
	Actions     *ActionRepository
}

// NewGateway 创建网关
func NewGateway(db *DB) *Gateway {
	return newGateway(db, db.Pool)
}

func newGateway(db *DB, q Querier) *Gateway {
	return &Gateway{
		db:          db,
		Vehicles:    &VehicleRepository{q: q},
		Locations:   &LocationRepository{q: q},
		Prices:      &PriceRepository{q: q},
		Connections: &ConnectionRepository{q: q},
		Charges:     &ChargeRepository{q: q},
		Curves:      &ChargeCurveRepository{q: q},
		Trips:       &TripRepository{q: q},
		Events:      &EventMapRepository{q: q},
		Stats:       &StatsRepository{q: q},
		Actions:     &ActionRepository{q: q},
	}
}

// Tx 在单个事务内执行 fn；fn 中通过事务范围的网关访问数据
func (g *Gateway) Tx(ctx context.Context, fn func(tx *Gateway) error) error {
	return g.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(newGateway(g.db, tx))
	})
}
