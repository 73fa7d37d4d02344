package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/evsched/evsched/internal/models"
)

// PriceRepository 电价数据仓库
type PriceRepository struct {
	q Querier
}

// Update 批量写入（或覆盖）价格点，整点对齐由调用方保证
func (r *PriceRepository) Update(ctx context.Context, priceCode string, points []models.PricePoint) error {
	query := `
		INSERT INTO price_list (price_code, ts, price)
		VALUES ($1, $2, $3)
		ON CONFLICT (price_code, ts) DO UPDATE SET price = EXCLUDED.price
	`
	for _, p := range points {
		if _, err := r.q.Exec(ctx, query, priceCode, p.TS.UTC().Truncate(time.Hour), p.Price); err != nil {
			return fmt.Errorf("upsert price point: %w", classify(err))
		}
	}
	return nil
}

// LatestTS 最新价格点时间；无数据返回 ErrNotFound
func (r *PriceRepository) LatestTS(ctx context.Context, priceCode string) (time.Time, error) {
	var ts *time.Time
	err := r.q.QueryRow(ctx, `SELECT MAX(ts) FROM price_list WHERE price_code = $1`, priceCode).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest price ts: %w", classify(err))
	}
	if ts == nil {
		return time.Time{}, fmt.Errorf("latest price ts: %w", ErrNotFound)
	}
	return ts.UTC(), nil
}

// EarliestTS 最早价格点时间；无数据返回 ErrNotFound
func (r *PriceRepository) EarliestTS(ctx context.Context, priceCode string) (time.Time, error) {
	var ts *time.Time
	err := r.q.QueryRow(ctx, `SELECT MIN(ts) FROM price_list WHERE price_code = $1`, priceCode).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("earliest price ts: %w", classify(err))
	}
	if ts == nil {
		return time.Time{}, fmt.Errorf("earliest price ts: %w", ErrNotFound)
	}
	return ts.UTC(), nil
}

// ListSince 按时间升序列出 since 之后的价格点
func (r *PriceRepository) ListSince(ctx context.Context, priceCode string, since time.Time) ([]models.PricePoint, error) {
	query := `SELECT price_code, ts, price FROM price_list WHERE price_code = $1 AND ts >= $2 ORDER BY ts`
	rows, err := r.q.Query(ctx, query, priceCode, since)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", classify(err))
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.PriceCode, &p.TS, &p.Price); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		p.TS = p.TS.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// ListForPlan 计划生成用：[from, before) 区间内的价格点，按价格升序
func (r *PriceRepository) ListForPlan(ctx context.Context, priceCode string, from, before time.Time) ([]models.PricePoint, error) {
	query := `
		SELECT price_code, ts, price FROM price_list
		WHERE price_code = $1 AND ts >= $2 AND ts < $3
		ORDER BY price, ts
	`
	rows, err := r.q.Query(ctx, query, priceCode, from, before)
	if err != nil {
		return nil, fmt.Errorf("list prices for plan: %w", classify(err))
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.PriceCode, &p.TS, &p.Price); err != nil {
			return nil, fmt.Errorf("scan price point: %w", err)
		}
		p.TS = p.TS.UTC()
		points = append(points, p)
	}
	return points, rows.Err()
}

// Averages 最近 7 天 / 21 天的平均价格
func (r *PriceRepository) Averages(ctx context.Context, priceCode string, now time.Time) (avg7, avg21 float64, err error) {
	query := `
		SELECT
			COALESCE(AVG(price) FILTER (WHERE ts >= $2 - INTERVAL '7 days'), 0),
			COALESCE(AVG(price) FILTER (WHERE ts >= $2 - INTERVAL '21 days'), 0)
		FROM price_list WHERE price_code = $1 AND ts <= $2
	`
	err = r.q.QueryRow(ctx, query, priceCode, now).Scan(&avg7, &avg21)
	if err != nil {
		return 0, 0, fmt.Errorf("price averages: %w", classify(err))
	}
	return avg7, avg21, nil
}

// At 返回 ts 时刻生效的价格（最近一个不晚于 ts 的价格点）
func (r *PriceRepository) At(ctx context.Context, priceCode string, ts time.Time) (int64, error) {
	var price int64
	query := `SELECT price FROM price_list WHERE price_code = $1 AND ts <= $2 ORDER BY ts DESC LIMIT 1`
	err := r.q.QueryRow(ctx, query, priceCode, ts).Scan(&price)
	if err != nil {
		return 0, fmt.Errorf("price at: %w", classify(err))
	}
	return price, nil
}
