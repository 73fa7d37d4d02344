package repository

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/evsched/evsched/internal/models"
)

// LocationRepository 地点数据仓库
type LocationRepository struct {
	q Querier
}

const locationColumns = `id, account_id, name, lat_micro, lon_micro, geo_fence_radius, price_code`

func scanLocation(row interface{ Scan(...any) error }) (*models.Location, error) {
	l := &models.Location{}
	err := row.Scan(&l.ID, &l.AccountID, &l.Name, &l.LatMicro, &l.LonMicro, &l.GeoFenceRadius, &l.PriceCode)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// Get 获取地点
func (r *LocationRepository) Get(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM location WHERE id = $1`
	l, err := scanLocation(r.q.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("get location: %w", classify(err))
	}
	return l, nil
}

// ListByAccount 获取账户下所有地点
func (r *LocationRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]*models.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM location WHERE account_id = $1 ORDER BY name`
	rows, err := r.q.Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("list locations: %w", classify(err))
	}
	defer rows.Close()

	var locations []*models.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		locations = append(locations, l)
	}
	return locations, rows.Err()
}

// Create 创建地点
func (r *LocationRepository) Create(ctx context.Context, l *models.Location) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	query := `
		INSERT INTO location (id, account_id, name, lat_micro, lon_micro, geo_fence_radius, price_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.q.Exec(ctx, query, l.ID, l.AccountID, l.Name, l.LatMicro, l.LonMicro, l.GeoFenceRadius, l.PriceCode)
	if err != nil {
		return fmt.Errorf("insert location: %w", classify(err))
	}
	return nil
}

// LookupKnown 查找包含给定坐标的地理围栏，半径最小者优先；无命中返回 nil
func (r *LocationRepository) LookupKnown(ctx context.Context, accountID uuid.UUID, latMicro, lonMicro int64) (*models.Location, error) {
	locations, err := r.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var best *models.Location
	for _, l := range locations {
		d := haversineMeters(latMicro, lonMicro, l.LatMicro, l.LonMicro)
		if d > float64(l.GeoFenceRadius) {
			continue
		}
		if best == nil || l.GeoFenceRadius < best.GeoFenceRadius {
			best = l
		}
	}
	return best, nil
}

// haversineMeters 微度坐标间的大圆距离（米）
func haversineMeters(lat1µ, lon1µ, lat2µ, lon2µ int64) float64 {
	const earthRadius = 6_371_000
	lat1 := float64(lat1µ) / 1e6 * math.Pi / 180
	lat2 := float64(lat2µ) / 1e6 * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (float64(lon2µ) - float64(lon1µ)) / 1e6 * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadius * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
