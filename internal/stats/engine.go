package stats

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evsched/evsched/internal/models"
	"github.com/evsched/evsched/internal/repository"
)

// historyWindow 参与模拟的历史连接窗口
const historyWindow = 21 * 24 * time.Hour

// defaultThreshold 无可用历史时的默认阈值（×100）
const defaultThreshold = 100

// Store 统计引擎需要的持久化操作
type Store interface {
	GetLocation(ctx context.Context, id uuid.UUID) (*models.Location, error)
	LatestPriceTS(ctx context.Context, priceCode string) (time.Time, error)
	EarliestPriceTS(ctx context.Context, priceCode string) (time.Time, error)
	PriceAverages(ctx context.Context, priceCode string, now time.Time) (avg7, avg21 float64, err error)
	PricesSince(ctx context.Context, priceCode string, since time.Time) ([]models.PricePoint, error)
	ClosedConnectionsSince(ctx context.Context, vehicleID uuid.UUID, since time.Time) ([]*models.Connection, error)
	MedianCurveDuration(ctx context.Context, vehicleID, locationID uuid.UUID) (*float64, error)
	InsertStats(ctx context.Context, s *models.CurrentStats) error
	LatestStats(ctx context.Context, vehicleID, locationID uuid.UUID) (*models.CurrentStats, error)
}

// Engine 阈值统计引擎：回放历史连接，为 (车辆, 地点) 选出性价比最优的
// 价格阈值
type Engine struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine 创建统计引擎
func NewEngine(store Store, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CurrentStats 返回最新统计；价格表已更新时重算
func (e *Engine) CurrentStats(ctx context.Context, v *models.Vehicle, locationID uuid.UUID) (*models.CurrentStats, error) {
	loc, err := e.store.GetLocation(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("stats location: %w", err)
	}
	latest, err := e.store.LatestPriceTS(ctx, loc.PriceCode)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("latest price ts: %w", err)
	}

	s, err := e.store.LatestStats(ctx, v.ID, locationID)
	if err == nil && !s.Stale(latest) {
		return s, nil
	}
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("latest stats: %w", err)
	}
	return e.CreateNewStats(ctx, v, locationID)
}

// CreateNewStats 重建统计：中位充电耗时、价格均值与阈值模拟
func (e *Engine) CreateNewStats(ctx context.Context, v *models.Vehicle, locationID uuid.UUID) (*models.CurrentStats, error) {
	now := e.now().UTC()

	loc, err := e.store.GetLocation(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("stats location: %w", err)
	}

	lct, err := e.store.MedianCurveDuration(ctx, v.ID, locationID)
	if err != nil {
		return nil, fmt.Errorf("median curve duration: %w", err)
	}

	s := &models.CurrentStats{
		VehicleID:       v.ID,
		LocationID:      locationID,
		LevelChargeTime: lct,
		Threshold:       defaultThreshold,
	}

	latest, err := e.store.LatestPriceTS(ctx, loc.PriceCode)
	if errors.Is(err, repository.ErrNotFound) {
		// 尚无电价数据，保留默认阈值
		if err := e.store.InsertStats(ctx, s); err != nil {
			return nil, fmt.Errorf("insert stats: %w", err)
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest price ts: %w", err)
	}
	s.PriceListTS = latest

	avg7, avg21, err := e.store.PriceAverages(ctx, loc.PriceCode, now)
	if err != nil {
		return nil, fmt.Errorf("price averages: %w", err)
	}
	s.WeeklyAvg7Price = avg7
	s.WeeklyAvg21Price = avg21

	if lct != nil {
		history, err := e.buildHistory(ctx, v, loc, now, avg7, avg21)
		if err != nil {
			return nil, err
		}
		if best, ok := e.simulate(v, history, *lct); ok {
			s.Threshold = int(math.Round(best * 100))
		}
	}

	if err := e.store.InsertStats(ctx, s); err != nil {
		return nil, fmt.Errorf("insert stats: %w", err)
	}
	e.logger.Info("阈值统计已重建",
		zap.String("vehicle_id", v.ID.String()),
		zap.String("location_id", locationID.String()),
		zap.Int("threshold", s.Threshold))
	return s, nil
}

// historyHour 历史连接内的一个小时片段
type historyHour struct {
	ts        time.Time
	fraction  float64 // (0,1] 该小时内的覆盖比例
	price     float64
	threshold float64
}

// historyConn 一次历史连接及其小时片段
type historyConn struct {
	startLevel int
	needed     int // 到下一次插枪前消耗的电量（%）
	offsite    bool
	hours      []historyHour
}

// buildHistory 把近 3 周的已结束连接展开为带小时电价比例的回放序列
func (e *Engine) buildHistory(ctx context.Context, v *models.Vehicle, loc *models.Location, now time.Time, avg7, avg21 float64) ([]historyConn, error) {
	since := now.Add(-historyWindow)
	earliest, err := e.store.EarliestPriceTS(ctx, loc.PriceCode)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("earliest price ts: %w", err)
	}
	if err == nil && earliest.After(since) {
		since = earliest
	}

	conns, err := e.store.ClosedConnectionsSince(ctx, v.ID, since)
	if err != nil {
		return nil, fmt.Errorf("closed connections: %w", err)
	}
	if len(conns) == 0 {
		return nil, nil
	}

	// 一次取回窗口内全部电价，小时价与逐日均值都在内存里算
	prices, err := e.store.PricesSince(ctx, loc.PriceCode, since.Add(-7*24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("prices since: %w", err)
	}
	priceAt := make(map[time.Time]float64, len(prices))
	for _, p := range prices {
		priceAt[p.TS.UTC().Truncate(time.Hour)] = float64(p.Price)
	}

	trend := (avg7 - avg21) / 2

	history := make([]historyConn, 0, len(conns))
	for idx, c := range conns {
		hc := historyConn{
			startLevel: c.StartLevel,
			offsite:    c.LocationID != loc.ID,
		}
		if idx+1 < len(conns) {
			hc.needed = c.EndLevel - conns[idx+1].StartLevel
		}

		start := c.StartTS.UTC()
		end := c.EndTS.UTC()
		for hour := start.Truncate(time.Hour); !hour.After(end.Truncate(time.Hour)); hour = hour.Add(time.Hour) {
			overlapStart := maxTime(hour, start)
			overlapEnd := minTime(hour.Add(time.Hour), end)
			fraction := overlapEnd.Sub(overlapStart).Seconds() / 3600
			if fraction <= 0 {
				continue
			}
			price, ok := priceAt[hour]
			if !ok {
				continue
			}
			denom := dayAverage(prices, hour) + trend
			if denom <= 0 {
				continue
			}
			hc.hours = append(hc.hours, historyHour{
				ts:        hour,
				fraction:  fraction,
				price:     price,
				threshold: price / denom,
			})
		}
		history = append(history, hc)
	}
	return history, nil
}

// dayAverage 某小时所在日之前 7 天的电价均值
func dayAverage(prices []models.PricePoint, hour time.Time) float64 {
	day := hour.Truncate(24 * time.Hour)
	from := day.Add(-7 * 24 * time.Hour)
	var sum float64
	var n int
	for _, p := range prices {
		ts := p.TS.UTC()
		if !ts.Before(from) && ts.Before(day) {
			sum += float64(p.Price)
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// simulate 扫描历史中出现过的阈值候选，回放每个候选下的充电决策，
// 取单位充电成本最低者
func (e *Engine) simulate(v *models.Vehicle, history []historyConn, lct float64) (float64, bool) {
	if len(history) == 0 || lct <= 0 {
		return 0, false
	}

	candidateSet := make(map[float64]struct{})
	for _, hc := range history {
		if hc.offsite {
			continue
		}
		for _, h := range hc.hours {
			candidateSet[h.threshold] = struct{}{}
		}
	}
	if len(candidateSet) == 0 {
		return 0, false
	}
	candidates := make([]float64, 0, len(candidateSet))
	for t := range candidateSet {
		candidates = append(candidates, t)
	}
	sort.Float64s(candidates)

	bestRatio := math.Inf(1)
	var bestT float64
	var found bool
	for _, t := range candidates {
		if ratio, ok := e.runCandidate(v, history, lct, t); ok && ratio < bestRatio {
			bestRatio = ratio
			bestT = t
			found = true
		}
	}
	return bestT, found
}

// runCandidate 用阈值 t 回放一遍历史，返回单位充电成本
func (e *Engine) runCandidate(v *models.Vehicle, history []historyConn, lct, t float64) (float64, bool) {
	minCharge := float64(v.MinimumCharge)
	maxCharge := float64(v.MaximumCharge)

	var lvl float64
	var totalCharged, totalCost float64
	prevOffsite := true // 首个连接从自身 start_level 起步

	var prevNeeded float64
	for _, hc := range history {
		if prevOffsite {
			lvl = float64(hc.startLevel)
		} else {
			lvl -= prevNeeded
		}
		prevOffsite = hc.offsite
		prevNeeded = float64(hc.needed)

		if lvl < minCharge/2 {
			return 0, false
		}
		if hc.offsite {
			continue
		}

		neededLevel := minCharge + float64(hc.needed)*1.1
		if neededLevel > maxCharge {
			neededLevel = maxCharge
		}
		if neededLevel < minCharge {
			neededLevel = minCharge
		}

		// 低于最低电量时按时间顺序应急充电
		rest := make([]historyHour, 0, len(hc.hours))
		for _, h := range hc.hours {
			if lvl < minCharge {
				chargeTime := math.Min(3600*h.fraction, (minCharge-lvl)*lct)
				if chargeTime > 0 {
					gained := chargeTime / lct
					lvl += gained
					totalCharged += gained
					totalCost += chargeTime / 3600 * h.price
				}
				continue
			}
			rest = append(rest, h)
		}

		// 智能模式：剩余小时按阈值升序择优
		sort.SliceStable(rest, func(i, j int) bool { return rest[i].threshold < rest[j].threshold })
		for _, h := range rest {
			var target float64
			switch {
			case h.threshold <= t:
				target = maxCharge
			case lvl < neededLevel:
				target = neededLevel
			default:
				continue
			}
			chargeTime := math.Min(3600*h.fraction, (target-lvl)*lct)
			if chargeTime <= 0 {
				continue
			}
			gained := chargeTime / lct
			lvl += gained
			totalCharged += gained
			totalCost += chargeTime / 3600 * h.price
		}
	}

	if lvl <= minCharge || totalCharged <= 0 {
		return 0, false
	}
	return totalCost / totalCharged, true
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
