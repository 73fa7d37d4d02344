package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// 充电器类型
const (
	ChargerTypeAC = "ac"
	ChargerTypeDC = "dc"
)

// ProviderData 厂商侧透传数据（JSONB，核心不解析内容）
type ProviderData json.RawMessage

// Value 实现 driver.Valuer 接口，用于存储到数据库
func (d ProviderData) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return []byte(d), nil
}

// Scan 实现 sql.Scanner 接口，用于从数据库读取
func (d *ProviderData) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*d = append((*d)[:0], v...)
	case string:
		*d = ProviderData(v)
	}
	return nil
}

// MarshalJSON 原样输出
func (d ProviderData) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON 原样保留
func (d *ProviderData) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}

// Vehicle 车辆
type Vehicle struct {
	ID            uuid.UUID  `json:"id" db:"id"`
	AccountID     uuid.UUID  `json:"account_id" db:"account_id"`
	Name          string     `json:"name" db:"name"`
	MinimumCharge int        `json:"minimum_charge" db:"minimum_charge"` // %
	MaximumCharge int        `json:"maximum_charge" db:"maximum_charge"` // %
	AnxietyLevel  int        `json:"anxiety_level" db:"anxiety_level"`   // 0,1,2
	TripLevel     *int       `json:"trip_level,omitempty" db:"trip_level"`
	TripTime      *time.Time `json:"trip_time,omitempty" db:"trip_time"`
	PausedUntil   *time.Time `json:"paused_until,omitempty" db:"paused_until"`

	LocationID      *uuid.UUID `json:"location_id,omitempty" db:"location_id"`
	LatMicro        int64      `json:"lat_micro" db:"lat_micro"` // 微度
	LonMicro        int64      `json:"lon_micro" db:"lon_micro"` // 微度
	Level           int        `json:"level" db:"level"`         // %
	Odometer        int64      `json:"odometer" db:"odometer"`   // m
	OutsideDeciTemp *int       `json:"outside_deci_temp,omitempty" db:"outside_deci_temp"`
	InsideDeciTemp  *int       `json:"inside_deci_temp,omitempty" db:"inside_deci_temp"`
	ClimateOn       bool       `json:"climate_on" db:"climate_on"`
	Driving         bool       `json:"driving" db:"driving"`
	Connected       bool       `json:"connected" db:"connected"`
	ChargingTo      *int       `json:"charging_to,omitempty" db:"charging_to"`   // 正在充向的目标电量
	Estimate        *int       `json:"estimate,omitempty" db:"estimate"`         // 剩余分钟（车辆自报）

	ConnectedID *uuid.UUID `json:"connected_id,omitempty" db:"connected_id"`
	ChargeID    *uuid.UUID `json:"charge_id,omitempty" db:"charge_id"`
	TripID      *uuid.UUID `json:"trip_id,omitempty" db:"trip_id"`

	ChargePlan   ChargePlan   `json:"charge_plan,omitempty" db:"charge_plan"`
	SmartStatus  string       `json:"smart_status" db:"smart_status"`
	Status       string       `json:"status" db:"status"`
	Updated      time.Time    `json:"updated" db:"updated"`
	ProviderData ProviderData `json:"provider_data,omitempty" db:"provider_data"`
}

// Location 已知充电地点（地理围栏）
type Location struct {
	ID             uuid.UUID `json:"id" db:"id"`
	AccountID      uuid.UUID `json:"account_id" db:"account_id"`
	Name           string    `json:"name" db:"name"`
	LatMicro       int64     `json:"lat_micro" db:"lat_micro"`
	LonMicro       int64     `json:"lon_micro" db:"lon_micro"`
	GeoFenceRadius int       `json:"geo_fence_radius" db:"geo_fence_radius"` // m
	PriceCode      string    `json:"price_code" db:"price_code"`
}

// PricePoint 电价点（整点对齐，价格 ×100000）
type PricePoint struct {
	PriceCode string    `json:"price_code" db:"price_code"`
	TS        time.Time `json:"ts" db:"ts"`
	Price     int64     `json:"price" db:"price"`
}

// Connection 一次插枪连接（进行中持续原地更新）
type Connection struct {
	ID         uuid.UUID  `json:"connected_id" db:"id"`
	VehicleID  uuid.UUID  `json:"vehicle_id" db:"vehicle_id"`
	LocationID uuid.UUID  `json:"location_id" db:"location_id"`
	Type       string     `json:"type" db:"type"` // ac|dc
	StartTS    time.Time  `json:"start_ts" db:"start_ts"`
	EndTS      time.Time  `json:"end_ts" db:"end_ts"`
	StartLevel int        `json:"start_level" db:"start_level"`
	EndLevel   int        `json:"end_level" db:"end_level"`
	EnergyUsed float64    `json:"energy_used" db:"energy_used"` // Wm
	Cost       float64    `json:"cost" db:"cost"`
	Saved      float64    `json:"saved" db:"saved"`
	Connected  bool       `json:"connected" db:"connected"`
}

// Charge 一次实际充电（嵌套在 Connection 内）
type Charge struct {
	ID          uuid.UUID `json:"charge_id" db:"id"`
	ConnectedID uuid.UUID `json:"connected_id" db:"connected_id"`
	VehicleID   uuid.UUID `json:"vehicle_id" db:"vehicle_id"`
	LocationID  uuid.UUID `json:"location_id" db:"location_id"`
	Type        string    `json:"type" db:"type"`
	StartTS     time.Time `json:"start_ts" db:"start_ts"`
	EndTS       time.Time `json:"end_ts" db:"end_ts"`
	StartLevel  int       `json:"start_level" db:"start_level"`
	EndLevel    int       `json:"end_level" db:"end_level"`
	StartAdded  float64   `json:"start_added" db:"start_added"` // Wm
	EndAdded    float64   `json:"end_added" db:"end_added"`     // Wm
	TargetLevel int       `json:"target_level" db:"target_level"`
	Estimate    int       `json:"estimate" db:"estimate"` // min
	EnergyUsed  float64   `json:"energy_used" db:"energy_used"`
}

// ChargeCurrent 活跃充电的逐样本累积状态（充电结束即删除）
type ChargeCurrent struct {
	ChargeID         uuid.UUID `json:"charge_id" db:"charge_id"`
	StartTS          time.Time `json:"start_ts" db:"start_ts"`
	StartLevel       int       `json:"start_level" db:"start_level"`
	StartAdded       float64   `json:"start_added" db:"start_added"`
	Powers           []float64 `json:"powers" db:"powers"` // W
	OutsideDeciTemps []int64   `json:"outside_deci_temps" db:"outside_deci_temps"`
}

// ChargeCurve 每 1% 电量的充电耗时曲线
type ChargeCurve struct {
	VehicleID   uuid.UUID `json:"vehicle_id" db:"vehicle_id"`
	LocationID  uuid.UUID `json:"location_id" db:"location_id"`
	Level       int       `json:"level" db:"level"`       // 1-100
	Duration    float64   `json:"duration" db:"duration"` // s
	AvgDeciTemp int       `json:"avg_deci_temp" db:"avg_deci_temp"`
	EnergyUsed  float64   `json:"energy_used" db:"energy_used"`   // Wm
	EnergyAdded float64   `json:"energy_added" db:"energy_added"` // Wm
}

// Trip 行程
type Trip struct {
	ID                   uuid.UUID  `json:"trip_id" db:"id"`
	VehicleID            uuid.UUID  `json:"vehicle_id" db:"vehicle_id"`
	StartTS              time.Time  `json:"start_ts" db:"start_ts"`
	EndTS                time.Time  `json:"end_ts" db:"end_ts"`
	StartLevel           int        `json:"start_level" db:"start_level"`
	EndLevel             int        `json:"end_level" db:"end_level"`
	StartLocationID      *uuid.UUID `json:"start_location_id,omitempty" db:"start_location_id"`
	EndLocationID        *uuid.UUID `json:"end_location_id,omitempty" db:"end_location_id"`
	StartOdometer        int64      `json:"start_odometer" db:"start_odometer"`
	StartOutsideDeciTemp int        `json:"start_outside_deci_temp" db:"start_outside_deci_temp"`
	Distance             int64      `json:"distance" db:"distance"` // m
}

// EventMapRow 小时级事件聚合
type EventMapRow struct {
	VehicleID      uuid.UUID `json:"vehicle_id" db:"vehicle_id"`
	Hour           time.Time `json:"hour" db:"hour"`
	MinimumLevel   int       `json:"minimum_level" db:"minimum_level"`
	MaximumLevel   int       `json:"maximum_level" db:"maximum_level"`
	DrivenSeconds  int64     `json:"driven_seconds" db:"driven_seconds"`
	DrivenMeters   int64     `json:"driven_meters" db:"driven_meters"`
	ChargedSeconds int64     `json:"charged_seconds" db:"charged_seconds"`
	ChargeEnergy   float64   `json:"charge_energy" db:"charge_energy"` // Wm
}

// CurrentStats 针对 (车辆, 地点) 的阈值统计结果
type CurrentStats struct {
	ID               uuid.UUID `json:"stats_id" db:"id"`
	VehicleID        uuid.UUID `json:"vehicle_id" db:"vehicle_id"`
	LocationID       uuid.UUID `json:"location_id" db:"location_id"`
	PriceListTS      time.Time `json:"price_list_ts" db:"price_list_ts"`
	LevelChargeTime  *float64  `json:"level_charge_time,omitempty" db:"level_charge_time"` // s
	WeeklyAvg7Price  float64   `json:"weekly_avg7_price" db:"weekly_avg7_price"`
	WeeklyAvg21Price float64   `json:"weekly_avg21_price" db:"weekly_avg21_price"`
	Threshold        int       `json:"threshold" db:"threshold"` // 0-~200
}

// Stale 价格表已更新则统计过期
func (s *CurrentStats) Stale(latestPriceTS time.Time) bool {
	return !s.PriceListTS.Equal(latestPriceTS)
}

// Action 下发给厂商适配器的动作消息（核心只落库，不执行）
type Action struct {
	ID           uuid.UUID    `json:"action_id" db:"id"`
	TargetID     uuid.UUID    `json:"target_id" db:"target_id"`
	ProviderName string       `json:"provider_name" db:"provider_name"`
	Action       string       `json:"action" db:"action"`
	Data         ProviderData `json:"data,omitempty" db:"data"`
	Created      time.Time    `json:"created" db:"created"`
}
