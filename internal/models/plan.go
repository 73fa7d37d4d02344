package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// ChargeType 计划段的类型标签
type ChargeType string

const (
	ChargeTypeCalibrate ChargeType = "calibrate" // 充电曲线校准
	ChargeTypeMinimum   ChargeType = "minimum"   // 紧急最低电量
	ChargeTypeTrip      ChargeType = "trip"      // 预定行程补电
	ChargeTypeRoutine   ChargeType = "routine"   // 日常预测
	ChargeTypePrefered  ChargeType = "prefered"  // 用户偏好
	ChargeTypeFill      ChargeType = "fill"      // 低价填充
)

// Priority 排序优先级，数值越小优先级越高
func (t ChargeType) Priority() int {
	switch t {
	case ChargeTypeCalibrate:
		return 0
	case ChargeTypeMinimum:
		return 1
	case ChargeTypeTrip:
		return 2
	case ChargeTypeRoutine:
		return 3
	case ChargeTypePrefered:
		return 4
	case ChargeTypeFill:
		return 5
	}
	return 6
}

// ChargePlanSegment 计划段。ChargeStart 为 nil 表示"立即开始"，
// ChargeStop 为 nil 表示"充到目标为止"。
type ChargePlanSegment struct {
	ChargeStart *time.Time `json:"chargeStart"`
	ChargeStop  *time.Time `json:"chargeStop"`
	Level       int        `json:"level"`
	ChargeType  ChargeType `json:"chargeType"`
	Comment     string     `json:"comment"`
}

// ChargePlan 有序且互不重叠的计划段序列。nil 表示无计划（数据库 NULL）。
type ChargePlan []ChargePlanSegment

// Value 实现 driver.Valuer 接口，用于存储到数据库
func (p ChargePlan) Value() (driver.Value, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// Scan 实现 sql.Scanner 接口，用于从数据库读取
func (p *ChargePlan) Scan(value interface{}) error {
	if value == nil {
		*p = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if s, ok := value.(string); ok {
			bytes = []byte(s)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, p)
}
