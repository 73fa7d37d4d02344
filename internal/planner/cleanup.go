package planner

import (
	"sort"
	"time"

	"github.com/evsched/evsched/internal/models"
)

// maxShift 计划段前移压缩时允许回溯的最大跨度
const maxShift = time.Hour

// cleanupPlan 整理计划：排序、合并重叠、向后压实。幂等。
// chargeStart 为 nil 视为负无穷，chargeStop 为 nil 视为正无穷。
func cleanupPlan(plan models.ChargePlan) models.ChargePlan {
	if len(plan) == 0 {
		return plan
	}

	out := make(models.ChargePlan, len(plan))
	copy(out, plan)
	sortPlan(out)
	out = consolidate(out)
	if shiftForward(out) {
		out = consolidate(out)
	}
	return out
}

func sortPlan(plan models.ChargePlan) {
	sort.SliceStable(plan, func(i, j int) bool {
		a, b := plan[i], plan[j]
		if !equalBound(a.ChargeStart, b.ChargeStart) {
			return beforeStart(a.ChargeStart, b.ChargeStart)
		}
		if !equalBound(a.ChargeStop, b.ChargeStop) {
			// 结束晚者在前，让覆盖更长的段先占位
			return beforeStop(b.ChargeStop, a.ChargeStop)
		}
		return a.ChargeType.Priority() < b.ChargeType.Priority()
	})
}

// consolidate 合并重叠的相邻段
func consolidate(plan models.ChargePlan) models.ChargePlan {
	for i := 0; i+1 < len(plan); {
		a := &plan[i]
		b := plan[i+1]

		if !startLEQStop(b.ChargeStart, a.ChargeStop) {
			i++
			continue
		}

		switch {
		case a.ChargeType == b.ChargeType || stopLEQ(b.ChargeStop, a.ChargeStop):
			// 同类或完全被覆盖：并入 a
			a.ChargeStop = maxStop(a.ChargeStop, b.ChargeStop)
			if b.Level > a.Level {
				a.Level = b.Level
			}
			plan = append(plan[:i+1], plan[i+2:]...)

		case a.Level >= b.Level:
			// a 的目标不低于 b：b 顺延到 a 之后
			plan[i+1].ChargeStart = a.ChargeStop
			i++

		default:
			// b 的目标更高：截断 a
			a.ChargeStop = b.ChargeStart
			i++
		}
	}
	return plan
}

// shiftForward 把留有空隙的段尽量贴到下一段的起点，消除中间空转
func shiftForward(plan models.ChargePlan) bool {
	shifted := false
	for i := 0; i+1 < len(plan); i++ {
		a := &plan[i]
		b := plan[i+1]
		if a.ChargeStart == nil || a.ChargeStop == nil || b.ChargeStart == nil {
			continue
		}
		gap := b.ChargeStart.Sub(*a.ChargeStop)
		slack := a.ChargeStart.Sub(*a.ChargeStop) + maxShift
		shift := gap
		if slack < shift {
			shift = slack
		}
		if shift <= 0 {
			continue
		}
		if !a.ChargeStop.Add(shift).Before(*b.ChargeStart) {
			stop := *b.ChargeStart
			start := a.ChargeStart.Add(shift)
			a.ChargeStop = &stop
			a.ChargeStart = &start
			shifted = true
		}
	}
	return shifted
}

// equalBound 两个可空时间相等
func equalBound(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// beforeStart nil 视为负无穷
func beforeStart(a, b *time.Time) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	return a.Before(*b)
}

// beforeStop nil 视为正无穷
func beforeStop(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.Before(*b)
}

// startLEQStop b.start ≤ a.stop，start 的 nil 为负无穷、stop 的 nil 为正无穷
func startLEQStop(start, stop *time.Time) bool {
	if start == nil || stop == nil {
		return true
	}
	return !start.After(*stop)
}

// stopLEQ a ≤ b，nil 为正无穷
func stopLEQ(a, b *time.Time) bool {
	if b == nil {
		return true
	}
	if a == nil {
		return false
	}
	return !a.After(*b)
}

func maxStop(a, b *time.Time) *time.Time {
	if a == nil || b == nil {
		return nil
	}
	if b.After(*a) {
		return b
	}
	return a
}
