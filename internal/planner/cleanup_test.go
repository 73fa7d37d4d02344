package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evsched/evsched/internal/models"
)

func at(hour, min int) *time.Time {
	ts := time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
	return &ts
}

func seg(start, stop *time.Time, level int, typ models.ChargeType) models.ChargePlanSegment {
	return models.ChargePlanSegment{ChargeStart: start, ChargeStop: stop, Level: level, ChargeType: typ}
}

func TestCleanupPlanOverlap(t *testing.T) {
	t.Run("lower priority overlap is truncated", func(t *testing.T) {
		plan := models.ChargePlan{
			seg(at(8, 0), at(10, 0), 70, models.ChargeTypeFill),
			seg(at(9, 0), at(11, 0), 80, models.ChargeTypeRoutine),
		}
		out := cleanupPlan(plan)

		require.Len(t, out, 2)
		assert.Equal(t, *at(8, 0), *out[0].ChargeStart)
		assert.Equal(t, *at(9, 0), *out[0].ChargeStop)
		assert.Equal(t, 70, out[0].Level)
		assert.Equal(t, *at(9, 0), *out[1].ChargeStart)
		assert.Equal(t, *at(11, 0), *out[1].ChargeStop)
		assert.Equal(t, 80, out[1].Level)
	})

	t.Run("same type segments merge", func(t *testing.T) {
		plan := models.ChargePlan{
			seg(at(8, 0), at(10, 0), 70, models.ChargeTypeFill),
			seg(at(9, 0), at(11, 0), 80, models.ChargeTypeFill),
		}
		out := cleanupPlan(plan)

		require.Len(t, out, 1)
		assert.Equal(t, *at(8, 0), *out[0].ChargeStart)
		assert.Equal(t, *at(11, 0), *out[0].ChargeStop)
		assert.Equal(t, 80, out[0].Level)
	})

	t.Run("contained segment is absorbed", func(t *testing.T) {
		plan := models.ChargePlan{
			seg(at(8, 0), at(12, 0), 90, models.ChargeTypeRoutine),
			seg(at(9, 0), at(10, 0), 70, models.ChargeTypeFill),
		}
		out := cleanupPlan(plan)

		require.Len(t, out, 1)
		assert.Equal(t, 90, out[0].Level)
		assert.Equal(t, *at(12, 0), *out[0].ChargeStop)
	})

	t.Run("higher level pushed forward", func(t *testing.T) {
		plan := models.ChargePlan{
			seg(at(8, 0), at(10, 0), 80, models.ChargeTypeRoutine),
			seg(at(9, 0), at(11, 0), 70, models.ChargeTypeFill),
		}
		out := cleanupPlan(plan)

		require.Len(t, out, 2)
		// lower-level fill yields to the routine segment already in place
		assert.Equal(t, *at(10, 0), *out[1].ChargeStart)
		assert.Equal(t, *at(11, 0), *out[1].ChargeStop)
	})
}

func TestCleanupPlanShift(t *testing.T) {
	plan := models.ChargePlan{
		seg(at(7, 0), at(7, 30), 60, models.ChargeTypeFill),
		seg(at(8, 0), at(9, 0), 70, models.ChargeTypeRoutine),
	}
	out := cleanupPlan(plan)

	require.Len(t, out, 2)
	assert.Equal(t, *at(7, 30), *out[0].ChargeStart)
	assert.Equal(t, *at(8, 0), *out[0].ChargeStop)
	assert.Equal(t, *at(8, 0), *out[1].ChargeStart)
	assert.Equal(t, *at(9, 0), *out[1].ChargeStop)
}

func TestCleanupPlanShiftTooFar(t *testing.T) {
	// 3 hour gap cannot be bridged by a 30 minute segment
	plan := models.ChargePlan{
		seg(at(7, 0), at(7, 30), 60, models.ChargeTypeFill),
		seg(at(10, 30), at(11, 0), 70, models.ChargeTypeRoutine),
	}
	out := cleanupPlan(plan)

	require.Len(t, out, 2)
	assert.Equal(t, *at(7, 0), *out[0].ChargeStart)
	assert.Equal(t, *at(7, 30), *out[0].ChargeStop)
}

func TestCleanupPlanNullBounds(t *testing.T) {
	t.Run("null start sorts first", func(t *testing.T) {
		plan := models.ChargePlan{
			seg(at(8, 0), at(9, 0), 70, models.ChargeTypeRoutine),
			seg(nil, at(7, 0), 50, models.ChargeTypeMinimum),
		}
		out := cleanupPlan(plan)

		require.Len(t, out, 2)
		assert.Nil(t, out[0].ChargeStart)
		assert.Equal(t, models.ChargeTypeMinimum, out[0].ChargeType)
	})

	t.Run("null stop swallows everything after", func(t *testing.T) {
		plan := models.ChargePlan{
			seg(nil, nil, 100, models.ChargeTypeCalibrate),
			seg(at(8, 0), at(9, 0), 70, models.ChargeTypeRoutine),
		}
		out := cleanupPlan(plan)

		require.Len(t, out, 1)
		assert.Equal(t, models.ChargeTypeCalibrate, out[0].ChargeType)
		assert.Nil(t, out[0].ChargeStop)
		assert.Equal(t, 100, out[0].Level)
	})
}

func TestCleanupPlanIdempotent(t *testing.T) {
	plans := []models.ChargePlan{
		{
			seg(at(7, 0), at(7, 30), 60, models.ChargeTypeFill),
			seg(at(8, 0), at(9, 0), 70, models.ChargeTypeRoutine),
			seg(nil, at(6, 0), 50, models.ChargeTypeMinimum),
			seg(at(8, 30), at(10, 0), 90, models.ChargeTypeTrip),
		},
		{
			seg(at(8, 0), at(10, 0), 70, models.ChargeTypeFill),
			seg(at(9, 0), at(11, 0), 80, models.ChargeTypeRoutine),
		},
	}
	for _, plan := range plans {
		once := cleanupPlan(plan)
		twice := cleanupPlan(once)
		assert.Equal(t, once, twice)
	}
}

func TestCleanupPlanOrdered(t *testing.T) {
	plan := models.ChargePlan{
		seg(at(9, 0), at(11, 0), 80, models.ChargeTypeRoutine),
		seg(at(8, 0), at(10, 0), 70, models.ChargeTypeFill),
		seg(nil, at(7, 0), 50, models.ChargeTypeMinimum),
		seg(at(10, 30), at(12, 0), 60, models.ChargeTypeFill),
	}
	out := cleanupPlan(plan)

	for i := 0; i+1 < len(out); i++ {
		require.NotNil(t, out[i].ChargeStop)
		require.NotNil(t, out[i+1].ChargeStart)
		assert.False(t, out[i].ChargeStop.After(*out[i+1].ChargeStart),
			"segment %d overlaps segment %d", i, i+1)
	}
}
