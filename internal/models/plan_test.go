package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChargeTypePriority(t *testing.T) {
	ordered := []ChargeType{
		ChargeTypeCalibrate,
		ChargeTypeMinimum,
		ChargeTypeTrip,
		ChargeTypeRoutine,
		ChargeTypePrefered,
		ChargeTypeFill,
	}
	for i := 0; i+1 < len(ordered); i++ {
		assert.Less(t, ordered[i].Priority(), ordered[i+1].Priority(),
			"%s should rank above %s", ordered[i], ordered[i+1])
	}
	assert.Equal(t, 6, ChargeType("bogus").Priority())
}

func TestChargePlanValueScan(t *testing.T) {
	t.Run("nil plan stores as NULL", func(t *testing.T) {
		var p ChargePlan
		v, err := p.Value()
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("round trip", func(t *testing.T) {
		start := time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC)
		stop := start.Add(90 * time.Minute)
		p := ChargePlan{
			{ChargeStart: &start, ChargeStop: &stop, Level: 80, ChargeType: ChargeTypeRoutine, Comment: "daily commute"},
			{ChargeStart: nil, ChargeStop: nil, Level: 100, ChargeType: ChargeTypeCalibrate},
		}

		v, err := p.Value()
		require.NoError(t, err)

		var out ChargePlan
		require.NoError(t, out.Scan(v))
		require.Len(t, out, 2)
		assert.True(t, out[0].ChargeStart.Equal(start))
		assert.True(t, out[0].ChargeStop.Equal(stop))
		assert.Equal(t, 80, out[0].Level)
		assert.Equal(t, ChargeTypeRoutine, out[0].ChargeType)
		assert.Equal(t, "daily commute", out[0].Comment)
		assert.Nil(t, out[1].ChargeStart)
		assert.Nil(t, out[1].ChargeStop)
	})

	t.Run("scan NULL clears the plan", func(t *testing.T) {
		p := ChargePlan{{Level: 80}}
		require.NoError(t, p.Scan(nil))
		assert.Nil(t, p)
	})

	t.Run("scan accepts string payload", func(t *testing.T) {
		var p ChargePlan
		require.NoError(t, p.Scan(`[{"level":70,"chargeType":"fill"}]`))
		require.Len(t, p, 1)
		assert.Equal(t, 70, p[0].Level)
		assert.Equal(t, ChargeTypeFill, p[0].ChargeType)
	})
}
