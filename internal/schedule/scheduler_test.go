package schedule_test

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/valfonso/geoduel/internal/schedule"
)

// fixedRand returns a preset sequence of offsets.
type fixedRand struct {
	vals []int
	i    int
}

func (r *fixedRand) IntN(n int) int {
	v := r.vals[r.i%len(r.vals)]
	r.i++
	return v % n
}

func TestScheduler_SnipeTime_NoBlackout(t *testing.T) {
	s := schedule.NewScheduler(rand.New(rand.NewPCG(1, 2)))
	window := schedule.ActivityWindow(testDate)

	for i := 0; i < 5000; i++ {
		got, err := s.SnipeTime(nil, testDate)
		require.NoError(t, err)

		assert.True(t, window.Contains(got), "snipe time %s outside activity window", got)
		assert.Zero(t, got.Nanosecond(), "snipe time has sub-second precision")
	}
}

func TestScheduler_SnipeTime_ExcludesBlackout(t *testing.T) {
	s := schedule.NewScheduler(rand.New(rand.NewPCG(42, 0)))
	window := schedule.ActivityWindow(testDate)
	blackout, ok := schedule.BlackoutWindow(hourPtr(14), testDate)
	require.True(t, ok)

	const samples = 20000
	before := 0
	for i := 0; i < samples; i++ {
		got, err := s.SnipeTime(hourPtr(14), testDate)
		require.NoError(t, err)

		require.True(t, window.Contains(got), "snipe time %s outside activity window", got)
		require.False(t, blackout.Contains(got), "snipe time %s inside blackout", got)

		if got.Before(blackout.Start) {
			before++
		}
	}

	// The pre-blackout interval holds 7200 of 25200 valid seconds. The
	// sample share should sit near that ratio if the offset is uniform
	// across sub-intervals.
	share := float64(before) / samples
	assert.InDelta(t, 7200.0/25200.0, share, 0.02)
}

func TestScheduler_SnipeTime_OffsetMapping(t *testing.T) {
	tests := map[string]struct {
		blackoutHour *int
		offset       int
		want         time.Time
	}{
		"offset zero lands on the window start": {
			blackoutHour: nil,
			offset:       0,
			want:         time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		},
		"last valid offset without blackout": {
			blackoutHour: nil,
			offset:       12*3600 - 1,
			want:         time.Date(2025, 6, 15, 23, 59, 59, 0, time.UTC),
		},
		"last offset before the blackout": {
			blackoutHour: hourPtr(14),
			offset:       7199,
			want:         time.Date(2025, 6, 15, 13, 59, 59, 0, time.UTC),
		},
		"first offset after the blackout": {
			blackoutHour: hourPtr(14),
			offset:       7200,
			want:         time.Date(2025, 6, 15, 19, 0, 0, 0, time.UTC),
		},
		"blackout running past midnight clamps to the window": {
			// Blackout 19:00-24:00 covers the window tail; only the
			// pre-blackout interval remains.
			blackoutHour: hourPtr(19),
			offset:       7*3600 - 1,
			want:         time.Date(2025, 6, 15, 18, 59, 59, 0, time.UTC),
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s := schedule.NewScheduler(&fixedRand{vals: []int{tt.offset}})

			got, err := s.SnipeTime(tt.blackoutHour, testDate)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduler_SnipeTime_Reproducible(t *testing.T) {
	a := schedule.NewScheduler(rand.New(rand.NewPCG(7, 7)))
	b := schedule.NewScheduler(rand.New(rand.NewPCG(7, 7)))

	for i := 0; i < 100; i++ {
		ta, err := a.SnipeTime(hourPtr(15), testDate)
		require.NoError(t, err)
		tb, err := b.SnipeTime(hourPtr(15), testDate)
		require.NoError(t, err)

		assert.Equal(t, ta, tb)
	}
}
