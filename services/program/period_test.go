package program

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCalendarWindows(t *testing.T) {
	at := time.Date(2025, 5, 14, 15, 30, 0, 0, time.UTC) // Wednesday

	start, end := PeriodWindow{Type: PeriodCalendar, Unit: UnitDay}.Window(at)
	require.Equal(t, time.Date(2025, 5, 14, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC), end)

	start, end = PeriodWindow{Type: PeriodCalendar, Unit: UnitWeek}.Window(at)
	require.Equal(t, time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2025, 5, 19, 0, 0, 0, 0, time.UTC), end)

	start, end = PeriodWindow{Type: PeriodCalendar, Unit: UnitMonth}.Window(at)
	require.Equal(t, time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), start)
	require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestCalendarWindowSundayBelongsToPreviousWeek(t *testing.T) {
	at := time.Date(2025, 5, 18, 23, 0, 0, 0, time.UTC)
	start, _ := PeriodWindow{Type: PeriodCalendar, Unit: UnitWeek}.Window(at)
	require.Equal(t, time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC), start)
}

func TestCalendarDayAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 2025-03-09 is a 23 hour day in New York.
	at := time.Date(2025, 3, 9, 12, 0, 0, 0, ny)
	start, end := PeriodWindow{Type: PeriodCalendar, Unit: UnitDay, Timezone: "America/New_York"}.Window(at)
	require.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, ny).UTC(), start)
	require.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, ny).UTC(), end)
	require.Equal(t, 23*time.Hour, end.Sub(start))
}

func TestCalendarDayUsesPeriodTimezone(t *testing.T) {
	// 23:30 UTC is already the next day in Jakarta.
	at := time.Date(2025, 5, 14, 23, 30, 0, 0, time.UTC)
	start, _ := PeriodWindow{Type: PeriodCalendar, Unit: UnitDay, Timezone: "Asia/Jakarta"}.Window(at)
	require.Equal(t, time.Date(2025, 5, 14, 17, 0, 0, 0, time.UTC), start)
}

func TestRollingWindow(t *testing.T) {
	at := time.Date(2025, 5, 14, 15, 30, 0, 0, time.UTC)
	start, end := PeriodWindow{Type: PeriodRolling, Days: 7}.Window(at)
	require.Equal(t, time.Date(2025, 5, 7, 15, 30, 0, 0, time.UTC), start)
	require.True(t, end.After(at))
	require.Equal(t, time.Nanosecond, end.Sub(at))
}

func TestRollingWindowAcrossDSTKeepsWallClock(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	at := time.Date(2025, 3, 10, 12, 0, 0, 0, ny)
	start, _ := PeriodWindow{Type: PeriodRolling, Days: 2, Timezone: "America/New_York"}.Window(at)
	require.Equal(t, time.Date(2025, 3, 8, 12, 0, 0, 0, ny).UTC(), start)
	require.Equal(t, 47*time.Hour, at.Sub(start))
}

func TestPeriodValidate(t *testing.T) {
	require.NoError(t, PeriodWindow{Type: PeriodCalendar, Unit: UnitWeek}.Validate())
	require.ErrorIs(t, PeriodWindow{Type: PeriodCalendar, Unit: "year"}.Validate(), ErrInvalidLimits)
	require.ErrorIs(t, PeriodWindow{Type: PeriodRolling}.Validate(), ErrInvalidLimits)
	require.ErrorIs(t, PeriodWindow{Type: "sliding", Days: 3}.Validate(), ErrInvalidLimits)
	require.ErrorIs(t, PeriodWindow{Type: PeriodRolling, Days: 3, Timezone: "Mars/Olympus"}.Validate(), ErrInvalidLimits)
}

func TestLimitsValidate(t *testing.T) {
	limit := int64(100)
	require.ErrorIs(t, Limits{PerPeriodCap: &limit}.Validate(), ErrInvalidLimits)
	require.NoError(t, Limits{PerPeriodCap: &limit, Period: &PeriodWindow{Type: PeriodCalendar, Unit: UnitMonth}}.Validate())

	zero := 0
	require.ErrorIs(t, Limits{CooldownHours: &zero}.Validate(), ErrInvalidLimits)
	require.ErrorIs(t, Limits{Frequency: &Frequency{MaxAwards: 0}}.Validate(), ErrInvalidLimits)
}
