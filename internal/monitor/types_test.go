package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordUniqueIDStableAcrossFieldDrift(t *testing.T) {
	t.Parallel()

	a := Record{Title: "某光伏电站设备采购公告", URL: "https://example.gov.cn/notice/1.html"}
	b := Record{Title: "retitled after edit", URL: "https://example.gov.cn/notice/1.html", Content: "body changed"}

	require.Equal(t, a.UniqueID(), b.UniqueID())
	require.Len(t, a.UniqueID(), 32)
}

func TestRecordUniqueIDDiffersByURL(t *testing.T) {
	t.Parallel()

	a := Record{URL: "https://example.gov.cn/notice/1.html"}
	b := Record{URL: "https://example.gov.cn/notice/2.html"}
	require.NotEqual(t, a.UniqueID(), b.UniqueID())
}

func TestRoundStateSingleFlight(t *testing.T) {
	t.Parallel()

	state := NewRoundState()
	require.True(t, state.BeginTask())
	require.False(t, state.BeginTask(), "second claim must be rejected while a round is in flight")

	state.EndTask(time.Now())
	require.True(t, state.BeginTask())
}

func TestRoundStateRoundsTodayRollsOver(t *testing.T) {
	t.Parallel()

	state := NewRoundState()
	day1 := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 0, 10, 0, 0, time.UTC)

	require.True(t, state.BeginTask())
	state.EndTask(day1)
	require.Equal(t, 1, state.Snapshot(day1).RoundsToday)

	require.True(t, state.BeginTask())
	state.EndTask(day1.Add(time.Minute))
	require.Equal(t, 2, state.Snapshot(day1).RoundsToday)

	require.Equal(t, 0, state.Snapshot(day2).RoundsToday, "counter resets on date rollover")

	require.True(t, state.BeginTask())
	state.EndTask(day2)
	require.Equal(t, 1, state.Snapshot(day2).RoundsToday)
}

func TestRoundStateStopClearsSchedule(t *testing.T) {
	t.Parallel()

	state := NewRoundState()
	state.SetRunning(true)
	state.SetNextRun(time.Now().Add(30 * time.Minute))
	state.SetRunning(false)

	snap := state.Snapshot(time.Now())
	require.False(t, snap.IsRunning)
	require.True(t, snap.NextRunTime.IsZero())
}
