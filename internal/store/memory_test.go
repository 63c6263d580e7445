package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	m := NewMemory()
	ctx := context.Background()

	inserted, err := m.Save(ctx, monitor.Record{Title: "公告", URL: "https://a.example/1"})
	require.NoError(t, err)
	require.True(t, inserted)

	inserted, err = m.Save(ctx, monitor.Record{Title: "dup", URL: "https://a.example/1"})
	require.NoError(t, err)
	require.False(t, inserted)

	_, err = m.Save(ctx, monitor.Record{Title: "公告二", URL: "https://a.example/2"})
	require.NoError(t, err)

	pending, err := m.Unnotified(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	require.NoError(t, m.MarkNotified(ctx, []string{pending[0].UniqueID}))
	pending, err = m.Unnotified(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	recent, err := m.Recent(ctx, 10, 0)
	require.NoError(t, err)
	require.Equal(t, "https://a.example/2", recent[0].URL, "newest first")

	count, err := m.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	require.NoError(t, m.Clear(ctx))
	count, err = m.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}
