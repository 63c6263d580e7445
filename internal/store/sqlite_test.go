package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "bids.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteSaveDeduplicates(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()
	rec := monitor.Record{
		Title:       "某光伏电站设备采购公告",
		URL:         "https://example.gov.cn/notice/1.html",
		PublishDate: "2026-08-25",
		Source:      "ccgp",
	}

	inserted, err := s.Save(ctx, rec)
	require.NoError(t, err)
	require.True(t, inserted)

	// Same URL with drifted metadata is the same announcement.
	rec.Title = "retitled"
	inserted, err = s.Save(ctx, rec)
	require.NoError(t, err)
	require.False(t, inserted)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	exists, err := s.Exists(ctx, rec.UniqueID())
	require.NoError(t, err)
	require.True(t, exists)
}

func TestSQLiteUnnotifiedAndMark(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := s.Save(ctx, monitor.Record{
			Title: "公告",
			URL:   "https://example.gov.cn/notice/" + string(rune('a'+i)) + ".html",
		})
		require.NoError(t, err)
	}

	pending, err := s.Unnotified(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2, "limit caps the batch")
	require.Less(t, pending[0].ID, pending[1].ID, "oldest first")

	uids := []string{pending[0].UniqueID, pending[1].UniqueID}
	require.NoError(t, s.MarkNotified(ctx, uids))

	pending, err = s.Unnotified(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.False(t, pending[0].Notified)
}

func TestSQLiteRecentOrdersNewestFirst(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	urls := []string{
		"https://example.gov.cn/1.html",
		"https://example.gov.cn/2.html",
		"https://example.gov.cn/3.html",
	}
	for _, u := range urls {
		_, err := s.Save(ctx, monitor.Record{Title: "公告", URL: u})
		require.NoError(t, err)
	}

	recent, err := s.Recent(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, urls[2], recent[0].URL)
	require.Equal(t, urls[1], recent[1].URL)

	paged, err := s.Recent(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, paged, 1)
	require.Equal(t, urls[0], paged[0].URL)
}

func TestSQLiteClear(t *testing.T) {
	t.Parallel()

	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.Save(ctx, monitor.Record{Title: "公告", URL: "https://example.gov.cn/x.html"})
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)
}
