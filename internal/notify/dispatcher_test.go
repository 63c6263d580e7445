package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
	"github.com/evergrid-labs/bidwatch/internal/store"
)

type fakeChannel struct {
	name  string
	err   error
	calls []fakeCall
}

type fakeCall struct {
	contact string
	count   int
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, contact monitor.Contact, records []monitor.StoredRecord) error {
	f.calls = append(f.calls, fakeCall{contact: contact.Name, count: len(records)})
	return f.err
}

func seedRecords(t *testing.T, s monitor.RecordStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := s.Save(context.Background(), monitor.Record{
			Title: "公告",
			URL:   "https://example.gov.cn/notice/" + string(rune('a'+i)) + ".html",
		})
		require.NoError(t, err)
	}
}

func newTestDispatcher(s monitor.RecordStore, channels ...monitor.Channel) *Dispatcher {
	d := NewDispatcher(DispatcherConfig{BatchCap: 10}, s, channels, zap.NewNop())
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d
}

func TestDispatchFailureIsolation(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	seedRecords(t, s, 2)

	failing := &fakeChannel{name: "sms", err: errors.New("gateway down")}
	working := &fakeChannel{name: "email"}
	d := newTestDispatcher(s, failing, working)

	contacts := []monitor.Contact{{Name: "张工", Enabled: true}}
	outcomes, err := d.Dispatch(context.Background(), contacts)
	require.NoError(t, err)

	require.Len(t, working.calls, 1, "second channel still runs after the first fails")
	require.Len(t, outcomes, 2)
	require.NotEmpty(t, outcomes[0].Err)
	require.Equal(t, 2, outcomes[1].Sent)

	// Attempt-then-mark: the batch is marked notified even though one
	// channel failed.
	pending, err := s.Unnotified(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestDispatchPerContactIsolation(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	seedRecords(t, s, 1)

	ch := &fakeChannel{name: "email"}
	d := newTestDispatcher(s, ch)

	contacts := []monitor.Contact{
		{Name: "disabled", Enabled: false},
		{Name: "李工", Enabled: true},
		{Name: "王工", Enabled: true},
	}
	outcomes, err := d.Dispatch(context.Background(), contacts)
	require.NoError(t, err)
	require.Len(t, outcomes, 2, "disabled contact is skipped")
	require.Equal(t, []fakeCall{{contact: "李工", count: 1}, {contact: "王工", count: 1}}, ch.calls)
}

func TestDispatchRespectsBatchCap(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	seedRecords(t, s, 15)

	ch := &fakeChannel{name: "email"}
	d := NewDispatcher(DispatcherConfig{BatchCap: 10}, s, []monitor.Channel{ch}, zap.NewNop())
	d.sleep = func(context.Context, time.Duration) error { return nil }

	_, err := d.Dispatch(context.Background(), []monitor.Contact{{Name: "c", Enabled: true}})
	require.NoError(t, err)
	require.Equal(t, 10, ch.calls[0].count)

	// The overflow stays pending for the next dispatch.
	pending, err := s.Unnotified(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, pending, 5)
}

func TestDispatchSkipsUnconfiguredChannel(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	seedRecords(t, s, 1)

	skipping := &fakeChannel{name: "chat", err: ErrNotConfigured}
	d := newTestDispatcher(s, skipping)

	outcomes, err := d.Dispatch(context.Background(), []monitor.Contact{{Name: "c", Enabled: true}})
	require.NoError(t, err)
	require.Empty(t, outcomes, "not-configured is a skip, not a failure")
}

func TestDispatchEmptyBatchIsNoop(t *testing.T) {
	t.Parallel()

	ch := &fakeChannel{name: "email"}
	d := newTestDispatcher(store.NewMemory(), ch)

	outcomes, err := d.Dispatch(context.Background(), []monitor.Contact{{Name: "c", Enabled: true}})
	require.NoError(t, err)
	require.Nil(t, outcomes)
	require.Empty(t, ch.calls)
}

func TestDispatchDelaysBeforeVoice(t *testing.T) {
	t.Parallel()

	s := store.NewMemory()
	seedRecords(t, s, 1)

	voice := &fakeChannel{name: "voice"}
	d := NewDispatcher(DispatcherConfig{BatchCap: 10, VoiceDelay: 3 * time.Second}, s, []monitor.Channel{voice}, zap.NewNop())

	var slept time.Duration
	d.sleep = func(_ context.Context, dur time.Duration) error {
		slept += dur
		return nil
	}

	_, err := d.Dispatch(context.Background(), []monitor.Contact{{Name: "c", Enabled: true, Phone: "1"}})
	require.NoError(t, err)
	require.Equal(t, 3*time.Second, slept)
	require.Len(t, voice.calls, 1)
}
