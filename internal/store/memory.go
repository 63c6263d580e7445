package store

import (
	"context"
	"sync"
	"time"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

// Memory is an in-process RecordStore for tests and development.
type Memory struct {
	mu     sync.Mutex
	nextID int64
	byUID  map[string]*monitor.StoredRecord
	order  []string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		nextID: 1,
		byUID:  make(map[string]*monitor.StoredRecord),
	}
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

// Exists reports whether a record with the given unique ID is stored.
func (m *Memory) Exists(_ context.Context, uniqueID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byUID[uniqueID]
	return ok, nil
}

// Save inserts the record unless its unique ID is already present.
func (m *Memory) Save(_ context.Context, rec monitor.Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	uid := rec.UniqueID()
	if _, ok := m.byUID[uid]; ok {
		return false, nil
	}
	stored := &monitor.StoredRecord{
		Record:    rec,
		ID:        m.nextID,
		UniqueID:  uid,
		CreatedAt: time.Now().UTC(),
	}
	m.nextID++
	m.byUID[uid] = stored
	m.order = append(m.order, uid)
	return true, nil
}

// Unnotified returns up to limit records awaiting dispatch, oldest first.
func (m *Memory) Unnotified(_ context.Context, limit int) ([]monitor.StoredRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []monitor.StoredRecord
	for _, uid := range m.order {
		rec := m.byUID[uid]
		if rec.Notified {
			continue
		}
		out = append(out, *rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// MarkNotified flags the given unique IDs as dispatched.
func (m *Memory) MarkNotified(_ context.Context, uniqueIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, uid := range uniqueIDs {
		if rec, ok := m.byUID[uid]; ok {
			rec.Notified = true
		}
	}
	return nil
}

// Recent returns the newest records first.
func (m *Memory) Recent(_ context.Context, limit, offset int) ([]monitor.StoredRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []monitor.StoredRecord
	for i := len(m.order) - 1 - offset; i >= 0; i-- {
		out = append(out, *m.byUID[m.order[i]])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Count returns the total number of stored records.
func (m *Memory) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.order)), nil
}

// Clear removes every stored record.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byUID = make(map[string]*monitor.StoredRecord)
	m.order = nil
	m.nextID = 1
	return nil
}
