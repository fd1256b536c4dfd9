package storage

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Memory is a process-local Store. Failures can be injected for tests.
type Memory struct {
	mu     sync.Mutex
	ids    map[int64]struct{}
	audit  []AuditEntry
	closed bool

	failNext error
}

func NewMemory(ids ...int64) *Memory {
	m := &Memory{ids: map[int64]struct{}{}}
	for _, id := range ids {
		m.ids[id] = struct{}{}
	}
	return m
}

func (m *Memory) List(ctx context.Context) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, persistErr(ErrClosed, "list")
	}
	out := make([]int64, 0, len(m.ids))
	for id := range m.ids {
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (m *Memory) Add(ctx context.Context, channelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writableLocked("add"); err != nil {
		return err
	}
	m.ids[channelID] = struct{}{}
	return nil
}

func (m *Memory) Remove(ctx context.Context, channelID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writableLocked("remove"); err != nil {
		return err
	}
	delete(m.ids, channelID)
	return nil
}

func (m *Memory) AppendAudit(ctx context.Context, e AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.audit = append(m.audit, e)
	return nil
}

// FailNextWrite makes the next Add or Remove fail with err marked ErrPersistence.
func (m *Memory) FailNextWrite(err error) {
	m.mu.Lock()
	m.failNext = err
	m.mu.Unlock()
}

// Contains is a test helper.
func (m *Memory) Contains(channelID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ids[channelID]
	return ok
}

func (m *Memory) Audit() []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuditEntry(nil), m.audit...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Memory) writableLocked(op string) error {
	if m.closed {
		return persistErr(ErrClosed, op)
	}
	if err := m.failNext; err != nil {
		m.failNext = nil
		return persistErr(err, op)
	}
	return nil
}
