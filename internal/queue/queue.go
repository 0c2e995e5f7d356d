// Package queue keeps an in-memory, insertion-ordered mirror of the servable
// codes for O(1) duplicate checks and the legacy fetch/delete FIFO protocol.
package queue

import (
	"context"
	"sync"

	"github.com/mkrivosheev/passrelay/internal/errs"
)

// backing is the slice of the code store the mirror persists through.
type backing interface {
	InsertCode(ctx context.Context, code string) (bool, error)
	DeleteCode(ctx context.Context, code string) error
}

// Mirror is the in-memory duplicate of undelivered codes. It is warmed from
// the store at startup and kept in sync with it on every put and pop.
type Mirror struct {
	mu      sync.Mutex
	store   backing
	items   []string
	present map[string]struct{}
	fetched bool // set by Peek, consumed by Pop
}

// New creates an empty mirror backed by the given store.
func New(store backing) *Mirror {
	return &Mirror{store: store, present: map[string]struct{}{}}
}

// Warm appends a code already present in the store, without persisting.
func (m *Mirror) Warm(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(code)
}

// Put appends a new code and persists it. Codes already mirrored are a no-op
// reporting false; a code known to the store but missing from memory is
// still appended so the mirror converges.
func (m *Mirror) Put(ctx context.Context, code string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.present[code]; ok {
		return false, nil
	}
	if _, err := m.store.InsertCode(ctx, code); err != nil {
		return false, err
	}
	m.add(code)
	return true, nil
}

// Peek returns the head without removing it and arms the next Pop.
func (m *Mirror) Peek() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return "", errs.ErrNoCode
	}
	m.fetched = true
	return m.items[0], nil
}

// Pop removes the head and persists its deletion. It fails with
// errs.ErrNotFetched unless a Peek happened with no intervening Pop.
func (m *Mirror) Pop(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.fetched {
		return "", errs.ErrNotFetched
	}
	if len(m.items) == 0 {
		return "", errs.ErrNoCode
	}
	head := m.items[0]
	if err := m.store.DeleteCode(ctx, head); err != nil {
		return "", err
	}
	m.items = m.items[1:]
	delete(m.present, head)
	m.fetched = false
	return head, nil
}

// Remove drops a code from the mirror without touching the store; the caller
// already recorded its fate there. Removing an absent code is a no-op. If the
// removed code was the peeked head, the pending fetch is voided.
func (m *Mirror) Remove(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.present[code]; !ok {
		return
	}
	if len(m.items) > 0 && m.items[0] == code {
		m.fetched = false
	}
	for i, c := range m.items {
		if c == code {
			m.items = append(m.items[:i], m.items[i+1:]...)
			break
		}
	}
	delete(m.present, code)
}

// Len reports how many codes are mirrored.
func (m *Mirror) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Mirror) add(code string) {
	if _, ok := m.present[code]; ok {
		return
	}
	m.items = append(m.items, code)
	m.present[code] = struct{}{}
}
