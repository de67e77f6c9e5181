package stream

import "sync"

// Mailbox is an unbounded FIFO of raw output lines.
// Push never blocks; TryPop never blocks.
type Mailbox struct {
	mu      sync.Mutex
	items   [][]byte
	head    int
	discard bool
	pushed  int64
	dropped int64
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{items: make([][]byte, 0, 64)}
}

// Push appends item. In discard mode the item is counted and dropped.
func (m *Mailbox) Push(item []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pushed++
	if m.discard {
		m.dropped++
		return
	}
	m.items = append(m.items, item)
}

// TryPop removes and returns the oldest item, or false if the mailbox is empty.
func (m *Mailbox) TryPop() ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.head >= len(m.items) {
		return nil, false
	}
	item := m.items[m.head]
	m.items[m.head] = nil
	m.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if m.head == len(m.items) {
		m.items = m.items[:0]
		m.head = 0
	} else if m.head > 1024 && m.head*2 > len(m.items) {
		n := copy(m.items, m.items[m.head:])
		clear(m.items[n:])
		m.items = m.items[:n]
		m.head = 0
	}
	return item, true
}

// Len returns the number of queued items.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items) - m.head
}

// Discard frees queued items and drops everything pushed afterwards.
// Used when nobody will ever drain this mailbox again.
func (m *Mailbox) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.dropped += int64(len(m.items) - m.head)
	m.items = nil
	m.head = 0
	m.discard = true
}

// Stats returns the total number of pushed and dropped items.
func (m *Mailbox) Stats() (pushed, dropped int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pushed, m.dropped
}
