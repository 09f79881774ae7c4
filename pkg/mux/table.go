package mux

import (
	"maps"
	"slices"
	"sync"
)

// Table maps stream ids to streams and allocates new ids.
type Table struct {
	mu            sync.Mutex
	streams       map[uint64]*Stream
	next          uint64
	step          uint64
	initialWindow int64
	// lastGood is the GOAWAY boundary. Streams above it are closed.
	lastGood uint64
	goaway   bool
}

// NewTable returns a table allocating first, first+step, ... For HTTP/2
// clients first is 1 and step is 2.
func NewTable(first, step uint64, initialWindow int64) *Table {
	if step == 0 {
		step = 1
	}
	return &Table{streams: make(map[uint64]*Stream), next: first, step: step, initialWindow: initialWindow}
}

// Allocate registers and returns the next stream in sequence.
func (t *Table) Allocate() *Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		id := t.next
		t.next += t.step
		if _, taken := t.streams[id]; !taken {
			s := newStream(id, t.initialWindow)
			t.streams[id] = s
			return s
		}
	}
}

// Reserve registers an arbitrary id, reusing an existing entry. Ids that
// break parity or ordering are accepted; the allocator continues past the
// largest reserved id with matching parity.
func (t *Table) Reserve(id uint64) *Stream {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.streams[id]; ok {
		return s
	}
	s := newStream(id, t.initialWindow)
	t.streams[id] = s
	if id >= t.next && (id-t.next)%t.step == 0 {
		t.next = id + t.step
	}
	return s
}

// Get returns a registered stream.
func (t *Table) Get(id uint64) (*Stream, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.streams[id]
	return s, ok
}

// Remove forgets a stream. Its id stays retired: State reports it closed
// and Allocate never hands it out again.
func (t *Table) Remove(id uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.streams, id)
}

// Retired reports whether id is below the allocator and no longer
// registered. Such a stream was removed after closing, or was skipped
// and is implicitly closed.
func (t *Table) Retired(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.streams[id]
	return !ok && id < t.next
}

// State returns the state of id. Retired ids are closed and ids never
// seen are idle.
func (t *Table) State(id uint64) State {
	t.mu.Lock()
	s, ok := t.streams[id]
	retired := !ok && id < t.next
	t.mu.Unlock()
	switch {
	case ok:
		return s.State()
	case retired:
		return Closed
	}
	return Idle
}

// Len returns the number of registered streams.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

// Next returns the id Allocate would return.
func (t *Table) Next() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// CloseAbove closes every stream with an id above last and returns their
// ids in ascending order.
func (t *Table) CloseAbove(last uint64) []uint64 {
	t.mu.Lock()
	t.goaway = true
	t.lastGood = last
	t.mu.Unlock()
	return t.closeIf(func(id uint64) bool { return id > last })
}

// CloseFrom closes every stream with an id of first or above. An HTTP/3
// GOAWAY names the first id the peer will not process. The boundary is
// not recorded for GoAway.
func (t *Table) CloseFrom(first uint64) []uint64 {
	return t.closeIf(func(id uint64) bool { return id >= first })
}

func (t *Table) closeIf(match func(id uint64) bool) []uint64 {
	t.mu.Lock()
	var closed []*Stream
	for id, s := range t.streams {
		if match(id) {
			closed = append(closed, s)
		}
	}
	t.mu.Unlock()
	ids := make([]uint64, 0, len(closed))
	for _, s := range closed {
		s.OnReset(false, 0)
		ids = append(ids, s.ID)
	}
	slices.Sort(ids)
	return ids
}

// GoAway returns the last stream id of a received GOAWAY.
func (t *Table) GoAway() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastGood, t.goaway
}

// Active returns the ids of streams that are neither idle nor closed.
func (t *Table) Active() []uint64 {
	t.mu.Lock()
	streams := slices.Collect(maps.Values(t.streams))
	t.mu.Unlock()
	var ids []uint64
	for _, s := range streams {
		if st := s.State(); st != Idle && st != Closed {
			ids = append(ids, s.ID)
		}
	}
	slices.Sort(ids)
	return ids
}

// Snapshot returns every stream id with its state.
func (t *Table) Snapshot() map[uint64]State {
	t.mu.Lock()
	streams := slices.Collect(maps.Values(t.streams))
	t.mu.Unlock()
	out := make(map[uint64]State, len(streams))
	for _, s := range streams {
		out[s.ID] = s.State()
	}
	return out
}

// AdjustInitialWindow applies a SETTINGS_INITIAL_WINDOW_SIZE change to
// every stream and to streams created later.
func (t *Table) AdjustInitialWindow(size int64) {
	t.mu.Lock()
	delta := size - t.initialWindow
	t.initialWindow = size
	streams := slices.Collect(maps.Values(t.streams))
	t.mu.Unlock()
	for _, s := range streams {
		s.Send.Add(delta)
	}
}
