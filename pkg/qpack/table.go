package qpack

import (
	"strconv"

	rerrors "github.com/rawproto/rawhttp/pkg/errors"
)

// Table is a QPACK dynamic table addressed by absolute index. The first
// inserted entry has absolute index 0.
type Table struct {
	entries  []entry
	dropped  uint64
	size     uint64
	capacity uint64
}

// Inserted returns the total number of inserts, the Insert Count.
func (t *Table) Inserted() uint64 { return t.dropped + uint64(len(t.entries)) }

// Len returns the number of live entries.
func (t *Table) Len() int { return len(t.entries) }

// Size returns the summed entry size.
func (t *Table) Size() uint64 { return t.size }

// Capacity returns the current capacity.
func (t *Table) Capacity() uint64 { return t.capacity }

// SetCapacity changes the capacity and evicts oldest entries to fit.
func (t *Table) SetCapacity(c uint64) {
	t.capacity = c
	t.evict(0)
}

// Insert adds an entry, evicting the oldest entries to make room. An
// entry larger than the capacity is an error and leaves the table as is.
func (t *Table) Insert(name, value string) error {
	e := entry{name, value}
	if e.size() > t.capacity {
		return rerrors.New("R011").WithDetail("insert of " + strconv.FormatUint(e.size(), 10) +
			" bytes exceeds capacity " + strconv.FormatUint(t.capacity, 10))
	}
	t.evict(e.size())
	t.entries = append(t.entries, e)
	t.size += e.size()
	return nil
}

func (t *Table) evict(incoming uint64) {
	n := 0
	for n < len(t.entries) && t.size+incoming > t.capacity {
		t.size -= t.entries[n].size()
		n++
	}
	if n > 0 {
		t.entries = append(t.entries[:0], t.entries[n:]...)
		t.dropped += uint64(n)
	}
}

// Get returns the entry at absolute index abs.
func (t *Table) Get(abs uint64) (name, value string, ok bool) {
	if abs < t.dropped || abs >= t.Inserted() {
		return "", "", false
	}
	e := t.entries[abs-t.dropped]
	return e.name, e.value, true
}

// Search returns the absolute index of the newest exact match, or of the
// newest name match with nameOnly set.
func (t *Table) Search(name, value string) (abs uint64, nameOnly, ok bool) {
	found := false
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.name != name {
			continue
		}
		idx := t.dropped + uint64(i)
		if e.value == value {
			return idx, false, true
		}
		if !found {
			abs, found = idx, true
		}
	}
	return abs, found, found
}
