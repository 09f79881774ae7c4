package hpack

// Table is an HPACK dynamic table. Entries are evicted oldest first when
// the table exceeds its maximum size.
type Table struct {
	// entries holds the newest entry last.
	entries []entry
	size    uint32
	maxSize uint32
}

// NewTable returns an empty table with the given maximum size.
func NewTable(maxSize uint32) *Table {
	return &Table{maxSize: maxSize}
}

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }

// Size returns the summed entry size.
func (t *Table) Size() uint32 { return t.size }

// MaxSize returns the current limit.
func (t *Table) MaxSize() uint32 { return t.maxSize }

// SetMaxSize changes the limit and evicts as needed.
func (t *Table) SetMaxSize(n uint32) {
	t.maxSize = n
	t.evict(0)
}

// Add inserts an entry. An entry larger than the table empties it and is
// not stored.
func (t *Table) Add(name, value string) {
	e := entry{name, value}
	if e.size() > t.maxSize {
		t.entries = t.entries[:0]
		t.size = 0
		return
	}
	t.evict(e.size())
	t.entries = append(t.entries, e)
	t.size += e.size()
}

func (t *Table) evict(incoming uint32) {
	n := 0
	for n < len(t.entries) && t.size+incoming > t.maxSize {
		t.size -= t.entries[n].size()
		n++
	}
	if n > 0 {
		t.entries = append(t.entries[:0], t.entries[n:]...)
	}
}

// Entry returns the dynamic entry at 1-based index i, where 1 is the
// newest.
func (t *Table) Entry(i uint64) (name, value string, ok bool) {
	if i == 0 || i > uint64(len(t.entries)) {
		return "", "", false
	}
	e := t.entries[len(t.entries)-int(i)]
	return e.name, e.value, true
}

// Lookup resolves a combined index: 1..61 static, 62 and up dynamic.
func (t *Table) Lookup(i uint64) (name, value string, ok bool) {
	if i == 0 {
		return "", "", false
	}
	if i <= StaticLen {
		e := staticTable[i]
		return e.name, e.value, true
	}
	return t.Entry(i - StaticLen)
}

// Search returns the combined index of an exact match, or failing that of
// a name match with nameOnly set. It returns 0 when nothing matches.
func (t *Table) Search(name, value string) (index uint64, nameOnly bool) {
	if i, ok := staticExact[staticKey{name, value}]; ok {
		return i, false
	}
	var nameIdx uint64
	for j := len(t.entries) - 1; j >= 0; j-- {
		e := t.entries[j]
		if e.name != name {
			continue
		}
		idx := uint64(StaticLen + len(t.entries) - j)
		if e.value == value {
			return idx, false
		}
		if nameIdx == 0 {
			nameIdx = idx
		}
	}
	if i, ok := staticName[name]; ok {
		return i, true
	}
	return nameIdx, nameIdx != 0
}
