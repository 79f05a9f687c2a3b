package zipcore

import "sort"

// Table is the ordered sequence of entries: insertion order is
// the order entries are written to the archive, identical to central
// directory order observed on read. Entries are addressed by stable index,
// never by pointer chasing.
type Table struct {
	Entries []*Entry

	byStoredName []int // indices into Entries, sorted by StoredName
	byUTF8Name   []int // indices into Entries, sorted by UTF8Name-or-StoredName

	disableUTF8Index bool
}

// Add appends a new entry and invalidates the sort indices. Call Reindex
// before doing any Lookup after a batch of Add/mutation.
func (t *Table) Add(e *Entry) int {
	t.Entries = append(t.Entries, e)
	t.byStoredName = nil
	t.byUTF8Name = nil
	return len(t.Entries) - 1
}

// DisableUTF8Index disables the second index, for fix-style passes that
// must match on stored names only.
func (t *Table) DisableUTF8Index(disable bool) {
	t.disableUTF8Index = disable
}

// Reindex rebuilds both sorted index arrays under the collation given by
// less. The host-path layer is expected to supply the same collation it
// uses for filesystem lookups; a plain byte-wise less is the default.
func (t *Table) Reindex(less func(a, b []byte) bool) {
	if less == nil {
		less = bytesLess
	}
	t.byStoredName = sortedIndex(t.Entries, less, func(e *Entry) []byte { return e.StoredName })
	if !t.disableUTF8Index {
		t.byUTF8Name = sortedIndex(t.Entries, less, func(e *Entry) []byte {
			if e.UTF8Name != nil {
				return e.UTF8Name
			}
			return e.StoredName
		})
	} else {
		t.byUTF8Name = nil
	}
}

func sortedIndex(entries []*Entry, less func(a, b []byte) bool, key func(*Entry) []byte) []int {
	idx := make([]int, len(entries))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(i, j int) bool {
		return less(key(entries[idx[i]]), key(entries[idx[j]]))
	})
	return idx
}

func bytesLess(a, b []byte) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

// Lookup finds an entry by name, trying the stored-name index first and
// falling back to the UTF-8-or-stored-name index unless disabled. name
// is matched byte-for-byte against the index's key.
func (t *Table) Lookup(name []byte) (*Entry, bool) {
	if e, ok := lookupIn(t.Entries, t.byStoredName, name, func(e *Entry) []byte { return e.StoredName }); ok {
		return e, true
	}
	if t.disableUTF8Index {
		return nil, false
	}
	return lookupIn(t.Entries, t.byUTF8Name, name, func(e *Entry) []byte {
		if e.UTF8Name != nil {
			return e.UTF8Name
		}
		return e.StoredName
	})
}

func lookupIn(entries []*Entry, idx []int, name []byte, key func(*Entry) []byte) (*Entry, bool) {
	i := sort.Search(len(idx), func(i int) bool {
		return !bytesLess(key(entries[idx[i]]), name)
	})
	if i < len(idx) && bytesEqual(key(entries[idx[i]]), name) {
		return entries[idx[i]], true
	}
	return nil, false
}
