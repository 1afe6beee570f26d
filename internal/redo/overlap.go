package redo

import "sort"

// overlapMap is the address-keyed, ordered collection of live IOs of
// spec §4.G ("overlap_map"): a sorted slice searched the same way
// internal/diffmap keeps its entries, since both are range-keyed
// in-memory sets too small and short-lived to justify a tree. Unlike
// diffmap's entries, overlapMap's can and do overlap each other, which
// is the entire point — insert counts how many live entries a new IO
// lands on top of.
type overlapMap struct {
	entries []*ioState // sorted by offset; may overlap
	maxSize int64
}

// insert adds io, scanning the window spec §4.G names
// ([io.offset-max_size, io.offset+io.size)) for existing entries it
// overlaps: each bumps io.nOverlapped, and any existing entry io fully
// covers is marked overwritten.
func (m *overlapMap) insert(io *ioState) {
	if io.size > m.maxSize {
		m.maxSize = io.size
	}
	lo := io.offset - m.maxSize
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].offset >= lo })
	for ; i < len(m.entries) && m.entries[i].offset < io.end(); i++ {
		p := m.entries[i]
		if !overlaps(io, p) {
			continue
		}
		io.nOverlapped++
		if io.offset <= p.offset && p.end() <= io.end() {
			p.overwritten = true
		}
	}

	j := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].offset >= io.offset })
	m.entries = append(m.entries, nil)
	copy(m.entries[j+1:], m.entries[j:])
	m.entries[j] = io
}

// remove deletes io from the map and returns every live entry that
// overlapped it, so the caller can decrement their nOverlapped and
// promote any that reach zero (spec §4.G, "Completion wait").
func (m *overlapMap) remove(io *ioState) []*ioState {
	for i, p := range m.entries {
		if p == io {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}

	lo := io.offset - m.maxSize
	i := sort.Search(len(m.entries), func(i int) bool { return m.entries[i].offset >= lo })
	var overlapped []*ioState
	for ; i < len(m.entries) && m.entries[i].offset < io.end(); i++ {
		if overlaps(io, m.entries[i]) {
			overlapped = append(overlapped, m.entries[i])
		}
	}
	return overlapped
}

func overlaps(a, b *ioState) bool {
	return a.offset < b.end() && b.offset < a.end()
}
