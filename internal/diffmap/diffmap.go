// Package diffmap holds the in-memory, address-ordered, non-overlapping
// collection of diff entries described in spec §3.5 and §4.D. Payloads
// are always held uncompressed; compression is applied only when a
// component C writer serializes an entry to a wdiff stream, so entries
// never need decompressing before a split or trim.
//
// The map is a sorted slice rather than the teacher's skip list: every
// insert here potentially splices a variable number of neighboring
// entries (trim, drop, split), which is a contiguous-window operation
// on a sorted slice; a skip list buys concurrent point-write throughput
// this single-threaded, whole-range-splicing workload does not need.
package diffmap

import (
	"github.com/walb-tools/walb-go/internal/block"
	"github.com/walb-tools/walb-go/internal/wdiff"
)

// Entry is one non-overlapping span held by a Map.
type Entry struct {
	IoAddress uint64 // LB
	IoBlocks  uint16 // LB
	Flags     uint8  // wdiff.FlagExist | FlagAllZero | FlagDiscard
	Payload   []byte // uncompressed; nil for all-zero/discard entries
}

// EndAddress returns the LB address one past the end of e's span.
func (e Entry) EndAddress() uint64 { return e.IoAddress + uint64(e.IoBlocks) }

// IsNormal reports whether e carries a real payload.
func (e Entry) IsNormal() bool {
	return e.Flags&wdiff.FlagAllZero == 0 && e.Flags&wdiff.FlagDiscard == 0
}

// Stats summarizes the entries currently held by a Map.
type Stats struct {
	NumEntries int
	NumBlocks  uint64 // sum of IoBlocks across all entries
}

// Map is an address-ordered, non-overlapping collection of Entry values
// (spec §3.5).
type Map struct {
	maxIoBlocks uint16 // 0 disables splitting of oversized newcomers
	entries     []Entry
}

// New creates an empty Map. maxIoBlocks, if nonzero, bounds the size of
// any single entry after Add's overlap resolution (spec §4.D).
func New(maxIoBlocks uint16) *Map {
	return &Map{maxIoBlocks: maxIoBlocks}
}

// Len returns the number of entries currently held.
func (m *Map) Len() int { return len(m.entries) }

// Stats returns aggregate counters over the current entries.
func (m *Map) Stats() Stats {
	s := Stats{NumEntries: len(m.entries)}
	for _, e := range m.entries {
		s.NumBlocks += uint64(e.IoBlocks)
	}
	return s
}

// Iter calls fn for every entry in ascending address order. fn must not
// mutate the Map.
func (m *Map) Iter(fn func(Entry)) {
	for _, e := range m.entries {
		fn(e)
	}
}

// ExtractFirst removes and returns the smallest-address entry. ok is
// false if the map is empty.
func (m *Map) ExtractFirst() (e Entry, ok bool) {
	if len(m.entries) == 0 {
		return Entry{}, false
	}
	e = m.entries[0]
	m.entries = m.entries[1:]
	return e, true
}

// ExtractDone removes and returns, in ascending address order, every
// entry whose EndAddress is at or before doneAddr. Used by the diff
// merger (spec §4.E) to drain entries no future input record can touch.
func (m *Map) ExtractDone(doneAddr uint64) []Entry {
	var done []Entry
	kept := m.entries[:0]
	for _, e := range m.entries {
		if e.EndAddress() <= doneAddr {
			done = append(done, e)
		} else {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return done
}

// lowerBound returns the index of the first entry whose EndAddress is
// greater than addr (i.e. the first entry that could possibly overlap
// a span starting at addr).
func (m *Map) lowerBound(addr uint64) int {
	lo, hi := 0, len(m.entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if m.entries[mid].EndAddress() <= addr {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

func payloadBytes(e Entry, lb uint16) []byte {
	n := int(lb) * block.LogicalBlockSize
	if n > len(e.Payload) {
		n = len(e.Payload)
	}
	return e.Payload[:n]
}

// Add inserts newEntry, resolving overlaps so that newEntry always wins
// (spec §4.D, the central algorithm). Existing entries intersecting
// newEntry's span are dropped, truncated, left-trimmed, or split as
// needed; newEntry is then inserted, itself split into chunks no larger
// than maxIoBlocks if that bound is set and exceeded.
func (m *Map) Add(newEntry Entry) {
	start := newEntry.IoAddress
	end := newEntry.EndAddress()

	insertAt := m.lowerBound(start)
	i := insertAt
	var before, after *Entry

	for i < len(m.entries) && m.entries[i].IoAddress < end {
		ex := m.entries[i]
		i++

		switch {
		case ex.IoAddress >= start && ex.EndAddress() <= end:
			// Fully covered: drop.

		case ex.IoAddress < start && ex.EndAddress() <= end:
			// Left-overlap only: truncate ex on the right.
			truncated := ex
			truncated.IoBlocks = uint16(start - ex.IoAddress)
			if truncated.IsNormal() {
				truncated.Payload = payloadBytes(truncated, truncated.IoBlocks)
			}
			before = &truncated

		case ex.IoAddress >= start && ex.EndAddress() > end:
			// Right-overlap only: left-trim ex.
			trimmedBlocks := uint16(ex.EndAddress() - end)
			trimmed := ex
			trimmed.IoAddress = end
			trimmed.IoBlocks = trimmedBlocks
			if trimmed.IsNormal() {
				dropLB := ex.IoBlocks - trimmedBlocks
				off := int(dropLB) * block.LogicalBlockSize
				if off > len(ex.Payload) {
					off = len(ex.Payload)
				}
				trimmed.Payload = ex.Payload[off:]
			}
			after = &trimmed

		default:
			// Straddling: split into a left truncation and a right trim
			// sharing the same source payload.
			left := ex
			left.IoBlocks = uint16(start - ex.IoAddress)
			if left.IsNormal() {
				left.Payload = payloadBytes(left, left.IoBlocks)
			}

			rightBlocks := uint16(ex.EndAddress() - end)
			right := ex
			right.IoAddress = end
			right.IoBlocks = rightBlocks
			if right.IsNormal() {
				dropLB := ex.IoBlocks - left.IoBlocks - rightBlocks
				off := int(left.IoBlocks+dropLB) * block.LogicalBlockSize
				if off > len(ex.Payload) {
					off = len(ex.Payload)
				}
				right.Payload = ex.Payload[off:]
			}

			before, after = &left, &right
		}
	}

	newcomers := m.chunk(newEntry)
	replacement := make([]Entry, 0, 2+len(newcomers))
	if before != nil {
		replacement = append(replacement, *before)
	}
	replacement = append(replacement, newcomers...)
	if after != nil {
		replacement = append(replacement, *after)
	}

	out := make([]Entry, 0, len(m.entries)-(i-insertAt)+len(replacement))
	out = append(out, m.entries[:insertAt]...)
	out = append(out, replacement...)
	out = append(out, m.entries[i:]...)
	m.entries = out
}

// chunk splits e into consecutive pieces no larger than maxIoBlocks,
// preserving flags; splitting is only applied to uncompressed payloads,
// which Map always holds.
func (m *Map) chunk(e Entry) []Entry {
	if m.maxIoBlocks == 0 || e.IoBlocks <= m.maxIoBlocks {
		return []Entry{e}
	}
	var out []Entry
	addr := e.IoAddress
	remaining := e.IoBlocks
	payload := e.Payload
	for remaining > 0 {
		n := m.maxIoBlocks
		if n > remaining {
			n = remaining
		}
		piece := Entry{IoAddress: addr, IoBlocks: n, Flags: e.Flags}
		if piece.IsNormal() {
			sz := int(n) * block.LogicalBlockSize
			if sz > len(payload) {
				sz = len(payload)
			}
			piece.Payload = payload[:sz]
			payload = payload[sz:]
		}
		out = append(out, piece)
		addr += uint64(n)
		remaining -= n
	}
	return out
}
