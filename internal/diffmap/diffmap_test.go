package diffmap

import (
	"bytes"
	"testing"

	"github.com/walb-tools/walb-go/internal/wdiff"
)

func payload(n int, seed byte) []byte {
	b := make([]byte, n*512)
	for i := range b {
		b[i] = seed
	}
	return b
}

func normal(addr uint64, blocks uint16, seed byte) Entry {
	return Entry{IoAddress: addr, IoBlocks: blocks, Flags: wdiff.FlagExist, Payload: payload(int(blocks), seed)}
}

func TestAddNoOverlap(t *testing.T) {
	m := New(0)
	m.Add(normal(0, 4, 1))
	m.Add(normal(10, 4, 2))
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
}

func TestAddFullyCovers(t *testing.T) {
	m := New(0)
	m.Add(normal(0, 4, 1))
	m.Add(normal(0, 4, 2))
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
	e, _ := m.ExtractFirst()
	if e.Payload[0] != 2 {
		t.Fatalf("newcomer did not win")
	}
}

func TestAddTruncatesLeftOverlap(t *testing.T) {
	m := New(0)
	m.Add(normal(0, 8, 1)) // [0,8)
	m.Add(normal(4, 8, 2)) // [4,12) overlaps right half of existing

	var addrs []uint64
	m.Iter(func(e Entry) { addrs = append(addrs, e.IoAddress) })
	if len(addrs) != 2 || addrs[0] != 0 || addrs[1] != 4 {
		t.Fatalf("unexpected entries after left overlap: %v", addrs)
	}

	first, _ := m.ExtractFirst()
	if first.IoBlocks != 4 {
		t.Fatalf("truncated IoBlocks = %d, want 4", first.IoBlocks)
	}
	if len(first.Payload) != 4*512 {
		t.Fatalf("truncated payload length = %d, want %d", len(first.Payload), 4*512)
	}
}

func TestAddTrimsRightOverlap(t *testing.T) {
	m := New(0)
	m.Add(normal(4, 8, 1))  // [4,12)
	m.Add(normal(0, 8, 2)) // [0,8) overlaps left half of existing

	var got []Entry
	m.Iter(func(e Entry) { got = append(got, e) })
	if len(got) != 2 {
		t.Fatalf("Len = %d, want 2", len(got))
	}
	if got[0].IoAddress != 0 || got[0].IoBlocks != 8 {
		t.Fatalf("newcomer mismatch: %+v", got[0])
	}
	if got[1].IoAddress != 8 || got[1].IoBlocks != 4 {
		t.Fatalf("trimmed remainder mismatch: %+v", got[1])
	}
	wantTail := payload(8, 1)[4*512:]
	if !bytes.Equal(got[1].Payload, wantTail) {
		t.Fatalf("trimmed payload mismatch")
	}
}

func TestAddStraddlesSplitsExisting(t *testing.T) {
	m := New(0)
	m.Add(normal(0, 16, 1)) // [0,16)
	m.Add(normal(4, 4, 2))  // [4,8) entirely inside existing

	var got []Entry
	m.Iter(func(e Entry) { got = append(got, e) })
	if len(got) != 3 {
		t.Fatalf("Len = %d, want 3: %+v", len(got), got)
	}
	if got[0].IoAddress != 0 || got[0].IoBlocks != 4 {
		t.Fatalf("left remainder mismatch: %+v", got[0])
	}
	if got[1].IoAddress != 4 || got[1].IoBlocks != 4 {
		t.Fatalf("newcomer mismatch: %+v", got[1])
	}
	if got[2].IoAddress != 8 || got[2].IoBlocks != 8 {
		t.Fatalf("right remainder mismatch: %+v", got[2])
	}
}

func TestAddSplitsOversizedNewcomer(t *testing.T) {
	m := New(4)
	m.Add(normal(0, 10, 1))
	var got []Entry
	m.Iter(func(e Entry) { got = append(got, e) })
	if len(got) != 3 {
		t.Fatalf("Len = %d, want 3 chunks of <=4", len(got))
	}
	var total uint16
	for _, e := range got {
		if e.IoBlocks > 4 {
			t.Fatalf("chunk too large: %d", e.IoBlocks)
		}
		total += e.IoBlocks
	}
	if total != 10 {
		t.Fatalf("chunked total = %d, want 10", total)
	}
}

func TestExtractFirstOrdersByAddress(t *testing.T) {
	m := New(0)
	m.Add(normal(20, 2, 1))
	m.Add(normal(0, 2, 2))
	m.Add(normal(10, 2, 3))

	e, ok := m.ExtractFirst()
	if !ok || e.IoAddress != 0 {
		t.Fatalf("ExtractFirst = %+v, want address 0", e)
	}
	e, _ = m.ExtractFirst()
	if e.IoAddress != 10 {
		t.Fatalf("ExtractFirst = %+v, want address 10", e)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}

func TestStats(t *testing.T) {
	m := New(0)
	m.Add(normal(0, 4, 1))
	m.Add(normal(10, 6, 2))
	s := m.Stats()
	if s.NumEntries != 2 || s.NumBlocks != 10 {
		t.Fatalf("Stats() = %+v, want {2 10}", s)
	}
}

func TestAddDiscardCarriesNoPayload(t *testing.T) {
	m := New(0)
	m.Add(Entry{IoAddress: 0, IoBlocks: 4, Flags: wdiff.FlagExist | wdiff.FlagDiscard})
	e, _ := m.ExtractFirst()
	if e.IsNormal() || e.Payload != nil {
		t.Fatalf("discard entry carries payload: %+v", e)
	}
}
