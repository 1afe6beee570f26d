// Package diffmerge implements the bounded-memory N-way streaming merge
// of spec §4.E: k chronologically-ordered wdiff streams are merged into
// one address-ordered, non-overlapping stream where, on overlap, the
// newer (higher-index) input always wins.
package diffmerge

import (
	"fmt"
	"io"
	"math"

	"github.com/walb-tools/walb-go/internal/block"
	"github.com/walb-tools/walb-go/internal/diffmap"
	"github.com/walb-tools/walb-go/internal/wdiff"
	"github.com/walb-tools/walb-go/walberr"
)

// DefaultSearchLenLB is the default size of the lookahead window within
// which records are pulled into the scratch map before the watermark
// advances (spec §4.E: "1 MiB / 512 B = 2048").
const DefaultSearchLenLB = (1 << 20) / block.LogicalBlockSize

// Options configures a Merger.
type Options struct {
	// SearchLenLB is the lookahead window in LB; zero selects
	// DefaultSearchLenLB.
	SearchLenLB uint64
	// MaxIoBlocksOut bounds entries inserted into the scratch map
	// during merge (spec §4.D); zero disables splitting.
	MaxIoBlocksOut uint16
	// CheckUUID, if true, fails with walberr.ErrUuidMismatch when two
	// input headers carry different UUIDs. Off by default, per spec
	// §4.E/§9 ("UUID validation across inputs is optional, off by
	// default").
	CheckUUID bool
}

// Merger drives the streaming merge. Create with NewMerger and pull
// merged entries with Next, or drive it end to end with WriteTo.
type Merger struct {
	streams   []*stream
	searchLen uint64
	m         *diffmap.Map
	doneAddr  uint64

	queue []diffmap.Entry

	// Output header fields, derived from the inputs per spec §4.E
	// ("output side").
	UUID        [16]byte
	MaxIoBlocks uint16
	Pbs         uint32
	Salt        uint32
}

// NewMerger opens readers as wdiff streams, oldest first, and prepares
// the merge.
func NewMerger(readers []io.Reader, opts Options) (*Merger, error) {
	searchLen := opts.SearchLenLB
	if searchLen == 0 {
		searchLen = DefaultSearchLenLB
	}
	mg := &Merger{
		searchLen: searchLen,
		m:         diffmap.New(opts.MaxIoBlocksOut),
	}
	haveUUID := false
	for i, r := range readers {
		rd := wdiff.NewReader(r, nil)
		h, err := rd.ReadHeader()
		if err != nil {
			return nil, fmt.Errorf("diffmerge: read header of input %d: %w", i, err)
		}
		if opts.CheckUUID && haveUUID && h.UUID != mg.UUID {
			return nil, fmt.Errorf("diffmerge: input %d: %w", i, walberr.NewUuidMismatch(block.UUID(mg.UUID), block.UUID(h.UUID)))
		}
		mg.UUID = h.UUID // last input's UUID wins, per spec §4.E.
		mg.Pbs = h.Pbs
		mg.Salt = h.Salt
		haveUUID = true
		if h.MaxIoBlocks > mg.MaxIoBlocks {
			mg.MaxIoBlocks = h.MaxIoBlocks
		}
		s, err := newStream(rd)
		if err != nil {
			return nil, fmt.Errorf("diffmerge: prime input %d: %w", i, err)
		}
		mg.streams = append(mg.streams, s)
	}
	return mg, nil
}

func (mg *Merger) allEmpty() bool {
	for _, s := range mg.streams {
		if !s.empty() {
			return false
		}
	}
	return true
}

// fill runs the streaming-merge main loop (spec §4.E) until either the
// output queue has an entry or every input is exhausted.
//
// A record is only ever safe to add to M once every OLDER stream's
// current front is known to start at or after its end: that's the only
// data an older stream could ever contribute that would need to land in
// M *after* this record (an overlap there must lose to this record
// being newer, which only holds if this record is added first). So each
// round walks streams oldest first and gates stream i's pop not on the
// spec's literal "global minAddr" — the stream holding that minimum
// always has front.end_io_address > minAddr for itself, so that literal
// gate can never admit the very record defining the minimum, and stalls
// forever — but on olderMin, the minimum current front address among
// strictly older streams only, updated as each older stream is visited
// this round. The oldest stream (olderMin == +inf, nothing is older
// than it) is gated purely by the lookahead window, exactly as before;
// later streams additionally wait on whatever older data is still live.
//
// Once every stream has been walked, the watermark is the smallest
// remaining front address across all streams, and anything in M that
// address can no longer touch is safe to flush.
//
// If an overlapping span is wider than searchLen itself, the round above
// can legitimately pop nothing (every stream blocked, either by window
// or by olderMin) while the watermark also fails to advance — the
// literal algorithm's deadlock, just confined to this one case instead
// of every case. When that happens, force the oldest still-open
// stream's front through regardless of the window: nothing ordered
// before it remains to reach M, so admitting it out of window-turn is
// always safe, and it is exactly the pop needed to unblock whichever
// newer stream was waiting on it.
func (mg *Merger) fill() error {
	for len(mg.queue) == 0 && !mg.allEmpty() {
		windowLimit := mg.doneAddr + mg.searchLen
		olderMin := uint64(math.MaxUint64)
		popped := false
		for _, s := range mg.streams {
			for !s.empty() && s.front.IoAddress < windowLimit && s.front.EndAddress() <= olderMin {
				e, err := s.pop()
				if err != nil {
					return err
				}
				mg.m.Add(e)
				popped = true
			}
			if !s.empty() && s.front.IoAddress < olderMin {
				olderMin = s.front.IoAddress
			}
		}

		minAddr := mg.minFrontAddr()
		if !popped && minAddr == mg.doneAddr {
			if err := mg.forcePopOldest(); err != nil {
				return err
			}
			minAddr = mg.minFrontAddr()
		}

		mg.doneAddr = minAddr
		mg.queue = append(mg.queue, mg.m.ExtractDone(mg.doneAddr)...)
	}
	return nil
}

// minFrontAddr returns the smallest current front address across every
// open stream, or MaxUint64 if every stream is exhausted.
func (mg *Merger) minFrontAddr() uint64 {
	minAddr := uint64(math.MaxUint64)
	for _, s := range mg.streams {
		if !s.empty() && s.front.IoAddress < minAddr {
			minAddr = s.front.IoAddress
		}
	}
	return minAddr
}

// forcePopOldest pops the front of the oldest still-open stream,
// bypassing the lookahead window. Used only when a round's normal pass
// made no progress at all: see fill's doc comment.
func (mg *Merger) forcePopOldest() error {
	for _, s := range mg.streams {
		if !s.empty() {
			e, err := s.pop()
			if err != nil {
				return err
			}
			mg.m.Add(e)
			return nil
		}
	}
	return nil
}

// Next returns the next merged entry in address order. ok is false once
// every input and the scratch map are drained.
func (mg *Merger) Next() (diffmap.Entry, bool, error) {
	if len(mg.queue) == 0 {
		if err := mg.fill(); err != nil {
			return diffmap.Entry{}, false, err
		}
	}
	if len(mg.queue) == 0 {
		// All inputs exhausted: flush whatever remains in the scratch
		// map, in address order (spec §4.E step 3).
		if e, ok := mg.m.ExtractFirst(); ok {
			return e, true, nil
		}
		return diffmap.Entry{}, false, nil
	}
	e := mg.queue[0]
	mg.queue = mg.queue[1:]
	return e, true, nil
}

// WriteTo drives the merge to completion, writing every entry to w with
// the given compression type, flushing packs as they fill, then closes
// w.
func (mg *Merger) WriteTo(w *wdiff.Writer, compType uint8) error {
	any := false
	for {
		e, ok, err := mg.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := addEntry(w, e, compType); err != nil {
			return err
		}
		any = true
	}
	if any {
		if err := w.FlushPack(); err != nil {
			return err
		}
	}
	return w.Close()
}

// addEntry appends e to w, flushing the current pack and retrying once
// if it no longer fits.
func addEntry(w *wdiff.Writer, e diffmap.Entry, compType uint8) error {
	if !tryAdd(w, e, compType) {
		if err := w.FlushPack(); err != nil {
			return err
		}
		if !tryAdd(w, e, compType) {
			return fmt.Errorf("diffmerge: record at %d exceeds the pack size limit", e.IoAddress)
		}
	}
	return nil
}

func tryAdd(w *wdiff.Writer, e diffmap.Entry, compType uint8) bool {
	switch {
	case e.Flags&wdiff.FlagDiscard != 0:
		return w.AddDiscard(e.IoAddress, e.IoBlocks)
	case e.Flags&wdiff.FlagAllZero != 0:
		return w.AddAllZero(e.IoAddress, e.IoBlocks)
	default:
		return w.AddNormal(e.IoAddress, e.IoBlocks, e.Payload, compType)
	}
}
