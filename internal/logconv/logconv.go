// Package logconv implements the log→diff converter of spec §4.F: it
// drives a sequence of wlog streams through logpack.Reader, classifies
// each non-padding record (discard / all-zero / normal), and coalesces
// the results into an internal/diffmap.Map ready for serialization.
package logconv

import (
	"errors"
	"fmt"
	"io"

	"github.com/walb-tools/walb-go/internal/block"
	"github.com/walb-tools/walb-go/internal/diffmap"
	"github.com/walb-tools/walb-go/internal/logpack"
	"github.com/walb-tools/walb-go/internal/wdiff"
	"github.com/walb-tools/walb-go/walberr"
)

// Result is the outcome of converting one or more concatenated wlog
// streams into diff entries.
type Result struct {
	UUID      [16]byte
	Pbs       uint32
	Salt      uint32
	BeginLsid uint64
	EndLsid   uint64
	Map       *diffmap.Map
}

// Convert drives readers, in order, as a single logical wlog stream.
// Each subsequent reader's file header must continue the previous
// one's end_lsid and share its UUID (spec §4.F); violations fail with
// walberr.ErrLsidMismatch or walberr.ErrUuidMismatch. maxIoBlocksOut
// bounds entries in the resulting map (spec §4.D); 0 disables splitting.
func Convert(readers []io.Reader, maxIoBlocksOut uint16) (*Result, error) {
	if len(readers) == 0 {
		return nil, fmt.Errorf("logconv: %w: no input streams", walberr.ErrArg)
	}

	res := &Result{Map: diffmap.New(maxIoBlocksOut)}

	for i, r := range readers {
		rd := logpack.NewReader(r, nil)
		h, err := rd.ReadHeader()
		if err != nil {
			return nil, fmt.Errorf("logconv: read header of input %d: %w", i, err)
		}
		if i == 0 {
			res.UUID = h.UUID
			res.Pbs = h.Pbs
			res.Salt = h.Salt
			res.BeginLsid = h.BeginLsid
		} else {
			if h.UUID != res.UUID {
				return nil, fmt.Errorf("logconv: input %d: %w", i, walberr.NewUuidMismatch(block.UUID(res.UUID), block.UUID(h.UUID)))
			}
			if h.BeginLsid != res.EndLsid {
				return nil, fmt.Errorf("logconv: input %d: %w", i, walberr.NewLsidMismatch(res.EndLsid, h.BeginLsid))
			}
		}
		res.EndLsid = h.EndLsid

		if err := convertOne(rd, res.Map); err != nil {
			return nil, fmt.Errorf("logconv: input %d: %w", i, err)
		}
	}

	return res, nil
}

func convertOne(rd *logpack.Reader, m *diffmap.Map) error {
	for {
		ok, err := rd.FetchNext()
		if err != nil {
			return fmt.Errorf("fetch pack: %w", err)
		}
		if !ok {
			return nil
		}
		for {
			var rec logpack.LogRecord
			var blocks [][]byte
			err := rd.ReadLog(&rec, &blocks)
			if errors.Is(err, logpack.ErrPackDone) {
				break
			}
			if err != nil {
				return fmt.Errorf("read record: %w", err)
			}
			if rec.IsPadding() {
				continue
			}
			m.Add(toEntry(rec, blocks))
		}
	}
}

// toEntry implements log_to_diff (spec §4.F steps 2–4).
func toEntry(rec logpack.LogRecord, blocks [][]byte) diffmap.Entry {
	if rec.IsDiscard() {
		return diffmap.Entry{IoAddress: rec.Offset, IoBlocks: uint16(rec.IoSize), Flags: wdiff.FlagExist | wdiff.FlagDiscard}
	}

	payload := concatTrimmed(blocks, int(rec.IoSize)*block.LogicalBlockSize)
	if block.AllZero(payload) {
		return diffmap.Entry{IoAddress: rec.Offset, IoBlocks: uint16(rec.IoSize), Flags: wdiff.FlagExist | wdiff.FlagAllZero}
	}
	return diffmap.Entry{IoAddress: rec.Offset, IoBlocks: uint16(rec.IoSize), Flags: wdiff.FlagExist, Payload: payload}
}

// concatTrimmed joins blocks (pbs-sized physical blocks) and trims the
// result to n bytes, dropping any physical-block padding beyond the
// logical IO's true length.
func concatTrimmed(blocks [][]byte, n int) []byte {
	out := make([]byte, 0, n)
	for _, b := range blocks {
		if len(out) >= n {
			break
		}
		take := n - len(out)
		if take > len(b) {
			take = len(b)
		}
		out = append(out, b[:take]...)
	}
	return out
}

// WriteTo serializes every entry of r.Map to w, compressed with
// compType, then closes w. The map is drained in the process.
func (r *Result) WriteTo(w *wdiff.Writer, compType uint8) error {
	any := false
	for {
		e, ok := r.Map.ExtractFirst()
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
			return fmt.Errorf("logconv: flush pack: %w", err)
		}
	}
	return w.Close()
}

func addEntry(w *wdiff.Writer, e diffmap.Entry, compType uint8) error {
	if !tryAdd(w, e, compType) {
		if err := w.FlushPack(); err != nil {
			return fmt.Errorf("logconv: flush pack: %w", err)
		}
		if !tryAdd(w, e, compType) {
			return fmt.Errorf("logconv: record at %d exceeds the pack size limit", e.IoAddress)
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
