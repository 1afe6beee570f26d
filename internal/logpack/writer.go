package logpack

import (
	"fmt"
	"io"

	"github.com/walb-tools/walb-go/internal/block"
	"github.com/walb-tools/walb-go/walberr"
)

// Writer is a push-based writer over a wlog byte stream (spec §4.B).
// Call BeginPack to start a pack, AddNormal/AddDiscard/AddPadding to
// append records (each returns false once the pack's record array is
// full, at which point the caller must FlushPack and BeginPack again),
// and Close to emit the end-of-stream marker.
type Writer struct {
	w    io.Writer
	pbs  uint32
	salt uint32

	lsid    uint64
	recs    []LogRecord
	payload [][][]byte // payload[i] = blocks for recs[i]
	total   uint32     // running total_io_size (PB) for the current pack
	closed  bool       // true once a padding record has been added
}

// NewWriter creates a Writer that encodes packs with the given physical
// block size and device salt.
func NewWriter(w io.Writer, pbs uint32, salt uint32) *Writer {
	return &Writer{w: w, pbs: pbs, salt: salt}
}

// WriteFileHeader writes the wlog file header. Call once, before the
// first BeginPack.
func (w *Writer) WriteFileHeader(h FileHeader) error {
	_, err := w.w.Write(encodeFileHeader(h))
	return err
}

// BeginPack starts a new pack at the given logpack LSID.
func (w *Writer) BeginPack(logpackLsid uint64) {
	w.lsid = logpackLsid
	w.recs = nil
	w.payload = nil
	w.total = 0
	w.closed = false
}

func (w *Writer) full() bool {
	return len(w.recs) >= MaxRecordsInOnePB(w.pbs)
}

// AddNormal appends a normal IO record with the given payload blocks
// (each exactly pbs bytes, capacity_pb(pbs, sizeLB) of them). Returns
// false if the pack is full or closed by a prior padding record.
func (w *Writer) AddNormal(offsetLB uint64, sizeLB uint32, payload [][]byte) bool {
	if w.closed || w.full() {
		return false
	}
	lsidLocal := w.total + 1
	acc := w.salt
	for _, b := range payload {
		acc = block.AccumulateWords(acc, b)
	}
	rec := LogRecord{
		Checksum:  block.Finalize(acc),
		Lsid:      w.lsid + uint64(lsidLocal),
		LsidLocal: lsidLocal,
		Flags:     FlagExist,
		Offset:    offsetLB,
		IoSize:    sizeLB,
	}
	w.recs = append(w.recs, rec)
	w.payload = append(w.payload, payload)
	w.total += block.CapacityPB(w.pbs, sizeLB)
	return true
}

// AddDiscard appends a discard record (no payload). Discard records do
// not advance total_io_size.
func (w *Writer) AddDiscard(offsetLB uint64, sizeLB uint32) bool {
	if w.closed || w.full() {
		return false
	}
	lsidLocal := w.total + 1
	rec := LogRecord{
		Lsid:      w.lsid + uint64(lsidLocal),
		LsidLocal: lsidLocal,
		Flags:     FlagExist | FlagDiscard,
		Offset:    offsetLB,
		IoSize:    sizeLB,
	}
	w.recs = append(w.recs, rec)
	w.payload = append(w.payload, nil)
	return true
}

// AddPadding appends a padding record carrying payload blocks that
// occupy space in the log stream but target no device IO. A pack holds
// at most one padding record, always last; after a successful call no
// further records may be added to this pack.
func (w *Writer) AddPadding(sizeLB uint32, payload [][]byte) bool {
	if w.closed || w.full() {
		return false
	}
	lsidLocal := w.total + 1
	rec := LogRecord{
		Lsid:      w.lsid + uint64(lsidLocal),
		LsidLocal: lsidLocal,
		Flags:     FlagExist | FlagPadding,
		IoSize:    sizeLB,
	}
	w.recs = append(w.recs, rec)
	w.payload = append(w.payload, payload)
	w.total += block.CapacityPB(w.pbs, sizeLB)
	w.closed = true
	return true
}

// FlushPack writes the accumulated pack header and payload blocks and
// resets the writer to accept a new pack (call BeginPack next).
func (w *Writer) FlushPack() error {
	nPadding := uint16(0)
	if w.closed {
		nPadding = 1
	}
	hdr := PackHeader{
		SectorType:  SectorTypeLogpack,
		TotalIoSize: w.total,
		LogpackLsid: w.lsid,
		NRecords:    uint16(len(w.recs)),
		NPadding:    nPadding,
		Records:     w.recs,
	}
	if _, err := w.w.Write(encodePackHeader(hdr, w.pbs, w.salt)); err != nil {
		return fmt.Errorf("logpack: write pack header: %w", err)
	}
	for i, rec := range w.recs {
		if rec.IsDiscard() {
			continue
		}
		for _, b := range w.payload[i] {
			if len(b) != int(w.pbs) {
				return fmt.Errorf("logpack: %w: payload block not pbs-sized", walberr.ErrArg)
			}
			if _, err := w.w.Write(b); err != nil {
				return fmt.Errorf("logpack: write payload block: %w", err)
			}
		}
	}
	return nil
}

// Close writes the end-of-stream marker pack (n_records=0,
// logpack_lsid=MaxUint64).
func (w *Writer) Close() error {
	hdr := PackHeader{
		SectorType:  SectorTypeLogpack,
		LogpackLsid: ^uint64(0),
	}
	_, err := w.w.Write(encodePackHeader(hdr, w.pbs, w.salt))
	return err
}
