package wdiff

import (
	"fmt"
	"io"
)

// pending is one record buffered by Writer before a pack flush.
type pending struct {
	ioAddress uint64
	ioBlocks  uint16
	flags     uint8
	compType  uint8
	data      []byte // uncompressed; nil for all-zero/discard
}

// Writer is a push-based writer over a wdiff byte stream (spec §4.C).
// It buffers records and their (uncompressed) payloads until the pack
// size limit would be exceeded, then FlushPack compresses each record's
// payload and writes one pack.
type Writer struct {
	w    io.Writer
	salt uint32

	recs []pending
	size int // running estimate of the encoded pack size
}

// NewWriter creates a Writer. salt is the owning wlog stream's
// log-checksum salt, used to salt payload checksums (spec §3.4).
func NewWriter(w io.Writer, salt uint32) *Writer {
	return &Writer{w: w, salt: salt}
}

// WriteFileHeader writes the wdiff file header. Call once, before the
// first Add call.
func (w *Writer) WriteFileHeader(h FileHeader) error {
	_, err := w.w.Write(encodeFileHeader(h))
	return err
}

func (w *Writer) wouldOverflow(extra int) bool {
	return w.size+packHeaderFixedSize+recordSize+extra > PackSizeLimit
}

// AddNormal buffers a record carrying a real payload, compressed with
// compType at flush time. It returns false if adding this record would
// exceed the pack size limit; the caller should FlushPack and retry.
func (w *Writer) AddNormal(ioAddress uint64, ioBlocks uint16, data []byte, compType uint8) bool {
	if w.wouldOverflow(len(data)) {
		return false
	}
	w.recs = append(w.recs, pending{
		ioAddress: ioAddress,
		ioBlocks:  ioBlocks,
		flags:     FlagExist,
		compType:  compType,
		data:      data,
	})
	w.size += recordSize + len(data)
	return true
}

// AddAllZero buffers an all-zero span record (no payload).
func (w *Writer) AddAllZero(ioAddress uint64, ioBlocks uint16) bool {
	if w.wouldOverflow(0) {
		return false
	}
	w.recs = append(w.recs, pending{
		ioAddress: ioAddress,
		ioBlocks:  ioBlocks,
		flags:     FlagExist | FlagAllZero,
	})
	w.size += recordSize
	return true
}

// AddDiscard buffers a discard span record (no payload).
func (w *Writer) AddDiscard(ioAddress uint64, ioBlocks uint16) bool {
	if w.wouldOverflow(0) {
		return false
	}
	w.recs = append(w.recs, pending{
		ioAddress: ioAddress,
		ioBlocks:  ioBlocks,
		flags:     FlagExist | FlagDiscard,
	})
	w.size += recordSize
	return true
}

// FlushPack compresses each buffered record's payload, writes one pack
// (header, record array, concatenated payloads), and resets the writer
// to accept the next pack.
func (w *Writer) FlushPack() error {
	recs := make([]DiffRecord, len(w.recs))
	payloads := make([][]byte, len(w.recs))
	var offset uint32

	for i, p := range w.recs {
		rec := DiffRecord{
			IoAddress: p.ioAddress,
			IoBlocks:  p.ioBlocks,
			Flags:     p.flags,
		}
		if rec.IsNormal() {
			enc, err := compress(p.compType, p.data)
			if err != nil {
				return fmt.Errorf("wdiff: compress record at %d: %w", p.ioAddress, err)
			}
			rec.CompressionType = p.compType
			rec.DataOffset = offset
			rec.DataSize = uint32(len(enc))
			rec.Checksum = checksumPayload(enc, w.salt)
			payloads[i] = enc
			offset += uint32(len(enc))
		}
		recs[i] = rec
	}

	hdr := PackHeader{
		NRecords:  uint16(len(recs)),
		TotalSize: offset,
		Records:   recs,
	}
	if _, err := w.w.Write(encodePackHeader(hdr)); err != nil {
		return fmt.Errorf("wdiff: write pack header: %w", err)
	}
	for _, p := range payloads {
		if len(p) == 0 {
			continue
		}
		if _, err := w.w.Write(p); err != nil {
			return fmt.Errorf("wdiff: write pack payload: %w", err)
		}
	}

	w.recs = nil
	w.size = 0
	return nil
}

// Close writes the end-of-file marker pack (is_end=1, n_records=0). Any
// buffered records must be flushed with FlushPack first.
func (w *Writer) Close() error {
	hdr := PackHeader{IsEnd: true}
	_, err := w.w.Write(encodePackHeader(hdr))
	return err
}
