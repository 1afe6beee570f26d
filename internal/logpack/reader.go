package logpack

import (
	"errors"
	"fmt"
	"io"

	"github.com/walb-tools/walb-go/internal/block"
)

// ErrPackDone is returned by ReadLog once every record of the current
// pack has been consumed; the caller should call FetchNext to advance to
// the next pack.
var ErrPackDone = errors.New("logpack: pack exhausted, call FetchNext")

// Reporter is notified of recoverable problems encountered while
// reading, mirroring the teacher's WAL Reporter interface.
type Reporter interface {
	Corruption(bytes int, err error)
}

// Reader is a pull-based reader over a wlog byte stream (spec §4.B).
type Reader struct {
	r        io.Reader
	reporter Reporter
	header   FileHeader
	pack     PackHeader
	idx      int
	eof      bool
}

// NewReader creates a Reader over r. Call ReadHeader before FetchNext.
func NewReader(r io.Reader, reporter Reporter) *Reader {
	return &Reader{r: r, reporter: reporter}
}

// ReadHeader reads and validates the wlog file header.
func (rd *Reader) ReadHeader() (FileHeader, error) {
	buf := make([]byte, LogFileHeaderSize)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return FileHeader{}, fmt.Errorf("logpack: read file header: %w", err)
	}
	h, err := decodeFileHeader(buf)
	if err != nil {
		return FileHeader{}, err
	}
	rd.header = h
	return h, nil
}

// FetchNext reads the next pack header and positions the reader at its
// first record. It returns false, nil at the end-of-stream marker.
func (rd *Reader) FetchNext() (bool, error) {
	buf := make([]byte, rd.header.Pbs)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("logpack: read pack header: %w", err)
	}
	h, err := decodePackHeader(buf, rd.header.Pbs, rd.header.Salt)
	if err != nil {
		return false, err
	}
	if h.IsEndMarker() {
		return false, nil
	}
	rd.pack = h
	rd.idx = 0
	return true, nil
}

// CurrentPack returns the pack header last returned by a successful
// FetchNext.
func (rd *Reader) CurrentPack() PackHeader { return rd.pack }

// ReadLog copies out the current record and, for non-discard records,
// its payload blocks (each block.pbs-sized), verifies the per-record
// checksum for normal records, and advances within the pack. It returns
// ErrPackDone once the pack's records are exhausted.
func (rd *Reader) ReadLog(rec *LogRecord, blocks *[][]byte) error {
	if rd.idx >= len(rd.pack.Records) {
		return ErrPackDone
	}
	r := rd.pack.Records[rd.idx]
	rd.idx++
	*rec = r

	if r.IsDiscard() {
		*blocks = nil
		return nil
	}

	n := int(block.CapacityPB(rd.header.Pbs, r.IoSize))
	bufs := make([][]byte, n)
	acc := rd.header.Salt
	for i := 0; i < n; i++ {
		b := make([]byte, rd.header.Pbs)
		if _, err := io.ReadFull(rd.r, b); err != nil {
			return fmt.Errorf("logpack: read payload block: %w", err)
		}
		bufs[i] = b
		if r.IsNormal() {
			acc = block.AccumulateWords(acc, b)
		}
	}
	*blocks = bufs

	if r.IsNormal() {
		sum := block.Finalize(acc)
		if sum != r.Checksum {
			if rd.reporter != nil {
				rd.reporter.Corruption(len(bufs)*int(rd.header.Pbs), errBadChecksum)
			}
			return errBadChecksum
		}
	}
	return nil
}
