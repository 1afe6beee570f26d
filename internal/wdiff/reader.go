package wdiff

import (
	"errors"
	"fmt"
	"io"

	"github.com/walb-tools/walb-go/internal/block"
)

// ErrPackDone is returned by ReadLog once every record of the current
// pack has been consumed; the caller should call FetchNext to advance.
var ErrPackDone = errors.New("wdiff: pack exhausted, call FetchNext")

// Reporter is notified of recoverable problems encountered while
// reading (spec §4.C: "reader verifies the diff record's payload
// checksum for normal records").
type Reporter interface {
	Corruption(bytes int, err error)
}

// Reader is a pull-based reader over a wdiff byte stream (spec §4.C).
type Reader struct {
	r        io.Reader
	reporter Reporter
	header   FileHeader
	pack     PackHeader
	payload  []byte // raw (possibly compressed) bytes of the current pack
	idx      int
}

// NewReader creates a Reader over r. Call ReadHeader before FetchNext.
func NewReader(r io.Reader, reporter Reporter) *Reader {
	return &Reader{r: r, reporter: reporter}
}

// ReadHeader reads and validates the wdiff file header.
func (rd *Reader) ReadHeader() (FileHeader, error) {
	buf := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(rd.r, buf); err != nil {
		return FileHeader{}, fmt.Errorf("wdiff: read file header: %w", err)
	}
	h, err := decodeFileHeader(buf)
	if err != nil {
		return FileHeader{}, err
	}
	rd.header = h
	return h, nil
}

// FetchNext reads the next pack (header, record array, and payload) and
// positions the reader at its first record. It returns false, nil at the
// end-of-stream marker.
func (rd *Reader) FetchNext() (bool, error) {
	fixed := make([]byte, packHeaderFixedSize)
	if _, err := io.ReadFull(rd.r, fixed); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("wdiff: read pack header: %w", err)
	}
	h := decodePackHeaderFixed(fixed)
	if h.IsEnd && h.NRecords == 0 {
		return false, nil
	}

	recBuf := make([]byte, int(h.NRecords)*recordSize)
	if _, err := io.ReadFull(rd.r, recBuf); err != nil {
		return false, fmt.Errorf("wdiff: read pack records: %w", err)
	}
	h.Records = make([]DiffRecord, h.NRecords)
	for i := range h.Records {
		off := i * recordSize
		h.Records[i] = decodeDiffRecord(recBuf[off : off+recordSize])
	}

	payload := make([]byte, h.TotalSize)
	if _, err := io.ReadFull(rd.r, payload); err != nil {
		return false, fmt.Errorf("wdiff: read pack payload: %w", err)
	}

	rd.pack = h
	rd.payload = payload
	rd.idx = 0
	return true, nil
}

// CurrentPack returns the pack header last returned by a successful
// FetchNext.
func (rd *Reader) CurrentPack() PackHeader { return rd.pack }

// ReadLog copies out the current record and, for normal records, its
// decompressed payload (all-zero and discard records yield a nil
// payload, per spec §4.C). It returns ErrPackDone once the pack's
// records are exhausted.
func (rd *Reader) ReadLog(rec *DiffRecord, payload *[]byte) error {
	if rd.idx >= len(rd.pack.Records) {
		return ErrPackDone
	}
	r := rd.pack.Records[rd.idx]
	rd.idx++
	*rec = r

	if !r.IsNormal() {
		*payload = nil
		return nil
	}

	raw := rd.payload[r.DataOffset : r.DataOffset+r.DataSize]
	if sum := block.Checksum(raw, rd.header.Salt); sum != r.Checksum {
		if rd.reporter != nil {
			rd.reporter.Corruption(len(raw), errBadChecksum)
		}
		return errBadChecksum
	}

	data, err := decompress(r.CompressionType, raw)
	if err != nil {
		return fmt.Errorf("wdiff: decompress record at %d: %w", r.IoAddress, err)
	}
	*payload = data
	return nil
}
