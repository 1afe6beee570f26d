package logpack

import (
	"bytes"
	"testing"

	"github.com/walb-tools/walb-go/internal/block"
)

func fillPB(pbs uint32, seed byte) []byte {
	b := make([]byte, pbs)
	for i := range b {
		b[i] = seed + byte(i)
	}
	return b
}

func TestWriterReaderRoundTrip(t *testing.T) {
	const pbs = 4096
	const salt = 0x1234abcd

	var buf bytes.Buffer
	fh := FileHeader{Salt: salt, Pbs: pbs, BeginLsid: 100, EndLsid: 200}

	w := NewWriter(&buf, pbs, salt)
	if err := w.WriteFileHeader(fh); err != nil {
		t.Fatalf("WriteFileHeader: %v", err)
	}

	w.BeginPack(100)
	normalPayload := [][]byte{fillPB(pbs, 1), fillPB(pbs, 2)}
	if !w.AddNormal(10, 16, normalPayload) {
		t.Fatal("AddNormal rejected on fresh pack")
	}
	if !w.AddDiscard(50, 8) {
		t.Fatal("AddDiscard rejected")
	}
	padPayload := [][]byte{fillPB(pbs, 9)}
	if !w.AddPadding(8, padPayload) {
		t.Fatal("AddPadding rejected")
	}
	if w.AddNormal(0, 8, [][]byte{fillPB(pbs, 0)}) {
		t.Fatal("AddNormal succeeded after pack closed by padding")
	}
	if err := w.FlushPack(); err != nil {
		t.Fatalf("FlushPack: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rd := NewReader(&buf, nil)
	gotFH, err := rd.ReadHeader()
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if gotFH.Salt != salt || gotFH.Pbs != pbs {
		t.Fatalf("file header mismatch: %+v", gotFH)
	}

	ok, err := rd.FetchNext()
	if err != nil {
		t.Fatalf("FetchNext: %v", err)
	}
	if !ok {
		t.Fatal("FetchNext reported end-of-stream on first pack")
	}
	pack := rd.CurrentPack()
	if pack.NRecords != 3 || pack.NPadding != 1 {
		t.Fatalf("pack header mismatch: %+v", pack)
	}

	var rec LogRecord
	var blocks [][]byte

	if err := rd.ReadLog(&rec, &blocks); err != nil {
		t.Fatalf("ReadLog normal: %v", err)
	}
	if !rec.IsNormal() || len(blocks) != 2 {
		t.Fatalf("normal record mismatch: %+v blocks=%d", rec, len(blocks))
	}
	if !bytes.Equal(blocks[0], normalPayload[0]) || !bytes.Equal(blocks[1], normalPayload[1]) {
		t.Fatal("normal payload mismatch")
	}

	if err := rd.ReadLog(&rec, &blocks); err != nil {
		t.Fatalf("ReadLog discard: %v", err)
	}
	if !rec.IsDiscard() || blocks != nil {
		t.Fatalf("discard record mismatch: %+v blocks=%v", rec, blocks)
	}

	if err := rd.ReadLog(&rec, &blocks); err != nil {
		t.Fatalf("ReadLog padding: %v", err)
	}
	if !rec.IsPadding() || len(blocks) != 1 {
		t.Fatalf("padding record mismatch: %+v", rec)
	}

	if err := rd.ReadLog(&rec, &blocks); err != ErrPackDone {
		t.Fatalf("ReadLog after last record = %v, want ErrPackDone", err)
	}

	ok, err = rd.FetchNext()
	if err != nil {
		t.Fatalf("FetchNext at end: %v", err)
	}
	if ok {
		t.Fatal("FetchNext reported more data after end-of-stream marker")
	}
}

func TestReaderDetectsCorruption(t *testing.T) {
	const pbs = 4096
	const salt = 0xcafef00d

	var buf bytes.Buffer
	w := NewWriter(&buf, pbs, salt)
	if err := w.WriteFileHeader(FileHeader{Salt: salt, Pbs: pbs}); err != nil {
		t.Fatalf("WriteFileHeader: %v", err)
	}
	w.BeginPack(0)
	if !w.AddNormal(0, 8, [][]byte{fillPB(pbs, 3)}) {
		t.Fatal("AddNormal rejected")
	}
	if err := w.FlushPack(); err != nil {
		t.Fatalf("FlushPack: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	raw := buf.Bytes()
	payloadOff := LogFileHeaderSize + pbs
	raw[payloadOff] ^= 0xff // corrupt the payload block

	type reporter struct {
		calls int
	}
	rep := &reporter{}

	rd := NewReader(bytes.NewReader(raw), corruptionFunc(func(int, error) { rep.calls++ }))
	if _, err := rd.ReadHeader(); err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	ok, err := rd.FetchNext()
	if err != nil || !ok {
		t.Fatalf("FetchNext: ok=%v err=%v", ok, err)
	}
	var rec LogRecord
	var blocks [][]byte
	if err := rd.ReadLog(&rec, &blocks); err == nil {
		t.Fatal("expected checksum error, got nil")
	}
	if rep.calls != 1 {
		t.Fatalf("reporter called %d times, want 1", rep.calls)
	}
}

type corruptionFunc func(bytes int, err error)

func (f corruptionFunc) Corruption(bytes int, err error) { f(bytes, err) }

func TestBlockChecksumMatchesWriterConvention(t *testing.T) {
	data := fillPB(4096, 5)
	const salt = 7
	acc := block.AccumulateWords(uint32(salt), data)
	if block.Finalize(acc) != block.Checksum(data, salt) {
		t.Fatal("AccumulateWords/Finalize disagree with Checksum")
	}
}
