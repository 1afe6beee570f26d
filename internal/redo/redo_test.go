package redo

import (
	"bytes"
	"testing"

	"github.com/walb-tools/walb-go/internal/logpack"
)

// fakeDevice is an in-memory blockdev.Device that records every WriteAt
// call, so tests can assert on coalescing and overwrite elision without a
// real block device.
type fakeDevice struct {
	data   []byte
	bs     uint32
	writes []writeCall
}

type writeCall struct {
	offset int64
	size   int
}

func newFakeDevice(sizeBytes int, bs uint32) *fakeDevice {
	return &fakeDevice{data: make([]byte, sizeBytes), bs: bs}
}

func (d *fakeDevice) ReadAt(p []byte, off int64) error {
	copy(p, d.data[off:])
	return nil
}

func (d *fakeDevice) WriteAt(p []byte, off int64) error {
	d.writes = append(d.writes, writeCall{offset: off, size: len(p)})
	copy(d.data[off:], p)
	return nil
}

func (d *fakeDevice) Discard(offsetLB, sizeLB uint64) error { return nil }
func (d *fakeDevice) Sync() error                           { return nil }
func (d *fakeDevice) Size() int64                           { return int64(len(d.data)) }
func (d *fakeDevice) BlockSize() uint32                     { return d.bs }
func (d *fakeDevice) Close() error                          { return nil }

// buildWlog writes a single-pack wlog stream (pbs=512, one LB per PB, so
// every record's offset/size line up 1:1 with device blocks) using addFn
// to append records to the pack before it is flushed.
func buildWlog(t *testing.T, salt uint32, addFn func(w *logpack.Writer)) []byte {
	t.Helper()
	const pbs = 512
	var buf bytes.Buffer
	w := logpack.NewWriter(&buf, pbs, salt)
	if err := w.WriteFileHeader(logpack.FileHeader{Salt: salt, Pbs: pbs}); err != nil {
		t.Fatalf("WriteFileHeader: %v", err)
	}
	w.BeginPack(0)
	addFn(w)
	if err := w.FlushPack(); err != nil {
		t.Fatalf("FlushPack: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func pbBlock(seed byte) []byte {
	b := make([]byte, 512)
	for i := range b {
		b[i] = seed
	}
	return b
}

// S4: four 1-LB records at consecutive offsets with contiguous payload
// buffers must coalesce into a single device write.
func TestApplyCoalescesAdjacentWrites(t *testing.T) {
	raw := buildWlog(t, 0xabcd, func(w *logpack.Writer) {
		for i := uint64(0); i < 4; i++ {
			if !w.AddNormal(i, 1, [][]byte{pbBlock(byte(i + 1))}) {
				t.Fatalf("AddNormal(%d) rejected", i)
			}
		}
	})

	dev := newFakeDevice(4096, 512)
	eng := New(dev, Options{})
	stats, err := eng.Apply(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stats.NWritten != 1 {
		t.Fatalf("NWritten = %d, want 1 (coalesced into a single write)", stats.NWritten)
	}
	if len(dev.writes) != 1 {
		t.Fatalf("device saw %d WriteAt calls, want 1", len(dev.writes))
	}
	if dev.writes[0].offset != 0 || dev.writes[0].size != 4*512 {
		t.Fatalf("coalesced write = %+v, want offset=0 size=%d", dev.writes[0], 4*512)
	}
	want := append(append(append(pbBlock(1), pbBlock(2)...), pbBlock(3)...), pbBlock(4)...)
	if !bytes.Equal(dev.data[:4*512], want) {
		t.Fatal("device contents do not match the coalesced payload")
	}
}

// S5: a later record that fully overwrites an earlier one's range must
// elide the earlier physical write entirely.
func TestApplyElidesFullyOverwrittenWrite(t *testing.T) {
	raw := buildWlog(t, 0x1, func(w *logpack.Writer) {
		payloadP := make([][]byte, 8)
		payloadQ := make([][]byte, 8)
		for i := range payloadP {
			payloadP[i] = pbBlock('P')
			payloadQ[i] = pbBlock('Q')
		}
		if !w.AddNormal(0, 8, payloadP) {
			t.Fatal("AddNormal(P) rejected")
		}
		if !w.AddNormal(0, 8, payloadQ) {
			t.Fatal("AddNormal(Q) rejected")
		}
	})

	dev := newFakeDevice(8*512, 512)
	eng := New(dev, Options{})
	stats, err := eng.Apply(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stats.NOverwritten != 1 {
		t.Fatalf("NOverwritten = %d, want 1", stats.NOverwritten)
	}
	if stats.NWritten != 1 {
		t.Fatalf("NWritten = %d, want 1", stats.NWritten)
	}
	for _, b := range dev.data {
		if b != 'Q' {
			t.Fatalf("device contents = %q, want all 'Q'", dev.data)
		}
	}
}

// S6: a record whose target range crosses the device boundary is
// dropped in its entirety, never partially written.
func TestApplyClipsOutOfRangeRecord(t *testing.T) {
	raw := buildWlog(t, 0x2, func(w *logpack.Writer) {
		if !w.AddNormal(99, 2, [][]byte{pbBlock('X'), pbBlock('X')}) {
			t.Fatal("AddNormal rejected")
		}
	})

	dev := newFakeDevice(100*512, 512)
	eng := New(dev, Options{})
	stats, err := eng.Apply(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stats.NClipped != 1 {
		t.Fatalf("NClipped = %d, want 1", stats.NClipped)
	}
	if stats.NWritten != 0 {
		t.Fatalf("NWritten = %d, want 0", stats.NWritten)
	}
	if len(dev.writes) != 0 {
		t.Fatalf("device saw %d WriteAt calls, want 0", len(dev.writes))
	}
	for _, b := range dev.data {
		if b != 0 {
			t.Fatal("device was written despite the record being fully clipped")
		}
	}
}

// Discard handling: ModeIgnore drops DISCARD records without writing or
// counting them as real discards.
func TestApplyIgnoreDiscard(t *testing.T) {
	raw := buildWlog(t, 0x3, func(w *logpack.Writer) {
		if !w.AddDiscard(0, 4) {
			t.Fatal("AddDiscard rejected")
		}
	})
	dev := newFakeDevice(4096, 512)
	eng := New(dev, Options{Discard: ModeIgnore})
	stats, err := eng.Apply(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stats.NDiscard != 0 || len(dev.writes) != 0 {
		t.Fatalf("ModeIgnore discard produced stats=%+v writes=%d, want none", stats, len(dev.writes))
	}
}

// Discard handling: ModeZeroDiscard replaces the discarded range with
// zero-filled writes.
func TestApplyZeroDiscard(t *testing.T) {
	raw := buildWlog(t, 0x4, func(w *logpack.Writer) {
		if !w.AddDiscard(0, 2) {
			t.Fatal("AddDiscard rejected")
		}
	})
	dev := newFakeDevice(2*512, 512)
	for i := range dev.data {
		dev.data[i] = 0xff
	}
	eng := New(dev, Options{Discard: ModeZeroDiscard})
	stats, err := eng.Apply(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stats.NDiscard != 1 {
		t.Fatalf("NDiscard = %d, want 1", stats.NDiscard)
	}
	for _, b := range dev.data {
		if b != 0 {
			t.Fatal("ModeZeroDiscard did not zero the target range")
		}
	}
}

func TestApplyRejectsIncompatiblePbs(t *testing.T) {
	const pbs = 512
	var buf bytes.Buffer
	w := logpack.NewWriter(&buf, pbs, 0)
	if err := w.WriteFileHeader(logpack.FileHeader{Pbs: pbs}); err != nil {
		t.Fatalf("WriteFileHeader: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	dev := newFakeDevice(4096, 4096) // device block size exceeds log pbs
	eng := New(dev, Options{})
	if _, err := eng.Apply(bytes.NewReader(buf.Bytes())); err == nil {
		t.Fatal("Apply with incompatible pbs succeeded, want error")
	}
}
