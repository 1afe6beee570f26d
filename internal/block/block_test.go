package block

import (
	"encoding/binary"
	"testing"
)

func TestCapacityPB(t *testing.T) {
	cases := []struct {
		pbs  uint32
		lb   uint32
		want uint32
	}{
		{4096, 8, 1},   // 8 LB = 4096 bytes = exactly 1 PB
		{4096, 9, 2},   // 4608 bytes needs 2 PB
		{4096, 0, 0},
		{512, 1, 1},
	}
	for _, c := range cases {
		if got := CapacityPB(c.pbs, c.lb); got != c.want {
			t.Errorf("CapacityPB(%d,%d) = %d, want %d", c.pbs, c.lb, got, c.want)
		}
	}
}

func TestAlignUpPB(t *testing.T) {
	if got := AlignUpPB(4097, 4096); got != 8192 {
		t.Errorf("AlignUpPB(4097,4096) = %d, want 8192", got)
	}
	if got := AlignUpPB(4096, 4096); got != 4096 {
		t.Errorf("AlignUpPB(4096,4096) = %d, want 4096", got)
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	data := make([]byte, 37) // not a multiple of 4, exercises tail padding
	for i := range data {
		data[i] = byte(i * 7)
	}
	const salt = 0xdeadbeef
	sum := Checksum(data, salt)

	if !Verify(data, salt, sum) {
		t.Fatalf("Verify failed for freshly computed checksum")
	}

	// Any single-bit flip must break verification.
	flipped := append([]byte(nil), data...)
	flipped[10] ^= 0x01
	if Verify(flipped, salt, sum) {
		t.Fatalf("Verify succeeded after single-bit flip")
	}
}

func TestChecksumAssociativeOverSpans(t *testing.T) {
	a := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	b := []byte{9, 10, 11, 12}
	const salt = 42

	whole := Checksum(append(append([]byte(nil), a...), b...), salt)

	acc := AccumulateWords(salt, a)
	acc = AccumulateWords(acc, b)
	split := Finalize(acc)

	if whole != split {
		t.Fatalf("checksum not associative over spans: whole=%x split=%x", whole, split)
	}
}

func TestAllZero(t *testing.T) {
	zeros := make([]byte, LogicalBlockSize)
	if !AllZero(zeros) {
		t.Fatal("expected all-zero buffer to report AllZero")
	}
	zeros[511] = 1
	if AllZero(zeros) {
		t.Fatal("expected non-zero buffer to report not AllZero")
	}
}

func TestAlignedBufferBlocks(t *testing.T) {
	buf := NewAlignedBuffer(3, 4096)
	if buf.NumBlocks() != 3 {
		t.Fatalf("NumBlocks() = %d, want 3", buf.NumBlocks())
	}
	binary.LittleEndian.PutUint32(buf.Block(1), 0xcafef00d)
	if binary.LittleEndian.Uint32(buf.Bytes()[4096:4100]) != 0xcafef00d {
		t.Fatal("Block(1) did not alias into Bytes()")
	}
}

func TestUUIDRoundTrip(t *testing.T) {
	u, err := NewUUID()
	if err != nil {
		t.Fatalf("NewUUID: %v", err)
	}
	if u.IsZero() {
		t.Fatal("freshly generated UUID reported as zero")
	}
	if len(u.String()) != 36 {
		t.Fatalf("String() length = %d, want 36", len(u.String()))
	}
	var zero UUID
	if !zero.IsZero() {
		t.Fatal("zero-value UUID did not report IsZero")
	}
}
