package wdiff

import (
	"fmt"

	"github.com/walb-tools/walb-go/internal/block"
	"github.com/walb-tools/walb-go/walberr"
)

var (
	errBadFormat   = fmt.Errorf("wdiff: %w", walberr.ErrBadFormat)
	errBadChecksum = fmt.Errorf("wdiff: %w", walberr.ErrBadChecksum)
	errBadPackSize = fmt.Errorf("wdiff: %w: wrong buffer size", walberr.ErrBadFormat)
)

// checksumHeader computes the file header's self-checksum: the rolling
// checksum (spec §4.A) over the header bytes with the checksum field
// itself zeroed and salt 0; the salt field stored in this header is
// covered by the checksum rather than used to seed it.
func checksumHeader(buf []byte) uint32 {
	return block.Checksum(buf, 0)
}

// checksumPayload computes a diff record's payload checksum, salted with
// the owning file header's salt.
func checksumPayload(data []byte, salt uint32) uint32 {
	return block.Checksum(data, salt)
}
