package logpack

import (
	"fmt"

	"github.com/walb-tools/walb-go/internal/block"
	"github.com/walb-tools/walb-go/walberr"
)

var (
	errBadFormat   = fmt.Errorf("logpack: %w", walberr.ErrBadFormat)
	errBadChecksum = fmt.Errorf("logpack: %w", walberr.ErrBadChecksum)
	errBadPackSize = fmt.Errorf("logpack: %w: wrong buffer size", walberr.ErrBadFormat)
)

// blockChecksum computes the salted rolling checksum of data using
// internal/block's algorithm (spec §4.A).
func blockChecksum(data []byte, salt uint32) uint32 {
	return block.Checksum(data, salt)
}
