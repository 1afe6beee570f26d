package wdiff

import (
	"fmt"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// compress encodes data per the record's compression type (spec §3.3's
// open `{NONE, SNAPPY, ...}` slot, filled with SNAPPY and ZSTD).
func compress(t uint8, data []byte) ([]byte, error) {
	switch t {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("wdiff: zstd encoder: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("wdiff: unsupported compression type %d", t)
	}
}

// decompress is the inverse of compress.
func decompress(t uint8, data []byte) ([]byte, error) {
	switch t {
	case CompressionNone:
		return data, nil
	case CompressionSnappy:
		return snappy.Decode(nil, data)
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("wdiff: zstd decoder: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("wdiff: unsupported compression type %d", t)
	}
}
