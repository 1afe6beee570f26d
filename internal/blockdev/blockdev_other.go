//go:build !linux

// Non-Linux stub, mirroring the teacher's internal/vfs/direct_io_other.go:
// walb's redo engine targets a Linux block device (BLKDISCARD,
// BLKGETSIZE64), so other platforms only need to compile and run
// against regular files for tests, without true direct I/O or discard.

package blockdev

import "os"

const directIOSupported = false

func openDevice(path string, opts Options) (*os.File, uint32, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	return f, 0, err
}

func discard(_ *os.File, _, _ int64) error {
	return ErrDiscardNotSupported
}

func deviceSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func fdatasync(f *os.File) error {
	return f.Sync()
}
