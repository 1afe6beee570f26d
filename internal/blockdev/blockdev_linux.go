//go:build linux

// Reference: RocksDB v10.7.5 env/fs_posix.cc's O_DIRECT usage, as
// reused by the teacher's internal/vfs/direct_io_linux.go; BLKDISCARD
// and BLKGETSIZE64 are standard Linux block-device ioctls with no
// wrapper in x/sys/unix, so they're issued directly via unix.Syscall
// the same way the teacher issues raw syscalls for O_DIRECT.

package blockdev

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const directIOSupported = true

func openDevice(path string, opts Options) (*os.File, uint32, error) {
	flags := unix.O_RDWR
	if opts.Direct {
		flags |= unix.O_DIRECT
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return nil, 0, err
	}

	var bs uint32
	if n, err := unix.IoctlGetInt(fd, unix.BLKSSZGET); err == nil && n > 0 {
		bs = uint32(n)
	}
	return os.NewFile(uintptr(fd), path), bs, nil
}

func discard(f *os.File, offsetBytes, sizeBytes int64) error {
	rng := [2]uint64{uint64(offsetBytes), uint64(sizeBytes)}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(unix.BLKDISCARD), uintptr(unsafe.Pointer(&rng)))
	if errno != 0 {
		return errno
	}
	return nil
}

// deviceSize prefers BLKGETSIZE64 (the true device capacity, which
// os.File.Stat reports as zero for block special files) and falls back
// to a regular stat for plain files, which is what redo's tests open.
func deviceSize(f *os.File) (int64, error) {
	var sz uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(unix.BLKGETSIZE64), uintptr(unsafe.Pointer(&sz)))
	if errno == 0 && sz > 0 {
		return int64(sz), nil
	}
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func fdatasync(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
