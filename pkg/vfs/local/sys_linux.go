//go:build linux

package local

import (
	"errors"
	"os"
	"time"

	"github.com/marmos91/dittovfs/pkg/vfs"
	"golang.org/x/sys/unix"
)

// statInfo holds what os.FileInfo does not expose portably.
type statInfo struct {
	accessed  time.Time
	created   time.Time
	allocated int64
	uid       int
	gid       int
	hasOwner  bool
}

func statPath(p string) (statInfo, error) {
	var stx unix.Statx_t
	mask := unix.STATX_BASIC_STATS | unix.STATX_BTIME
	if err := unix.Statx(unix.AT_FDCWD, p, unix.AT_SYMLINK_NOFOLLOW, mask, &stx); err != nil {
		return statInfo{}, &os.PathError{Op: "statx", Path: p, Err: err}
	}

	info := statInfo{
		accessed:  time.Unix(stx.Atime.Sec, int64(stx.Atime.Nsec)),
		allocated: int64(stx.Blocks) * 512,
		uid:       int(stx.Uid),
		gid:       int(stx.Gid),
		hasOwner:  true,
	}
	// Not every filesystem records a birth time; the status change time is
	// the closest substitute.
	if stx.Mask&unix.STATX_BTIME != 0 {
		info.created = time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec))
	} else {
		info.created = time.Unix(stx.Ctime.Sec, int64(stx.Ctime.Nsec))
	}
	return info, nil
}

// allocatedSize returns the bytes actually allocated to f on disk.
func allocatedSize(f *os.File) (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(int(f.Fd()), &st); err != nil {
		return 0, &os.PathError{Op: "fstat", Path: f.Name(), Err: err}
	}
	return st.Blocks * 512, nil
}

// punchHole deallocates [offset, offset+length) without changing the size.
func punchHole(f *os.File, offset, length int64) error {
	err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, offset, length)
	if errors.Is(err, unix.EOPNOTSUPP) || errors.Is(err, unix.ENOSYS) {
		return vfs.ErrNotSupported
	}
	if err != nil {
		return &os.PathError{Op: "fallocate", Path: f.Name(), Err: err}
	}
	return nil
}
