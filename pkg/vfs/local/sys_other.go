//go:build !linux

package local

import (
	"os"
	"time"

	"github.com/marmos91/dittovfs/pkg/vfs"
)

type statInfo struct {
	accessed  time.Time
	created   time.Time
	allocated int64
	uid       int
	gid       int
	hasOwner  bool
}

func statPath(p string) (statInfo, error) {
	fi, err := os.Lstat(p)
	if err != nil {
		return statInfo{}, err
	}
	return statInfo{
		accessed:  fi.ModTime(),
		created:   fi.ModTime(),
		allocated: fi.Size(),
	}, nil
}

func allocatedSize(f *os.File) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func punchHole(*os.File, int64, int64) error {
	return vfs.ErrNotSupported
}
