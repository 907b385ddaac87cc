package scanner

import (
	"os"
	"syscall"

	"github.com/ivoronin/patiencebar/internal/types"
)

// newFileInfo creates a FileInfo from os.FileInfo, keeping the device and
// inode so the hash cache can tell a replaced file from the original.
func newFileInfo(path string, info os.FileInfo) *types.FileInfo {
	fi := &types.FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		fi.Dev = uint64(stat.Dev) //nolint:unconvert // platform-dependent type
		fi.Ino = stat.Ino
	}
	return fi
}
