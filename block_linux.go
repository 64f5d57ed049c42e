//go:build linux

package ctrfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// syncFile durably flushes f. Fdatasync skips the inode metadata flush
// fsync(2)/File.Sync would also force, which is wasted work here since
// WriteBlock never changes the file's length or mode.
func syncFile(f *os.File) error {
	return unix.Fdatasync(int(f.Fd()))
}
