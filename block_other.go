//go:build !linux

package ctrfs

import "os"

func syncFile(f *os.File) error {
	return f.Sync()
}
