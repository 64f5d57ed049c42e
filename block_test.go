package ctrfs

import (
	"path/filepath"
	"testing"
)

func TestBlockDeviceReadWriteRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.bin")
	d, err := initBlockDevice(path, 512, 4)
	if err != nil {
		t.Fatalf("initBlockDevice: %v", err)
	}
	defer d.Close()

	data := make([]byte, 512)
	copy(data, "hello block")
	if err := d.WriteBlock(2, data); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	got, err := d.ReadBlock(2)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if string(got[:11]) != "hello block" {
		t.Fatalf("ReadBlock() = %q, want prefix %q", got[:11], "hello block")
	}
}

func TestBlockDeviceOutOfRange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.bin")
	d, err := initBlockDevice(path, 512, 4)
	if err != nil {
		t.Fatalf("initBlockDevice: %v", err)
	}
	defer d.Close()

	if _, err := d.ReadBlock(4); ErrorKind(err) != KindInvalid {
		t.Fatalf("ReadBlock(4): got kind %v, want Invalid", ErrorKind(err))
	}
	if err := d.WriteBlock(4, make([]byte, 512)); ErrorKind(err) != KindInvalid {
		t.Fatalf("WriteBlock(4): got kind %v, want Invalid", ErrorKind(err))
	}
}

func TestBlockDeviceSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.bin")
	d, err := initBlockDevice(path, 512, 4)
	if err != nil {
		t.Fatalf("initBlockDevice: %v", err)
	}
	defer d.Close()

	if err := d.WriteBlock(0, make([]byte, 10)); ErrorKind(err) != KindInvalid {
		t.Fatalf("WriteBlock with wrong size: got kind %v, want Invalid", ErrorKind(err))
	}
}

func TestInitBlockDeviceRefusesNonEmptyExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev.bin")
	d, err := initBlockDevice(path, 512, 4)
	if err != nil {
		t.Fatalf("initBlockDevice: %v", err)
	}
	if err := d.WriteBlock(0, make([]byte, 512)); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	d.Close()

	if _, err := initBlockDevice(path, 512, 4); ErrorKind(err) != KindAlreadyExists {
		t.Fatalf("initBlockDevice on non-empty file: got kind %v, want AlreadyExists", ErrorKind(err))
	}
}
