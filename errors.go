package ctrfs

import (
	"errors"
	"fmt"
)

// Kind categorizes a returned error the way a caller across the core/transport
// boundary is expected to branch on it, without string matching.
type Kind uint8

const (
	KindUnspecified Kind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalid
	KindNotEmpty
	KindOutOfSpace
	KindCorrupt
	KindHostIO
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindInvalid:
		return "Invalid"
	case KindNotEmpty:
		return "NotEmpty"
	case KindOutOfSpace:
		return "OutOfSpace"
	case KindCorrupt:
		return "Corrupt"
	case KindHostIO:
		return "HostIO"
	case KindInternal:
		return "Internal"
	default:
		return "Unspecified"
	}
}

type kindErr struct {
	kind Kind
	err  error
}

func (e *kindErr) Error() string { return e.err.Error() }
func (e *kindErr) Unwrap() error { return e.err }

// wrap attaches a Kind to err. err keeps whatever sentinel chain it already
// carries, so errors.Is/errors.As against the base sentinels below still work.
func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindErr{kind: kind, err: err}
}

// ErrorKind extracts the Kind attached by this package, or KindUnspecified
// for an error that didn't pass through wrap.
func ErrorKind(err error) Kind {
	var ke *kindErr
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindUnspecified
}

// Base sentinels. Call sites wrap these with fmt.Errorf("...: %w", Err...)
// and a Kind so errors.Is keeps matching through the added context.
var (
	ErrContainerNotFound = errors.New("container not found")
	ErrContainerExists   = errors.New("container already exists")
	ErrFileNotFound      = errors.New("file not found")
	ErrFileExists        = errors.New("file already exists")
	ErrDirectoryNotFound = errors.New("directory not found")
	ErrDirectoryExists   = errors.New("directory already exists")
	ErrDirectoryNotEmpty = errors.New("directory not empty")
	ErrOutOfSpace        = errors.New("no free blocks available")
	ErrOutOfRange        = errors.New("block index out of range")
	ErrSizeMismatch      = errors.New("block data size mismatch")
	ErrInvalidPath       = errors.New("invalid path")
	ErrInvalidName       = errors.New("invalid name")
	ErrCorruptSuperblock = errors.New("corrupt superblock")
	ErrCorruptMetadata   = errors.New("corrupt metadata chain")
	ErrHostFileNotFound  = errors.New("host file not found")
	ErrNotInitialized    = errors.New("container not initialized")
	ErrClosed            = errors.New("container is closed")
	ErrUnknownBlock      = errors.New("release of block not tracked by dedup index")
)

func fErr(kind Kind, format string, args ...any) error {
	return wrap(kind, fmt.Errorf(format, args...))
}
