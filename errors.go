package overlayfs

import (
	"errors"
	"fmt"
	"io/fs"
	"syscall"
)

// Kind classifies an overlay error. Every failure crossing the overlay
// boundary is expressed as one of these kinds; raw provider errors are
// retained only as wrapped causes.
type Kind int

const (
	// KindNotFound means the path does not resolve in the merged view,
	// either because it is absent from both layers or because it is hidden.
	KindNotFound Kind = iota + 1
	// KindAlreadyExists means an exclusive create or mkdir collided with an
	// existing entry on either layer.
	KindAlreadyExists
	// KindNotDirectory means a directory operation hit a non-directory.
	KindNotDirectory
	// KindNotEmpty means rmdir or a rename-overwrite hit a non-empty directory.
	KindNotEmpty
	// KindIsDirectory means a file operation hit a directory.
	KindIsDirectory
	// KindInvalidArgument means construction-time misuse or an argument the
	// overlay cannot act on.
	KindInvalidArgument
	// KindPermissionDenied means the filesystem was used before Initialize
	// completed, or a layer refused the operation.
	KindPermissionDenied
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindAlreadyExists:
		return "already exists"
	case KindNotDirectory:
		return "not a directory"
	case KindNotEmpty:
		return "directory not empty"
	case KindIsDirectory:
		return "is a directory"
	case KindInvalidArgument:
		return "invalid argument"
	case KindPermissionDenied:
		return "permission denied"
	}
	return "unknown error"
}

// sentinel returns the standard-library error the kind corresponds to, so
// callers can keep using errors.Is(err, fs.ErrNotExist) and friends.
func (k Kind) sentinel() error {
	switch k {
	case KindNotFound:
		return fs.ErrNotExist
	case KindAlreadyExists:
		return fs.ErrExist
	case KindNotDirectory:
		return syscall.ENOTDIR
	case KindNotEmpty:
		return syscall.ENOTEMPTY
	case KindIsDirectory:
		return syscall.EISDIR
	case KindInvalidArgument:
		return fs.ErrInvalid
	case KindPermissionDenied:
		return fs.ErrPermission
	}
	return nil
}

// Error is the typed error returned by every overlay operation.
type Error struct {
	Op   string
	Path string
	Kind Kind
	Err  error // underlying provider error, if any
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Path == "" {
		return fmt.Sprintf("overlayfs: %s: %s", e.Op, msg)
	}
	return fmt.Sprintf("overlayfs: %s %s: %s", e.Op, e.Path, msg)
}

func (e *Error) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind.sentinel()
}

// Is matches both the kind sentinel and other overlay errors of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind
	}
	return errors.Is(e.Kind.sentinel(), target)
}

// KindOf extracts the overlay error kind from err, or 0 if err did not
// originate here.
func KindOf(err error) Kind {
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return 0
}

// errKind builds a bare typed error for the given operation and path.
func errKind(kind Kind, op, name string) *Error {
	return &Error{Op: op, Path: name, Kind: kind}
}

// mapProviderError re-expresses a backing-provider failure at the overlay
// boundary. The original error is kept as the wrapped cause.
func mapProviderError(op, name string, err error) error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return err
	}
	kind := KindInvalidArgument
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = KindNotFound
	case errors.Is(err, fs.ErrExist):
		kind = KindAlreadyExists
	case errors.Is(err, syscall.ENOTDIR):
		kind = KindNotDirectory
	case errors.Is(err, syscall.ENOTEMPTY):
		kind = KindNotEmpty
	case errors.Is(err, syscall.EISDIR):
		kind = KindIsDirectory
	case errors.Is(err, fs.ErrPermission):
		kind = KindPermissionDenied
	}
	return &Error{Op: op, Path: name, Kind: kind, Err: err}
}
