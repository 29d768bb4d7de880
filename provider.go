package overlayfs

import (
	"os"
	"time"

	"github.com/absfs/absfs"
)

// Capabilities describes what a backing provider can do. The overlay
// validates these at construction time and reports its own merged set.
type Capabilities struct {
	// ReadOnly providers reject all mutations. The base layer may be
	// read-only; the writable layer must not be.
	ReadOnly bool
	// Synchronous providers complete every operation before returning.
	// Both layers must be synchronous.
	Synchronous bool
	// HardLinks reports hard-link support. The overlay never exposes it.
	HardLinks bool
	// StructuredStat reports whether Stat returns full structured metadata
	// (ownership, timestamps) rather than synthesized values.
	StructuredStat bool
}

// Provider is the capability-set abstraction the overlay consumes for both
// of its layers. Paths are absolute, slash-separated virtual paths.
type Provider interface {
	// Exists reports whether name resolves on this layer.
	Exists(name string) bool
	Stat(name string) (os.FileInfo, error)
	// Lstat stats name without following a trailing symlink. Providers
	// without symlink support return Stat's result.
	Lstat(name string) (os.FileInfo, error)
	OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error)
	ReadFile(name string) ([]byte, error)
	WriteFile(name string, data []byte, perm os.FileMode) error
	Mkdir(name string, perm os.FileMode) error
	// Rmdir removes an empty directory, failing on non-empty ones.
	Rmdir(name string) error
	// Remove unlinks a file.
	Remove(name string) error
	Rename(oldname, newname string) error
	ReadDir(name string) ([]os.FileInfo, error)
	Chmod(name string, mode os.FileMode) error
	Chown(name string, uid, gid int) error
	Chtimes(name string, atime, mtime time.Time) error
	Capabilities() Capabilities
}
