/*
Package overlayfs composes a read-only base filesystem with a writable
backing filesystem into one logical, mutable filesystem.

# Overview

Reads resolve against the writable layer first and fall through to the base
layer. All mutations land on the writable layer: files modified in place are
materialized there through copy-on-write, and removals of base-layer entries
are recorded in an append-only deletion log so they stay hidden across
restarts.

# Layers

Both layers are consumed through the Provider interface. Adapters are
included for afero backends (FromAfero) and the absfs ecosystem (FromAbsFS),
so any of their filesystems can serve as a layer:

	base := overlayfs.FromAfero(afero.NewBasePathFs(afero.NewOsFs(), "/srv/image"), overlayfs.AsReadOnly())
	upper := overlayfs.FromAfero(afero.NewMemMapFs())

	ofs, err := overlayfs.New(upper, base)
	if err != nil {
		// writable layer read-only, or a layer not synchronous
	}
	if err := ofs.Initialize(); err != nil {
		// deletion log unreadable
	}

Initialize replays the deletion log exactly once; concurrent callers all
observe the outcome of that single load. Every other operation fails until
it has succeeded.

# Copy-on-write

Opening a base-layer file for writing returns an in-memory handle seeded
with the base content. Nothing reaches the writable layer until Sync or
Close, which commits the whole buffer after materializing the missing parent
directories:

	f, _ := ofs.OpenFile("/etc/config.yml", os.O_RDWR, 0644)
	f.Write([]byte("patched"))
	f.Close() // content now lives on the writable layer; base unchanged

# Deletions

Removing a path that exists on the base layer appends a delete record to the
deletion log on the writable layer. Rebuilding the overlay over the same
writable layer replays the log and reproduces the same hidden set. Creating
a path that is currently hidden appends an undelete record first.

# Errors

Every operation returns a typed *Error carrying a Kind (NotFound,
AlreadyExists, NotDirectory, NotEmpty, IsDirectory, InvalidArgument,
PermissionDenied). Errors unwrap to the matching standard sentinels, so
errors.Is(err, fs.ErrNotExist) and the other errors.Is checks keep working.

# Limitations

Hard links are not supported. Compound operations are not transactional: a
directory rename that fails partway leaves already re-homed children in
place. The deletion log grows without bound; it is never compacted at
runtime.
*/
package overlayfs
