package overlayfs

import (
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/absfs/absfs"
)

// layerID identifies which layer a merged lookup resolved to.
type layerID int

const (
	layerNone layerID = iota
	layerWritable
	layerBase
)

// resolve performs the two-tier lookup: writable layer first, then the base
// layer behind the deletion mask. Base-sourced stats come back with the
// writable mode pattern applied.
func (ofs *FileSystem) resolve(name string) (os.FileInfo, layerID, error) {
	if info, layer, ok := ofs.cache.getStat(name); ok {
		return info, layer, nil
	}
	if ofs.cache.isNegative(name) {
		return nil, layerNone, fs.ErrNotExist
	}

	if info, err := ofs.writable.Stat(name); err == nil {
		ofs.cache.putStat(name, info, layerWritable)
		return info, layerWritable, nil
	}
	if !ofs.isHidden(name) {
		if info, err := ofs.base.Stat(name); err == nil {
			merged := overlayInfo{info}
			ofs.cache.putStat(name, merged, layerBase)
			return merged, layerBase, nil
		}
	}

	ofs.cache.putNegative(name)
	return nil, layerNone, fs.ErrNotExist
}

func isWriteFlag(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0
}

// Exists reports whether name resolves in the merged view.
func (ofs *FileSystem) Exists(name string) bool {
	if ofs.ready("exists", name) != nil {
		return false
	}
	_, _, err := ofs.resolve(cleanPath(name))
	return err == nil
}

// Stat returns the merged file info for name.
func (ofs *FileSystem) Stat(name string) (os.FileInfo, error) {
	const op = "stat"
	if err := ofs.ready(op, name); err != nil {
		return nil, err
	}
	name = cleanPath(name)
	info, _, err := ofs.resolve(name)
	if err != nil {
		return nil, errKind(KindNotFound, op, name)
	}
	return info, nil
}

// Lstat returns the merged file info for name without following a trailing
// symlink.
func (ofs *FileSystem) Lstat(name string) (os.FileInfo, error) {
	const op = "lstat"
	if err := ofs.ready(op, name); err != nil {
		return nil, err
	}
	name = cleanPath(name)

	if info, err := ofs.writable.Lstat(name); err == nil {
		return info, nil
	}
	if !ofs.isHidden(name) {
		if info, err := ofs.base.Lstat(name); err == nil {
			return overlayInfo{info}, nil
		}
	}
	return nil, errKind(KindNotFound, op, name)
}

// Open opens a file for reading.
func (ofs *FileSystem) Open(name string) (absfs.File, error) {
	return ofs.OpenFile(name, os.O_RDONLY, 0)
}

// Create creates or truncates a file on the writable layer.
func (ofs *FileSystem) Create(name string) (absfs.File, error) {
	return ofs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

// OpenFile opens name with the given flags. Files living only on the base
// layer come back as in-memory handles whose content is committed to the
// writable layer on sync or close (lazy copy-up); everything else passes
// through to the writable layer.
func (ofs *FileSystem) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	const op = "open"
	if err := ofs.ready(op, name); err != nil {
		return nil, err
	}
	name = cleanPath(name)

	info, layer, err := ofs.resolve(name)
	if err == nil {
		if flag&os.O_CREATE != 0 && flag&os.O_EXCL != 0 {
			return nil, errKind(KindAlreadyExists, op, name)
		}
		if info.IsDir() {
			if isWriteFlag(flag) {
				return nil, errKind(KindIsDirectory, op, name)
			}
			return newOverlayDir(ofs, name), nil
		}

		if flag&os.O_TRUNC != 0 {
			if err := ofs.copyUpParents(op, name); err != nil {
				return nil, err
			}
			if err := ofs.unhidePath(op, name); err != nil {
				return nil, err
			}
			f, oerr := ofs.writable.OpenFile(name, flag|os.O_CREATE, perm)
			if oerr != nil {
				return nil, mapProviderError(op, name, oerr)
			}
			ofs.cache.invalidate(name)
			return f, nil
		}

		if layer == layerWritable {
			f, oerr := ofs.writable.OpenFile(name, flag, perm)
			if oerr != nil {
				return nil, mapProviderError(op, name, oerr)
			}
			if isWriteFlag(flag) {
				ofs.cache.invalidate(name)
			}
			return f, nil
		}

		// Base-layer file. Seed an in-memory handle with its content and
		// stats; nothing touches the writable layer until sync or close.
		data, rerr := ofs.base.ReadFile(name)
		if rerr != nil {
			return nil, mapProviderError(op, name, rerr)
		}
		mode := perm
		if mode == 0 {
			mode = info.Mode().Perm()
		}
		return newOverlayFile(ofs, name, flag, mode, info, data), nil
	}

	if flag&os.O_CREATE == 0 {
		return nil, errKind(KindNotFound, op, name)
	}
	if err := ofs.copyUpParents(op, name); err != nil {
		return nil, err
	}
	if err := ofs.unhidePath(op, name); err != nil {
		return nil, err
	}
	f, oerr := ofs.writable.OpenFile(name, flag, perm)
	if oerr != nil {
		return nil, mapProviderError(op, name, oerr)
	}
	ofs.cache.invalidate(name)
	return f, nil
}

// ReadFile returns the content of name from whichever layer owns it.
func (ofs *FileSystem) ReadFile(name string) ([]byte, error) {
	const op = "read"
	if err := ofs.ready(op, name); err != nil {
		return nil, err
	}
	name = cleanPath(name)
	info, layer, err := ofs.resolve(name)
	if err != nil {
		return nil, errKind(KindNotFound, op, name)
	}
	if info.IsDir() {
		return nil, errKind(KindIsDirectory, op, name)
	}
	if layer == layerWritable {
		data, rerr := ofs.writable.ReadFile(name)
		return data, mapProviderError(op, name, rerr)
	}
	data, rerr := ofs.base.ReadFile(name)
	return data, mapProviderError(op, name, rerr)
}

// Remove unlinks a file: removed from the writable layer when present
// there, and masked with a delete record while it still exists on the base
// layer.
func (ofs *FileSystem) Remove(name string) error {
	const op = "remove"
	if err := ofs.ready(op, name); err != nil {
		return err
	}
	name = cleanPath(name)

	info, layer, err := ofs.resolve(name)
	if err != nil {
		return errKind(KindNotFound, op, name)
	}
	if info.IsDir() {
		return errKind(KindIsDirectory, op, name)
	}

	if layer == layerWritable {
		if err := ofs.writable.Remove(name); err != nil {
			return mapProviderError(op, name, err)
		}
	}
	ofs.cache.invalidate(name)

	// The path may still resolve through the base layer; mask it.
	if ofs.base.Exists(name) && !ofs.isHidden(name) {
		return ofs.hidePath(op, name)
	}
	return nil
}

// Rmdir removes a directory. The merged view must be empty once the
// writable copy is gone; a base copy is then masked with a delete record.
func (ofs *FileSystem) Rmdir(name string) error {
	const op = "rmdir"
	if err := ofs.ready(op, name); err != nil {
		return err
	}
	name = cleanPath(name)

	info, layer, err := ofs.resolve(name)
	if err != nil {
		return errKind(KindNotFound, op, name)
	}
	if !info.IsDir() {
		return errKind(KindNotDirectory, op, name)
	}

	if layer == layerWritable {
		if err := ofs.writable.Rmdir(name); err != nil {
			return mapProviderError(op, name, err)
		}
	}
	ofs.cache.invalidate(name)

	if ofs.base.Exists(name) && !ofs.isHidden(name) {
		entries, derr := ofs.ReadDir(name)
		if derr != nil {
			return derr
		}
		if len(entries) > 0 {
			return errKind(KindNotEmpty, op, name)
		}
		return ofs.hidePath(op, name)
	}
	return nil
}

// Mkdir creates a directory on the writable layer after materializing its
// ancestors.
func (ofs *FileSystem) Mkdir(name string, perm os.FileMode) error {
	const op = "mkdir"
	if err := ofs.ready(op, name); err != nil {
		return err
	}
	name = cleanPath(name)

	if _, _, err := ofs.resolve(name); err == nil {
		return errKind(KindAlreadyExists, op, name)
	}
	if err := ofs.copyUpParents(op, name); err != nil {
		return err
	}
	if err := ofs.unhidePath(op, name); err != nil {
		return err
	}
	if err := ofs.writable.Mkdir(name, perm); err != nil {
		return mapProviderError(op, name, err)
	}
	ofs.cache.invalidate(name)
	return nil
}

// ReadDir returns the union of both layer listings: writable entries win,
// duplicates collapse to their first occurrence, hidden names are dropped,
// and the result is sorted by name. A listing failure on a single layer is
// ignored; the directory may legitimately exist on only one of them.
func (ofs *FileSystem) ReadDir(name string) ([]os.FileInfo, error) {
	const op = "readdir"
	if err := ofs.ready(op, name); err != nil {
		return nil, err
	}
	name = cleanPath(name)

	info, _, err := ofs.resolve(name)
	if err != nil {
		return nil, errKind(KindNotFound, op, name)
	}
	if !info.IsDir() {
		return nil, errKind(KindNotDirectory, op, name)
	}

	seen := make(map[string]bool)
	var entries []os.FileInfo

	if list, lerr := ofs.writable.ReadDir(name); lerr == nil {
		for _, fi := range list {
			full := path.Join(name, fi.Name())
			if full == ofs.logPath {
				continue
			}
			if seen[fi.Name()] || ofs.isHidden(full) {
				continue
			}
			seen[fi.Name()] = true
			entries = append(entries, fi)
		}
	}
	if list, lerr := ofs.base.ReadDir(name); lerr == nil {
		for _, fi := range list {
			if seen[fi.Name()] || ofs.isHidden(path.Join(name, fi.Name())) {
				continue
			}
			seen[fi.Name()] = true
			entries = append(entries, os.FileInfo(overlayInfo{fi}))
		}
	}

	sort.Slice(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})
	return entries, nil
}

// Rename moves oldname to newname across the overlay boundary. Directory
// sources move their writable copy and recursively re-home every child
// still visible only on the base layer; file sources are content-copied so
// base-resident content materializes on the writable layer in the same
// call. Compound renames are not transactional: a failure partway leaves
// already re-homed children in place.
func (ofs *FileSystem) Rename(oldname, newname string) error {
	const op = "rename"
	if err := ofs.ready(op, oldname); err != nil {
		return err
	}
	oldname = cleanPath(oldname)
	newname = cleanPath(newname)

	oldInfo, _, err := ofs.resolve(oldname)
	if err != nil {
		return errKind(KindNotFound, op, oldname)
	}
	if oldInfo.IsDir() {
		return ofs.renameDir(op, oldname, newname, oldInfo)
	}
	return ofs.renameFile(op, oldname, newname, oldInfo)
}

func (ofs *FileSystem) renameDir(op, oldname, newname string, oldInfo os.FileInfo) error {
	if oldname == newname {
		return nil
	}
	if strings.HasPrefix(newname+"/", oldname+"/") {
		return errKind(KindInvalidArgument, op, newname)
	}

	if newInfo, _, err := ofs.resolve(newname); err == nil {
		if !newInfo.IsDir() {
			return errKind(KindNotDirectory, op, newname)
		}
		entries, derr := ofs.ReadDir(newname)
		if derr != nil {
			return derr
		}
		if len(entries) > 0 {
			return errKind(KindNotEmpty, op, newname)
		}
	}

	if err := ofs.copyUpParents(op, newname); err != nil {
		return err
	}
	if ofs.writable.Exists(oldname) {
		if err := ofs.writable.Rename(oldname, newname); err != nil {
			return mapProviderError(op, oldname, err)
		}
	} else if !ofs.writable.Exists(newname) {
		if err := ofs.unhidePath(op, newname); err != nil {
			return err
		}
		if err := ofs.writable.Mkdir(newname, oldInfo.Mode().Perm()); err != nil {
			return mapProviderError(op, newname, err)
		}
	}
	ofs.cache.invalidateTree(oldname)
	ofs.cache.invalidate(newname)

	ofs.logger.Debug().Str("from", oldname).Str("to", newname).Msg("renaming directory subtree")

	// Children whose writable copy moved with the rename above are already
	// at newname; their base copy at the old path must still be masked so it
	// cannot resurface. Everything else visible under oldname lives only on
	// the base layer and moves through the public API, which copies it up.
	if baseEntries, derr := ofs.base.ReadDir(oldname); derr == nil {
		for _, fi := range baseEntries {
			oldChild := path.Join(oldname, fi.Name())
			if ofs.isHidden(oldChild) {
				continue
			}
			newChild := path.Join(newname, fi.Name())
			if ofs.writable.Exists(newChild) {
				if err := ofs.shadowBaseChild(op, oldChild, newChild, fi); err != nil {
					return err
				}
				continue
			}
			if err := ofs.Rename(oldChild, newChild); err != nil {
				return err
			}
		}
	}

	if ofs.base.Exists(oldname) && !ofs.isHidden(oldname) {
		return ofs.hidePath(op, oldname)
	}
	return nil
}

// shadowBaseChild masks a base-layer entry whose writable counterpart
// already moved to newname during a directory rename. The writable content
// wins; for directories, base-only descendants are re-homed under newname
// first so no merged content is lost, then the old base path is hidden.
func (ofs *FileSystem) shadowBaseChild(op, oldname, newname string, info os.FileInfo) error {
	if info.IsDir() {
		if baseEntries, derr := ofs.base.ReadDir(oldname); derr == nil {
			for _, fi := range baseEntries {
				oldChild := path.Join(oldname, fi.Name())
				if ofs.isHidden(oldChild) {
					continue
				}
				newChild := path.Join(newname, fi.Name())
				if ofs.writable.Exists(newChild) {
					if err := ofs.shadowBaseChild(op, oldChild, newChild, fi); err != nil {
						return err
					}
					continue
				}
				if err := ofs.Rename(oldChild, newChild); err != nil {
					return err
				}
			}
		}
	}
	ofs.cache.invalidateTree(oldname)
	if ofs.base.Exists(oldname) && !ofs.isHidden(oldname) {
		return ofs.hidePath(op, oldname)
	}
	return nil
}

func (ofs *FileSystem) renameFile(op, oldname, newname string, oldInfo os.FileInfo) error {
	if newInfo, _, err := ofs.resolve(newname); err == nil && newInfo.IsDir() {
		return errKind(KindIsDirectory, op, newname)
	}

	// Always a content copy, never an in-place rename: callers rely on the
	// copy path materializing base content on the writable layer even when
	// oldname == newname.
	data, err := ofs.ReadFile(oldname)
	if err != nil {
		return err
	}
	if err := ofs.copyUpWrite(newname, data, oldInfo.Mode().Perm()); err != nil {
		return err
	}
	if oldname != newname && ofs.Exists(oldname) {
		return ofs.Remove(oldname)
	}
	return nil
}

// setMeta implements the copy-up-then-mutate pattern shared by Chmod,
// Chown and Chtimes: a path still on the base layer is fully materialized
// before the metadata mutation is delegated to the writable layer.
func (ofs *FileSystem) setMeta(op, name string, mutate func(string) error) error {
	if err := ofs.ready(op, name); err != nil {
		return err
	}
	info, layer, err := ofs.resolve(name)
	if err != nil {
		return errKind(KindNotFound, op, name)
	}
	if layer == layerBase {
		if err := ofs.copyUp(op, name, info); err != nil {
			return err
		}
	}
	if err := mutate(name); err != nil {
		return mapProviderError(op, name, err)
	}
	ofs.cache.invalidate(name)
	return nil
}

// Chmod changes the permission bits of name, copying it up first.
func (ofs *FileSystem) Chmod(name string, mode os.FileMode) error {
	return ofs.setMeta("chmod", cleanPath(name), func(n string) error {
		return ofs.writable.Chmod(n, mode)
	})
}

// Chown changes the ownership of name, copying it up first.
func (ofs *FileSystem) Chown(name string, uid, gid int) error {
	return ofs.setMeta("chown", cleanPath(name), func(n string) error {
		return ofs.writable.Chown(n, uid, gid)
	})
}

// Chtimes changes the access and modification times of name, copying it up
// first.
func (ofs *FileSystem) Chtimes(name string, atime, mtime time.Time) error {
	return ofs.setMeta("chtimes", cleanPath(name), func(n string) error {
		return ofs.writable.Chtimes(n, atime, mtime)
	})
}
