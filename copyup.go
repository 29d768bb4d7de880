package overlayfs

import (
	"io"
	"os"
	"path"
)

// copyUpParents materializes the missing ancestor chain of name on the
// writable layer. It walks upward until an ancestor already exists there,
// then creates the missing directories root-to-leaf, each inheriting its
// mode from the overlay's merged stat view. Idempotent; safe to call
// before every writable-side create.
func (ofs *FileSystem) copyUpParents(op, name string) error {
	var missing []string
	for dir := path.Dir(name); dir != "/"; dir = path.Dir(dir) {
		if ofs.writable.Exists(dir) {
			break
		}
		missing = append(missing, dir)
	}
	if len(missing) == 0 {
		return nil
	}

	for i := len(missing) - 1; i >= 0; i-- {
		dir := missing[i]
		info, _, err := ofs.resolve(dir)
		if err != nil {
			return errKind(KindNotFound, op, dir)
		}
		if !info.IsDir() {
			return errKind(KindNotDirectory, op, dir)
		}
		if err := ofs.writable.Mkdir(dir, info.Mode().Perm()); err != nil {
			return mapProviderError(op, dir, err)
		}
		ofs.cache.invalidate(dir)
		ofs.logger.Debug().Str("path", dir).Msg("copied up parent directory")
	}
	return nil
}

// copyUpWrite commits a whole buffer to the writable layer: parent
// directories first, then a full-content write with the recorded mode.
// This is the flush target for overlay file handles.
func (ofs *FileSystem) copyUpWrite(name string, data []byte, perm os.FileMode) error {
	if err := ofs.copyUpParents("write", name); err != nil {
		return err
	}
	if err := ofs.unhidePath("write", name); err != nil {
		return err
	}
	if err := ofs.writable.WriteFile(name, data, perm); err != nil {
		return mapProviderError("write", name, err)
	}
	ofs.cache.invalidate(name)
	ofs.logger.Debug().Str("path", name).Int("bytes", len(data)).Msg("copied up file content")
	return nil
}

// copyUp fully materializes name on the writable layer before a metadata
// mutation: a content copy for files, an empty directory for directories.
// No-op when the path already lives on the writable layer.
func (ofs *FileSystem) copyUp(op, name string, info os.FileInfo) error {
	if ofs.writable.Exists(name) {
		return nil
	}
	if info.IsDir() {
		if err := ofs.copyUpParents(op, name); err != nil {
			return err
		}
		if err := ofs.unhidePath(op, name); err != nil {
			return err
		}
		if err := ofs.writable.Mkdir(name, info.Mode().Perm()); err != nil {
			return mapProviderError(op, name, err)
		}
		ofs.cache.invalidate(name)
		return nil
	}

	return ofs.copyUpStream(op, name, info.Mode().Perm())
}

// copyUpStream copies a base-layer file to the writable layer through a
// bounded buffer, so metadata mutations on large files never hold the whole
// content in memory.
func (ofs *FileSystem) copyUpStream(op, name string, perm os.FileMode) error {
	if err := ofs.copyUpParents(op, name); err != nil {
		return err
	}
	if err := ofs.unhidePath(op, name); err != nil {
		return err
	}

	src, err := ofs.base.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return mapProviderError(op, name, err)
	}
	defer src.Close()

	dst, err := ofs.writable.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return mapProviderError(op, name, err)
	}

	buf := make([]byte, ofs.copyBufferSize)
	if _, err := io.CopyBuffer(dst, src, buf); err != nil {
		dst.Close()
		return mapProviderError(op, name, err)
	}
	if err := dst.Close(); err != nil {
		return mapProviderError(op, name, err)
	}
	ofs.cache.invalidate(name)
	ofs.logger.Debug().Str("path", name).Msg("copied up file content")
	return nil
}
