package overlayfs

import (
	"io"
	"os"
	"path"
	"syscall"
)

// overlayDir is a read-only directory handle over the merged listing.
// Entries are loaded lazily on the first Readdir call.
type overlayDir struct {
	ofs     *FileSystem
	name    string
	entries []os.FileInfo
	loaded  bool
	offset  int
	closed  bool
}

func newOverlayDir(ofs *FileSystem, name string) *overlayDir {
	return &overlayDir{ofs: ofs, name: name}
}

func (d *overlayDir) load() error {
	if d.loaded {
		return nil
	}
	entries, err := d.ofs.ReadDir(d.name)
	if err != nil {
		return err
	}
	d.entries = entries
	d.loaded = true
	return nil
}

func (d *overlayDir) Name() string {
	return path.Base(d.name)
}

func (d *overlayDir) Close() error {
	if d.closed {
		return os.ErrClosed
	}
	d.closed = true
	return nil
}

func (d *overlayDir) Read(p []byte) (int, error) {
	return 0, &os.PathError{Op: "read", Path: d.name, Err: syscall.EISDIR}
}

func (d *overlayDir) ReadAt(p []byte, off int64) (int, error) {
	return 0, &os.PathError{Op: "read", Path: d.name, Err: syscall.EISDIR}
}

func (d *overlayDir) Write(p []byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.name, Err: syscall.EISDIR}
}

func (d *overlayDir) WriteAt(p []byte, off int64) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.name, Err: syscall.EISDIR}
}

func (d *overlayDir) WriteString(string) (int, error) {
	return 0, &os.PathError{Op: "write", Path: d.name, Err: syscall.EISDIR}
}

func (d *overlayDir) Truncate(int64) error {
	return &os.PathError{Op: "truncate", Path: d.name, Err: syscall.EISDIR}
}

func (d *overlayDir) Seek(offset int64, whence int) (int64, error) {
	if d.closed {
		return 0, os.ErrClosed
	}
	if err := d.load(); err != nil {
		return 0, err
	}
	switch whence {
	case io.SeekStart:
		d.offset = int(offset)
	case io.SeekCurrent:
		d.offset += int(offset)
	case io.SeekEnd:
		d.offset = len(d.entries) + int(offset)
	}
	if d.offset < 0 {
		d.offset = 0
	}
	return int64(d.offset), nil
}

func (d *overlayDir) Readdir(count int) ([]os.FileInfo, error) {
	if d.closed {
		return nil, os.ErrClosed
	}
	if err := d.load(); err != nil {
		return nil, err
	}
	if d.offset >= len(d.entries) {
		if count > 0 {
			return nil, io.EOF
		}
		return nil, nil
	}
	end := len(d.entries)
	if count > 0 && d.offset+count < end {
		end = d.offset + count
	}
	result := d.entries[d.offset:end]
	d.offset = end
	return result, nil
}

func (d *overlayDir) Readdirnames(count int) ([]string, error) {
	infos, err := d.Readdir(count)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

func (d *overlayDir) Stat() (os.FileInfo, error) {
	if d.closed {
		return nil, os.ErrClosed
	}
	return d.ofs.Stat(d.name)
}

func (d *overlayDir) Sync() error {
	return nil
}
