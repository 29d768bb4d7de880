package overlayfs

import (
	"io"
	"os"
	"path"
	"syscall"
	"time"
)

// byteBuffer is the generic in-memory buffer backing overlay file handles.
// It grows on demand and tracks a single read/write position.
type byteBuffer struct {
	data []byte
	pos  int64
}

func (b *byteBuffer) Len() int64 {
	return int64(len(b.data))
}

func (b *byteBuffer) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, os.ErrInvalid
	}
	if off >= b.Len() {
		return 0, io.EOF
	}
	n := copy(p, b.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *byteBuffer) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, os.ErrInvalid
	}
	if end := off + int64(len(p)); end > b.Len() {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	return copy(b.data[off:], p), nil
}

func (b *byteBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + offset
	case io.SeekEnd:
		abs = b.Len() + offset
	default:
		return 0, os.ErrInvalid
	}
	if abs < 0 {
		return 0, os.ErrInvalid
	}
	b.pos = abs
	return abs, nil
}

func (b *byteBuffer) Truncate(size int64) error {
	if size < 0 {
		return os.ErrInvalid
	}
	switch {
	case size <= b.Len():
		b.data = b.data[:size]
	default:
		grown := make([]byte, size)
		copy(grown, b.data)
		b.data = grown
	}
	return nil
}

// fileInfo is the synthetic stat record carried by overlay file handles.
type fileInfo struct {
	name    string
	size    int64
	mode    os.FileMode
	modTime time.Time
}

func (fi *fileInfo) Name() string       { return path.Base(fi.name) }
func (fi *fileInfo) Size() int64        { return fi.size }
func (fi *fileInfo) Mode() os.FileMode  { return fi.mode }
func (fi *fileInfo) ModTime() time.Time { return fi.modTime }
func (fi *fileInfo) IsDir() bool        { return fi.mode.IsDir() }
func (fi *fileInfo) Sys() any           { return nil }

// overlayFile is a buffered write handle for a file materialized from the
// base layer. It is exclusively owned by its opener. Sync commits the whole
// buffer through the copy-up engine; no partial content ever reaches the
// writable layer.
type overlayFile struct {
	ofs    *FileSystem
	name   string
	flag   int
	perm   os.FileMode
	buf    byteBuffer
	mod    time.Time
	dirty  bool
	closed bool
}

func newOverlayFile(ofs *FileSystem, name string, flag int, perm os.FileMode, info os.FileInfo, data []byte) *overlayFile {
	f := &overlayFile{
		ofs:  ofs,
		name: name,
		flag: flag,
		perm: perm,
		mod:  info.ModTime(),
	}
	f.buf.data = data
	if flag&os.O_APPEND != 0 {
		f.buf.pos = f.buf.Len()
	}
	return f
}

func (f *overlayFile) readable() bool {
	return f.flag&os.O_WRONLY == 0
}

func (f *overlayFile) writable() bool {
	return f.flag&(os.O_WRONLY|os.O_RDWR) != 0
}

func (f *overlayFile) Name() string {
	return f.name
}

func (f *overlayFile) Read(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if !f.readable() {
		return 0, &os.PathError{Op: "read", Path: f.name, Err: os.ErrPermission}
	}
	n, err := f.buf.ReadAt(p, f.buf.pos)
	f.buf.pos += int64(n)
	return n, err
}

func (f *overlayFile) ReadAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if !f.readable() {
		return 0, &os.PathError{Op: "read", Path: f.name, Err: os.ErrPermission}
	}
	return f.buf.ReadAt(p, off)
}

func (f *overlayFile) Write(p []byte) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if !f.writable() {
		return 0, &os.PathError{Op: "write", Path: f.name, Err: os.ErrPermission}
	}
	if f.flag&os.O_APPEND != 0 {
		f.buf.pos = f.buf.Len()
	}
	n, err := f.buf.WriteAt(p, f.buf.pos)
	f.buf.pos += int64(n)
	f.touch()
	return n, err
}

func (f *overlayFile) WriteAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	if !f.writable() {
		return 0, &os.PathError{Op: "write", Path: f.name, Err: os.ErrPermission}
	}
	n, err := f.buf.WriteAt(p, off)
	f.touch()
	return n, err
}

func (f *overlayFile) WriteString(s string) (int, error) {
	return f.Write([]byte(s))
}

func (f *overlayFile) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, os.ErrClosed
	}
	return f.buf.Seek(offset, whence)
}

func (f *overlayFile) Truncate(size int64) error {
	if f.closed {
		return os.ErrClosed
	}
	if !f.writable() {
		return &os.PathError{Op: "truncate", Path: f.name, Err: os.ErrPermission}
	}
	if err := f.buf.Truncate(size); err != nil {
		return err
	}
	f.touch()
	return nil
}

func (f *overlayFile) Readdir(int) ([]os.FileInfo, error) {
	return nil, &os.PathError{Op: "readdirent", Path: f.name, Err: syscall.ENOTDIR}
}

func (f *overlayFile) Readdirnames(int) ([]string, error) {
	return nil, &os.PathError{Op: "readdirent", Path: f.name, Err: syscall.ENOTDIR}
}

func (f *overlayFile) Stat() (os.FileInfo, error) {
	if f.closed {
		return nil, os.ErrClosed
	}
	return &fileInfo{
		name:    f.name,
		size:    f.buf.Len(),
		mode:    f.perm,
		modTime: f.mod,
	}, nil
}

// Sync commits the whole buffer to the writable layer when dirty and clears
// the dirty flag. Every sync is a full-buffer flush.
func (f *overlayFile) Sync() error {
	if f.closed {
		return os.ErrClosed
	}
	if !f.dirty {
		return nil
	}
	if err := f.ofs.copyUpWrite(f.name, f.buf.data, f.perm); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

// Close syncs pending content and releases the handle.
func (f *overlayFile) Close() error {
	if f.closed {
		return os.ErrClosed
	}
	if err := f.Sync(); err != nil {
		return err
	}
	f.closed = true
	return nil
}

func (f *overlayFile) touch() {
	f.dirty = true
	f.mod = time.Now()
}
