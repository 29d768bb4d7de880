package overlayfs

import (
	"io"
	"os"
	"syscall"
	"time"

	"github.com/absfs/absfs"
)

// absfsProvider adapts an absfs.FileSystem to the Provider interface so
// absfs backends (memfs, osfs, boltfs, ...) can serve as overlay layers.
type absfsProvider struct {
	fs   absfs.FileSystem
	caps Capabilities
}

// FromAbsFS wraps an absfs filesystem as an overlay Provider.
func FromAbsFS(fs absfs.FileSystem, opts ...AdapterOption) Provider {
	p := &absfsProvider{
		fs: fs,
		caps: Capabilities{
			Synchronous:    true,
			StructuredStat: true,
		},
	}
	for _, opt := range opts {
		opt(&p.caps)
	}
	return p
}

func (p *absfsProvider) readOnlyErr(op, name string) error {
	if !p.caps.ReadOnly {
		return nil
	}
	return &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
}

func (p *absfsProvider) Exists(name string) bool {
	_, err := p.fs.Stat(name)
	return err == nil
}

func (p *absfsProvider) Stat(name string) (os.FileInfo, error) {
	return p.fs.Stat(name)
}

func (p *absfsProvider) Lstat(name string) (os.FileInfo, error) {
	if lstater, ok := p.fs.(interface {
		Lstat(string) (os.FileInfo, error)
	}); ok {
		return lstater.Lstat(name)
	}
	return p.fs.Stat(name)
}

func (p *absfsProvider) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		if err := p.readOnlyErr("open", name); err != nil {
			return nil, err
		}
	}
	return p.fs.OpenFile(name, flag, perm)
}

func (p *absfsProvider) ReadFile(name string) ([]byte, error) {
	f, err := p.fs.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func (p *absfsProvider) WriteFile(name string, data []byte, perm os.FileMode) error {
	if err := p.readOnlyErr("write", name); err != nil {
		return err
	}
	f, err := p.fs.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr != nil {
		return werr
	}
	return cerr
}

func (p *absfsProvider) Mkdir(name string, perm os.FileMode) error {
	if err := p.readOnlyErr("mkdir", name); err != nil {
		return err
	}
	return p.fs.Mkdir(name, perm)
}

func (p *absfsProvider) Rmdir(name string) error {
	if err := p.readOnlyErr("rmdir", name); err != nil {
		return err
	}
	entries, err := p.ReadDir(name)
	if err == nil && len(entries) > 0 {
		return &os.PathError{Op: "rmdir", Path: name, Err: syscall.ENOTEMPTY}
	}
	return p.fs.Remove(name)
}

func (p *absfsProvider) Remove(name string) error {
	if err := p.readOnlyErr("remove", name); err != nil {
		return err
	}
	return p.fs.Remove(name)
}

func (p *absfsProvider) Rename(oldname, newname string) error {
	if err := p.readOnlyErr("rename", oldname); err != nil {
		return err
	}
	return p.fs.Rename(oldname, newname)
}

func (p *absfsProvider) ReadDir(name string) ([]os.FileInfo, error) {
	dir, err := p.fs.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer dir.Close()
	return dir.Readdir(-1)
}

func (p *absfsProvider) Chmod(name string, mode os.FileMode) error {
	if err := p.readOnlyErr("chmod", name); err != nil {
		return err
	}
	return p.fs.Chmod(name, mode)
}

func (p *absfsProvider) Chown(name string, uid, gid int) error {
	if err := p.readOnlyErr("chown", name); err != nil {
		return err
	}
	return p.fs.Chown(name, uid, gid)
}

func (p *absfsProvider) Chtimes(name string, atime, mtime time.Time) error {
	if err := p.readOnlyErr("chtimes", name); err != nil {
		return err
	}
	return p.fs.Chtimes(name, atime, mtime)
}

func (p *absfsProvider) Capabilities() Capabilities {
	return p.caps
}

// absFSAdapter wraps FileSystem to implement absfs.Filer with correct types.
type absFSAdapter struct {
	ofs *FileSystem
}

// Ensure absFSAdapter implements absfs.Filer interface at compile time
var _ absfs.Filer = (*absFSAdapter)(nil)

// AbsFS returns an absfs.FileSystem view of this overlay. The returned
// filesystem maintains its own working directory state and provides the full
// absfs.FileSystem interface including convenience methods like Open,
// Create, MkdirAll and RemoveAll, which enables composition with the rest of
// the absfs ecosystem.
func (ofs *FileSystem) AbsFS() absfs.FileSystem {
	return absfs.ExtendFiler(&absFSAdapter{ofs: ofs})
}

// OpenFile implements absfs.Filer
func (a *absFSAdapter) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	return a.ofs.OpenFile(cleanPath(name), flag, perm)
}

// Mkdir implements absfs.Filer
func (a *absFSAdapter) Mkdir(name string, perm os.FileMode) error {
	return a.ofs.Mkdir(cleanPath(name), perm)
}

// Remove implements absfs.Filer
func (a *absFSAdapter) Remove(name string) error {
	name = cleanPath(name)
	info, err := a.ofs.Stat(name)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return a.ofs.Rmdir(name)
	}
	return a.ofs.Remove(name)
}

// Rename implements absfs.Filer
func (a *absFSAdapter) Rename(oldpath, newpath string) error {
	return a.ofs.Rename(cleanPath(oldpath), cleanPath(newpath))
}

// Stat implements absfs.Filer
func (a *absFSAdapter) Stat(name string) (os.FileInfo, error) {
	return a.ofs.Stat(cleanPath(name))
}

// Chmod implements absfs.Filer
func (a *absFSAdapter) Chmod(name string, mode os.FileMode) error {
	return a.ofs.Chmod(cleanPath(name), mode)
}

// Chtimes implements absfs.Filer
func (a *absFSAdapter) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return a.ofs.Chtimes(cleanPath(name), atime, mtime)
}

// Chown implements absfs.Filer
func (a *absFSAdapter) Chown(name string, uid, gid int) error {
	return a.ofs.Chown(cleanPath(name), uid, gid)
}

// Separator returns the path separator (always forward slash for virtual paths)
func (a *absFSAdapter) Separator() uint8 {
	return '/'
}

// ListSeparator returns the path list separator (always colon for virtual paths)
func (a *absFSAdapter) ListSeparator() uint8 {
	return ':'
}

// Truncate changes the size of the named file, copying it up first when it
// only exists on the base layer.
func (a *absFSAdapter) Truncate(name string, size int64) error {
	name = cleanPath(name)
	f, err := a.ofs.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if terr := f.Truncate(size); terr != nil {
		f.Close()
		return terr
	}
	return f.Close()
}
