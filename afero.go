package overlayfs

import (
	"os"
	"syscall"
	"time"

	"github.com/absfs/absfs"
	"github.com/spf13/afero"
)

// aferoProvider adapts an afero.Fs to the Provider interface. afero file
// handles satisfy absfs.File structurally, so opens pass straight through.
type aferoProvider struct {
	fs   afero.Fs
	caps Capabilities
}

// AdapterOption configures a provider adapter.
type AdapterOption func(*Capabilities)

// AsReadOnly marks the adapted provider read-only. Mutations fail with
// fs.ErrPermission before reaching the backend.
func AsReadOnly() AdapterOption {
	return func(c *Capabilities) {
		c.ReadOnly = true
	}
}

// WithoutStructuredStat declares that the backend synthesizes stat metadata.
func WithoutStructuredStat() AdapterOption {
	return func(c *Capabilities) {
		c.StructuredStat = false
	}
}

// FromAfero wraps an afero backend as an overlay Provider. afero backends
// are synchronous, so the adapter always reports that capability.
func FromAfero(fs afero.Fs, opts ...AdapterOption) Provider {
	p := &aferoProvider{
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

func (p *aferoProvider) readOnlyErr(op, name string) error {
	if !p.caps.ReadOnly {
		return nil
	}
	return &os.PathError{Op: op, Path: name, Err: os.ErrPermission}
}

func (p *aferoProvider) Exists(name string) bool {
	_, err := p.fs.Stat(name)
	return err == nil
}

func (p *aferoProvider) Stat(name string) (os.FileInfo, error) {
	return p.fs.Stat(name)
}

func (p *aferoProvider) Lstat(name string) (os.FileInfo, error) {
	if lstater, ok := p.fs.(afero.Lstater); ok {
		info, _, err := lstater.LstatIfPossible(name)
		return info, err
	}
	return p.fs.Stat(name)
}

func (p *aferoProvider) OpenFile(name string, flag int, perm os.FileMode) (absfs.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		if err := p.readOnlyErr("open", name); err != nil {
			return nil, err
		}
	}
	return p.fs.OpenFile(name, flag, perm)
}

func (p *aferoProvider) ReadFile(name string) ([]byte, error) {
	return afero.ReadFile(p.fs, name)
}

func (p *aferoProvider) WriteFile(name string, data []byte, perm os.FileMode) error {
	if err := p.readOnlyErr("write", name); err != nil {
		return err
	}
	return afero.WriteFile(p.fs, name, data, perm)
}

func (p *aferoProvider) Mkdir(name string, perm os.FileMode) error {
	if err := p.readOnlyErr("mkdir", name); err != nil {
		return err
	}
	return p.fs.Mkdir(name, perm)
}

// Rmdir enforces emptiness itself because some afero backends remove
// non-empty directories without complaint.
func (p *aferoProvider) Rmdir(name string) error {
	if err := p.readOnlyErr("rmdir", name); err != nil {
		return err
	}
	entries, err := afero.ReadDir(p.fs, name)
	if err == nil && len(entries) > 0 {
		return &os.PathError{Op: "rmdir", Path: name, Err: syscall.ENOTEMPTY}
	}
	return p.fs.Remove(name)
}

func (p *aferoProvider) Remove(name string) error {
	if err := p.readOnlyErr("remove", name); err != nil {
		return err
	}
	return p.fs.Remove(name)
}

func (p *aferoProvider) Rename(oldname, newname string) error {
	if err := p.readOnlyErr("rename", oldname); err != nil {
		return err
	}
	return p.fs.Rename(oldname, newname)
}

func (p *aferoProvider) ReadDir(name string) ([]os.FileInfo, error) {
	return afero.ReadDir(p.fs, name)
}

func (p *aferoProvider) Chmod(name string, mode os.FileMode) error {
	if err := p.readOnlyErr("chmod", name); err != nil {
		return err
	}
	return p.fs.Chmod(name, mode)
}

func (p *aferoProvider) Chown(name string, uid, gid int) error {
	if err := p.readOnlyErr("chown", name); err != nil {
		return err
	}
	return p.fs.Chown(name, uid, gid)
}

func (p *aferoProvider) Chtimes(name string, atime, mtime time.Time) error {
	if err := p.readOnlyErr("chtimes", name); err != nil {
		return err
	}
	return p.fs.Chtimes(name, atime, mtime)
}

func (p *aferoProvider) Capabilities() Capabilities {
	return p.caps
}
