package overlayfs

import (
	"os"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/rs/zerolog"
)

// DefaultDeletionLogPath is where the deletion log lives on the writable
// layer unless WithDeletionLogPath overrides it.
const DefaultDeletionLogPath = "/.deleted"

// writableBits is OR-ed into every mode sourced from the base layer.
// Anything visible through the overlay is conceptually mutable, so
// base-layer entries are re-exposed with write permission; file-type bits
// are untouched.
const writableBits os.FileMode = 0222

// Initialization states. Operations require stateReady; everything else
// fails with KindPermissionDenied.
const (
	stateUninitialized int32 = iota
	stateInitializing
	stateReady
	stateFailed
	stateClosed
)

// FileSystem is the overlay orchestrator. It owns both backing providers
// and the deletion map, and exposes POSIX-like synchronous operations.
type FileSystem struct {
	writable Provider
	base     Provider

	// deleted maps absolute paths to their hidden flag. A true entry
	// suppresses the path even when it still exists on the base layer.
	deleted *xsync.Map[string, bool]

	dlog    *deletionLog
	logPath string

	copyBufferSize int
	cache          *cache
	logger         zerolog.Logger

	initOnce sync.Once
	initErr  error
	state    atomic.Int32
}

// Option is a functional option for configuring a FileSystem.
type Option func(*FileSystem)

// WithDeletionLogPath sets the deletion log location on the writable layer.
// The path is instance-level state, never package-global.
func WithDeletionLogPath(p string) Option {
	return func(ofs *FileSystem) {
		ofs.logPath = cleanPath(p)
	}
}

// WithLogger attaches a structured logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(ofs *FileSystem) {
		ofs.logger = l
	}
}

// WithCopyBufferSize sets the buffer size for copy-on-write content copies.
// Non-positive sizes keep the default.
func WithCopyBufferSize(size int) Option {
	return func(ofs *FileSystem) {
		if size > 0 {
			ofs.copyBufferSize = size
		}
	}
}

// WithStatCache enables merged-stat caching with the specified TTL.
// Negative entries expire at half the TTL.
func WithStatCache(ttl time.Duration) Option {
	return func(ofs *FileSystem) {
		ofs.cache = newCache(ttl, ttl/2, defaultCacheEntries)
	}
}

// WithCacheConfig enables caching with full control over TTLs and capacity.
func WithCacheConfig(statTTL, negativeTTL time.Duration, maxEntries int) Option {
	return func(ofs *FileSystem) {
		ofs.cache = newCache(statTTL, negativeTTL, maxEntries)
	}
}

// New creates an overlay over the given layers. It fails with
// KindInvalidArgument when the writable layer is read-only or either layer
// is not synchronous.
func New(writable, base Provider, opts ...Option) (*FileSystem, error) {
	if writable == nil || base == nil {
		return nil, &Error{Op: "new", Kind: KindInvalidArgument}
	}
	if writable.Capabilities().ReadOnly {
		return nil, &Error{Op: "new", Kind: KindInvalidArgument}
	}
	if !writable.Capabilities().Synchronous || !base.Capabilities().Synchronous {
		return nil, &Error{Op: "new", Kind: KindInvalidArgument}
	}

	ofs := &FileSystem{
		writable:       writable,
		base:           base,
		deleted:        xsync.NewMap[string, bool](),
		logPath:        DefaultDeletionLogPath,
		copyBufferSize: DefaultCopyBufferSize,
		cache:          disabledCache(),
		logger:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(ofs)
	}
	return ofs, nil
}

// Name returns the name of the filesystem.
func (ofs *FileSystem) Name() string {
	return "OverlayFS"
}

// Initialize replays the deletion log and opens its append handle. It must
// succeed before any other operation. Concurrent and repeated calls are
// safe: the load runs exactly once and every caller observes the same
// outcome.
func (ofs *FileSystem) Initialize() error {
	ofs.initOnce.Do(func() {
		ofs.state.Store(stateInitializing)
		ofs.initErr = ofs.loadDeletionLog()
		if ofs.initErr != nil {
			ofs.state.Store(stateFailed)
			return
		}
		ofs.state.Store(stateReady)
	})
	return ofs.initErr
}

// ready gates every public operation on initialization.
func (ofs *FileSystem) ready(op, name string) error {
	if ofs.state.Load() != stateReady {
		return &Error{Op: op, Path: name, Kind: KindPermissionDenied}
	}
	return nil
}

// Close flushes and releases the deletion log handle. The filesystem leaves
// the ready state; subsequent operations fail with KindPermissionDenied.
func (ofs *FileSystem) Close() error {
	ofs.state.Store(stateClosed)
	if ofs.dlog == nil {
		return nil
	}
	err := ofs.dlog.close()
	ofs.dlog = nil
	return err
}

// Capabilities reports the overlay's merged capability set: always
// writable, synchronous only, no hard links, structured metadata iff both
// layers provide it.
func (ofs *FileSystem) Capabilities() Capabilities {
	return Capabilities{
		Synchronous: true,
		StructuredStat: ofs.writable.Capabilities().StructuredStat &&
			ofs.base.Capabilities().StructuredStat,
	}
}

// HiddenPaths returns the paths currently masked by the deletion map, in
// unspecified order.
func (ofs *FileSystem) HiddenPaths() []string {
	var hidden []string
	ofs.deleted.Range(func(name string, h bool) bool {
		if h {
			hidden = append(hidden, name)
		}
		return true
	})
	return hidden
}

// isHidden reports whether name is masked by the deletion map.
func (ofs *FileSystem) isHidden(name string) bool {
	hidden, ok := ofs.deleted.Load(name)
	return ok && hidden
}

// hidePath records a delete event. The log append is flushed before the
// in-memory map mutation is considered committed.
func (ofs *FileSystem) hidePath(op, name string) error {
	if err := ofs.dlog.append(recDelete, name); err != nil {
		return mapProviderError(op, name, err)
	}
	ofs.deleted.Store(name, true)
	ofs.cache.invalidate(name)
	return nil
}

// unhidePath records an undelete event for a currently hidden path. It is a
// no-op when the path is not hidden, keeping the log free of noise.
func (ofs *FileSystem) unhidePath(op, name string) error {
	if !ofs.isHidden(name) {
		return nil
	}
	if err := ofs.dlog.append(recUndelete, name); err != nil {
		return mapProviderError(op, name, err)
	}
	ofs.deleted.Store(name, false)
	ofs.cache.invalidate(name)
	return nil
}

// writableMode rewrites a base-layer mode with the writable bit pattern,
// preserving file-type bits.
func writableMode(m os.FileMode) os.FileMode {
	return m | writableBits
}

// overlayInfo re-exposes a base-layer FileInfo with a writable mode.
type overlayInfo struct {
	os.FileInfo
}

func (fi overlayInfo) Mode() os.FileMode {
	return writableMode(fi.FileInfo.Mode())
}

// cleanPath normalizes a virtual path to an absolute slash-separated form.
func cleanPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
