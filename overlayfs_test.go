package overlayfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/absfs/absfs"
	"github.com/absfs/memfs"
)

// mustNewMemFS creates a new memfs or fails the test
func mustNewMemFS(t *testing.T) absfs.FileSystem {
	t.Helper()
	mfs, err := memfs.NewFS()
	if err != nil {
		t.Fatalf("failed to create memfs: %v", err)
	}
	return mfs
}

// writeLayerFile writes content directly into a layer filesystem
func writeLayerFile(t *testing.T, layer interface {
	OpenFile(string, int, os.FileMode) (absfs.File, error)
	MkdirAll(string, os.FileMode) error
}, name, content string) {
	t.Helper()
	if dir := path.Dir(name); dir != "/" {
		if err := layer.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	f, err := layer.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	if _, err := f.Write([]byte(content)); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close %s: %v", name, err)
	}
}

// readLayerFile reads a file directly from a layer filesystem
func readLayerFile(t *testing.T, layer absfs.FileSystem, name string) string {
	t.Helper()
	f, err := layer.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

// newTestOverlay builds and initializes an overlay over two fresh memfs
// layers and returns all three.
func newTestOverlay(t *testing.T, opts ...Option) (*FileSystem, absfs.FileSystem, absfs.FileSystem) {
	t.Helper()
	upper := mustNewMemFS(t)
	base := mustNewMemFS(t)
	ofs, err := New(FromAbsFS(upper), FromAbsFS(base, AsReadOnly()), opts...)
	if err != nil {
		t.Fatalf("failed to create overlay: %v", err)
	}
	if err := ofs.Initialize(); err != nil {
		t.Fatalf("failed to initialize overlay: %v", err)
	}
	return ofs, upper, base
}

func TestNewValidatesCapabilities(t *testing.T) {
	upper := mustNewMemFS(t)
	base := mustNewMemFS(t)

	if _, err := New(FromAbsFS(upper, AsReadOnly()), FromAbsFS(base)); err == nil {
		t.Fatal("expected construction to fail with a read-only writable layer")
	} else if KindOf(err) != KindInvalidArgument {
		t.Errorf("expected KindInvalidArgument, got %v", KindOf(err))
	}

	if _, err := New(nil, FromAbsFS(base)); err == nil {
		t.Fatal("expected construction to fail with a nil layer")
	}
}

func TestOperationsBeforeInitialize(t *testing.T) {
	upper := mustNewMemFS(t)
	base := mustNewMemFS(t)
	ofs, err := New(FromAbsFS(upper), FromAbsFS(base))
	if err != nil {
		t.Fatalf("failed to create overlay: %v", err)
	}

	if _, err := ofs.Stat("/x"); KindOf(err) != KindPermissionDenied {
		t.Errorf("Stat before Initialize: expected KindPermissionDenied, got %v", err)
	}
	if err := ofs.Mkdir("/x", 0755); KindOf(err) != KindPermissionDenied {
		t.Errorf("Mkdir before Initialize: expected KindPermissionDenied, got %v", err)
	}
	if !errors.Is(ofs.Remove("/x"), fs.ErrPermission) {
		t.Error("expected pre-init errors to unwrap to fs.ErrPermission")
	}
	if ofs.Exists("/x") {
		t.Error("Exists before Initialize should report false")
	}
}

// countingProvider counts ReadFile calls so tests can observe how many
// times the deletion log was actually loaded.
type countingProvider struct {
	Provider
	readFileCalls atomic.Int32
}

func (p *countingProvider) ReadFile(name string) ([]byte, error) {
	p.readFileCalls.Add(1)
	return p.Provider.ReadFile(name)
}

func TestInitializeRunsLoadExactlyOnce(t *testing.T) {
	upper := &countingProvider{Provider: FromAbsFS(mustNewMemFS(t))}
	ofs, err := New(upper, FromAbsFS(mustNewMemFS(t), AsReadOnly()))
	if err != nil {
		t.Fatalf("failed to create overlay: %v", err)
	}

	const callers = 8
	results := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = ofs.Initialize()
		}(i)
	}
	wg.Wait()

	for i, err := range results {
		if err != nil {
			t.Errorf("caller %d: unexpected Initialize error: %v", i, err)
		}
	}
	if calls := upper.readFileCalls.Load(); calls != 1 {
		t.Errorf("expected the deletion log to be read exactly once, got %d reads", calls)
	}

	// Repeated calls after completion stay cheap and succeed.
	if err := ofs.Initialize(); err != nil {
		t.Errorf("repeated Initialize failed: %v", err)
	}
	if calls := upper.readFileCalls.Load(); calls != 1 {
		t.Errorf("repeated Initialize re-read the log (%d reads)", calls)
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	ofs, _, base := newTestOverlay(t)
	writeLayerFile(t, base, "/f.txt", "x")

	if err := ofs.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Mutations that would append to the released deletion log must fail
	// cleanly, not dereference the closed handle.
	if err := ofs.Remove("/f.txt"); KindOf(err) != KindPermissionDenied {
		t.Errorf("Remove after Close: expected KindPermissionDenied, got %v", err)
	}
	if _, err := ofs.Stat("/f.txt"); KindOf(err) != KindPermissionDenied {
		t.Errorf("Stat after Close: expected KindPermissionDenied, got %v", err)
	}
	if ofs.Exists("/f.txt") {
		t.Error("Exists after Close should report false")
	}
	if err := ofs.Close(); err != nil {
		t.Errorf("repeated Close failed: %v", err)
	}
}

func TestCapabilities(t *testing.T) {
	ofs, _, _ := newTestOverlay(t)

	caps := ofs.Capabilities()
	if caps.ReadOnly {
		t.Error("overlay must report itself writable")
	}
	if !caps.Synchronous {
		t.Error("overlay must report synchronous operation")
	}
	if caps.HardLinks {
		t.Error("overlay must not report hard-link support")
	}
	if !caps.StructuredStat {
		t.Error("expected structured stat support when both layers have it")
	}
}

func TestName(t *testing.T) {
	ofs, _, _ := newTestOverlay(t)
	if ofs.Name() != "OverlayFS" {
		t.Errorf("unexpected name %q", ofs.Name())
	}
}

func TestAbsFSAdapter(t *testing.T) {
	ofs, upper, base := newTestOverlay(t)
	writeLayerFile(t, base, "/data/f.txt", "0123456789")

	afs := ofs.AbsFS()

	// Convenience methods from the extended interface work through the
	// overlay: MkdirAll materializes the whole chain on the writable layer.
	if err := afs.MkdirAll("/a/b/c", 0755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if _, err := upper.Stat("/a/b/c"); err != nil {
		t.Errorf("MkdirAll did not reach the writable layer: %v", err)
	}

	info, err := afs.Stat("/data/f.txt")
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Size() != 10 {
		t.Errorf("size = %d, want 10", info.Size())
	}

	// Truncate copies the base file up before resizing it.
	if err := afs.Truncate("/data/f.txt", 4); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if got := readLayerFile(t, upper, "/data/f.txt"); got != "0123" {
		t.Errorf("truncated content = %q, want %q", got, "0123")
	}

	// Remove dispatches directories to the directory path.
	if err := afs.Remove("/a/b/c"); err != nil {
		t.Fatalf("Remove on directory failed: %v", err)
	}
	if ofs.Exists("/a/b/c") {
		t.Error("/a/b/c still resolves after Remove")
	}
}
