package overlayfs

import (
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testInfo(name string) os.FileInfo {
	return &fileInfo{name: name, size: 1, mode: 0644, modTime: time.Now()}
}

func TestCachePutGet(t *testing.T) {
	c := newCache(time.Minute, time.Minute, 10)

	if _, _, ok := c.getStat("/a"); ok {
		t.Fatal("empty cache returned a hit")
	}
	c.putStat("/a", testInfo("/a"), layerBase)
	info, layer, ok := c.getStat("/a")
	if !ok || layer != layerBase || info.Name() != "a" {
		t.Errorf("getStat = (%v, %v, %v)", info, layer, ok)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := newCache(-time.Second, -time.Second, 10)

	c.putStat("/a", testInfo("/a"), layerWritable)
	if _, _, ok := c.getStat("/a"); ok {
		t.Error("expired stat entry returned a hit")
	}
	c.putNegative("/b")
	if c.isNegative("/b") {
		t.Error("expired negative entry returned a hit")
	}
}

func TestCacheNegative(t *testing.T) {
	c := newCache(time.Minute, time.Minute, 10)

	if c.isNegative("/gone") {
		t.Fatal("fresh cache reported a negative hit")
	}
	c.putNegative("/gone")
	if !c.isNegative("/gone") {
		t.Error("negative entry missing")
	}
	c.invalidate("/gone")
	if c.isNegative("/gone") {
		t.Error("negative entry survived invalidation")
	}
}

func TestCacheInvalidateTree(t *testing.T) {
	c := newCache(time.Minute, time.Minute, 10)

	c.putStat("/dir", testInfo("/dir"), layerWritable)
	c.putStat("/dir/f", testInfo("/dir/f"), layerWritable)
	c.putStat("/dirt", testInfo("/dirt"), layerWritable)
	c.putNegative("/dir/gone")

	c.invalidateTree("/dir")

	if _, _, ok := c.getStat("/dir"); ok {
		t.Error("/dir survived subtree invalidation")
	}
	if _, _, ok := c.getStat("/dir/f"); ok {
		t.Error("/dir/f survived subtree invalidation")
	}
	if c.isNegative("/dir/gone") {
		t.Error("/dir/gone survived subtree invalidation")
	}
	// Sibling with a shared name prefix but a different path is kept.
	if _, _, ok := c.getStat("/dirt"); !ok {
		t.Error("/dirt dropped by subtree invalidation")
	}
}

func TestCacheEviction(t *testing.T) {
	c := newCache(time.Minute, time.Minute, 2)

	c.putStat("/a", testInfo("/a"), layerBase)
	c.putStat("/b", testInfo("/b"), layerBase)
	c.putStat("/c", testInfo("/c"), layerBase)

	if len(c.stats) > 2 {
		t.Errorf("cache holds %d entries, cap is 2", len(c.stats))
	}
	if _, _, ok := c.getStat("/c"); !ok {
		t.Error("most recent entry was evicted")
	}
}

func TestDisabledCacheIsInert(t *testing.T) {
	c := disabledCache()

	c.putStat("/a", testInfo("/a"), layerBase)
	if _, _, ok := c.getStat("/a"); ok {
		t.Error("disabled cache stored an entry")
	}
	c.putNegative("/b")
	if c.isNegative("/b") {
		t.Error("disabled cache stored a negative entry")
	}
	c.invalidate("/a")
	c.invalidateTree("/")
}

// statCountingProvider counts Stat calls reaching the wrapped provider.
type statCountingProvider struct {
	Provider
	statCalls atomic.Int32
}

func (p *statCountingProvider) Stat(name string) (os.FileInfo, error) {
	p.statCalls.Add(1)
	return p.Provider.Stat(name)
}

func TestOverlayStatCacheServesRepeatLookups(t *testing.T) {
	upper := mustNewMemFS(t)
	base := mustNewMemFS(t)
	counting := &statCountingProvider{Provider: FromAbsFS(base, AsReadOnly())}

	ofs, err := New(FromAbsFS(upper), counting, WithStatCache(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if err := ofs.Initialize(); err != nil {
		t.Fatal(err)
	}
	writeLayerFile(t, base, "/f", "xx")

	for i := 0; i < 5; i++ {
		if _, err := ofs.Stat("/f"); err != nil {
			t.Fatal(err)
		}
	}
	if got := counting.statCalls.Load(); got != 1 {
		t.Errorf("base layer Stat called %d times, want 1", got)
	}

	// Writing through the overlay invalidates the cached entry, so the next
	// lookup sees the new writable-layer content.
	f, err := ofs.OpenFile("/f", os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("y")); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	info, err := ofs.Stat("/f")
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 1 {
		t.Errorf("post-write size = %d, want 1", info.Size())
	}
}
