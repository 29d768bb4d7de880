package overlayfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, DefaultDeletionLogPath, cfg.DeletionLogPath)
	assert.Equal(t, DefaultCopyBufferSize, cfg.CopyBufferSize)
	assert.False(t, cfg.CacheEnabled)
	assert.Equal(t, DefaultCacheTTL, cfg.CacheTTL)
	assert.Equal(t, DefaultCacheTTL/2, cfg.NegativeTTL)
	assert.Equal(t, DefaultCacheEntries, cfg.CacheEntries)
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	content := "deletion_log_path: /state/.deleted\ncache_enabled: true\ncache_ttl: 5s\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/state/.deleted", cfg.DeletionLogPath)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 5*time.Second, cfg.CacheTTL)

	// Untouched fields keep their defaults.
	assert.Equal(t, DefaultCopyBufferSize, cfg.CopyBufferSize)
	assert.Equal(t, DefaultCacheEntries, cfg.CacheEntries)
}

func TestLoadConfigZeroValueOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("copy_buffer_size: 0\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// An explicit zero is distinguishable from an unset field.
	assert.Equal(t, 0, cfg.CopyBufferSize)
	assert.Equal(t, DefaultDeletionLogPath, cfg.DeletionLogPath)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overlay.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache_ttl: [not a duration\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeletionLogPath = "/state/.deleted"
	cfg.CacheEnabled = true

	ofs, err := New(FromAbsFS(mustNewMemFS(t)), FromAbsFS(mustNewMemFS(t), AsReadOnly()), cfg.Options()...)
	require.NoError(t, err)

	assert.Equal(t, "/state/.deleted", ofs.logPath)
	assert.True(t, ofs.cache.enabled)
}
