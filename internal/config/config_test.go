package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 50, cfg.DB.ChunkSize)
	require.Equal(t, 3, cfg.DB.MaxRetries)
	require.Contains(t, cfg.Images.ExcludeExtensions, ".svg")
	require.Contains(t, cfg.Images.ExcludeExtensions, ".gif")
	require.LessOrEqual(t, cfg.Jobs.MinResultTTLSec, cfg.Jobs.MaxResultTTLSec)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	body := []byte(`
server:
  port: 9999
db:
  chunk_size: 10
images:
  max_dimension: 800
`)
	require.NoError(t, os.WriteFile(path, body, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Server.Port)
	require.Equal(t, 10, cfg.DB.ChunkSize)
	require.Equal(t, 800, cfg.Images.MaxDimension)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	bad := cfg
	bad.DB.ChunkSize = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Images.JPEGQuality = 101
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Jobs.MinResultTTLSec = 7200
	require.Error(t, bad.Validate())
}

func TestRequireIngest(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Error(t, cfg.RequireIngest())

	cfg.DB.DSN = "postgres://localhost/docs"
	require.Error(t, cfg.RequireIngest())

	cfg.Storage.Bucket = "docs-images"
	require.NoError(t, cfg.RequireIngest())

	cfg.Storage.FallbackCredentialsFile = filepath.Join(t.TempDir(), "missing.json")
	err = cfg.RequireIngest()
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage.fallback_credentials_file")

	keyFile := filepath.Join(t.TempDir(), "sa.json")
	require.NoError(t, os.WriteFile(keyFile, []byte(`{"type":"service_account"}`), 0o600))
	cfg.Storage.FallbackCredentialsFile = keyFile
	require.NoError(t, cfg.RequireIngest())
}
