package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_HOST", "db.local")
	t.Setenv("DB_USER", "catalog")
	t.Setenv("DB_PASSWORD", "geheim")
	t.Setenv("DB_NAME", "bookstore")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5432, cfg.DBPort)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 1000, cfg.UploadChunkSize)
	assert.Equal(t, "@every 5m", cfg.ImportCronSchedule)
	assert.False(t, cfg.ArchiveEnabled)
}

func TestLoadOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("UPLOAD_CHUNK_SIZE", "250")
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("ARCHIVE_ENABLED", "true")
	t.Setenv("ARCHIVE_S3_BUCKET", "csv-archiv")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250, cfg.UploadChunkSize)
	assert.Equal(t, "9090", cfg.HTTPPort)
	assert.True(t, cfg.ArchiveEnabled)
	assert.Equal(t, "csv-archiv", cfg.ArchiveS3Bucket)
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DB_HOST", "db.local")
	t.Setenv("DB_PASSWORD", "geheim")
	t.Setenv("DB_NAME", "bookstore")
	// t.Setenv registriert das Zurücksetzen, danach wirklich entfernen.
	t.Setenv("DB_USER", "catalog")
	os.Unsetenv("DB_USER")

	_, err := Load()
	require.Error(t, err)
}

func TestDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.local",
		DBPort:     5433,
		DBUser:     "catalog",
		DBPassword: "geheim",
		DBName:     "bookstore",
	}
	assert.Equal(t,
		"host=db.local user=catalog password=geheim dbname=bookstore port=5433 sslmode=disable",
		cfg.DSN())
}
