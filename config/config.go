package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`

	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Größe der Chunks, in denen der CSV-Loader Bulk-Inserts absetzt.
	UploadChunkSize int `envconfig:"UPLOAD_CHUNK_SIZE" default:"1000"`

	// Import-Verzeichnis: dort abgelegte CSV-Dateien werden per Cron eingelesen.
	ImportDir          string `envconfig:"IMPORT_DIR"`
	ImportCronSchedule string `envconfig:"IMPORT_CRON_SCHEDULE" default:"@every 5m"`

	// Archivierung erfolgreich verarbeiteter Uploads nach S3.
	ArchiveEnabled  bool   `envconfig:"ARCHIVE_ENABLED" default:"false"`
	ArchiveS3Key    string `envconfig:"ARCHIVE_S3_KEY"`
	ArchiveS3Secret string `envconfig:"ARCHIVE_S3_SECRET"`
	ArchiveS3URL    string `envconfig:"ARCHIVE_S3_URL"`
	ArchiveS3Region string `envconfig:"ARCHIVE_S3_REGION"`
	ArchiveS3Bucket string `envconfig:"ARCHIVE_S3_BUCKET"`

	// Token-Endpoint des Identity-Providers (Client-Credentials-Grant).
	AuthTokenURL     string `envconfig:"AUTH_TOKEN_URL"`
	AuthClientID     string `envconfig:"AUTH_CLIENT_ID"`
	AuthClientSecret string `envconfig:"AUTH_CLIENT_SECRET"`
	AuthAudience     string `envconfig:"AUTH_AUDIENCE"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
