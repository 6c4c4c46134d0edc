// Package config loads and exposes application configuration (TOML).
package config

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "clipvault"
	DefaultPGSSLMode    = "disable"
	DefaultStagingDir   = "staging"
	DefaultSessionTTL   = "24h"
	DefaultURLExpiry    = "60m"

	// DefaultMaxUploadBytes is 500 MiB, the largest accepted media file.
	DefaultMaxUploadBytes = 500 << 20
)

// DefaultAllowedMimeTypes lists the declared media types accepted by default:
// video containers plus thumbnail images and caption formats.
var DefaultAllowedMimeTypes = []string{
	"video/mp4",
	"video/mpeg",
	"video/quicktime",
	"video/x-msvideo",
	"video/x-flv",
	"video/x-matroska",
	"video/webm",
	"video/ogg",
	"image/jpeg",
	"image/png",
	"image/webp",
	"text/vtt",
	"application/x-subrip",
}

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Storage  StorageConfig  `toml:"storage"`
	Upload   UploadConfig   `toml:"upload"`
	Scan     ScanConfig     `toml:"scan"`
}

// LogConfig holds logging level and format (e.g. level=info, format=json).
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// ServerConfig holds the HTTP server listen address and the externally
// visible base URL used for generated links.
type ServerConfig struct {
	Addr      string `toml:"addr"`
	PublicURL string `toml:"public_url"`
}

// AuthConfig holds JWT settings for locally issued tokens and the optional
// identity-proxy verifier (RS256 tokens signed by an external key set).
type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
	ProxyKeysURL string `toml:"proxy_keys_url"`
	ProxyAud     string `toml:"proxy_audience"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// StorageConfig holds the S3-compatible object store settings. Endpoint may
// point at MinIO or any S3 API; an empty endpoint uses AWS proper.
type StorageConfig struct {
	Bucket    string `toml:"bucket"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	URLExpiry string `toml:"url_expiry"`
}

// UploadConfig holds ingestion limits and the staging directory layout.
type UploadConfig struct {
	MaxSizeBytes     int64    `toml:"max_size_bytes"`
	AllowedMimeTypes []string `toml:"allowed_mime_types"`
	StagingDir       string   `toml:"staging_dir"`
	SessionTTL       string   `toml:"session_ttl"`
}

// ScanConfig holds malware scan backend settings. Every backend is optional;
// a missing credential or endpoint degrades that backend to unavailable
// instead of failing uploads.
type ScanConfig struct {
	ReputationAPIKey  string `toml:"reputation_api_key"`
	ReputationBaseURL string `toml:"reputation_base_url"`
	ClamAVHost        string `toml:"clamav_host"`
	ClamAVPort        int    `toml:"clamav_port"`
	TimeoutSeconds    int    `toml:"timeout_seconds"`
}

// Load reads and parses the TOML config file at path and applies default
// values for missing fields. A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Storage: StorageConfig{
			Region:    "us-east-1",
			URLExpiry: DefaultURLExpiry,
		},
		Upload: UploadConfig{
			MaxSizeBytes: DefaultMaxUploadBytes,
			StagingDir:   DefaultStagingDir,
			SessionTTL:   DefaultSessionTTL,
		},
		Scan: ScanConfig{
			ClamAVHost:     "localhost",
			ClamAVPort:     3310,
			TimeoutSeconds: 30,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			cfg.applyFallbacks()
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyFallbacks()
	return cfg, nil
}

func (c *Config) applyFallbacks() {
	if len(c.Upload.AllowedMimeTypes) == 0 {
		c.Upload.AllowedMimeTypes = append([]string(nil), DefaultAllowedMimeTypes...)
	}
	if c.Upload.MaxSizeBytes <= 0 {
		c.Upload.MaxSizeBytes = DefaultMaxUploadBytes
	}
	if strings.TrimSpace(c.Upload.StagingDir) == "" {
		c.Upload.StagingDir = DefaultStagingDir
	}
}
