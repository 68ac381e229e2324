package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultWarnSize is the serialized container size above which export warns.
const DefaultWarnSize int64 = 10 << 20

// Config is the portab configuration file.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Vaults     []VaultConfig    `toml:"vaults"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Envelope   EnvelopeConfig   `toml:"envelope"`
	Export     ExportConfig     `toml:"export"`
	Archive    ArchiveConfig    `toml:"archive"`
}

// EncryptionConfig selects how archived blobs are protected at rest.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default), "test" or "none"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// EnvelopeConfig tunes password sealing of .sportab files.
type EnvelopeConfig struct {
	Algorithm     string `toml:"algorithm"`                // "AES-GCM" (default) or "ChaCha20-Poly1305"
	KDFIterations int    `toml:"kdf_iterations,omitempty"` // zero means the format default
}

// ExportConfig holds defaults for building containers.
type ExportConfig struct {
	Application string `toml:"application"`
	WarnSize    int64  `toml:"warn_size"` // bytes; zero disables the warning
	PrivacyMode bool   `toml:"privacy_mode"`
	SecureMode  bool   `toml:"secure_mode"`
	Compact     bool   `toml:"compact"` // write single-line JSON instead of indented
}

// ArchiveConfig controls `archive push` over directories.
type ArchiveConfig struct {
	// Ignore holds .portabignore-style patterns applied to every directory
	// pushed, in addition to the directory's own .portabignore.
	Ignore []string `toml:"ignore,omitempty"`
}

// VaultConfig describes one archive backend.
// Type selects which of the remaining fields apply.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "filesystem", "s3" or "redis"
	Name string `toml:"name"`

	// type = "s3"
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
	// S3Endpoint points at an S3-compatible service (MinIO, R2) and
	// switches to path-style addressing.
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`

	// type = "filesystem"
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`

	// type = "redis"
	RedisAddr   string `toml:"redis_addr,omitempty"`
	RedisDB     int    `toml:"redis_db,omitempty"`
	RedisPrefix string `toml:"redis_prefix,omitempty"`
}

// DatabaseConfig describes the archive catalog.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // type = "sqlite"
}

// NewConfig returns a Config for a fresh install rooted at baseDir.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Vaults: []VaultConfig{
			{Type: "filesystem", Name: "local", FSVaultRoot: filepath.Join(baseDir, "vault")},
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "portab.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "portab.key"),
		},
		Database: DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
		Envelope: EnvelopeConfig{Algorithm: "AES-GCM"},
		Export: ExportConfig{
			Application: "portab",
			WarnSize:    DefaultWarnSize,
		},
		Archive: ArchiveConfig{Ignore: []string{".git/", "*.tmp"}},
	}
}

// Manager reads and writes configuration.
type Manager struct{}

// Read decodes a Config. Keys the Config does not know are an error, so a
// misspelled option is caught rather than silently ignored.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q", undecoded[0].String())
	}
	return &cfg, nil
}

// Write encodes a Config.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return nil
}

// ReadFromFile reads the Config at path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to replace an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
