package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Storage StorageConfig
	Upload  UploadConfig
	Scoring ScoringConfig
	Auth    AuthConfig
	Archive ArchiveConfig
}

type ServerConfig struct {
	Port int
}

type LogConfig struct {
	Level string
}

type StorageConfig struct {
	DataDir string
}

type UploadConfig struct {
	// TempDir defaults to <data_dir>/uploads when empty.
	TempDir  string
	MaxBytes int
	// MaxUnzipBytes caps the decompressed size of an xlsx workbook.
	MaxUnzipBytes int
	// MaxXMLBytes is the largest xlsx part kept in memory; bigger worksheets
	// are spilled to disk while reading.
	MaxXMLBytes int
	StaleAfter  string
}

type ScoringConfig struct {
	// Runtimes is a comma-separated list of interpreter names, probed in order.
	Runtimes   string
	ScriptPath string
	ModelPath  string
	// SchemaPath overrides the embedded column schema when set.
	SchemaPath string
	Timeout    string
}

type AuthConfig struct {
	Username   string
	UserID     string
	Role       string
	SessionTTL string
}

type ArchiveConfig struct {
	Endpoint  string
	Bucket    string
	UseSSL    bool
	AccessKey string
	SecretKey string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Port: 4100,
		},
		Log: LogConfig{
			Level: "info",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Upload: UploadConfig{
			MaxBytes:      25 << 20,
			MaxUnzipBytes: 256 << 20,
			MaxXMLBytes:   16 << 20,
			StaleAfter:    "1h",
		},
		Scoring: ScoringConfig{
			Runtimes: "python3,python,py",
			Timeout:  "2m",
		},
		Auth: AuthConfig{
			Role:       "Doctor",
			SessionTTL: "12h",
		},
		Archive: ArchiveConfig{
			Bucket: "strokeinsight-runs",
			UseSSL: true,
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.strokeinsight.app) and
// archive credentials fall back to macOS Keychain.
// On Linux the backend is a YAML file at
// $XDG_CONFIG_HOME/strokeinsight/config.yaml and secrets live in
// $XDG_DATA_HOME/strokeinsight/secrets.json.
//
// Environment variables (STROKEINSIGHT_*) override backend values on all
// platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), keychainStore{})
}

// keychain abstracts secret storage for testing.
type keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

const keychainService = "strokeinsight"

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Archive credentials come from the secret store unless set in the env.
	if cfg.Archive.Endpoint != "" {
		if cfg.Archive.AccessKey == "" {
			if v, err := kc.Get(keychainService, "archive_access_key"); err == nil {
				cfg.Archive.AccessKey = v
			}
		}
		if cfg.Archive.SecretKey == "" {
			if v, err := kc.Get(keychainService, "archive_secret_key"); err == nil {
				cfg.Archive.SecretKey = v
			}
		}
		if cfg.Archive.AccessKey == "" || cfg.Archive.SecretKey == "" {
			return Config{}, fmt.Errorf("archive.endpoint is set but credentials are missing. " +
				"Set STROKEINSIGHT_ARCHIVE_ACCESS_KEY and STROKEINSIGHT_ARCHIVE_SECRET_KEY" + secretHint())
		}
	}

	for _, d := range []struct{ key, val string }{
		{"upload.stale_after", cfg.Upload.StaleAfter},
		{"scoring.timeout", cfg.Scoring.Timeout},
		{"auth.session_ttl", cfg.Auth.SessionTTL},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %w", d.key, err)
		}
	}

	// The janitor must never remove a dataset a scoring run is still reading.
	if stale, timeout := Duration(cfg.Upload.StaleAfter), Duration(cfg.Scoring.Timeout); stale <= timeout {
		return Config{}, fmt.Errorf("upload.stale_after (%s) must be longer than scoring.timeout (%s)",
			cfg.Upload.StaleAfter, cfg.Scoring.Timeout)
	}

	for _, n := range []struct {
		key string
		val int
	}{
		{"upload.max_bytes", cfg.Upload.MaxBytes},
		{"upload.max_unzip_bytes", cfg.Upload.MaxUnzipBytes},
		{"upload.max_xml_bytes", cfg.Upload.MaxXMLBytes},
	} {
		if n.val <= 0 {
			return Config{}, fmt.Errorf("%s must be positive, got %d", n.key, n.val)
		}
	}
	if cfg.Upload.MaxXMLBytes > cfg.Upload.MaxUnzipBytes {
		return Config{}, fmt.Errorf("upload.max_xml_bytes (%d) must not exceed upload.max_unzip_bytes (%d)",
			cfg.Upload.MaxXMLBytes, cfg.Upload.MaxUnzipBytes)
	}

	return cfg, nil
}

// RuntimeNames splits scoring.runtimes into interpreter names.
func (c ScoringConfig) RuntimeNames() []string {
	var names []string
	for _, n := range strings.Split(c.Runtimes, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Script returns the scoring script path, defaulting to the data dir.
func (c Config) Script() string {
	if c.Scoring.ScriptPath != "" {
		return c.Scoring.ScriptPath
	}
	return filepath.Join(c.Storage.DataDir, "model", "predict.py")
}

// Model returns the model artifact path, defaulting to the data dir.
func (c Config) Model() string {
	if c.Scoring.ModelPath != "" {
		return c.Scoring.ModelPath
	}
	return filepath.Join(c.Storage.DataDir, "model", "model.pkl")
}

// UploadDir returns where uploads are staged.
func (c Config) UploadDir() string {
	if c.Upload.TempDir != "" {
		return c.Upload.TempDir
	}
	return filepath.Join(c.Storage.DataDir, "uploads")
}

// Duration parses one of the duration-valued keys. Load has already
// validated them, so a zero value only comes from a hand-built Config.
func Duration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// keychainStore reads and writes the platform secret store.
type keychainStore struct{}

func (keychainStore) Get(service, account string) (string, error) {
	out, err := keychainGet(service, account)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

func (keychainStore) Set(service, account, value string) error {
	return keychainSet(service, account, value)
}

// SaveSessionToken stores the CLI's login token in the secret store.
func SaveSessionToken(token string) error {
	return keychainStore{}.Set(keychainService, "session_token", token)
}

// LoadSessionToken returns the CLI's stored login token.
func LoadSessionToken() (string, error) {
	tok, err := keychainStore{}.Get(keychainService, "session_token")
	if err != nil {
		return "", fmt.Errorf("not logged in (run `strokeinsight login`): %w", err)
	}
	if tok == "" {
		return "", fmt.Errorf("not logged in (run `strokeinsight login`)")
	}
	return tok, nil
}

// ClearSessionToken removes the stored login token. It is not an error if
// none is stored.
func ClearSessionToken() error {
	return keychainDelete(keychainService, "session_token")
}
