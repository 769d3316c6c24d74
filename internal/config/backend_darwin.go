//go:build darwin

package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const defaultsDomain = "com.strokeinsight.app"

func defaultDataDir() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, "Library", "Application Support", "strokeinsight")
	}
	return "strokeinsight-data"
}

func secretHint() string {
	return " or store them in macOS Keychain (service: strokeinsight, accounts: archive_access_key, archive_secret_key)"
}

// defaultsBackend reads and writes UserDefaults through the defaults CLI.
type defaultsBackend struct {
	domain string
}

func newPlatformBackend() ConfigBackend {
	return &defaultsBackend{domain: defaultsDomain}
}

func (b *defaultsBackend) run(args ...string) (string, error) {
	out, err := exec.Command("defaults", args...).CombinedOutput()
	return strings.TrimSpace(string(out)), err
}

func (b *defaultsBackend) read(key string) (string, bool, error) {
	s, err := b.run("read", b.domain, key)
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr) && exitErr.ExitCode() == 1:
		return "", false, nil
	case err != nil:
		return "", false, fmt.Errorf("reading default %s: %w (%s)", key, err, s)
	}
	return s, true, nil
}

func (b *defaultsBackend) write(key, typ, val string) error {
	if s, err := b.run("write", b.domain, key, typ, val); err != nil {
		return fmt.Errorf("writing default %s: %w (%s)", key, err, s)
	}
	return nil
}

func (b *defaultsBackend) GetString(key string) (string, bool, error) {
	return b.read(key)
}

func (b *defaultsBackend) GetInt(key string) (int, bool, error) {
	s, ok, err := b.read(key)
	if !ok || err != nil {
		return 0, ok, err
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 0, true, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return i, true, nil
}

// GetBool accepts the 1/0 that defaults prints for -bool values.
func (b *defaultsBackend) GetBool(key string) (bool, bool, error) {
	s, ok, err := b.read(key)
	if !ok || err != nil {
		return false, ok, err
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, true, fmt.Errorf("invalid boolean for %s: %w", key, err)
	}
	return v, true, nil
}

func (b *defaultsBackend) SetString(key, val string) error {
	return b.write(key, "-string", val)
}

func (b *defaultsBackend) SetInt(key string, val int) error {
	return b.write(key, "-int", strconv.Itoa(val))
}

func (b *defaultsBackend) SetBool(key string, val bool) error {
	return b.write(key, "-bool", strconv.FormatBool(val))
}

func (b *defaultsBackend) Delete(key string) error {
	if _, ok, err := b.read(key); !ok || err != nil {
		return err
	}
	if s, err := b.run("delete", b.domain, key); err != nil {
		return fmt.Errorf("deleting default %s: %w (%s)", key, err, s)
	}
	return nil
}
