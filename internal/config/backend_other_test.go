//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	b := newPlatformBackend()
	if err := b.SetInt("server.port", 4200); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetBool("archive.use_ssl", false); err != nil {
		t.Fatalf("SetBool: %v", err)
	}
	if err := b.SetString("log.level", "debug"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	raw, err := os.ReadFile(configFilePath())
	if err != nil {
		t.Fatalf("reading config file: %v", err)
	}
	if !strings.Contains(string(raw), "server.port: 4200") {
		t.Errorf("config file missing port:\n%s", raw)
	}

	reloaded := newPlatformBackend()
	if v, ok, err := reloaded.GetInt("server.port"); err != nil || !ok || v != 4200 {
		t.Errorf("GetInt = %d, %v, %v", v, ok, err)
	}
	if v, ok, err := reloaded.GetBool("archive.use_ssl"); err != nil || !ok || v {
		t.Errorf("GetBool = %v, %v, %v", v, ok, err)
	}
	if v, ok, err := reloaded.GetString("log.level"); err != nil || !ok || v != "debug" {
		t.Errorf("GetString = %q, %v, %v", v, ok, err)
	}

	if err := reloaded.Delete("log.level"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newPlatformBackend().GetString("log.level"); ok {
		t.Error("log.level still set after Delete")
	}
}

func TestFileBackend_HandEditedValues(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	path := filepath.Join(dir, "strokeinsight", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	body := "server.port: \"4300\"\narchive.use_ssl: \"no\"\nupload.max_bytes: lots\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	b := newPlatformBackend()
	if v, _, err := b.GetInt("server.port"); err != nil || v != 4300 {
		t.Errorf("quoted port: %d, %v", v, err)
	}
	if _, _, err := b.GetBool("archive.use_ssl"); err == nil {
		t.Error("expected error for \"no\" as a boolean")
	}
	if _, ok, err := b.GetInt("upload.max_bytes"); !ok || err == nil {
		t.Errorf("non-numeric max_bytes: ok=%v err=%v", ok, err)
	}
}

func TestSecretsFile(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if _, err := keychainGet("strokeinsight", "session_token"); err == nil {
		t.Fatal("expected error before any secret is stored")
	}
	if err := keychainDelete("strokeinsight", "session_token"); err != nil {
		t.Fatalf("deleting from a missing file: %v", err)
	}

	if err := keychainSet("strokeinsight", "session_token", "tok-1"); err != nil {
		t.Fatalf("keychainSet: %v", err)
	}
	got, err := keychainGet("strokeinsight", "session_token")
	if err != nil || string(got) != "tok-1" {
		t.Fatalf("keychainGet = %q, %v", got, err)
	}

	info, err := os.Stat(secretsFilePath())
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}

	if err := ClearSessionToken(); err != nil {
		t.Fatalf("ClearSessionToken: %v", err)
	}
	if _, err := LoadSessionToken(); err == nil {
		t.Error("expected not-logged-in error after clearing the token")
	}
}
