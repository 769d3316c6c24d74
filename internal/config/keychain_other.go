//go:build !darwin

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "strokeinsight", "secrets.json")
}

// secretsFile maps service -> account -> secret.
type secretsFile map[string]map[string]string

func readSecrets() (secretsFile, error) {
	raw, err := os.ReadFile(secretsFilePath())
	if err != nil {
		return nil, err
	}
	var s secretsFile
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return s, nil
}

func (s secretsFile) write() error {
	p := secretsFilePath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return fmt.Errorf("creating secrets dir: %w", err)
	}
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, out, 0o600)
}

func keychainGet(service, account string) ([]byte, error) {
	s, err := readSecrets()
	if err != nil {
		return nil, fmt.Errorf("secret store not available: %w", err)
	}
	val, ok := s[service][account]
	if !ok {
		return nil, fmt.Errorf("no secret %q for service %q", account, service)
	}
	return []byte(val), nil
}

func keychainSet(service, account, value string) error {
	s, err := readSecrets()
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if s == nil {
		s = make(secretsFile)
	}
	if s[service] == nil {
		s[service] = make(map[string]string)
	}
	s[service][account] = value
	return s.write()
}

func keychainDelete(service, account string) error {
	s, err := readSecrets()
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if _, ok := s[service][account]; !ok {
		return nil
	}
	delete(s[service], account)
	return s.write()
}
