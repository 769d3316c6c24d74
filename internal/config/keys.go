package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "STROKEINSIGHT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "log.level", typ: kString, env: "STROKEINSIGHT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "storage.data_dir", typ: kString, env: "STROKEINSIGHT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "upload.temp_dir", typ: kString, env: "STROKEINSIGHT_UPLOAD_TEMP_DIR",
		apply:   func(cfg *Config, v any) { cfg.Upload.TempDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Upload.TempDir },
	},
	{
		key: "upload.max_bytes", typ: kInt, env: "STROKEINSIGHT_UPLOAD_MAX_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Upload.MaxBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Upload.MaxBytes },
	},
	{
		key: "upload.max_unzip_bytes", typ: kInt, env: "STROKEINSIGHT_UPLOAD_MAX_UNZIP_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Upload.MaxUnzipBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Upload.MaxUnzipBytes },
	},
	{
		key: "upload.max_xml_bytes", typ: kInt, env: "STROKEINSIGHT_UPLOAD_MAX_XML_BYTES",
		apply:   func(cfg *Config, v any) { cfg.Upload.MaxXMLBytes = v.(int) },
		extract: func(cfg Config) any { return cfg.Upload.MaxXMLBytes },
	},
	{
		key: "upload.stale_after", typ: kString, env: "STROKEINSIGHT_UPLOAD_STALE_AFTER",
		apply:   func(cfg *Config, v any) { cfg.Upload.StaleAfter = v.(string) },
		extract: func(cfg Config) any { return cfg.Upload.StaleAfter },
	},
	{
		key: "scoring.runtimes", typ: kString, env: "STROKEINSIGHT_SCORING_RUNTIMES",
		apply:   func(cfg *Config, v any) { cfg.Scoring.Runtimes = v.(string) },
		extract: func(cfg Config) any { return cfg.Scoring.Runtimes },
	},
	{
		key: "scoring.script_path", typ: kString, env: "STROKEINSIGHT_SCORING_SCRIPT_PATH",
		apply:   func(cfg *Config, v any) { cfg.Scoring.ScriptPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Scoring.ScriptPath },
	},
	{
		key: "scoring.model_path", typ: kString, env: "STROKEINSIGHT_SCORING_MODEL_PATH",
		apply:   func(cfg *Config, v any) { cfg.Scoring.ModelPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Scoring.ModelPath },
	},
	{
		key: "scoring.schema_path", typ: kString, env: "STROKEINSIGHT_SCORING_SCHEMA_PATH",
		apply:   func(cfg *Config, v any) { cfg.Scoring.SchemaPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Scoring.SchemaPath },
	},
	{
		key: "scoring.timeout", typ: kString, env: "STROKEINSIGHT_SCORING_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Scoring.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Scoring.Timeout },
	},
	{
		key: "auth.username", typ: kString, env: "STROKEINSIGHT_AUTH_USERNAME",
		apply:   func(cfg *Config, v any) { cfg.Auth.Username = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Username },
	},
	{
		key: "auth.user_id", typ: kString, env: "STROKEINSIGHT_AUTH_USER_ID",
		apply:   func(cfg *Config, v any) { cfg.Auth.UserID = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.UserID },
	},
	{
		key: "auth.role", typ: kString, env: "STROKEINSIGHT_AUTH_ROLE",
		apply:   func(cfg *Config, v any) { cfg.Auth.Role = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.Role },
	},
	{
		key: "auth.session_ttl", typ: kString, env: "STROKEINSIGHT_AUTH_SESSION_TTL",
		apply:   func(cfg *Config, v any) { cfg.Auth.SessionTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.SessionTTL },
	},
	{
		key: "archive.endpoint", typ: kString, env: "STROKEINSIGHT_ARCHIVE_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Archive.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Endpoint },
	},
	{
		key: "archive.bucket", typ: kString, env: "STROKEINSIGHT_ARCHIVE_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Archive.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.Bucket },
	},
	{
		key: "archive.use_ssl", typ: kBool, env: "STROKEINSIGHT_ARCHIVE_USE_SSL",
		apply:   func(cfg *Config, v any) { cfg.Archive.UseSSL = v.(bool) },
		extract: func(cfg Config) any { return cfg.Archive.UseSSL },
	},
	{
		key: "archive.access_key", typ: kString, env: "STROKEINSIGHT_ARCHIVE_ACCESS_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Archive.AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.AccessKey },
	},
	{
		key: "archive.secret_key", typ: kString, env: "STROKEINSIGHT_ARCHIVE_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Archive.SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Archive.SecretKey },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetBool(s.key)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] %v. Using default value.\n", err)
				continue
			}
			if ok {
				s.apply(cfg, v)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
