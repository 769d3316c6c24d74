package config

// ConfigBackend is where persisted settings live: UserDefaults on macOS,
// a YAML file under XDG_CONFIG_HOME elsewhere. Getters report ok=false for
// unset keys.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	GetBool(key string) (val bool, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	SetBool(key string, val bool) error
	Delete(key string) error
}
