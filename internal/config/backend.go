package config

// ConfigBackend is where non-secret settings persist between runs: the
// user defaults domain on macOS, a YAML file under XDG_CONFIG_HOME
// elsewhere. Environment variables override whatever it holds.
type ConfigBackend interface {
	GetString(key string) (val string, ok bool, err error)
	GetInt(key string) (val int, ok bool, err error)
	SetString(key, val string) error
	SetInt(key string, val int) error
	// Delete removes key. A missing key is not an error.
	Delete(key string) error
}
