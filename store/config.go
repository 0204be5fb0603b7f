package store

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Setting names read by ConfigFromSettings and LoadConfig.
const (
	SettingUser     = "COUCH_USER"
	SettingPassword = "COUCH_PWD"
	SettingDatabase = "COUCH_DB"
	SettingURL      = "COUCH_URL"
	SettingTimeout  = "COUCH_TIMEOUT"
)

// DefaultURL is used when Config.URL is empty.
const DefaultURL = "http://127.0.0.1:5984"

// DefaultTimeout bounds every backend call when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config holds configuration for the Store.
type Config struct {
	// User is the username for basic authentication. Empty means anonymous.
	User string

	// Password pairs with User.
	Password string

	// Database is the database (or table) holding the documents. Required.
	Database string

	// URL is the base URL of the document store.
	// Default: "http://127.0.0.1:5984"
	URL string

	// Timeout is the deadline applied to each operation.
	// Default: 30s
	Timeout time.Duration
}

// DefaultConfig returns defaults for a local, anonymous CouchDB.
func DefaultConfig() Config {
	return Config{
		URL:     DefaultURL,
		Timeout: DefaultTimeout,
	}
}

// validate fills defaults and rejects missing or malformed values.
func (c *Config) validate() error {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Database == "" {
		return configurationError("database")
	}
	if c.User != "" && c.Password == "" {
		return configurationError("password")
	}
	if c.User == "" && c.Password != "" {
		return configurationError("user")
	}
	u, err := url.Parse(c.URL)
	if err != nil || !u.IsAbs() {
		return configurationError("url")
	}
	return nil
}

// ConfigFromSettings builds a Config from host application settings
// keyed by COUCH_USER, COUCH_PWD, COUCH_DB, COUCH_URL and COUCH_TIMEOUT.
func ConfigFromSettings(settings map[string]string) (Config, error) {
	cfg := DefaultConfig()
	cfg.User = settings[SettingUser]
	cfg.Password = settings[SettingPassword]
	cfg.Database = settings[SettingDatabase]
	if v := settings[SettingURL]; v != "" {
		cfg.URL = v
	}
	if v := settings[SettingTimeout]; v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, configurationError("timeout")
		}
		cfg.Timeout = d
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads settings from the given dotenv files, skipping files
// that do not exist, then overlays the process environment.
func LoadConfig(files ...string) (Config, error) {
	settings := make(map[string]string)
	for _, file := range files {
		values, err := godotenv.Read(file)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return Config{}, configurationError(file)
		}
		for k, v := range values {
			settings[k] = v
		}
	}
	for _, key := range []string{SettingUser, SettingPassword, SettingDatabase, SettingURL, SettingTimeout} {
		if v, ok := os.LookupEnv(key); ok {
			settings[key] = v
		}
	}
	return ConfigFromSettings(settings)
}
