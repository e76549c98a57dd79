// Package config loads and saves the TOML application configuration file
// under the user's OS config directory. Grounded on the teacher's
// src/client/auth.go getConfigDir, which already resolves a per-OS
// config directory (XDG_CONFIG_HOME / AppData / Library/Application
// Support); this package reuses that resolution for a flashcat.toml
// settings file instead of an auth token, and reads/writes it with
// github.com/BurntSushi/toml, same as the rest of the pack.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

const appDirName = "flashcat"
const fileName = "flashcat.toml"

// Config holds the recognized flashcat.toml keys.
type Config struct {
	Route        string `toml:"route"`
	Locale       string `toml:"locale"`        // "en" | "zh"
	RelayAddress string `toml:"relay_address"`
	SavePath     string `toml:"save_path"`
	Theme        string `toml:"theme"`         // "light" | "dark" | "" (system)
	Bounds       string `toml:"bounds"`
}

// DefaultRelayAddress is used when neither the config file nor
// FLASH_CAT_RELAY names a relay.
const DefaultRelayAddress = "relay.flashcat.dev:443"

// Dir returns the OS-appropriate config directory for flashcat, creating
// it if necessary.
func Dir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, appDirName)
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", appDirName)
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config")
		}
		configDir = filepath.Join(configDir, appDirName)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", err
	}
	return configDir, nil
}

// Path returns the full path to flashcat.toml.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fileName), nil
}

// Load reads flashcat.toml, returning a zero-value Config (not an error)
// if the file does not yet exist.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to flashcat.toml, overwriting any existing file.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}

// ResolveRelayAddress applies the precedence order: explicit flag, then
// FLASH_CAT_RELAY, then the config file, then the built-in default.
// forced reports whether flagValue itself won: an explicit --relay flag
// means the caller wants that single relay and nothing else, whereas a
// value coming from the environment, the config file, or the built-in
// default is just the public relay to race against a LAN fast path.
func ResolveRelayAddress(flagValue string, cfg *Config) (addr string, forced bool) {
	if flagValue != "" {
		return flagValue, true
	}
	if env := os.Getenv("FLASH_CAT_RELAY"); env != "" {
		return env, false
	}
	if cfg != nil && cfg.RelayAddress != "" {
		return cfg.RelayAddress, false
	}
	return DefaultRelayAddress, false
}
