package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Defaults are the locations drift uses before a config file exists.
type Defaults struct {
	ConfigPath string
	BaseDir    string
	LogDir     string
}

// GetDefaults resolves default locations. Each one can be overridden:
//   - config file: DRIFT_CONFIG_PATH, else $XDG_CONFIG_HOME/drift/drift.toml, else ~/.config/drift/drift.toml
//   - data directory: DRIFT_HOME, else $XDG_DATA_HOME/drift, else ~/.local/share/drift
//   - logs: DRIFT_LOG_DIR, else <data directory>/log
func GetDefaults() (Defaults, error) {
	configPath, err := envOrXDG("DRIFT_CONFIG_PATH", "XDG_CONFIG_HOME", ".config", filepath.Join("drift", "drift.toml"))
	if err != nil {
		return Defaults{}, err
	}
	baseDir, err := envOrXDG("DRIFT_HOME", "XDG_DATA_HOME", filepath.Join(".local", "share"), "drift")
	if err != nil {
		return Defaults{}, err
	}

	logDir := os.Getenv("DRIFT_LOG_DIR")
	if logDir == "" {
		logDir = filepath.Join(baseDir, "log")
	}
	return Defaults{ConfigPath: configPath, BaseDir: baseDir, LogDir: logDir}, nil
}

// envOrXDG returns $override if set, else $xdgVar/rel, else ~/homeRel/rel.
func envOrXDG(override, xdgVar, homeRel, rel string) (string, error) {
	if path := os.Getenv(override); path != "" {
		return path, nil
	}
	if dir := os.Getenv(xdgVar); dir != "" {
		return filepath.Join(dir, rel), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, homeRel, rel), nil
}
