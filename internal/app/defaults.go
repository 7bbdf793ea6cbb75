package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns the default locations used by `config init` and by
// every command that reads the config. Lookup order per location:
//
//	config_path: $CONNSYNC_CONFIG_PATH, $XDG_CONFIG_HOME/connsync.toml, ~/.config/connsync.toml
//	base_dir:    $CONNSYNC_HOME, $XDG_DATA_HOME/connsync, ~/.local/share/connsync
//
// log_dir and env_file live below base_dir.
func GetDefaults() (map[string]string, error) {
	configPath, err := lookupPath("CONNSYNC_CONFIG_PATH", "XDG_CONFIG_HOME", []string{".config"}, "connsync.toml")
	if err != nil {
		return nil, err
	}
	baseDir, err := lookupPath("CONNSYNC_HOME", "XDG_DATA_HOME", []string{".local", "share"}, "connsync")
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
		"env_file":    filepath.Join(baseDir, ".env"),
	}, nil
}

func lookupPath(override, xdg string, homeRel []string, name string) (string, error) {
	if path := os.Getenv(override); path != "" {
		return path, nil
	}
	if dir := os.Getenv(xdg); dir != "" && filepath.IsAbs(dir) {
		return filepath.Join(dir, name), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append(append([]string{homeDir}, homeRel...), name)...), nil
}
