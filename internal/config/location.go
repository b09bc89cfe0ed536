package config

import (
	"os"
	"path/filepath"
)

// GetConfigPath returns the configuration file path: $MUESLI_CONFIG if set,
// otherwise ~/.muesli-bt/config.
func GetConfigPath() (string, error) {
	if configPath := os.Getenv("MUESLI_CONFIG"); configPath != "" {
		return configPath, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".muesli-bt", "config"), nil
}
