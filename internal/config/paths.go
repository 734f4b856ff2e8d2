package config

import (
	"os"
	"path/filepath"
)

// FactotumPath returns the root directory for Factotum data.
// It uses $FACTOTUM_PATH if set, otherwise defaults to ~/.factotum.
func FactotumPath() string {
	if v := os.Getenv("FACTOTUM_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".factotum")
	}
	return filepath.Join(home, ".factotum")
}

// ConfigPath returns the path to the Factotum config file.
func ConfigPath() string {
	return filepath.Join(FactotumPath(), "config.jsonc")
}

// DotenvPath returns the path to the Factotum .env file.
func DotenvPath() string {
	return filepath.Join(FactotumPath(), ".env")
}
