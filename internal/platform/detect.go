package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const appName = "voxlate"

func DefaultDataDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if xdgDataHome != "" {
			return filepath.Join(xdgDataHome, appName), nil
		}
		return filepath.Join(homeDir, ".local", "share", appName), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}

func DefaultConfigPathFor(goos, homeDir, xdgConfigHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux":
		if xdgConfigHome != "" {
			return filepath.Join(xdgConfigHome, appName, "config.toml"), nil
		}
		return filepath.Join(homeDir, ".config", appName, "config.toml"), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appName, "config.toml"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}

func ResolveDataDir(override string) (string, error) {
	if override != "" {
		return filepath.Clean(override), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultDataDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"))
}

func ResolveConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultConfigPathFor(runtime.GOOS, homeDir, os.Getenv("XDG_CONFIG_HOME"))
}
