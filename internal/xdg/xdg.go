// Package xdg resolves base directories per the XDG Base Directory
// Specification.
package xdg

import (
	"os"
	"path/filepath"
)

type XDGDirs struct {
	configHome string
	cacheHome  string
	runtimeDir string
}

// NewXDGDirs reads the XDG environment variables and falls back to the
// XDG Base Directory defaults.
func NewXDGDirs() *XDGDirs {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = "/tmp"
		}
	}

	xdg := &XDGDirs{}

	xdg.configHome = os.Getenv("XDG_CONFIG_HOME")
	if xdg.configHome == "" {
		xdg.configHome = filepath.Join(homeDir, ".config")
	}

	xdg.cacheHome = os.Getenv("XDG_CACHE_HOME")
	if xdg.cacheHome == "" {
		xdg.cacheHome = filepath.Join(homeDir, ".cache")
	}

	// without XDG_RUNTIME_DIR a per-user directory under the temp dir is used
	xdg.runtimeDir = os.Getenv("XDG_RUNTIME_DIR")
	if xdg.runtimeDir == "" {
		xdg.runtimeDir = filepath.Join(os.TempDir(), "runner-runtime-"+os.Getenv("USER"))
	}

	return xdg
}

// AppConfigDir returns the application-specific config directory
func (x *XDGDirs) AppConfigDir(appName string) string {
	return filepath.Join(x.configHome, appName)
}

// AppCacheDir returns the application-specific cache directory
func (x *XDGDirs) AppCacheDir(appName string) string {
	return filepath.Join(x.cacheHome, appName)
}

// AppRuntimeDir returns the application-specific runtime directory
func (x *XDGDirs) AppRuntimeDir(appName string) string {
	return filepath.Join(x.runtimeDir, appName)
}
