// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

// Package xdg resolves FreshKV's XDG Base Directory paths.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "freshkv"

// ConfigDir returns $XDG_CONFIG_HOME/freshkv, falling back to
// ~/.config/freshkv.
func ConfigDir() (string, error) {
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", oops.Code("XDG_NO_HOME").Wrap(err)
	}
	return filepath.Join(home, ".config", appName), nil
}

// DefaultConfigFile is the config file read when --config is not given.
func DefaultConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}
