// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FreshKV Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/freshkv/freshkv/internal/config"
	"github.com/freshkv/freshkv/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the FreshKV CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "freshkv",
		Short: "FreshKV - accounts, sessions and chat on a key-value store",
		Long: `FreshKV serves user registration, login sessions, a chat ledger and a
small person resource over HTTP. All state lives in a transactional
key-value store backed by memory, PostgreSQL or Redis.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default $XDG_CONFIG_HOME/freshkv/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

// loadConfig reads the --config file, or the default XDG file when it
// exists, layered under the command's flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if configFile != "" {
		return config.Load(configFile, true, cmd.Flags())
	}
	path, err := xdg.DefaultConfigFile()
	if err != nil {
		// Without a home directory there is no default file to read.
		path = ""
	}
	return config.Load(path, false, cmd.Flags())
}
