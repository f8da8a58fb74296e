// Package cmd provides the CLI commands for the Mintoons quota service.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GanaRepository/mintoons-sub000/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mintoons-quota",
	Short: "Mintoons quota service - shared rate and cost limiting",
	Long: `mintoons-quota is the shared quota enforcement service for the Mintoons
story platform. It tracks per-user, per-role, and per-client request and
AI cost counters in a shared store so every API process enforces the
same limits.

Quick start:
  1. Create a config file: mintoons-quota.yaml
  2. Run: mintoons-quota serve

Configuration:
  Config is loaded from mintoons-quota.yaml in the current directory,
  $HOME/.mintoons-quota/, or /etc/mintoons-quota/.

  Environment variables can override config values with the MINTOONS_QUOTA_
  prefix. Example: MINTOONS_QUOTA_SERVER_LISTEN_ADDR=:9090

Commands:
  serve       Start the quota service
  hash-key    Generate an argon2id hash for the admin key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mintoons-quota.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
