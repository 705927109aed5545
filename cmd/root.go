// Package cmd implements hapi-core's command-line surface: a cobra
// root command with one subcommand per service.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

const httpShutdownGrace = 5 * time.Second

// Version is set at build time via -ldflags "-X github.com/hapi-systems/hapi-core/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "hapi-core",
	Short: "hapi-core — search indexer and machine agent services",
	Long:  "hapi-core runs the two backend services behind the hub: a search indexer that syncs and indexes conversation history, and a machine agent that maintains the realtime socket connection and TCP tunnels for one machine.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (service-specific default if unset)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(machineCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hapi-core %s\n", Version)
		},
	}
}

func resolveConfigPath(envVar, def string) string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return def
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
