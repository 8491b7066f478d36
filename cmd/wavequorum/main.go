// Package main is the entry point for the wavequorum engine.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

// errTasksFailed marks a completed run with at least one failed task.
var errTasksFailed = errors.New("one or more tasks failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		if !errors.Is(err, errTasksFailed) {
			fatal(err.Error())
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "wavequorum",
		Short: "Run task graphs in atomic waves with multi-worker consensus",
		Long: `wavequorum executes a dependency graph of tasks in waves. Every task is
answered by independent workers until one normalized answer leads by k votes,
and each wave is committed or rolled back as a whole against a snapshot of
the workspace.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(fmt.Sprintf("wavequorum %s (commit=%s, built=%s)\n", version, commit, date))
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration YAML file")

	root.AddCommand(newRunCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newSnapshotsCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wavequorum %s (commit=%s, built=%s)\n", version, commit, date)
		},
	}
}

// notifyContext is cancelled on SIGINT or SIGTERM.
func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// resolveConfigPath applies --config > WQ_CONFIG > config.yaml next to the
// executable > config.yaml in the cwd. An empty result means environment only.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if p := os.Getenv("WQ_CONFIG"); p != "" {
		return p
	}
	return discoverConfig()
}

// discoverConfig looks for config.yaml next to the executable, then in the cwd.
func discoverConfig() string {
	if exe, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(exe), "config.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

// fatal prints an error and, on Windows, waits for a keypress so the user can
// read the message when the exe is launched by double-click.
func fatal(msg string) {
	fmt.Fprintf(os.Stderr, "ERROR: %s\n", msg)
	if runtime.GOOS == "windows" {
		fmt.Fprintln(os.Stderr, "\nPress Enter to exit...")
		bufio.NewReader(os.Stdin).ReadBytes('\n')
	}
	os.Exit(1)
}
