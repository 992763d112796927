// Package main provides the pspsim command line.
//
//	pspsim run program.elf
//	pspsim run --interp kernel.s
//	pspsim asm kernel.s -o kernel.bin
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/sarchlab/pspsim/config"
)

type globalFlags struct {
	configPath string
	verbosity  int
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:          "pspsim",
		Short:        "PSP CPU and graphics emulator core",
		SilenceUsage: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "config file (.json, .yaml or .yml)")
	root.PersistentFlags().IntVarP(&flags.verbosity, "verbose", "v", -1, "log verbosity; overrides log_level from the config")

	root.AddCommand(newRunCommand(&flags), newAsmCommand(&flags))
	return root
}

// loadConfig reads the config file named by the global flags, or the
// defaults when none is given.
func (f *globalFlags) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		var err error
		if cfg, err = config.Load(f.configPath); err != nil {
			return nil, err
		}
	}
	if f.verbosity >= 0 {
		cfg.LogLevel = f.verbosity
	}
	return cfg, cfg.Validate()
}

func newLogger(level int) logr.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(-level)})
	return logr.FromSlogHandler(handler)
}

func printf(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
