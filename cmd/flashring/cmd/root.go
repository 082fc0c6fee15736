/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ssargent/flashring/pkg/config"
)

type contextKey string

const flashKey contextKey = "flash"

// newRootCmd builds the command tree. Every command except init opens the
// device image before it runs; run closes it.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flashring",
		Short: "Flashring - circular logs on serial NOR flash",
		Long: `Flashring keeps accelerometer sample batches and a diagnostic event log in
two circular regions of an emulated serial NOR flash part.

The device image is a directory on disk. Commands open it, recover the read
and write cursors of both rings from its contents and close it again.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Logging, cmd.ErrOrStderr())

			faultRate, seed := 0.0, int64(0)
			if cmd.Flags().Lookup("fault-rate") != nil {
				faultRate, _ = cmd.Flags().GetFloat64("fault-rate")
				seed, _ = cmd.Flags().GetInt64("seed")
			}

			f, err := openFlash(cfg, logger, faultRate, seed)
			if err != nil {
				return errors.Wrap(err, "failed to open device")
			}
			for name, summary := range f.recovered {
				logger.Debug("recovered region", "region", name,
					"active", summary.Active, "oldest", summary.Oldest, "newest", summary.Newest)
			}
			// Store in command context
			cmd.SetContext(context.WithValue(cmd.Context(), flashKey, f))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to config file (default: OS-specific location)")
	rootCmd.PersistentFlags().StringP("device", "d", "", "Device image directory (overrides the config)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides the config)")

	rootCmd.AddCommand(
		newInitCmd(),
		newInfoCmd(),
		newReadCmd(),
		newEraseCmd(),
		newLogCmd(),
		newSimulateCmd(),
		newServeCmd(),
	)
	return rootCmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := run(newRootCmd()); err != nil {
		os.Exit(1)
	}
}

// run executes the command tree and closes the device the command opened,
// whether or not the command succeeded.
func run(rootCmd *cobra.Command) error {
	cmd, err := rootCmd.ExecuteC()
	if cmd == nil || cmd.Context() == nil {
		return err
	}
	if f, ok := cmd.Context().Value(flashKey).(*flash); ok {
		if closeErr := f.Close(); closeErr != nil {
			rootCmd.PrintErrln("Error:", closeErr)
			err = errors.CombineErrors(err, closeErr)
		}
	}
	return err
}

// loadConfig reads the config file when there is one, falling back to the
// defaults, and applies the flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	cfg := config.DefaultConfig()
	if config.ConfigExists(configPath) {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if device, _ := cmd.Flags().GetString("device"); device != "" {
		cfg.Device.Path = device
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flashFrom returns the device opened for cmd.
func flashFrom(cmd *cobra.Command) (*flash, error) {
	f, ok := cmd.Context().Value(flashKey).(*flash)
	if !ok {
		return nil, errors.New("device not found in context")
	}
	return f, nil
}
