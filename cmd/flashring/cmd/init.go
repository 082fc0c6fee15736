/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ssargent/flashring/pkg/blockdev"
	"github.com/ssargent/flashring/pkg/config"
)

// newInitCmd represents the init command
func newInitCmd() *cobra.Command {
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file and an erased device image",
		Long: `Create a configuration file with the default flash layout and an erased
device image to go with it.

This command will:
- Write the configuration file (default: OS-specific location)
- Create the device image directory, fully erased
- Optionally generate an API key guarding the maintenance routes of the server

Examples:
  flashring init
  flashring init --config ./flashring.yaml --device ./flash --generate-api-key`,
		// The device image does not exist yet, so skip opening it.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, _ := cmd.Flags().GetString("config")
			devicePath, _ := cmd.Flags().GetString("device")
			apiKey, _ := cmd.Flags().GetString("api-key")
			generate, _ := cmd.Flags().GetBool("generate-api-key")
			force, _ := cmd.Flags().GetBool("force")

			if configPath == "" {
				configPath = config.GetDefaultConfigPath()
			}
			if config.ConfigExists(configPath) && !force {
				cmd.Printf("Configuration already exists at %s. Use --force to overwrite.\n", configPath)
				return nil
			}

			cfg := config.DefaultConfig()
			if devicePath != "" {
				cfg.Device.Path = devicePath
			}
			if apiKey == "" && generate {
				var err error
				if apiKey, err = generateAPIKey(); err != nil {
					return err
				}
			}
			cfg.Server.APIKey = apiKey

			if err := cfg.Validate(); err != nil {
				return err
			}
			id, err := createImage(cfg)
			if err != nil {
				return err
			}
			if err := config.SaveConfig(cfg, configPath); err != nil {
				return err
			}

			cmd.Printf("✅ Configuration written to %s\n", configPath)
			cmd.Printf("Device image: %s (id %s)\n", cfg.Device.Path, id)
			cmd.Printf("Samples: %d pages at 0x%x\n", cfg.Regions.Samples.PageCount, cfg.Regions.Samples.BaseAddress)
			cmd.Printf("Events:  %d pages at 0x%x\n", cfg.Regions.Events.PageCount, cfg.Regions.Events.BaseAddress)
			if apiKey != "" {
				cmd.Printf("API key: %s\n", apiKey)
			}
			return nil
		},
	}

	initCmd.Flags().String("api-key", "", "API key guarding the maintenance routes of the server")
	initCmd.Flags().Bool("generate-api-key", false, "Generate an API key when --api-key is not given")
	initCmd.Flags().Bool("force", false, "Overwrite an existing configuration")
	return initCmd
}

// createImage opens the device image once, creating it erased when missing,
// and returns its id.
func createImage(cfg *config.Config) (string, error) {
	image, err := blockdev.OpenPebble(blockdev.PebbleConfig{
		Path:     cfg.Device.Path,
		Geometry: cfg.Device.Geometry(),
		Sync:     true,
	})
	if err != nil {
		return "", err
	}
	id := image.ID().String()
	return id, image.Close()
}

// generateAPIKey generates a secure random API key
func generateAPIKey() (string, error) {
	bytes := make([]byte, 32) // 256 bits
	if _, err := rand.Read(bytes); err != nil {
		return "", errors.Wrap(err, "failed to generate random API key")
	}
	return hex.EncodeToString(bytes), nil
}
