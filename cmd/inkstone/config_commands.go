package main

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"inkstone/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newConfigInitCommand(ctx))
	cmd.AddCommand(newConfigShowCommand(ctx))
	cmd.AddCommand(newConfigPathCommand(ctx))
	return cmd
}

func newConfigInitCommand(ctx *commandContext) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, exists, err := ctx.configPath()
			if err != nil {
				return err
			}
			if exists && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote sample config to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			shown := *cfg
			shown.Providers.Text.Primary.APIKey = redact(shown.Providers.Text.Primary.APIKey)
			shown.Providers.Text.Secondary.APIKey = redact(shown.Providers.Text.Secondary.APIKey)
			shown.Providers.Speech.APIKey = redact(shown.Providers.Speech.APIKey)
			shown.Providers.Image.APIKey = redact(shown.Providers.Image.APIKey)
			shown.Providers.Vision.APIKey = redact(shown.Providers.Vision.APIKey)

			encoded, err := toml.Marshal(shown)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			cmd.OutOrStdout().Write(encoded)
			return nil
		},
	}
}

func newConfigPathCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "path",
		Short:       "Print the resolved configuration file path",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, exists, err := ctx.configPath()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (exists: %s)\n", path, yesNo(exists))
			return nil
		},
	}
}

func redact(value string) string {
	if value == "" {
		return ""
	}
	return "<redacted>"
}
