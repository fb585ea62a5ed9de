package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"inkstone/internal/enrich"
	"inkstone/internal/logging"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the media cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newCacheStatsCommand(ctx))
	cmd.AddCommand(newCachePurgeCommand(ctx))
	return cmd
}

func newCacheStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show media cache contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			media, err := buildMediaStore(cfg, logging.NewNop())
			if err != nil {
				return err
			}
			stats, err := media.Stats()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Audio", "Images", "Bytes"},
				[][]string{{
					strconv.Itoa(stats.AudioCount),
					strconv.Itoa(stats.ImageCount),
					strconv.FormatInt(stats.TotalBytes, 10),
				}}, 1, 2, 3))
			return nil
		},
	}
}

func newCachePurgeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "purge <character> [character...]",
		Short: "Delete cached media for characters",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			media, err := buildMediaStore(cfg, logging.NewNop())
			if err != nil {
				return err
			}
			for _, raw := range args {
				character, err := enrich.ValidateCharacter(raw)
				if err != nil {
					return fmt.Errorf("reject %q: %w", raw, err)
				}
				if err := media.PurgeCharacter(character); err != nil {
					return fmt.Errorf("purge %q: %w", character, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "purged media for %s\n", character)
			}
			return nil
		},
	}
}
