package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"inkstone/internal/enrich"
	"inkstone/internal/queue"
)

func newImportCommand(ctx *commandContext) *cobra.Command {
	var (
		deckID string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Bulk-import characters from a file",
		Long: `Reads one character per line and queues each for enrichment under the
bulk_import category. Blank lines and lines starting with # are skipped;
lines that are not Han characters are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer file.Close()

			// One request ID covers the whole batch so operators can trace it.
			requestID := uuid.NewString()
			var queued, skipped int

			err = ctx.withQueueStore(func(store *queue.Store) error {
				scanner := bufio.NewScanner(file)
				line := 0
				for scanner.Scan() {
					line++
					raw := strings.TrimSpace(scanner.Text())
					if raw == "" || strings.HasPrefix(raw, "#") {
						continue
					}
					character, err := enrich.ValidateCharacter(raw)
					if err != nil {
						fmt.Fprintf(cmd.OutOrStdout(), "line %d: skipping %q: not a Han character\n", line, raw)
						skipped++
						continue
					}
					if _, err := store.Enqueue(cmd.Context(), character, queue.CategoryBulkImport, queue.EnqueueOptions{
						DeckID:     deckID,
						ForceRegen: force,
						RequestID:  requestID,
					}); err != nil {
						return fmt.Errorf("line %d: enqueue %q: %w", line, character, err)
					}
					queued++
				}
				return scanner.Err()
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "queued %d characters (%d skipped), request %s\n",
				queued, skipped, requestID)
			return nil
		},
	}

	cmd.Flags().StringVar(&deckID, "deck", "", "Deck identifier to attach results to")
	cmd.Flags().BoolVar(&force, "force", false, "Regenerate media even when cached assets exist")

	return cmd
}
