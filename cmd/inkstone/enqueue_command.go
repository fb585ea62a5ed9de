package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"inkstone/internal/enrich"
	"inkstone/internal/queue"
)

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	var (
		deckID   string
		meaning  string
		pinyin   string
		force    bool
		category string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <character> [character...]",
		Short: "Queue characters for enrichment",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedCategory, err := queue.ParseCategory(category)
			if err != nil {
				return err
			}
			return ctx.withQueueStore(func(store *queue.Store) error {
				for _, raw := range args {
					character, err := enrich.ValidateCharacter(raw)
					if err != nil {
						return fmt.Errorf("reject %q: %w", raw, err)
					}
					item, err := store.Enqueue(cmd.Context(), character, parsedCategory, queue.EnqueueOptions{
						DeckID:      deckID,
						MeaningHint: meaning,
						PinyinHint:  pinyin,
						ForceRegen:  force,
						RequestID:   uuid.NewString(),
					})
					if err != nil {
						return fmt.Errorf("enqueue %q: %w", character, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "queued %s as item %d (%s)\n",
						item.Character, item.ID, item.Status)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&deckID, "deck", "", "Deck identifier to attach the result to")
	cmd.Flags().StringVar(&meaning, "meaning", "", "Meaning hint passed to the interpreter")
	cmd.Flags().StringVar(&pinyin, "pinyin", "", "Pinyin override for the pronunciation")
	cmd.Flags().BoolVar(&force, "force", false, "Regenerate media even when cached assets exist")
	cmd.Flags().StringVar(&category, "category", string(queue.CategoryCardEnrichment), "Queue category")

	return cmd
}
