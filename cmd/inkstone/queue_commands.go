package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"inkstone/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the work queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newQueueListCommand(ctx))
	cmd.AddCommand(newQueueStatusCommand(ctx))
	cmd.AddCommand(newQueueClearCommand(ctx))
	cmd.AddCommand(newQueueRetryCommand(ctx))
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var (
		category string
		statuses []string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedCategory, err := queue.ParseCategory(category)
			if err != nil {
				return err
			}
			parsedStatuses, err := parseStatusFlags(statuses)
			if err != nil {
				return err
			}
			return ctx.withQueueStore(func(store *queue.Store) error {
				items, err := store.List(cmd.Context(), parsedCategory, parsedStatuses, limit)
				if err != nil {
					return err
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "queue is empty")
					return nil
				}
				rows := make([][]string, 0, len(items))
				for _, item := range items {
					rows = append(rows, []string{
						strconv.FormatInt(item.ID, 10),
						item.Character,
						string(item.Status),
						fmt.Sprintf("%.0f%%", item.ProgressPercent),
						strconv.Itoa(item.Attempts),
						formatItemDetail(item),
						item.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Char", "Status", "Progress", "Attempts", "Detail", "Updated"},
					rows, 1, 4, 5))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", string(queue.CategoryCardEnrichment), "Queue category")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of items to show")

	return cmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue totals by status and category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueueStore(func(store *queue.Store) error {
				stats, err := store.Stats(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "total items: %d\n\n", stats.Total)
				fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, statusRows(stats.ByStatus), 2))
				fmt.Fprintln(out, renderTable([]string{"Category", "Count"}, categoryRows(stats.ByCategory), 2))
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var (
		category string
		statuses []string
		all      bool
	)

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove finished items from the queue",
		Long: `Removes items in terminal states. Items currently being processed are
never removed. Pass --status to target specific states, or --all to clear
completed, partially completed, and failed items at once.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedCategory, err := queue.ParseCategory(category)
			if err != nil {
				return err
			}
			var parsedStatuses []queue.Status
			if !all {
				parsedStatuses, err = parseStatusFlags(statuses)
				if err != nil {
					return err
				}
			}
			return ctx.withQueueStore(func(store *queue.Store) error {
				removed, err := store.Clear(cmd.Context(), parsedCategory, parsedStatuses)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d items\n", removed)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", string(queue.CategoryCardEnrichment), "Queue category")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only clear these statuses")
	cmd.Flags().BoolVar(&all, "all", false, "Clear every terminal status")

	return cmd
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:   "retry [item-id...]",
		Short: "Requeue failed items",
		Long: `Moves failed items back to pending. With item IDs, retries only those
items; without arguments, retries every failed item in the category.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withQueueStore(func(store *queue.Store) error {
				if len(args) > 0 {
					for _, arg := range args {
						id, err := strconv.ParseInt(arg, 10, 64)
						if err != nil {
							return fmt.Errorf("invalid item id %q", arg)
						}
						if err := store.RetryItem(cmd.Context(), id); err != nil {
							return err
						}
						fmt.Fprintf(cmd.OutOrStdout(), "requeued item %d\n", id)
					}
					return nil
				}
				parsedCategory, err := queue.ParseCategory(category)
				if err != nil {
					return err
				}
				requeued, err := store.RetryFailed(cmd.Context(), parsedCategory)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %d failed items\n", requeued)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&category, "category", string(queue.CategoryCardEnrichment), "Queue category")

	return cmd
}

func parseStatusFlags(raw []string) ([]queue.Status, error) {
	statuses := make([]queue.Status, 0, len(raw))
	for _, value := range raw {
		status, err := queue.ParseStatus(strings.TrimSpace(value))
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

func formatItemDetail(item *queue.Item) string {
	if item.ErrorMessage != "" {
		return truncate(item.ErrorMessage, 48)
	}
	if item.ProgressMessage != "" {
		return truncate(item.ProgressMessage, 48)
	}
	if item.Status == queue.StatusDelayed && item.NextAttemptAt != nil {
		return "retry " + item.NextAttemptAt.Local().Format(time.Kitchen)
	}
	return ""
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max-1]) + "…"
}

func statusRows(byStatus map[queue.Status]int) [][]string {
	keys := make([]string, 0, len(byStatus))
	for status := range byStatus {
		keys = append(keys, string(status))
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(byStatus[queue.Status(key)])})
	}
	return rows
}

func categoryRows(byCategory map[queue.Category]int) [][]string {
	keys := make([]string, 0, len(byCategory))
	for category := range byCategory {
		keys = append(keys, string(category))
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{key, strconv.Itoa(byCategory[queue.Category(key)])})
	}
	return rows
}
