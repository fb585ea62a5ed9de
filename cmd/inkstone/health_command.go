package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"inkstone/internal/api"
	"inkstone/internal/cards"
	"inkstone/internal/queue"
	"inkstone/internal/services/llm"
	"inkstone/internal/services/speech"
)

const (
	ansiReset  = "\x1b[0m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	var checkProviders bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report pipeline health",
		Long: `Summarizes queue state and recent outcomes. Health is judged from the
failure rate of finished items; run this against a live daemon's queue
database to see whether the pipeline is keeping up. With --providers the
configured AI providers are probed with minimal requests.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			err := ctx.withQueueStore(func(store *queue.Store) error {
				report, err := api.BuildStatusReport(cmd.Context(), store, nil)
				if err != nil {
					return err
				}
				renderStatusReport(cmd.OutOrStdout(), report)
				return nil
			})
			if err != nil {
				return err
			}
			if err := renderUnvalidatedImages(cmd, ctx); err != nil {
				return err
			}
			if checkProviders {
				return renderProviderChecks(cmd, ctx)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&checkProviders, "providers", false, "Probe configured AI providers")

	return cmd
}

// renderUnvalidatedImages surfaces images accepted without validation so an
// operator can target them with a forced regeneration.
func renderUnvalidatedImages(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	cardsPath := filepath.Join(cfg.Paths.DataDir, "cards.db")
	if _, err := os.Stat(cardsPath); err != nil {
		return nil
	}
	store, err := cards.Open(cardsPath)
	if err != nil {
		return err
	}
	defer store.Close()
	count, err := store.CountUnvalidatedImages(cmd.Context())
	if err != nil {
		return err
	}
	if count > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "unvalidated images: %d\n", count)
	}
	return nil
}

func renderProviderChecks(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	type probe struct {
		name  string
		check func() error
	}
	var probes []probe

	providers, _ := buildTextChain(cfg)
	for _, provider := range providers {
		client, ok := provider.Client.(*llm.Client)
		if !ok {
			continue
		}
		name := "text/" + provider.Name
		probes = append(probes, probe{name, func() error {
			return client.HealthCheck(cmd.Context())
		}})
	}
	if cfg.Providers.Speech.APIKey != "" {
		client := speech.NewClient(speech.Config{
			APIKey:         cfg.Providers.Speech.APIKey,
			BaseURL:        cfg.Providers.Speech.BaseURL,
			Model:          cfg.Providers.Speech.Model,
			Voice:          cfg.Providers.Speech.Voice,
			TimeoutSeconds: cfg.Providers.Speech.TimeoutSeconds,
		})
		probes = append(probes, probe{"speech/" + client.Name(), func() error {
			return client.HealthCheck(cmd.Context())
		}})
	}
	if cfg.Providers.Vision.Enabled && cfg.Providers.Vision.APIKey != "" {
		client := llm.NewClient(llm.Config{
			APIKey:         cfg.Providers.Vision.APIKey,
			BaseURL:        cfg.Providers.Vision.BaseURL,
			Model:          cfg.Providers.Vision.Model,
			TimeoutSeconds: cfg.Providers.Vision.TimeoutSeconds,
		})
		probes = append(probes, probe{"vision/" + cfg.Providers.Vision.Model, func() error {
			return client.HealthCheck(cmd.Context())
		}})
	}

	if len(probes) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no providers configured with API keys; nothing to probe")
		return nil
	}

	rows := make([][]string, 0, len(probes))
	for _, p := range probes {
		status := "ok"
		if err := p.check(); err != nil {
			status = "error: " + err.Error()
		}
		rows = append(rows, []string{p.name, status})
	}
	// The image provider has no inexpensive probe; generation is exercised
	// by real jobs only.
	rows = append(rows, []string{"image/" + cfg.Providers.Image.Model, "not probed"})
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Provider", "Status"}, rows))
	return nil
}

func renderStatusReport(out io.Writer, report *api.StatusReport) {
	colorize := shouldColorize(out)
	health := string(report.Health)
	if colorize {
		health = healthColor(report.Health) + health + ansiReset
	}
	fmt.Fprintf(out, "health: %s\n", health)
	if report.Detail != "" {
		fmt.Fprintf(out, "detail: %s\n", report.Detail)
	}

	fmt.Fprintln(out, renderTable(
		[]string{"Waiting", "Active", "Delayed", "Completed", "Partial", "Failed", "Total"},
		[][]string{{
			strconv.Itoa(report.Queue.Waiting),
			strconv.Itoa(report.Queue.Active),
			strconv.Itoa(report.Queue.Delayed),
			strconv.Itoa(report.Queue.Completed),
			strconv.Itoa(report.Queue.Partial),
			strconv.Itoa(report.Queue.Failed),
			strconv.Itoa(report.Queue.Total),
		}}, 1, 2, 3, 4, 5, 6, 7))

	if len(report.Workers) > 0 {
		rows := make([][]string, 0, len(report.Workers))
		for _, pool := range report.Workers {
			rows = append(rows, []string{
				pool.Category,
				strconv.Itoa(pool.Workers),
				strconv.Itoa(pool.Busy),
				strconv.FormatInt(pool.Processed, 10),
				strconv.FormatInt(pool.Failed, 10),
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"Category", "Workers", "Busy", "Processed", "Failed"}, rows, 2, 3, 4, 5))
	}
}

func healthColor(state api.HealthState) string {
	switch state {
	case api.HealthHealthy:
		return ansiGreen
	case api.HealthDegraded:
		return ansiYellow
	default:
		return ansiRed
	}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
