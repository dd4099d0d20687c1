package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kursadbilgin/sms-dispatch/internal/config"
	"github.com/kursadbilgin/sms-dispatch/internal/domain"
	"github.com/spf13/cobra"
)

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Upsert providers from a TOML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(func(cmd *cobra.Command, args []string, b *backend) error {
			seeds, err := config.LoadProviderSeed(args[0])
			if err != nil {
				return err
			}
			written, err := b.admin.Seed(cmd.Context(), seeds)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d provider(s) from %s\n", written, args[0])
			return nil
		}),
	}
}

func newProvidersCmd() *cobra.Command {
	providers := &cobra.Command{
		Use:   "providers",
		Short: "Inspect configured SMS providers",
	}

	providers.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every configured provider",
		Args:  cobra.NoArgs,
		RunE: withBackend(func(cmd *cobra.Command, args []string, b *backend) error {
			configs, err := b.admin.List(cmd.Context())
			if err != nil {
				return err
			}
			return printProviders(cmd.OutOrStdout(), configs)
		}),
	})

	providers.AddCommand(&cobra.Command{
		Use:   "test <slug>",
		Short: "Run a live health check against a provider",
		Args:  cobra.ExactArgs(1),
		RunE: withBackend(func(cmd *cobra.Command, args []string, b *backend) error {
			slug := strings.ToLower(strings.TrimSpace(args[0]))
			healthy, message, err := b.manager.TestProvider(cmd.Context(), slug)
			if err != nil {
				return err
			}
			if !healthy {
				return fmt.Errorf("provider %s is unhealthy: %s", slug, message)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Provider %s is healthy: %s\n", slug, message)
			return nil
		}),
	})

	return providers
}

func newStatsCmd() *cobra.Command {
	var (
		providerSlug string
		since        string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show delivery statistics per provider and status",
		Args:  cobra.NoArgs,
		RunE: withBackend(func(cmd *cobra.Command, args []string, b *backend) error {
			filter := domain.StatsFilter{Provider: strings.ToLower(strings.TrimSpace(providerSlug))}
			if since != "" {
				from, err := parseSince(since, time.Now())
				if err != nil {
					return err
				}
				filter.From = &from
			}

			stats, err := b.logs.Statistics(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), stats)
		}),
	}

	cmd.Flags().StringVar(&providerSlug, "provider", "", "Only include this provider slug")
	cmd.Flags().StringVar(&since, "since", "", "Start of the range: a duration such as 24h or an RFC3339 time")
	return cmd
}

func newPurgeCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete delivery log rows past their retention",
		Args:  cobra.NoArgs,
		RunE: withBackend(func(cmd *cobra.Command, args []string, b *backend) error {
			deleted, err := b.logs.Purge(cmd.Context(), batchSize)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired delivery log row(s)\n", deleted)
			return nil
		}),
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Rows deleted per statement (default 500)")
	return cmd
}

// parseSince accepts either a look-back duration or an absolute RFC3339 time.
func parseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		if d <= 0 {
			return time.Time{}, fmt.Errorf("--since duration must be positive, got %s", value)
		}
		return now.Add(-d).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since must be a duration or RFC3339 time, got %q", value)
	}
	return t.UTC(), nil
}

func printProviders(w io.Writer, configs []domain.ProviderConfig) error {
	if len(configs) == 0 {
		_, err := fmt.Fprintln(w, "No providers configured.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SLUG\tNAME\tTYPE\tACTIVE\tDEFAULT\tPRIORITY\tCREDENTIALS")
	for _, cfg := range configs {
		creds := "missing"
		if cfg.Credentials != "" {
			creds = "set"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%d\t%s\n",
			cfg.Slug, cfg.Name, cfg.AdapterType, cfg.IsActive, cfg.IsDefault, cfg.Priority, creds)
	}
	return tw.Flush()
}

func printStats(w io.Writer, stats []domain.DeliveryStats) error {
	if len(stats) == 0 {
		_, err := fmt.Fprintln(w, "No deliveries in range.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROVIDER\tSTATUS\tCOUNT\tCOST\tAVG LATENCY")
	for _, s := range stats {
		latency := "-"
		if s.AvgLatencySeconds != nil {
			latency = (time.Duration(*s.AvgLatencySeconds * float64(time.Second))).Round(time.Millisecond).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.4f\t%s\n", s.Provider, s.Status, s.Count, s.TotalCost, latency)
	}
	return tw.Flush()
}
