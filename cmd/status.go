package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/provsync"
	"github.com/pharmalink/provider-sync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status [provider]",
	Short: "Show watermarks and sync history",
	Long:  "Displays the stored record count and watermark of every provider, followed by the fleet run history when the store is Postgres.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "status")
		if err != nil {
			return err
		}
		defer env.Close()

		provider := ""
		if len(args) == 1 {
			provider = args[0]
		}
		providers := env.Wiring.Registry.Names()
		if provider != "" {
			if _, err := env.Wiring.Registry.Get(provider); err != nil {
				return err
			}
			providers = []string{provider}
		}

		marks, err := collectWatermarks(ctx, env.Store, providers)
		if err != nil {
			return err
		}
		formatWatermarks(os.Stdout, marks)

		if env.Runs == nil {
			zap.L().Info("run history is only kept in the postgres store")
			return nil
		}

		limit, _ := cmd.Flags().GetInt("limit")
		entries, err := env.Runs.List(ctx, provider, limit)
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if len(entries) == 0 {
			zap.L().Info("no sync runs found, run 'sync' to start syncing providers")
			return nil
		}

		_, _ = fmt.Fprintln(os.Stdout)
		formatRuns(os.Stdout, entries)
		return nil
	},
}

func init() {
	statusCmd.Flags().Int("limit", 20, "number of runs to show")
	rootCmd.AddCommand(statusCmd)
}

// watermark is the stored state of one provider.
type watermark struct {
	Provider string
	Records  int
	Latest   *time.Time
}

func collectWatermarks(ctx context.Context, rs store.RecordStore, providers []string) ([]watermark, error) {
	out := make([]watermark, 0, len(providers))
	for _, p := range providers {
		records, err := rs.ListAll(ctx, p)
		if err != nil {
			return nil, eris.Wrapf(err, "status: list %s", p)
		}
		m := watermark{Provider: p, Records: len(records)}
		if latest, ok := model.Latest(records); ok {
			m.Latest = &latest
		}
		out = append(out, m)
	}
	return out, nil
}

// formatWatermarks writes one line per provider to w.
func formatWatermarks(out io.Writer, marks []watermark) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tRECORDS\tWATERMARK")
	_, _ = fmt.Fprintln(w, "--------\t-------\t---------")
	for _, m := range marks {
		latest := "-"
		if m.Latest != nil {
			latest = m.Latest.UTC().Format(model.RecordTimeLayout)
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\n", m.Provider, m.Records, latest)
	}
	_ = w.Flush()
}

// formatRuns writes a tabular representation of fleet runs to w.
func formatRuns(out io.Writer, entries []provsync.RunEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROVIDER\tMODE\tSTATUS\tSTARTED\tDURATION\tBRANCHES\tRECORDS\tSKIPPED\tERROR")
	_, _ = fmt.Fprintln(w, "--\t--------\t----\t------\t-------\t--------\t--------\t-------\t-------\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			shortID(e.ID),
			e.Provider,
			e.Mode,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.Branches,
			e.Records,
			len(e.Skipped),
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
