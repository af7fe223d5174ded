package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/workbook"
)

var exportCmd = &cobra.Command{
	Use:   "export [provider...]",
	Short: "Export stored records to an XLSX workbook",
	Long:  "Writes the stored record set of each provider to its own sheet of an XLSX workbook.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			return eris.New("--out is required")
		}

		env, err := initEnv(ctx, "export")
		if err != nil {
			return err
		}
		defer env.Close()

		providers := args
		if len(providers) == 0 {
			providers = env.Wiring.Registry.Names()
		}

		sets := make(map[string][]model.Record, len(providers))
		total := 0
		for _, p := range providers {
			if _, err := env.Wiring.Registry.Get(p); err != nil {
				return err
			}
			records, err := env.Store.ListAll(ctx, p)
			if err != nil {
				return eris.Wrapf(err, "export: list %s", p)
			}
			sets[p] = records
			total += len(records)
		}

		if err := workbook.Save(out, sets); err != nil {
			return err
		}
		zap.L().Info("export complete",
			zap.String("path", out),
			zap.Int("providers", len(sets)),
			zap.Int("records", total),
		)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("out", "", "output XLSX path")
	rootCmd.AddCommand(exportCmd)
}
