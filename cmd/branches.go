package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pharmalink/provider-sync/internal/model"
	"github.com/pharmalink/provider-sync/internal/store"
	"github.com/pharmalink/provider-sync/internal/workbook"
)

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "Manage the branch credential directory",
}

var branchesListCmd = &cobra.Command{
	Use:   "list <provider>",
	Short: "List branches enabled for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initEnv(ctx, "branches")
		if err != nil {
			return err
		}
		defer env.Close()

		branches, err := env.Store.ListEnabledBranches(ctx, args[0], 0)
		if err != nil {
			return err
		}
		for _, b := range branches {
			_, _ = fmt.Fprintln(os.Stdout, b)
		}
		return nil
	},
}

var branchesSetCmd = &cobra.Command{
	Use:     "set <branch> column=value...",
	Short:   "Upsert columns of a branch's credentials row",
	Example: "  provider-sync branches set SA1 monroe_cuenta=1001 monroe_software_key=key monroe_ecommerce_key=secret",
	Args:    cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fields, err := parseAssignments(args[1:])
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, "branches")
		if err != nil {
			return err
		}
		defer env.Close()

		branch := model.NormalizeBranchCode(args[0])
		if err := env.Store.PutBranch(ctx, branch, fields); err != nil {
			return err
		}
		zap.L().Info("branch updated", zap.String("branch", branch), zap.Strings("columns", sortedFieldNames(fields)))
		return nil
	},
}

var branchesImportCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Import branch credential rows from an XLSX sheet",
	Long:  "Reads a sheet whose header row names credential columns, one branch per row keyed by " + store.BranchColumn + ", and upserts every row.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sheetIdx, _ := cmd.Flags().GetInt("sheet")
		sheetName, _ := cmd.Flags().GetString("sheet-name")
		rows, err := workbook.ReadBranches(args[0], workbook.Options{SheetIndex: sheetIdx, SheetName: sheetName}, store.BranchColumn)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			zap.L().Info("no branch rows found", zap.String("path", args[0]))
			return nil
		}

		env, err := initEnv(ctx, "branches")
		if err != nil {
			return err
		}
		defer env.Close()

		codes := make([]string, 0, len(rows))
		for code := range rows {
			codes = append(codes, code)
		}
		model.SortBranchCodes(codes)

		for _, code := range codes {
			if err := env.Store.PutBranch(ctx, code, rows[code]); err != nil {
				return eris.Wrapf(err, "import branch %s", code)
			}
		}
		zap.L().Info("branches imported", zap.String("path", args[0]), zap.Int("branches", len(codes)))
		return nil
	},
}

func init() {
	branchesImportCmd.Flags().Int("sheet", 0, "sheet index")
	branchesImportCmd.Flags().String("sheet-name", "", "sheet name (overrides --sheet)")

	branchesCmd.AddCommand(branchesListCmd, branchesSetCmd, branchesImportCmd)
	rootCmd.AddCommand(branchesCmd)
}

// parseAssignments parses column=value arguments.
func parseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		k = strings.ToLower(strings.TrimSpace(k))
		if !ok || k == "" {
			return nil, eris.Errorf("invalid assignment %q, want column=value", a)
		}
		if k == store.BranchColumn {
			return nil, eris.Errorf("%s is set from the branch argument", store.BranchColumn)
		}
		out[k] = v
	}
	return out, nil
}

func sortedFieldNames(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
