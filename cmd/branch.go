package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/pharmalink/provider-sync/internal/provsync"
)

var listCmd = &cobra.Command{
	Use:   "list <provider> <branch>",
	Short: "List one branch's documents",
	Long:  "Fetches a single listing for one branch. Without --from/--to the provider's default range applies.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := branchEnv(ctx, cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		q, err := parseRangeFlags(cmd)
		if err != nil {
			return err
		}
		listing, err := env.Engine.ListBranch(ctx, args[0], args[1], q)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, listing)
	},
}

var detailCmd = &cobra.Command{
	Use:   "detail <provider> <branch> <id>",
	Short: "Fetch one document's header, line items and taxes",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := branchEnv(ctx, cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		set, err := cmd.Flags().GetStringToString("set")
		if err != nil {
			return eris.Wrap(err, "parse --set")
		}
		doc, err := env.Engine.Detail(ctx, args[0], args[1], args[2], set)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, doc)
	},
}

var probeCmd = &cobra.Command{
	Use:   "probe <provider> [branch]",
	Short: "Log in with a branch's credentials and report the token",
	Long:  "Forces a fresh login for the branch and prints the token metadata with the credentials masked. Without a branch the shared credentials are used.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := branchEnv(ctx, cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		branch := ""
		if len(args) == 2 {
			branch = args[1]
		}
		set, err := cmd.Flags().GetStringToString("set")
		if err != nil {
			return eris.Wrap(err, "parse --set")
		}
		probe, err := env.Engine.ProbeLogin(ctx, args[0], branch, set)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, probe)
	},
}

var productsCmd = &cobra.Command{
	Use:   "products",
	Short: "Look up product availability at Kellerhoff",
	Example: `  provider-sync products --branch SA1 --line 7790001000012:2 --line 7790001000029
  provider-sync products --no-store --reference 77 --set email=a@b.c --set password=secret --line 7790001000012`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := branchEnv(ctx, cmd)
		if err != nil {
			return err
		}
		defer env.Close()

		raw, _ := cmd.Flags().GetStringArray("line")
		lines, err := parseProductLines(raw)
		if err != nil {
			return err
		}
		branch, _ := cmd.Flags().GetString("branch")
		reference, _ := cmd.Flags().GetString("reference")
		set, err := cmd.Flags().GetStringToString("set")
		if err != nil {
			return eris.Wrap(err, "parse --set")
		}

		out, err := env.Engine.Products(ctx, branch, reference, lines, set)
		if err != nil {
			return err
		}
		return printJSON(os.Stdout, out)
	},
}

func init() {
	addRangeFlags(listCmd)
	for _, c := range []*cobra.Command{detailCmd, probeCmd, productsCmd} {
		c.Flags().StringToString("set", nil, "credential override, key=value")
	}
	for _, c := range []*cobra.Command{listCmd, detailCmd, probeCmd, productsCmd} {
		c.Flags().Bool("no-store", false, "skip the database; credentials come from --set and configured defaults")
	}
	productsCmd.Flags().String("branch", "", "branch whose Kellerhoff credentials to use")
	productsCmd.Flags().String("reference", "", "pharmacy reference (default from credentials)")
	productsCmd.Flags().StringArray("line", nil, "product as codebar[:quantity], repeatable")

	rootCmd.AddCommand(listCmd, detailCmd, probeCmd, productsCmd)
}

// branchEnv opens the store unless --no-store is set.
func branchEnv(ctx context.Context, cmd *cobra.Command) (*appEnv, error) {
	if noStore, _ := cmd.Flags().GetBool("no-store"); noStore {
		return initStatelessEnv()
	}
	return initEnv(ctx, "sync")
}

// parseProductLines turns codebar[:quantity] arguments into product lines.
func parseProductLines(raw []string) ([]map[string]any, error) {
	lines := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		code, qty, hasQty := strings.Cut(strings.TrimSpace(r), ":")
		if code == "" {
			return nil, eris.Errorf("invalid --line %q: codebar is required", r)
		}
		line := map[string]any{"codebar": code}
		if hasQty {
			n, err := strconv.Atoi(qty)
			if err != nil || n <= 0 {
				return nil, eris.Errorf("invalid --line %q: quantity must be a positive integer", r)
			}
			line["quantity"] = n
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return nil, eris.Wrap(provsync.ErrInvalidArgument, "at least one --line is required")
	}
	return lines, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
