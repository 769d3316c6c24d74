package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kalambet/strokeinsight/internal/config"
	"github.com/kalambet/strokeinsight/internal/dataset"
	"github.com/kalambet/strokeinsight/internal/pipeline"
	"github.com/kalambet/strokeinsight/internal/prediction"
)

// --- login ---

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store a session token",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		id, _ := cmd.Flags().GetString("id")
		if username == "" || id == "" {
			return fmt.Errorf("--username and --id are required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		sess, err := client.login(cmd.Context(), username, id)
		if err != nil {
			return err
		}
		if err := config.SaveSessionToken(sess.Token); err != nil {
			return fmt.Errorf("storing session token: %w", err)
		}

		printSuccess("Logged in as %s (%s), session valid until %s",
			sess.Username, sess.Role, sess.ExpiresAt.Local().Format("2006-01-02 15:04"))
		return nil
	},
}

func init() {
	loginCmd.Flags().String("username", "", "account username")
	loginCmd.Flags().String("id", "", "account ID")
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.ClearSessionToken(); err != nil {
			return fmt.Errorf("removing session token: %w", err)
		}
		printSuccess("Logged out")
		return nil
	},
}

// --- predict ---

var predictCmd = &cobra.Command{
	Use:   "predict <file>",
	Short: "Upload a spreadsheet and print stroke predictions",
	Long: `Upload an .xlsx or .xls spreadsheet to the running server and print
per-patient predictions with a summary.

Examples:
  strokeinsight predict ./ward3.xlsx
  strokeinsight predict ./ward3.xlsx --json > results.json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Uploading %s...", args[0])
		resp, err := client.predict(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(resp); err != nil {
				return err
			}
		}

		if !resp.Success {
			printFailure(resp.ErrorCode, resp.Error, resp.MissingColumns, resp.DataTypeIssues)
			return fmt.Errorf("prediction failed (%s)", resp.ErrorCode)
		}

		if !asJSON {
			printResults(cmd.OutOrStdout(), resp.Results)
		}
		if resp.Summary != nil {
			printSummary(*resp.Summary)
		}
		return nil
	},
}

func init() {
	predictCmd.Flags().Bool("json", false, "print the full response as JSON")
}

func printResults(w io.Writer, results []prediction.Result) {
	for _, r := range results {
		label := colorize(colorGreen, r.Prediction)
		if r.Prediction == "Stroke" {
			label = colorize(colorRed, r.Prediction)
		}
		fmt.Fprintf(w, "%5d  %s\n", r.Index, label)
	}
}

// --- check ---

var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a spreadsheet against the column schema without scoring it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		schema, err := dataset.LoadSchema(cfg.Scoring.SchemaPath)
		if err != nil {
			return fmt.Errorf("loading schema: %w", err)
		}

		report, f := pipeline.Check(args[0], schema, readLimits(cfg))
		if f != nil {
			r := prediction.NewResponse(f)
			printFailure(r.ErrorCode, r.Error, r.MissingColumns, r.DataTypeIssues)
			return fmt.Errorf("%s is not valid (%s)", args[0], f.Kind)
		}

		printSuccess("%s is valid: %d rows, %d columns", args[0], report.RowCount, len(report.Columns))
		return nil
	},
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Browse recorded analyses",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded analyses, oldest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		runs, err := client.listRuns(cmd.Context())
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No runs recorded.")
			return nil
		}

		for _, r := range runs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s %5d patients  %6.2f%% stroke  %s\n",
				colorize(colorCyan, r.Timestamp),
				fitWidth(r.FileName, 30),
				r.Summary.TotalCount,
				r.Summary.StrokePercentage,
				riskLabel(r.Summary.Risk),
			)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <timestamp>",
	Short: "Show a single run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		run, err := client.getRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

var runsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all runs as JSONL",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		runs, err := client.listRuns(cmd.Context())
		if err != nil {
			return err
		}

		writer := cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		if err := writeRunsJSONL(writer, runs); err != nil {
			return err
		}

		if output != "" {
			printSuccess("Exported %d runs to %s", len(runs), output)
		}
		return nil
	},
}

func writeRunsJSONL(w io.Writer, runs []runRecord) error {
	enc := json.NewEncoder(w)
	for _, r := range runs {
		record := map[string]any{"type": "run", "data": r}
		if err := enc.Encode(record); err != nil {
			return fmt.Errorf("writing run %s: %w", r.ID, err)
		}
	}
	return nil
}

func init() {
	runsExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsExportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Reset a configuration value to its default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
