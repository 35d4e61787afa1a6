package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-ledger/internal/migration"
	"github.com/aqasim81/migration-ledger/internal/verify"
)

var verifyCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "verify [migrations-dir]",
	Short: "Compare migrations on disk with the ledger",
	Long: `Detect scripts that changed after they were applied, migrations the
ledger knows but the directory lost, attempts that never finished, and
attempts that were rolled back. Exits non-zero when any are found.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	verifyCmd.Flags().String("format", formatText, "output format (text, json)")
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != formatText && format != formatJSON {
		return fmt.Errorf("%w: %q", errUnknownFormat, format)
	}

	dir := AppConfig.MigrationsDir
	if len(args) > 0 {
		dir = args[0]
	}

	migrations, err := migration.LoadFromDir(dir)
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}

	h, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer h.Close() //nolint:errcheck // read-only command

	report, err := verify.Check(commandContext(cmd), h.Ledger, migrations)
	if err != nil {
		return err
	}

	if format == formatJSON {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printReport(cmd.OutOrStdout(), report)
	}

	return report.Err()
}

func printReport(out io.Writer, report verify.Report) {
	if len(report.Findings) == 0 {
		fmt.Fprintln(out, "No migrations on disk or in the ledger.")
		return
	}

	counts := make(map[verify.Status]int)

	for _, f := range report.Findings {
		counts[f.Status]++

		marker := " "
		if f.Problem() {
			marker = "!"
		}

		fmt.Fprintf(out, "%s %-12s %s", marker, f.Status, f.Name)

		if f.Detail != "" {
			fmt.Fprintf(out, " (%s)", f.Detail)
		}

		fmt.Fprintln(out)
	}

	fmt.Fprintf(out, "\n%d applied, %d pending, %d problem(s).\n",
		counts[verify.StatusApplied], counts[verify.StatusPending], len(report.Problems()))
}
