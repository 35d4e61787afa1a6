package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-ledger/internal/ledger"
)

// errRecordNotFound is returned when show is given an unknown id.
var errRecordNotFound = errors.New("ledger record not found")

var showCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "show <id>",
	Short: "Show one ledger record with its script and logs",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	showCmd.Flags().String("format", formatText, "output format (text, json)")
	rootCmd.AddCommand(showCmd)
}

func runShow(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")
	if format != formatText && format != formatJSON {
		return fmt.Errorf("%w: %q", errUnknownFormat, format)
	}

	h, err := openLedger(cmd)
	if err != nil {
		return err
	}
	defer h.Close() //nolint:errcheck // read-only command

	records, err := h.Ledger.List(commandContext(cmd))
	if err != nil {
		return fmt.Errorf("listing ledger: %w", err)
	}

	for _, rec := range records {
		if rec.ID != args[0] {
			continue
		}

		if format == formatJSON {
			return writeJSON(cmd.OutOrStdout(), rec)
		}

		printRecord(cmd.OutOrStdout(), rec)

		return nil
	}

	return fmt.Errorf("%w: %s", errRecordNotFound, args[0])
}

func printRecord(out io.Writer, rec ledger.MigrationRecord) {
	fmt.Fprintf(out, "ID:          %s\n", rec.ID)
	fmt.Fprintf(out, "Migration:   %s\n", rec.MigrationName)
	fmt.Fprintf(out, "Checksum:    %s", rec.Checksum)

	if !rec.ChecksumValid() {
		fmt.Fprint(out, " (does not match script)")
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Started:     %s\n", rec.StartedAt.Format(time.RFC3339Nano))
	fmt.Fprintf(out, "Finished:    %s\n", optionalTime(rec.FinishedAt))
	fmt.Fprintf(out, "Rolled back: %s\n", optionalTime(rec.RolledBackAt))
	fmt.Fprintf(out, "Steps:       %d\n", rec.AppliedStepsCount)
	fmt.Fprintf(out, "\n--- script ---\n%s\n", rec.Script)
	fmt.Fprintf(out, "--- logs ---\n%s\n", rec.Logs)
}

func optionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}

	return t.Format(time.RFC3339Nano)
}
