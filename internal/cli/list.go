package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aqasim81/migration-ledger/internal/ledger"
)

const (
	formatText = "text"
	formatJSON = "json"
)

// errUnknownFormat is returned for an unsupported --format value.
var errUnknownFormat = errors.New("unknown output format")

var listCmd = &cobra.Command{ //nolint:gochecknoglobals // standard Cobra pattern
	Use:   "list",
	Short: "List ledger records",
	Long: `List every recorded migration attempt, oldest first. Re-applied
migrations appear once per attempt.`,
	RunE: runList,
}

func init() { //nolint:gochecknoinits // standard Cobra pattern for flag registration
	listCmd.Flags().String("format", formatText, "output format (text, json)")
	listCmd.Flags().String("name", "", "only show attempts of this migration")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
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

	if name, _ := cmd.Flags().GetString("name"); name != "" {
		records = filterByName(records, name)
	}

	if format == formatJSON {
		return writeJSON(cmd.OutOrStdout(), records)
	}

	printRecords(cmd.OutOrStdout(), records)

	return nil
}

func filterByName(records []ledger.MigrationRecord, name string) []ledger.MigrationRecord {
	out := records[:0]

	for _, rec := range records {
		if rec.MigrationName == name {
			out = append(out, rec)
		}
	}

	return out
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}

	return nil
}

func printRecords(out io.Writer, records []ledger.MigrationRecord) {
	if len(records) == 0 {
		fmt.Fprintln(out, "No ledger records found.")
		return
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMIGRATION\tSTARTED\tSTEPS\tSTATE\tCHECKSUM")

	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			rec.ID,
			rec.MigrationName,
			rec.StartedAt.Format(time.RFC3339),
			rec.AppliedStepsCount,
			recordState(rec),
			checksumState(rec),
		)
	}

	_ = tw.Flush()
}

func recordState(rec ledger.MigrationRecord) string {
	switch {
	case rec.RolledBack():
		return "rolled back"
	case rec.Finished():
		return "finished"
	default:
		return "unfinished"
	}
}

func checksumState(rec ledger.MigrationRecord) string {
	if !rec.ChecksumValid() {
		return "MISMATCH"
	}

	return rec.Checksum[:min(12, len(rec.Checksum))]
}
