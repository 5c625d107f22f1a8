package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"rangeclaims/api/internal/audit"
	"rangeclaims/api/internal/store"
)

func newAuditCommand(e *env) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Data-quality checks over listings",
	}

	var (
		fix      bool
		asJSON   bool
		pageSize int
	)
	multivalue := &cobra.Command{
		Use:   "multivalue",
		Short: "Report listing fields not stored as canonical JSON arrays",
		Long: `multivalue scans tags, bow_types_allowed and post_images on every listing
and reports values stored in a legacy shape (Postgres array literals, bare
strings, malformed JSON). With --fix each reported value is rewritten as a
JSON array of strings.

Example:
  rangectl audit multivalue
  rangectl audit multivalue --fix --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := e.openDB(cmd.Context(), e.cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			report, err := audit.MultiValue(cmd.Context(), store.NewPostgresStore(db), audit.Options{Fix: fix, PageSize: pageSize})
			if err != nil {
				return err
			}
			return writeReport(cmd, report, asJSON)
		},
	}
	multivalue.Flags().BoolVar(&fix, "fix", false, "rewrite non-canonical values in place")
	multivalue.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	multivalue.Flags().IntVar(&pageSize, "page-size", 200, "listings fetched per query")

	cmd.AddCommand(multivalue)
	return cmd
}

func writeReport(cmd *cobra.Command, report audit.Report, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LISTING\tSLUG\tCOLUMN\tRAW\tCANONICAL\tFIXED")
	for _, f := range report.Findings {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%q\t%s\t%t\n", f.ListingID, f.Slug, f.Column, f.Raw, f.Canonical, f.Fixed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(out, "scanned %d listings, %d non-canonical values\n", report.Scanned, len(report.Findings))
	return nil
}
