package cmd

import (
	"fmt"
	"strings"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/spf13/cobra"

	"github.com/tickerlens/tickerlens/internal/output"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show governor limits and recorded decisions",
	Long: `Show the governor limits and the decision counters held by the stats
backend.

With the memory backend the counters belong to this process only, so the
command mostly shows the effective limits. With the redis backend it shows
decisions aggregated across every server sharing the backend.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		report, err := a.report(cmd.Context())
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatReport(report)
		if err != nil {
			return err
		}

		sink, err := openOutput(cmd, "stats", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		if _, err := fmt.Fprintln(sink.writer, rendered); err != nil {
			return err
		}
		if format == output.FormatTable && len(report.Decisions.Total) == 0 {
			lines := []string{"Decisions", "", "(no recorded decisions in the " + report.Backend + " backend)"}
			_, _ = fmt.Fprint(sink.writer, ascii.DrawBox(strings.Join(lines, "\n"), 0))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	addOutputFlags(statsCmd, "table|json|yaml|markdown")
}
