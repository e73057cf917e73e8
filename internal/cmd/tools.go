package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tickerlens/tickerlens/internal/core/engine"
	"github.com/tickerlens/tickerlens/internal/output"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the MCP tools and their parameters",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := resolveOutputFormat(cmd)
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatTools((&engine.Orchestrator{}).Tools())
		if err != nil {
			return err
		}

		sink, err := openOutput(cmd, "tools", format)
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func init() {
	rootCmd.AddCommand(toolsCmd)
	addOutputFlags(toolsCmd, "table|json|yaml|markdown")
}
