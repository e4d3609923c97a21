package main

import (
	"github.com/spf13/cobra"

	mcpadapter "github.com/kirillkom/grounded-rag/internal/adapters/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the ask_documents tool over MCP stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		app, err := openApp(ctx, false)
		if err != nil {
			return err
		}
		defer app.Close()
		if err := loadCorpus(ctx, app); err != nil {
			return err
		}
		logger.Info("mcp_serving", "transport", "stdio")
		return mcpadapter.NewServer(app.Answers, logger).ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
