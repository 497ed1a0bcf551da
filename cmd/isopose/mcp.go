package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/isopose/isopose/internal/mcptools"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the Model Context Protocol server on stdio",
	Long: `Exposes predict_pose, predict_action and quaternion_error as MCP tools over
stdin/stdout. Logs go to stderr so they never corrupt the JSON-RPC stream.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.SetOutput(os.Stderr)

		a, err := newApp(cfg, logger, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		logger.Info("starting mcp server", "transport", "stdio")
		return mcptools.NewServer(a.svc, version).ServeStdio()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
