package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ytnobody/riskcrew/internal/logging"
	"github.com/ytnobody/riskcrew/internal/mcpserver"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve analyses over MCP on stdio",
		Long: `Starts a Model Context Protocol server over stdin/stdout with the tools
analyze and list_branches. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, cancel := signalContext(parent)
			defer cancel()

			svc, err := a.newService(ctx, a.cfg, a.logger)
			if err != nil {
				return err
			}
			defer svc.Close()

			a.logger.Info("starting MCP server over stdio", zap.String("version", version))
			err = mcpserver.New(svc, version, logging.Component(a.logger, "mcp")).Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
