package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soyeahso/concierge/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var as string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the tool catalog over MCP on stdin/stdout",
		Long: "Serve the tool catalog over the Model Context Protocol on stdin/stdout. " +
			"The session acts for the resident given with --as and counts as a private conversation. " +
			"Logs go to stderr so stdout carries protocol messages only.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newToolsApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := mcp.NewServer(a.exec, a.resolver, as, log)
			return srv.Serve(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVar(&as, "as", "", "chat identity the session acts for, e.g. @alice:neohoods.local")
	return cmd
}
