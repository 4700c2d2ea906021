package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/tools"
)

func newToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect and run catalog tools",
	}
	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsCallCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	var catalogPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tools the model can call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if catalogPath == "" {
				catalogPath = cfg.Assistant.CatalogPath
			}

			var catalog *tools.Catalog
			if catalogPath != "" {
				catalog, err = tools.LoadCatalogFile(catalogPath)
			} else {
				catalog, err = tools.DefaultCatalog()
			}
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tACCESS\tDESCRIPTION")
			for _, t := range catalog.List() {
				access := "public"
				switch {
				case t.AdminOnly():
					access = "admin"
				case t.DMOnly():
					access = "dm"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, access, firstLine(t.Description))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog file (defaults to the configured or built-in one)")
	return cmd
}

func newToolsCallCmd() *cobra.Command {
	var (
		from  string
		group bool
	)

	cmd := &cobra.Command{
		Use:   "call <tool> [json-arguments]",
		Short: "Run one tool as a resident, with the same gates the model gets",
		Args:  cobra.RangeArgs(1, 2),
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

			msg := domain.InboundMessage{
				ID:        uuid.NewString(),
				ChannelID: cliChannel,
				From:      from,
				ChatID:    from,
				ChatType:  domain.ChatTypeDM,
				Timestamp: time.Now(),
			}
			if group {
				msg.ChatType = domain.ChatTypeGroup
			}
			ac := a.resolver.Resolve(ctx, msg)

			raw := ""
			if len(args) > 1 {
				raw = args[1]
			}
			res := a.exec.ExecuteJSON(ctx, args[0], raw, ac)
			fmt.Fprintln(cmd.OutOrStdout(), res.Text())
			if res.IsError {
				return fmt.Errorf("tool %s reported an error", args[0])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "cli:local", "chat identity of the caller")
	cmd.Flags().BoolVar(&group, "group", false, "call as if from a shared room")
	return cmd
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
