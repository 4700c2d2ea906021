package cli

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/concierge/internal/channel/irc"
	"github.com/soyeahso/concierge/internal/gateway"
)

func newServeCmd() *cobra.Command {
	var (
		port      int
		bind      string
		noGateway bool
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Run the assistant on the configured chat channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if noGateway {
				cfg.Gateway.Enabled = false
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newAssistantApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if cfg.Channels.IRC != nil {
				a.channels.Register(irc.New(*cfg.Channels.IRC, log))
			}
			if cfg.Gateway.Enabled {
				a.channels.Register(gateway.New(cfg.Gateway, log,
					gateway.WithMessageHandler(a.router),
					gateway.WithContexts(a.contexts),
					gateway.WithCatalog(a.catalog),
					gateway.WithChannels(a.channels),
					gateway.WithHooks(a.hooks),
				))
			}
			if a.channels.Count() == 0 {
				log.Warn().Msg("no channel configured, nothing will reach the assistant")
			}

			a.router.Wire()
			a.channels.StartAll(ctx)
			log.Info().
				Strs("channels", a.channels.List()).
				Str("scope", cfg.Assistant.Scope).
				Msg("message routing active")

			<-ctx.Done()
			log.Info().Msg("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			a.channels.StopAll(shutdownCtx)
			if err := a.router.Wait(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("messages still being handled at shutdown")
			}
			if err := a.hooks.Wait(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("hook handlers still running at shutdown")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override gateway bind mode (loopback, lan, custom)")
	cmd.Flags().BoolVar(&noGateway, "no-gateway", false, "do not start the HTTP/WebSocket gateway")
	return cmd
}
