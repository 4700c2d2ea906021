package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/gateway"
	"github.com/soyeahso/concierge/internal/version"
)

func newStatusCmd() *cobra.Command {
	var live bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show configuration summary and, with --live, the running gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "concierge %s (commit %s)\n\n", version.Version, version.Commit)
			fmt.Fprintf(out, "Config:    %s\n", paths.Config)
			fmt.Fprintf(out, "Data:      %s\n\n", paths.Data)

			cfg, err := config.Load(paths.Config)
			if err != nil {
				fmt.Fprintf(out, "Config:    error loading: %v\n", err)
				return nil
			}

			providers := make([]string, 0, len(cfg.LLM.Providers))
			for name, p := range cfg.LLM.Providers {
				providers = append(providers, fmt.Sprintf("%s(%s %s)", name, p.API, p.Model))
			}
			sort.Strings(providers)
			fmt.Fprintf(out, "LLM:       primary=%s fallbacks=%s\n", cfg.LLM.Primary, strings.Join(cfg.LLM.Fallbacks, ","))
			fmt.Fprintf(out, "Providers: %s\n", strings.Join(providers, ", "))
			fmt.Fprintf(out, "Assistant: name=%s locale=%s depth=%d timeout=%s history=%d scope=%s\n",
				cfg.Assistant.Name, cfg.Assistant.DefaultLocale, cfg.Assistant.MaxChainDepth,
				cfg.Assistant.MessageTimeout, cfg.Assistant.MaxHistory, cfg.Assistant.Scope)
			fmt.Fprintf(out, "Database:  %s\n", paths.DatabasePath(cfg.Store))
			fmt.Fprintf(out, "Contexts:  backend=%s ttl=%s\n", cfg.Context.Backend, cfg.Context.TTL)
			if cfg.Gateway.Enabled {
				fmt.Fprintf(out, "Gateway:   port=%d bind=%s auth=%s tls=%v\n",
					cfg.Gateway.Port, cfg.Gateway.Bind, cfg.Gateway.Auth.Mode, cfg.Gateway.TLS.Enabled)
			} else {
				fmt.Fprintln(out, "Gateway:   disabled")
			}
			if irc := cfg.Channels.IRC; irc != nil {
				fmt.Fprintf(out, "IRC:       server=%s nick=%s channels=%s tls=%v\n",
					irc.Server, irc.Nick, strings.Join(irc.Channels, ","), irc.UseTLS)
			} else {
				fmt.Fprintln(out, "IRC:       (not configured)")
			}

			if issues := config.Validate(&cfg); len(issues) > 0 {
				fmt.Fprintf(out, "\nValidation issues (%d):\n", len(issues))
				for _, issue := range issues {
					fmt.Fprintf(out, "  - %s\n", issue)
				}
			}

			if live && cfg.Gateway.Enabled {
				fmt.Fprintln(out)
				st, err := fetchLiveStatus(cmd.Context(), cfg.Gateway)
				if err != nil {
					fmt.Fprintf(out, "Live:      unreachable: %v\n", err)
					return nil
				}
				fmt.Fprintf(out, "Live:      version=%s uptime=%s clients=%d\n",
					st.Version, (time.Duration(st.UptimeMs) * time.Millisecond).Round(time.Second), st.Clients)
				for _, ch := range st.Channels {
					fmt.Fprintf(out, "  %-8s running=%v connected=%v %s\n", ch.ChannelID, ch.Running, ch.Connected, ch.LastError)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&live, "live", false, "query the running gateway")
	return cmd
}

// fetchLiveStatus asks a running gateway for its status.
func fetchLiveStatus(ctx context.Context, cfg config.GatewayConfig) (*gateway.StatusResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	host := "127.0.0.1"
	if cfg.Bind == "custom" && cfg.CustomBindHost != "" {
		host = cfg.CustomBindHost
	}
	scheme := "http"
	if cfg.TLS.Enabled {
		scheme = "https"
	}
	url := fmt.Sprintf("%s://%s:%d/api/status", scheme, host, cfg.Port)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	auth := gateway.ResolveAuth(cfg.Auth)
	secret := auth.Token
	if auth.Mode == "password" {
		secret = auth.Password
	}
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var st gateway.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("decoding status: %w", err)
	}
	return &st, nil
}
