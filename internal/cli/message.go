package cli

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/soyeahso/concierge/internal/domain"
)

// cliChannel tags conversations started from the command line.
const cliChannel = "cli"

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Talk to the assistant from the terminal",
	}
	cmd.AddCommand(newMessageSendCmd())
	return cmd
}

func newMessageSendCmd() *cobra.Command {
	var (
		from    string
		chatID  string
		group   bool
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send one message as a resident and print the reply",
		Long: "Send one message as a resident and print the reply. The conversation " +
			"context is stored like any other, so successive calls continue a reservation.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newAssistantApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			msg := domain.InboundMessage{
				ID:        uuid.NewString(),
				ChannelID: cliChannel,
				From:      from,
				FromName:  domain.UsernameFromChatID(from),
				ChatID:    chatID,
				ChatType:  domain.ChatTypeDM,
				Body:      strings.Join(args, " "),
				Timestamp: time.Now(),
			}
			if msg.ChatID == "" {
				msg.ChatID = from
			}
			if group {
				msg.ChatType = domain.ChatTypeGroup
			}

			res := a.router.Handle(ctx, msg)
			fmt.Fprintln(cmd.OutOrStdout(), res.Text)
			if verbose {
				fmt.Fprintf(cmd.ErrOrStderr(), "\n[conversation=%s step=%s workflow=%v tools=%d duration=%s]\n",
					res.ConversationID, res.Step, res.Workflow, res.ToolCalls, res.Duration.Round(time.Millisecond))
			}
			if res.Err != nil {
				return res.Err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "cli:local", "chat identity of the sender, e.g. @alice:neohoods.local")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id (defaults to the sender)")
	cmd.Flags().BoolVar(&group, "group", false, "treat the message as posted in a shared room")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print conversation details to stderr")
	return cmd
}
