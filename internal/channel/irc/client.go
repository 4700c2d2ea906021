// Package irc is the IRC chat channel. Private queries to the bot are
// direct conversations; in joined channels the bot only answers messages
// addressed to it by nick.
package irc

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"

	"github.com/soyeahso/concierge/internal/config"
	"github.com/soyeahso/concierge/internal/domain"
	"github.com/soyeahso/concierge/internal/logging"
)

// ChannelID is the id the IRC channel registers under.
const ChannelID = "irc"

// maxLineBytes keeps PRIVMSG lines under the 512 byte protocol limit once
// the prefix and target are added.
const maxLineBytes = 400

// Channel implements domain.Channel for IRC.
type Channel struct {
	cfg    config.IRCConfig
	client *girc.Client
	log    *logging.Logger

	mu      sync.RWMutex
	handler func(msg domain.InboundMessage)
	running bool
	lastErr string
}

// New creates an IRC channel from configuration.
func New(cfg config.IRCConfig, log *logging.Logger) *Channel {
	return &Channel{
		cfg: cfg,
		log: log.Sub("irc"),
	}
}

func (c *Channel) ID() string { return ChannelID }

func (c *Channel) OnMessage(handler func(msg domain.InboundMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current runtime status.
func (c *Channel) Status() domain.ChannelStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return domain.ChannelStatus{
		ChannelID: ChannelID,
		Connected: c.client != nil && c.client.IsConnected(),
		Running:   c.running,
		LastError: c.lastErr,
	}
}

// Start connects to the IRC server and blocks until the connection ends or
// ctx is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	port := c.cfg.Port
	if port == 0 {
		if c.cfg.UseTLS {
			port = 6697
		} else {
			port = 6667
		}
	}

	gircCfg := girc.Config{
		Server:  c.cfg.Server,
		Port:    port,
		Nick:    c.cfg.Nick,
		User:    c.cfg.Nick,
		Name:    "Concierge resident assistant",
		SSL:     c.cfg.UseTLS,
		Version: "Concierge/1.0",
	}
	if c.cfg.UseTLS {
		gircCfg.TLSConfig = &tls.Config{ServerName: c.cfg.Server}
	}
	if c.cfg.SASL && c.cfg.Password != "" {
		gircCfg.SASL = &girc.SASLPlain{User: c.cfg.Nick, Pass: c.cfg.Password}
	} else if c.cfg.Password != "" {
		gircCfg.ServerPass = c.cfg.Password
	}

	client := girc.New(gircCfg)
	client.Handlers.Add(girc.CONNECTED, c.onConnected)
	client.Handlers.Add(girc.PRIVMSG, c.onPrivmsg)
	client.Handlers.Add(girc.DISCONNECTED, c.onDisconnected)

	c.mu.Lock()
	c.client = client
	c.running = true
	c.lastErr = ""
	c.mu.Unlock()

	c.log.Info().
		Str("server", c.cfg.Server).
		Int("port", port).
		Str("nick", c.cfg.Nick).
		Strs("channels", c.cfg.Channels).
		Bool("tls", c.cfg.UseTLS).
		Msg("connecting to IRC")

	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Connect()
	}()

	select {
	case err := <-errCh:
		c.mu.Lock()
		c.running = false
		if err != nil {
			c.lastErr = err.Error()
		}
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("irc connect: %w", err)
		}
		return nil
	case <-ctx.Done():
		client.Close()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Stop gracefully disconnects from the IRC server.
func (c *Channel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil && c.client.IsConnected() {
		c.log.Info().Msg("disconnecting from IRC")
		c.client.Quit("Concierge shutting down")
	}
	c.running = false
	return nil
}

// Send delivers a message to an IRC channel or user. Chat identities of
// the form @nick:network are addressed to nick.
func (c *Channel) Send(_ context.Context, msg domain.OutboundMessage) error {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return fmt.Errorf("irc: not connected")
	}

	target := targetNick(msg.To)
	if target == "" {
		return fmt.Errorf("irc: no target specified")
	}

	lines := splitMessage(msg.Body, maxLineBytes)
	for _, line := range lines {
		client.Cmd.Message(target, line)
	}

	c.log.Debug().
		Str("to", target).
		Int("lines", len(lines)).
		Msg("sent IRC message")
	return nil
}

func (c *Channel) onConnected(client *girc.Client, _ girc.Event) {
	c.log.Info().Str("nick", client.GetNick()).Msg("connected to IRC")
	for _, ch := range c.cfg.Channels {
		client.Cmd.Join(ch)
		c.log.Info().Str("channel", ch).Msg("joined channel")
	}
}

func (c *Channel) onPrivmsg(client *girc.Client, e girc.Event) {
	if e.Source == nil || strings.EqualFold(e.Source.Name, client.GetNick()) {
		return
	}

	body := e.Last()
	if e.IsAction() {
		body = e.StripAction()
	}

	if !e.IsFromChannel() {
		c.deliver(e.Source.Name, e.Source.Name, domain.ChatTypeDM, body)
		return
	}

	text, ok := addressedTo(body, client.GetNick())
	if !ok {
		return
	}
	c.deliver(e.Source.Name, e.Params[0], domain.ChatTypeGroup, text)
}

func (c *Channel) onDisconnected(_ *girc.Client, _ girc.Event) {
	c.log.Warn().Msg("disconnected from IRC")
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()
}

func (c *Channel) deliver(nick, chatID string, chatType domain.ChatType, body string) {
	msg := domain.InboundMessage{
		ID:        uuid.NewString(),
		ChannelID: ChannelID,
		From:      chatIdentity(nick, c.cfg.Network),
		FromName:  nick,
		ChatID:    chatID,
		ChatType:  chatType,
		Body:      body,
		Timestamp: time.Now(),
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()

	if handler == nil {
		c.log.Warn().Str("from", nick).Msg("no message handler, dropping message")
		return
	}
	handler(msg)
}

// chatIdentity maps a nick to the chat identity accounts are linked to.
func chatIdentity(nick, network string) string {
	if network == "" {
		return nick
	}
	return "@" + nick + ":" + network
}

// targetNick reverses chatIdentity for outbound messages.
func targetNick(to string) string {
	if !strings.HasPrefix(to, "@") {
		return to
	}
	nick := to[1:]
	if i := strings.IndexByte(nick, ':'); i >= 0 {
		nick = nick[:i]
	}
	return nick
}

// addressedTo reports whether a channel message starts with the bot's nick
// ("alfred: ...", "alfred, ...", "@alfred ...") and returns the rest.
func addressedTo(body, nick string) (string, bool) {
	trimmed := strings.TrimSpace(body)
	trimmed = strings.TrimPrefix(trimmed, "@")
	if len(trimmed) < len(nick) || !strings.EqualFold(trimmed[:len(nick)], nick) {
		return "", false
	}
	rest := trimmed[len(nick):]
	if rest != "" && !strings.ContainsAny(rest[:1], ":, ") {
		return "", false
	}
	rest = strings.TrimLeft(rest, ":, ")
	if rest == "" {
		return "", false
	}
	return rest, true
}

// splitMessage breaks text into PRIVMSG lines. Every newline starts a new
// line, blank lines are dropped, and lines longer than maxLen bytes are
// wrapped at the last space, never inside a UTF-8 sequence.
func splitMessage(text string, maxLen int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \r\t")
		for len(line) > maxLen {
			cut := maxLen
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if sp := strings.LastIndexByte(line[:cut], ' '); sp > 0 {
				cut = sp
			}
			out = append(out, line[:cut])
			line = strings.TrimLeft(line[cut:], " ")
		}
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}
	return out
}
