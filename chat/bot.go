package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"

	"github.com/onnwee/live-herald/announce"
	"github.com/onnwee/live-herald/telemetry"
)

// ErrNotConnected is returned by Announcer.Send while the bot is offline.
var ErrNotConnected = errors.New("chat not connected")

const commandTimeout = 10 * time.Second

// ircClient is the part of *twitch.Client the bot uses.
type ircClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// Bot is a Twitch chat connection for one channel.
type Bot struct {
	Username   string
	OAuthToken string
	Channel    string
	// Commands, when set, enables the admin commands.
	Commands *Commands

	newClient func(username, token string) ircClient

	mu        sync.Mutex
	client    ircClient
	ctx       context.Context
	connected atomic.Bool
}

// NewBot returns a bot for channel. cmds may be nil to only announce.
func NewBot(username, token, channel string, cmds *Commands) *Bot {
	return &Bot{
		Username:   username,
		OAuthToken: token,
		Channel:    strings.ToLower(strings.TrimPrefix(channel, "#")),
		Commands:   cmds,
	}
}

func ircToken(tok string) string {
	if strings.HasPrefix(tok, "oauth:") {
		return tok
	}
	return "oauth:" + tok
}

// Run connects, joins the channel and blocks until ctx is cancelled or the
// connection fails permanently.
func (b *Bot) Run(ctx context.Context) error {
	if b.Channel == "" || b.Username == "" || b.OAuthToken == "" {
		slog.Info("twitch chat creds not set; skipping chat bot")
		return nil
	}
	newClient := b.newClient
	if newClient == nil {
		newClient = func(u, t string) ircClient { return twitch.NewClient(u, t) }
	}
	client := newClient(b.Username, ircToken(b.OAuthToken))
	b.mu.Lock()
	b.client = client
	b.ctx = ctx
	b.mu.Unlock()

	client.OnConnect(func() {
		b.connected.Store(true)
		slog.Info("twitch chat connected", slog.String("component", "chat"), slog.String("channel", b.Channel))
	})
	client.OnPrivateMessage(b.onMessage)

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = client.Disconnect()
		case <-done:
		}
	}()
	defer func() {
		close(done)
		b.connected.Store(false)
	}()

	client.Join(b.Channel)
	err := client.Connect()
	if err == nil || errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
		return nil
	}
	slog.Error("twitch chat connect error", slog.String("component", "chat"), slog.Any("err", err))
	return err
}

// Connected reports whether the IRC session is up.
func (b *Bot) Connected() bool { return b.connected.Load() }

func (b *Bot) say(text string) {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	if client == nil || text == "" {
		return
	}
	client.Say(b.Channel, truncate(text, maxMessageLen))
}

func (b *Bot) onMessage(msg twitch.PrivateMessage) {
	if b.Commands == nil {
		return
	}
	cmd, ok := ParseCommand(msg.Message)
	if !ok {
		return
	}
	b.mu.Lock()
	parent := b.ctx
	b.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}
	ctx := telemetry.WithCorrelation(parent, uuid.NewString())
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "chat"), slog.String("user", msg.User.Name), slog.String("command", cmd.Name))
	if !Permitted(msg) {
		log.Debug("ignoring command from unprivileged user")
		return
	}
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	reply := b.Commands.Handle(ctx, cmd)
	log.Info("chat command handled", slog.String("login", cmd.Login))
	b.say(reply)
}

// Announcer posts announcements to the bot's channel.
type Announcer struct {
	Bot *Bot
}

func (a *Announcer) Send(_ context.Context, msg announce.Message) error {
	if a.Bot == nil || !a.Bot.Connected() {
		return ErrNotConnected
	}
	a.Bot.say(msg.Text())
	return nil
}
