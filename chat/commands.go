package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/live-herald/tracked"
)

const (
	CmdAdd    = "!addstreamer"
	CmdRemove = "!removestreamer"
	CmdList   = "!liststreamers"

	// maxMessageLen is Twitch's limit for one chat message.
	maxMessageLen = 500
)

// Command is a parsed chat command. Rest is everything after the login,
// with its original spacing.
type Command struct {
	Name  string
	Login string
	Rest  string
}

// ParseCommand recognises the admin commands. The command word is matched
// case-insensitively.
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return Command{}, false
	}
	name, rest, _ := strings.Cut(text, " ")
	name = strings.ToLower(name)
	switch name {
	case CmdAdd, CmdRemove, CmdList:
	default:
		return Command{}, false
	}
	cmd := Command{Name: name}
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return cmd, true
	}
	login, tail, _ := strings.Cut(rest, " ")
	cmd.Login = strings.TrimPrefix(login, "@")
	cmd.Rest = strings.TrimSpace(tail)
	return cmd, true
}

// Permitted reports whether the sender may run admin commands: the channel's
// broadcaster or one of its moderators.
func Permitted(msg twitch.PrivateMessage) bool {
	return msg.User.Badges["broadcaster"] > 0 || msg.User.Badges["moderator"] > 0
}

// Commands applies admin commands to the tracked set.
type Commands struct {
	Store tracked.Store
}

// Handle runs cmd and returns the chat reply.
func (c *Commands) Handle(ctx context.Context, cmd Command) string {
	switch cmd.Name {
	case CmdAdd:
		return c.add(ctx, cmd)
	case CmdRemove:
		return c.remove(ctx, cmd)
	case CmdList:
		return c.list(ctx)
	}
	return ""
}

func (c *Commands) add(ctx context.Context, cmd Command) string {
	if cmd.Login == "" {
		return "Usage: " + CmdAdd + " <login> [message]"
	}
	e, err := c.Store.Add(ctx, cmd.Login, cmd.Rest)
	switch {
	case err == nil:
		return fmt.Sprintf("Now tracking %s.", e.Identity)
	case errors.Is(err, tracked.ErrAlreadyTracked):
		return fmt.Sprintf("%s is already tracked.", tracked.Normalize(cmd.Login))
	case errors.Is(err, tracked.ErrInvalidIdentity):
		return fmt.Sprintf("%q is not a valid Twitch login.", cmd.Login)
	default:
		slog.Error("chat add failed", slog.String("component", "chat"), slog.String("identity", cmd.Login), slog.Any("err", err))
		return "Could not update the tracked list, try again later."
	}
}

func (c *Commands) remove(ctx context.Context, cmd Command) string {
	if cmd.Login == "" {
		return "Usage: " + CmdRemove + " <login>"
	}
	id := tracked.Normalize(cmd.Login)
	err := c.Store.Remove(ctx, id)
	switch {
	case err == nil:
		return fmt.Sprintf("Stopped tracking %s.", id)
	case errors.Is(err, tracked.ErrNotTracked):
		return fmt.Sprintf("%s is not tracked.", id)
	default:
		slog.Error("chat remove failed", slog.String("component", "chat"), slog.String("identity", id), slog.Any("err", err))
		return "Could not update the tracked list, try again later."
	}
}

func (c *Commands) list(ctx context.Context) string {
	entries, err := c.Store.List(ctx)
	if err != nil {
		slog.Error("chat list failed", slog.String("component", "chat"), slog.Any("err", err))
		return "Could not read the tracked list, try again later."
	}
	if len(entries) == 0 {
		return "No broadcasters tracked."
	}
	head := fmt.Sprintf("Tracked (%d): ", len(entries))
	var b strings.Builder
	b.WriteString(head)
	for i, e := range entries {
		sep := ""
		if i > 0 {
			sep = ", "
		}
		more := fmt.Sprintf(" and %d more", len(entries)-i)
		// room for the suffix is only needed while later entries remain
		reserve := len(more)
		if i == len(entries)-1 {
			reserve = 0
		}
		if b.Len()+len(sep)+len(e.Identity)+reserve > maxMessageLen {
			b.WriteString(more)
			break
		}
		b.WriteString(sep + e.Identity)
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
