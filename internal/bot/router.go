package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"ctfbot/internal/store"
)

const genericFailureReply = "Something went wrong, please try again later."

// HandlerContext carries everything a command handler needs.
type HandlerContext struct {
	Ctx     context.Context
	Session Session
	Store   store.Store
	Message *discordgo.MessageCreate
	Command string
	Rest    string
}

// Reply sends content into the originating channel.
func (c *HandlerContext) Reply(content string) error {
	_, err := c.Session.ChannelMessageSend(c.Message.ChannelID, content)
	return err
}

type Handler func(*HandlerContext) error

type command struct {
	help    string
	handler Handler
}

// Router parses prefixed chat messages into named commands and dispatches
// them to registered handlers.
type Router struct {
	session     Session
	store       store.Store
	prefix      string
	typingDelay time.Duration
	log         *slog.Logger
	commands    map[string]command
}

func NewRouter(session Session, st store.Store, prefix string, typingDelay time.Duration, log *slog.Logger) *Router {
	r := &Router{
		session:     session,
		store:       st,
		prefix:      prefix,
		typingDelay: typingDelay,
		log:         log,
		commands:    make(map[string]command),
	}
	r.Add("help", "Show help message", r.helpHandler)
	return r
}

// Add registers a command. Registration happens once at startup, before
// dispatch begins; the map is read-only afterwards.
func (r *Router) Add(name, help string, h Handler) {
	r.commands[name] = command{help: help, handler: h}
}

// Dispatch routes one inbound chat message. Messages from bot accounts and
// messages without the command prefix are ignored; so are unknown commands,
// to avoid noise from unrelated prefixed chatter.
func (r *Router) Dispatch(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if !strings.HasPrefix(m.Content, r.prefix) {
		return
	}
	name, rest := splitCommand(strings.TrimPrefix(m.Content, r.prefix))
	cmd, ok := r.commands[name]
	if !ok {
		return
	}

	// Only guild text channels get the typing indicator. The timer is
	// debounced so fast commands never flicker it, and stopped on every
	// exit path so it cannot fire after the handler returned.
	if m.GuildID != "" {
		timer := time.AfterFunc(r.typingDelay, func() {
			if err := r.session.ChannelTyping(m.ChannelID); err != nil {
				r.log.Debug("typing indicator failed", "channel", m.ChannelID, "error", err)
			}
		})
		defer timer.Stop()
	}

	hc := &HandlerContext{
		Ctx:     ctx,
		Session: r.session,
		Store:   r.store,
		Message: m,
		Command: name,
		Rest:    rest,
	}
	r.run(cmd, hc)
}

// run invokes the handler and translates failures. A UserError is relayed
// verbatim; anything else is logged and reported generically. Panics are
// contained so a single handler can never take down the dispatcher.
func (r *Router) run(cmd command, hc *HandlerContext) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("command handler panicked", "command", hc.Command, "guild", hc.Message.GuildID, "panic", rec)
			_ = hc.Reply(genericFailureReply)
		}
	}()

	err := cmd.handler(hc)
	if err == nil {
		return
	}
	var ue *UserError
	if errors.As(err, &ue) {
		if rerr := hc.Reply(ue.Message); rerr != nil {
			r.log.Error("reply failed", "command", hc.Command, "error", rerr)
		}
		return
	}
	r.log.Error("command failed", "command", hc.Command, "guild", hc.Message.GuildID, "user", hc.Message.Author.ID, "error", err)
	if rerr := hc.Reply(genericFailureReply); rerr != nil {
		r.log.Error("reply failed", "command", hc.Command, "error", rerr)
	}
}

func (r *Router) helpHandler(hc *HandlerContext) error {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%s%s - %s", r.prefix, name, r.commands[name].help))
	}
	return hc.Reply(strings.Join(lines, "\n"))
}

// splitCommand separates the command token from the rest of the line. The
// rest is kept verbatim, internal spacing included.
func splitCommand(content string) (string, string) {
	parts := strings.SplitN(content, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}
