package bot

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// ReactionAction distinguishes add from remove occurrences.
type ReactionAction int

const (
	ReactionAdded ReactionAction = iota
	ReactionRemoved
)

func (a ReactionAction) String() string {
	if a == ReactionAdded {
		return "add"
	}
	return "remove"
}

// ReactionHandler receives normalized reaction occurrences.
type ReactionHandler func(ctx context.Context, r *discordgo.MessageReaction, user *discordgo.User, action ReactionAction) error

// Reactions filters raw reaction events and fans them out to subscribers.
// Each subscriber is invoked independently; a failure or panic in one never
// suppresses the others.
type Reactions struct {
	session Session
	log     *slog.Logger

	mu        sync.Mutex
	subs      map[int]ReactionHandler
	nextID    int
	botUserID string
}

func NewReactions(session Session, log *slog.Logger) *Reactions {
	return &Reactions{
		session: session,
		log:     log,
		subs:    make(map[int]ReactionHandler),
	}
}

// SetBotUser records the bot's own user ID so self-reactions are filtered.
func (r *Reactions) SetBotUser(id string) {
	r.mu.Lock()
	r.botUserID = id
	r.mu.Unlock()
}

// Subscribe registers a handler and returns its cancel function.
func (r *Reactions) Subscribe(h ReactionHandler) (cancel func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = h
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// HandleAdd normalizes a reaction-add occurrence and fans it out.
func (r *Reactions) HandleAdd(ctx context.Context, e *discordgo.MessageReactionAdd) {
	user := userFromMember(e.Member)
	r.dispatch(ctx, e.MessageReaction, user, ReactionAdded)
}

// HandleRemove normalizes a reaction-remove occurrence and fans it out.
// Remove events carry no member data, so the user is resolved explicitly;
// if resolution fails the event is logged and dropped.
func (r *Reactions) HandleRemove(ctx context.Context, e *discordgo.MessageReactionRemove) {
	r.dispatch(ctx, e.MessageReaction, nil, ReactionRemoved)
}

func (r *Reactions) dispatch(ctx context.Context, mr *discordgo.MessageReaction, user *discordgo.User, action ReactionAction) {
	if mr.GuildID == "" {
		return
	}
	r.mu.Lock()
	self := r.botUserID
	handlers := make([]ReactionHandler, 0, len(r.subs))
	for _, h := range r.subs {
		handlers = append(handlers, h)
	}
	r.mu.Unlock()

	if self != "" && mr.UserID == self {
		return
	}
	if user == nil {
		member, err := r.session.GuildMember(mr.GuildID, mr.UserID)
		if err != nil {
			r.log.Warn("dropping reaction event, user unresolvable",
				"guild", mr.GuildID, "user", mr.UserID, "action", action.String(), "error", err)
			return
		}
		user = userFromMember(member)
	}
	if user == nil || user.Bot {
		return
	}

	for _, h := range handlers {
		r.invoke(ctx, h, mr, user, action)
	}
}

func (r *Reactions) invoke(ctx context.Context, h ReactionHandler, mr *discordgo.MessageReaction, user *discordgo.User, action ReactionAction) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("reaction handler panicked", "guild", mr.GuildID, "panic", rec)
		}
	}()
	if err := h(ctx, mr, user, action); err != nil {
		r.log.Error("reaction handler failed",
			"guild", mr.GuildID, "channel", mr.ChannelID, "user", user.ID, "action", action.String(), "error", err)
	}
}

func userFromMember(m *discordgo.Member) *discordgo.User {
	if m == nil {
		return nil
	}
	return m.User
}
