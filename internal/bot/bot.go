package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"ctfbot/internal/config"
	"ctfbot/internal/store"
)

// Bot owns the dispatch primitives and their wiring to a Discord session.
type Bot struct {
	dg        *discordgo.Session
	Router    *Router
	Reactions *Reactions
	Notifier  *Notifier
	Confirmer *Confirmer
	Scheduler *Scheduler
	log       *slog.Logger
}

func New(dg *discordgo.Session, st store.Store, cfg *config.Config, log *slog.Logger) *Bot {
	reactions := NewReactions(dg, log)
	b := &Bot{
		dg:        dg,
		Router:    NewRouter(dg, st, cfg.CommandPrefix, time.Duration(cfg.TypingDelay), log),
		Reactions: reactions,
		Notifier:  &Notifier{Session: dg, Store: st, Log: log},
		Confirmer: &Confirmer{
			Session:   dg,
			Reactions: reactions,
			Accept:    cfg.AcceptEmoji,
			Decline:   cfg.DeclineEmoji,
			Timeout:   time.Duration(cfg.ConfirmTimeout),
			Log:       log,
		},
		Scheduler: &Scheduler{
			Store:    st,
			Interval: time.Duration(cfg.DigestInterval),
			Log:      log,
		},
		log: log,
	}
	return b
}

// Open connects the session and starts dispatching. The scheduler only
// starts once a broadcast target has been wired in.
func (b *Bot) Open() error {
	b.dg.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentGuildMembers |
		discordgo.IntentsMessageContent

	b.dg.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		b.Router.Dispatch(context.Background(), m)
	})
	b.dg.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionAdd) {
		b.Reactions.HandleAdd(context.Background(), e)
	})
	b.dg.AddHandler(func(_ *discordgo.Session, e *discordgo.MessageReactionRemove) {
		b.Reactions.HandleRemove(context.Background(), e)
	})

	if err := b.dg.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	if b.dg.State != nil && b.dg.State.User != nil {
		b.Reactions.SetBotUser(b.dg.State.User.ID)
	}
	if b.Scheduler.Broadcast != nil {
		b.Scheduler.Start()
	}
	b.log.Info("bot connected")
	return nil
}

func (b *Bot) Close() {
	b.Scheduler.Stop()
	if err := b.dg.Close(); err != nil {
		b.log.Error("session close failed", "error", err)
	}
}
