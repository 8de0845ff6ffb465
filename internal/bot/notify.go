package bot

import (
	"context"
	"errors"
	"log/slog"

	"ctfbot/internal/domain"
	"ctfbot/internal/store"
)

// Notifier sends event messages to a guild's configured notify channel.
// Delivery is best-effort: a guild without a notify channel is a no-op and
// failures are logged, never propagated.
type Notifier struct {
	Session Session
	Store   store.Store
	Log     *slog.Logger
}

func (n *Notifier) Send(ctx context.Context, guildID, content string) {
	channelID, err := n.Store.Find(ctx, guildID, domain.PredicateNotifyChannel)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			n.Log.Error("notify channel lookup failed", "guild", guildID, "error", err)
		}
		return
	}
	if _, err := n.Session.ChannelMessageSend(channelID, content); err != nil {
		n.Log.Error("notification delivery failed", "guild", guildID, "channel", channelID, "error", err)
	}
}
