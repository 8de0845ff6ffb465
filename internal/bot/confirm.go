package bot

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Confirmer turns a reaction pair on a prompt message into a yes/no
// decision bounded by a timeout. Timeouts and failures resolve to declined.
type Confirmer struct {
	Session   Session
	Reactions *Reactions
	Accept    string
	Decline   string
	Timeout   time.Duration
	Log       *slog.Logger
}

// Confirm posts prompt into channelID and waits for userID to react with
// the accept or decline option. The prompt message is deleted on every
// exit path before the decision is returned.
func (c *Confirmer) Confirm(ctx context.Context, channelID, userID, prompt string) bool {
	msg, err := c.Session.ChannelMessageSend(channelID, prompt)
	if err != nil {
		c.Log.Error("confirmation prompt failed", "channel", channelID, "error", err)
		return false
	}
	defer func() {
		if err := c.Session.ChannelMessageDelete(channelID, msg.ID); err != nil {
			c.Log.Warn("confirmation prompt cleanup failed", "channel", channelID, "message", msg.ID, "error", err)
		}
	}()

	decision := make(chan bool, 1)
	cancel := c.Reactions.Subscribe(func(_ context.Context, r *discordgo.MessageReaction, user *discordgo.User, action ReactionAction) error {
		if action != ReactionAdded || r.MessageID != msg.ID || user.ID != userID {
			return nil
		}
		switch NormalizeEmoji(r.Emoji.Name) {
		case NormalizeEmoji(c.Accept):
			select {
			case decision <- true:
			default:
			}
		case NormalizeEmoji(c.Decline):
			select {
			case decision <- false:
			default:
			}
		}
		return nil
	})
	defer cancel()

	for _, emoji := range []string{c.Accept, c.Decline} {
		if err := c.Session.MessageReactionAdd(channelID, msg.ID, emoji); err != nil {
			c.Log.Warn("confirmation option failed", "emoji", emoji, "error", err)
		}
	}

	timer := time.NewTimer(c.Timeout)
	defer timer.Stop()
	select {
	case ok := <-decision:
		return ok
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
