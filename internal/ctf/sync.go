package ctf

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"ctfbot/internal/bot"
	"ctfbot/internal/domain"
	"ctfbot/internal/store"
)

// SyncRole keeps the gate role in step with flag reactions on a
// challenge's channel. Adding the flag grants the role; removing it
// revokes the role. Revocation deliberately skips the active-category
// check: opting out must never be blocked by configuration drift.
func (m *Manager) SyncRole(ctx context.Context, r *discordgo.MessageReaction, user *discordgo.User, action bot.ReactionAction) error {
	if bot.NormalizeEmoji(r.Emoji.Name) != bot.NormalizeEmoji(m.Config.FlagEmoji) {
		return nil
	}
	channel, err := m.Session.Channel(r.ChannelID)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}
	if channel.Type != discordgo.ChannelTypeGuildText {
		return nil
	}

	if action == bot.ReactionAdded {
		categoryID, err := m.Store.Find(ctx, r.GuildID, domain.PredicateActiveCategory)
		if errors.Is(err, store.ErrNotFound) || (err == nil && channel.ParentID != categoryID) {
			_, serr := m.Session.ChannelMessageSend(channel.ID, fmt.Sprintf("<@%s> this channel's competition is not active", user.ID))
			return serr
		}
		if err != nil {
			return err
		}
	}

	roles, err := m.Session.GuildRoles(r.GuildID)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	role := findRole(roles, RoleName(channel.Name))
	if role == nil {
		_, serr := m.Session.ChannelMessageSend(channel.ID, fmt.Sprintf("<@%s> role for this challenge was not found", user.ID))
		return serr
	}

	if action == bot.ReactionAdded {
		if err := m.Session.GuildMemberRoleAdd(r.GuildID, user.ID, role.ID); err != nil {
			return fmt.Errorf("grant role: %w", err)
		}
		return nil
	}
	if err := m.Session.GuildMemberRoleRemove(r.GuildID, user.ID, role.ID); err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}
