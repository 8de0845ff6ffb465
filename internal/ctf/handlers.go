package ctf

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"

	"ctfbot/internal/bot"
	"ctfbot/internal/domain"
	"ctfbot/internal/events"
)

// Register wires the command surface into the router and the reaction sync
// into the reaction fan-out.
func (m *Manager) Register(router *bot.Router, reactions *bot.Reactions, confirmer *bot.Confirmer) {
	router.Add("ctf", "Show the active competition", m.handleCTF)
	router.Add("active", "Make the current channel's category the active competition (admin)", m.handleActive)
	router.Add("notify", "Set the channel competition events are sent to (admin)", m.handleNotify)
	router.Add("new", "Create a challenge in the active competition", m.handleNew)
	router.Add("solve", "Mark the current channel's challenge as solved", m.handleSolve)
	router.Add("overview", "List open challenges and who signed up", m.handleOverview)
	router.Add("clear", "Delete all challenge roles and the active category's voice channels (admin)", m.handleClear)
	router.Add("start", "Enable the periodic competition digest (admin)", m.handleStart)
	router.Add("stop", "Disable the periodic competition digest (admin)", m.handleStop)
	router.Add("delete", "Bulk-delete the last <count> messages in this channel (admin)", m.deleteHandler(confirmer))

	reactions.Subscribe(m.SyncRole)
}

// requireAdmin gates a command on manage-channel permission over the
// invoking channel's category.
func (m *Manager) requireAdmin(hc *bot.HandlerContext) error {
	channel, err := m.Session.Channel(hc.Message.ChannelID)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}
	if channel.ParentID == "" {
		return bot.Userf("Error: category not found")
	}
	perms, err := m.Session.UserChannelPermissions(hc.Message.Author.ID, channel.ParentID)
	if err != nil {
		return fmt.Errorf("resolve permissions: %w", err)
	}
	if perms&discordgo.PermissionManageChannels == 0 {
		return bot.Userf("Permission denied")
	}
	return nil
}

func (m *Manager) handleCTF(hc *bot.HandlerContext) error {
	category, err := m.activeCategory(hc.Ctx, hc.Message.GuildID)
	if err != nil {
		return err
	}
	return hc.Reply(fmt.Sprintf("Current active competition is %s", category.Name))
}

func (m *Manager) handleActive(hc *bot.HandlerContext) error {
	if err := m.requireAdmin(hc); err != nil {
		return err
	}
	channel, err := m.Session.Channel(hc.Message.ChannelID)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}
	if channel.ParentID == "" {
		return bot.Userf("Error: category not found")
	}
	category, err := m.Session.Channel(channel.ParentID)
	if err != nil {
		return fmt.Errorf("resolve category: %w", err)
	}
	if err := hc.Store.Upsert(hc.Ctx, hc.Message.GuildID, domain.PredicateActiveCategory, category.ID); err != nil {
		return err
	}
	m.audit(hc.Ctx, "config.active.set", hc.Message.GuildID, "category", category.ID, hc.Message.Author.ID, nil)
	m.Log.Info("active competition set", "guild", hc.Message.GuildID, "category", category.Name, "actor", hc.Message.Author.ID)
	return hc.Reply(fmt.Sprintf("Current active competition is set to %s", category.Name))
}

func (m *Manager) handleNotify(hc *bot.HandlerContext) error {
	if err := m.requireAdmin(hc); err != nil {
		return err
	}
	target := digitsOnly(hc.Rest)
	if target == "" {
		return bot.Userf("Usage: notify <channel mention or id>")
	}
	channel, err := m.Session.Channel(target)
	if err != nil || channel.GuildID != hc.Message.GuildID || channel.Type != discordgo.ChannelTypeGuildText {
		return bot.Userf("Error: channel not found")
	}
	if err := hc.Store.Upsert(hc.Ctx, hc.Message.GuildID, domain.PredicateNotifyChannel, target); err != nil {
		return err
	}
	m.audit(hc.Ctx, "config.notify.set", hc.Message.GuildID, "channel", target, hc.Message.Author.ID, nil)
	return hc.Reply(fmt.Sprintf("Notifications will be sent to <#%s>", target))
}

func (m *Manager) handleNew(hc *bot.HandlerContext) error {
	return m.Create(hc.Ctx, hc.Message.GuildID, hc.Rest, hc.Message.Author.ID, hc.Reply)
}

func (m *Manager) handleSolve(hc *bot.HandlerContext) error {
	return m.Solve(hc.Ctx, hc.Message.GuildID, hc.Message.ChannelID, hc.Message.Author.ID, hc.Reply)
}

func (m *Manager) handleOverview(hc *bot.HandlerContext) error {
	digest, err := m.Overview(hc.Ctx, hc.Message.GuildID)
	if err != nil {
		return err
	}
	return hc.Reply(digest)
}

func (m *Manager) handleClear(hc *bot.HandlerContext) error {
	if err := m.requireAdmin(hc); err != nil {
		return err
	}
	if err := m.Clear(hc.Ctx, hc.Message.GuildID, hc.Message.Author.ID); err != nil {
		return err
	}
	return hc.Reply("Clear done")
}

func (m *Manager) handleStart(hc *bot.HandlerContext) error {
	if err := m.requireAdmin(hc); err != nil {
		return err
	}
	if err := hc.Store.Upsert(hc.Ctx, hc.Message.GuildID, domain.PredicateCompetitionRunning, "true"); err != nil {
		return err
	}
	m.audit(hc.Ctx, "competition.started", hc.Message.GuildID, "guild", hc.Message.GuildID, hc.Message.Author.ID, nil)
	return hc.Reply("Competition digests enabled")
}

func (m *Manager) handleStop(hc *bot.HandlerContext) error {
	if err := m.requireAdmin(hc); err != nil {
		return err
	}
	if err := hc.Store.Upsert(hc.Ctx, hc.Message.GuildID, domain.PredicateCompetitionRunning, "false"); err != nil {
		return err
	}
	m.audit(hc.Ctx, "competition.stopped", hc.Message.GuildID, "guild", hc.Message.GuildID, hc.Message.Author.ID, nil)
	return hc.Reply("Competition digests disabled")
}

func (m *Manager) deleteHandler(confirmer *bot.Confirmer) bot.Handler {
	return func(hc *bot.HandlerContext) error {
		if err := m.requireAdmin(hc); err != nil {
			return err
		}
		count, err := strconv.Atoi(strings.TrimSpace(hc.Rest))
		if err != nil || count < 1 || count > 100 {
			return bot.Userf("Usage: delete <count between 1 and 100>")
		}

		prompt := fmt.Sprintf("<@%s> delete the last %d messages in this channel? React %s to confirm.",
			hc.Message.Author.ID, count, confirmer.Accept)
		if !confirmer.Confirm(hc.Ctx, hc.Message.ChannelID, hc.Message.Author.ID, prompt) {
			return hc.Reply("Deletion cancelled")
		}

		msgs, err := m.Session.ChannelMessages(hc.Message.ChannelID, count, hc.Message.ID, "", "")
		if err != nil {
			return fmt.Errorf("list messages: %w", err)
		}
		ids := make([]string, 0, len(msgs))
		for _, msg := range msgs {
			ids = append(ids, msg.ID)
		}
		if len(ids) > 0 {
			if err := m.Session.ChannelMessagesBulkDelete(hc.Message.ChannelID, ids); err != nil {
				return fmt.Errorf("bulk delete: %w", err)
			}
		}
		m.audit(hc.Ctx, "messages.deleted", hc.Message.GuildID, "channel", hc.Message.ChannelID, hc.Message.Author.ID,
			events.EventPayload{"count": len(ids)})
		return hc.Reply(fmt.Sprintf("Deleted %d messages", len(ids)))
	}
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
