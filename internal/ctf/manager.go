package ctf

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jedib0t/go-pretty/v6/table"

	"ctfbot/internal/bot"
	"ctfbot/internal/config"
	"ctfbot/internal/domain"
	"ctfbot/internal/events"
	"ctfbot/internal/store"
)

// RolePrefix marks the roles this bot manages.
const RolePrefix = "chall-"

const flagMessageContent = "React this message to get the role"

// RoleName returns the gate role name for a challenge.
func RoleName(challenge string) string {
	return RolePrefix + challenge
}

// Manager implements the challenge lifecycle: a challenge is a text
// channel, a voice channel and a role sharing one name under the active
// category. The text channel is the anchor; voice+role presence is the
// open/solved flag.
type Manager struct {
	Session  bot.Session
	Store    store.Store
	Events   events.Writer
	Notifier *bot.Notifier
	Config   *config.Config
	Log      *slog.Logger
	Now      func() time.Time

	locks guildLocks
}

func NewManager(session bot.Session, st store.Store, ev events.Writer, notifier *bot.Notifier, cfg *config.Config, log *slog.Logger) *Manager {
	return &Manager{
		Session:  session,
		Store:    st,
		Events:   ev,
		Notifier: notifier,
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
	}
}

// challengeView is the re-derived state of one named challenge. Nothing is
// cached; the platform is the authority on what exists.
type challengeView struct {
	Text  *discordgo.Channel
	Voice *discordgo.Channel
	Role  *discordgo.Role
}

func (v challengeView) open() bool         { return v.Voice != nil && v.Role != nil }
func (v challengeView) solved() bool       { return v.Voice == nil && v.Role == nil }
func (v challengeView) inconsistent() bool { return !v.open() && !v.solved() }

// activeCategory resolves the guild's configured active category.
func (m *Manager) activeCategory(ctx context.Context, guildID string) (*discordgo.Channel, error) {
	id, err := m.Store.Find(ctx, guildID, domain.PredicateActiveCategory)
	if errors.Is(err, store.ErrNotFound) {
		return nil, bot.Userf("No active competition is set")
	}
	if err != nil {
		return nil, err
	}
	category, err := m.Session.Channel(id)
	if err != nil {
		return nil, fmt.Errorf("resolve active category %s: %w", id, err)
	}
	if category.Type != discordgo.ChannelTypeGuildCategory {
		return nil, bot.Userf("The configured active competition is not a category")
	}
	return category, nil
}

func resolveChallenge(channels []*discordgo.Channel, roles []*discordgo.Role, categoryID, name string) challengeView {
	var v challengeView
	for _, ch := range channels {
		if ch.ParentID != categoryID || ch.Name != name {
			continue
		}
		switch ch.Type {
		case discordgo.ChannelTypeGuildText:
			v.Text = ch
		case discordgo.ChannelTypeGuildVoice:
			v.Voice = ch
		}
	}
	v.Role = findRole(roles, RoleName(name))
	return v
}

func findRole(roles []*discordgo.Role, name string) *discordgo.Role {
	for _, r := range roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// openTextChannels returns the text channels of currently open challenges
// in the category, sorted by position.
func openTextChannels(channels []*discordgo.Channel, roles []*discordgo.Role, categoryID string) []*discordgo.Channel {
	var open []*discordgo.Channel
	for _, ch := range channels {
		if ch.ParentID != categoryID || ch.Type != discordgo.ChannelTypeGuildText {
			continue
		}
		if findRole(roles, RoleName(ch.Name)) != nil {
			open = append(open, ch)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].Position != open[j].Position {
			return open[i].Position < open[j].Position
		}
		return open[i].Name < open[j].Name
	})
	return open
}

// Create opens a new challenge. The text channel is created first and acts
// as the transaction anchor: if any later step fails it is deleted again
// and the original failure is returned.
func (m *Manager) Create(ctx context.Context, guildID, name, actorID string, reply func(string) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return bot.Userf("Usage: new <name>")
	}
	if strings.ContainsAny(name, " \t") {
		return bot.Userf("Challenge names must not contain whitespace")
	}

	unlock := m.locks.lockChallenge(guildID, name)
	defer unlock()

	category, err := m.activeCategory(ctx, guildID)
	if err != nil {
		return err
	}
	channels, err := m.Session.GuildChannels(guildID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	roles, err := m.Session.GuildRoles(guildID)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	for _, ch := range channels {
		if ch.ParentID == category.ID && ch.Type == discordgo.ChannelTypeGuildText && ch.Name == name {
			return bot.Userf("Challenge %s already exists", name)
		}
	}

	text, err := m.Session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: category.ID,
	})
	if err != nil {
		return fmt.Errorf("create text channel: %w", err)
	}

	if err := m.buildChallenge(guildID, category.ID, name, text, channels, roles); err != nil {
		if _, derr := m.Session.ChannelDelete(text.ID, discordgo.WithAuditLogReason("challenge creation failed")); derr != nil {
			m.Log.Error("rollback of challenge text channel failed",
				"guild", guildID, "challenge", name, "channel", text.ID, "cause", err, "rollback_error", derr)
		} else {
			m.Log.Error("challenge creation rolled back", "guild", guildID, "challenge", name, "cause", err)
		}
		return fmt.Errorf("create challenge %s: %w", name, err)
	}

	m.audit(ctx, "challenge.created", guildID, "challenge", name, actorID, events.EventPayload{"text_channel": text.ID})
	m.Log.Info("challenge created", "guild", guildID, "challenge", name, "actor", actorID)
	if err := reply(fmt.Sprintf("Challenge <#%s> created", text.ID)); err != nil {
		m.Log.Error("reply failed", "guild", guildID, "error", err)
	}
	m.Notifier.Send(ctx, guildID, fmt.Sprintf("Challenge <#%s> created", text.ID))
	return nil
}

// buildChallenge performs every creation step after the anchor channel.
func (m *Manager) buildChallenge(guildID, categoryID, name string, text *discordgo.Channel, channels []*discordgo.Channel, roles []*discordgo.Role) error {
	if _, err := m.Session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildVoice,
		ParentID: categoryID,
	}); err != nil {
		return fmt.Errorf("create voice channel: %w", err)
	}

	hoist, mentionable := true, true
	color := m.Config.RoleColor
	if _, err := m.Session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        RoleName(name),
		Color:       &color,
		Hoist:       &hoist,
		Mentionable: &mentionable,
	}); err != nil {
		return fmt.Errorf("create role: %w", err)
	}

	// Place the new channel right after the last open challenge; with no
	// open challenges the default position stands.
	if open := openTextChannels(channels, roles, categoryID); len(open) > 0 {
		pos := open[len(open)-1].Position + 1
		if _, err := m.Session.ChannelEditComplex(text.ID, &discordgo.ChannelEdit{Position: &pos}); err != nil {
			return fmt.Errorf("position channel: %w", err)
		}
	}

	msg, err := m.Session.ChannelMessageSend(text.ID, flagMessageContent)
	if err != nil {
		return fmt.Errorf("post flag message: %w", err)
	}
	if err := m.Session.ChannelMessagePin(text.ID, msg.ID); err != nil {
		return fmt.Errorf("pin flag message: %w", err)
	}
	if err := m.Session.MessageReactionAdd(text.ID, msg.ID, m.Config.FlagEmoji); err != nil {
		return fmt.Errorf("react to flag message: %w", err)
	}
	return nil
}

// Solve transitions the invoking channel's challenge from open to solved:
// voice and role are removed, the text channel moves to the end of the
// category ordering.
func (m *Manager) Solve(ctx context.Context, guildID, channelID, actorID string, reply func(string) error) error {
	channel, err := m.Session.Channel(channelID)
	if err != nil {
		return fmt.Errorf("resolve channel: %w", err)
	}
	category, err := m.activeCategory(ctx, guildID)
	if err != nil {
		return err
	}
	if channel.ParentID != category.ID {
		return bot.Userf("This channel's competition is not active")
	}

	unlock := m.locks.lockChallenge(guildID, channel.Name)
	defer unlock()

	channels, err := m.Session.GuildChannels(guildID)
	if err != nil {
		return fmt.Errorf("list channels: %w", err)
	}
	roles, err := m.Session.GuildRoles(guildID)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	view := resolveChallenge(channels, roles, category.ID, channel.Name)

	switch {
	case view.solved():
		return bot.Userf("Challenge %s is already solved", channel.Name)
	case view.inconsistent():
		return bot.Userf("Challenge %s is in an inconsistent state (role and voice channel out of sync), manual cleanup required", channel.Name)
	}

	if _, err := m.Session.ChannelDelete(view.Voice.ID, discordgo.WithAuditLogReason("challenge solved")); err != nil {
		return fmt.Errorf("delete voice channel: %w", err)
	}
	if err := m.Session.GuildRoleDelete(guildID, view.Role.ID, discordgo.WithAuditLogReason("challenge solved")); err != nil {
		return fmt.Errorf("delete role: %w", err)
	}
	if err := m.moveToEnd(channel, channels, category.ID); err != nil {
		return err
	}

	m.audit(ctx, "challenge.solved", guildID, "challenge", channel.Name, actorID, nil)
	m.Log.Info("challenge solved", "guild", guildID, "challenge", channel.Name, "actor", actorID)
	if err := reply(fmt.Sprintf("Challenge <#%s> solved", channel.ID)); err != nil {
		m.Log.Error("reply failed", "guild", guildID, "error", err)
	}
	if digest, derr := m.Overview(ctx, guildID); derr == nil {
		m.Notifier.Send(ctx, guildID, digest)
	} else {
		m.Log.Error("overview digest failed", "guild", guildID, "error", derr)
	}
	m.Notifier.Send(ctx, guildID, fmt.Sprintf("Challenge <#%s> solved", channel.ID))
	return nil
}

func (m *Manager) moveToEnd(channel *discordgo.Channel, channels []*discordgo.Channel, categoryID string) error {
	last := channel.Position
	for _, ch := range channels {
		if ch.ParentID == categoryID && ch.Type == discordgo.ChannelTypeGuildText && ch.Position > last {
			last = ch.Position
		}
	}
	pos := last + 1
	if _, err := m.Session.ChannelEditComplex(channel.ID, &discordgo.ChannelEdit{Position: &pos}); err != nil {
		return fmt.Errorf("position channel: %w", err)
	}
	return nil
}

// Clear bulk-resets the guild: every role with the challenge prefix goes,
// then every voice channel under the active category. Text channels stay.
// It runs regardless of individual challenge consistency.
func (m *Manager) Clear(ctx context.Context, guildID, actorID string) error {
	unlock := m.locks.lockGuild(guildID)
	defer unlock()

	roles, err := m.Session.GuildRoles(guildID)
	if err != nil {
		return fmt.Errorf("list roles: %w", err)
	}
	for _, r := range roles {
		if !strings.HasPrefix(r.Name, RolePrefix) {
			continue
		}
		if err := m.Session.GuildRoleDelete(guildID, r.ID, discordgo.WithAuditLogReason("cleared")); err != nil {
			return fmt.Errorf("delete role %s: %w", r.Name, err)
		}
	}

	categoryID, err := m.Store.Find(ctx, guildID, domain.PredicateActiveCategory)
	if err == nil {
		channels, cerr := m.Session.GuildChannels(guildID)
		if cerr != nil {
			return fmt.Errorf("list channels: %w", cerr)
		}
		for _, ch := range channels {
			if ch.ParentID != categoryID || ch.Type != discordgo.ChannelTypeGuildVoice {
				continue
			}
			if _, derr := m.Session.ChannelDelete(ch.ID, discordgo.WithAuditLogReason("cleared")); derr != nil {
				return fmt.Errorf("delete voice channel %s: %w", ch.Name, derr)
			}
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	m.audit(ctx, "challenges.cleared", guildID, "guild", guildID, actorID, nil)
	m.Log.Info("challenges cleared", "guild", guildID, "actor", actorID)
	return nil
}

// Overview renders the digest of open challenges: elapsed time and the
// users currently signed up via the gate role.
func (m *Manager) Overview(ctx context.Context, guildID string) (string, error) {
	category, err := m.activeCategory(ctx, guildID)
	if err != nil {
		return "", err
	}
	channels, err := m.Session.GuildChannels(guildID)
	if err != nil {
		return "", fmt.Errorf("list channels: %w", err)
	}
	roles, err := m.Session.GuildRoles(guildID)
	if err != nil {
		return "", fmt.Errorf("list roles: %w", err)
	}
	open := openTextChannels(channels, roles, category.ID)
	if len(open) == 0 {
		return "No open challenges", nil
	}
	members, err := m.allMembers(guildID)
	if err != nil {
		return "", err
	}

	now := m.Now()
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Challenge", "Open", "Players"})
	for _, ch := range open {
		role := findRole(roles, RoleName(ch.Name))
		elapsed := "?"
		if ts, terr := discordgo.SnowflakeTimestamp(ch.ID); terr == nil {
			elapsed = fmt.Sprintf("%dmin", int(now.Sub(ts).Minutes()))
		}
		tw.AppendRow(table.Row{ch.Name, elapsed, playerList(members, role.ID)})
	}
	return "```\n" + tw.Render() + "\n```", nil
}

// BroadcastOverview composes the digest and sends it to the guild's notify
// channel. Guilds without an active category are skipped quietly so a
// stale running flag never produces failure noise on every tick.
func (m *Manager) BroadcastOverview(ctx context.Context, guildID string) error {
	digest, err := m.Overview(ctx, guildID)
	if err != nil {
		var ue *bot.UserError
		if errors.As(err, &ue) {
			m.Log.Debug("skipping digest", "guild", guildID, "reason", ue.Message)
			return nil
		}
		return err
	}
	m.Notifier.Send(ctx, guildID, digest)
	return nil
}

func (m *Manager) allMembers(guildID string) ([]*discordgo.Member, error) {
	var all []*discordgo.Member
	after := ""
	for {
		page, err := m.Session.GuildMembers(guildID, after, 1000)
		if err != nil {
			return nil, fmt.Errorf("list members: %w", err)
		}
		all = append(all, page...)
		if len(page) < 1000 {
			return all, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func playerList(members []*discordgo.Member, roleID string) string {
	var names []string
	for _, mb := range members {
		for _, r := range mb.Roles {
			if r == roleID {
				names = append(names, mb.User.Username)
				break
			}
		}
	}
	if len(names) == 0 {
		return "Nobody"
	}
	return strings.Join(names, ", ")
}

// audit is best-effort: a failed audit write is logged, never surfaced to
// the user or allowed to abort the operation it records.
func (m *Manager) audit(ctx context.Context, evtType, guildID, entityKind, entityID, actorID string, payload events.EventPayload) {
	if err := m.Events.Append(ctx, evtType, guildID, entityKind, entityID, actorID, payload); err != nil {
		m.Log.Error("audit append failed", "type", evtType, "guild", guildID, "error", err)
	}
}
