// Package chattest provides an in-memory stand-in for the Discord session
// surface the bot consumes, for use in tests.
package chattest

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
)

type Reaction struct {
	ChannelID string
	MessageID string
	Emoji     string
}

// Fake models one guild's channels, roles, members and messages. Methods
// mirror the discordgo session subset the bot uses; Fail forces a named
// method to return an error.
type Fake struct {
	mu sync.Mutex

	GuildID  string
	channels map[string]*discordgo.Channel
	roles    map[string]*discordgo.Role
	members  map[string]*discordgo.Member
	messages map[string][]*discordgo.Message

	// Perms maps user ID to the permission bits returned for any channel.
	Perms map[string]int64
	// Fail maps a method name to the error it should return.
	Fail map[string]error

	Pinned          []Reaction
	Reacted         []Reaction
	Typing          []string
	DeletedChannels []string
	DeletedRoles    []string
	DeletedMessages []Reaction
	BulkDeleted     map[string][]string

	nextID int64
}

func New(guildID string) *Fake {
	return &Fake{
		GuildID:     guildID,
		channels:    make(map[string]*discordgo.Channel),
		roles:       make(map[string]*discordgo.Role),
		members:     make(map[string]*discordgo.Member),
		messages:    make(map[string][]*discordgo.Message),
		Perms:       make(map[string]int64),
		Fail:        make(map[string]error),
		BulkDeleted: make(map[string][]string),
		nextID:      1000,
	}
}

func (f *Fake) id() string {
	f.nextID++
	return fmt.Sprintf("%d", f.nextID)
}

func (f *Fake) fail(method string) error {
	return f.Fail[method]
}

// --- fixture builders ---

func (f *Fake) AddCategory(name string) *discordgo.Channel {
	return f.addChannel(name, "", discordgo.ChannelTypeGuildCategory)
}

func (f *Fake) AddTextChannel(name, parentID string) *discordgo.Channel {
	return f.addChannel(name, parentID, discordgo.ChannelTypeGuildText)
}

func (f *Fake) AddVoiceChannel(name, parentID string) *discordgo.Channel {
	return f.addChannel(name, parentID, discordgo.ChannelTypeGuildVoice)
}

func (f *Fake) addChannel(name, parentID string, t discordgo.ChannelType) *discordgo.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := &discordgo.Channel{
		ID:       f.id(),
		GuildID:  f.GuildID,
		Name:     name,
		Type:     t,
		ParentID: parentID,
		Position: len(f.channels),
	}
	f.channels[ch.ID] = ch
	return ch
}

func (f *Fake) AddRole(name string) *discordgo.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &discordgo.Role{ID: f.id(), Name: name}
	f.roles[r.ID] = r
	return r
}

func (f *Fake) AddMember(userID, username string, roleIDs ...string) *discordgo.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := &discordgo.Member{
		GuildID: f.GuildID,
		User:    &discordgo.User{ID: userID, Username: username},
		Roles:   roleIDs,
	}
	f.members[userID] = m
	return m
}

// --- inspection helpers ---

func (f *Fake) ChannelByName(name string, t discordgo.ChannelType) *discordgo.Channel {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.channels {
		if ch.Name == name && ch.Type == t {
			return ch
		}
	}
	return nil
}

func (f *Fake) RoleByName(name string) *discordgo.Role {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.roles {
		if r.Name == name {
			return r
		}
	}
	return nil
}

func (f *Fake) Member(userID string) *discordgo.Member {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.members[userID]
}

// MessagesIn returns the messages currently in a channel, oldest first.
func (f *Fake) MessagesIn(channelID string) []*discordgo.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*discordgo.Message, len(f.messages[channelID]))
	copy(out, f.messages[channelID])
	return out
}

// SentIn returns the contents of every message sent into a channel.
func (f *Fake) SentIn(channelID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.messages[channelID] {
		out = append(out, m.Content)
	}
	return out
}

// --- session surface ---

func (f *Fake) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if err := f.fail("ChannelMessageSend"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg := &discordgo.Message{
		ID:        f.id(),
		ChannelID: channelID,
		Content:   content,
		Author:    &discordgo.User{ID: "bot", Bot: true},
	}
	f.messages[channelID] = append(f.messages[channelID], msg)
	return msg, nil
}

func (f *Fake) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	if err := f.fail("ChannelMessageDelete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[channelID]
	for i, m := range msgs {
		if m.ID == messageID {
			f.messages[channelID] = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	f.DeletedMessages = append(f.DeletedMessages, Reaction{ChannelID: channelID, MessageID: messageID})
	return nil
}

func (f *Fake) ChannelMessagesBulkDelete(channelID string, messages []string, _ ...discordgo.RequestOption) error {
	if err := f.fail("ChannelMessagesBulkDelete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.BulkDeleted[channelID] = append(f.BulkDeleted[channelID], messages...)
	return nil
}

func (f *Fake) ChannelMessages(channelID string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	if err := f.fail("ChannelMessages"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.messages[channelID]
	end := len(msgs)
	if beforeID != "" {
		for i, m := range msgs {
			if m.ID == beforeID {
				end = i
				break
			}
		}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	out := make([]*discordgo.Message, 0, end-start)
	for i := end - 1; i >= start; i-- {
		out = append(out, msgs[i])
	}
	return out, nil
}

func (f *Fake) ChannelMessagePin(channelID, messageID string, _ ...discordgo.RequestOption) error {
	if err := f.fail("ChannelMessagePin"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pinned = append(f.Pinned, Reaction{ChannelID: channelID, MessageID: messageID})
	return nil
}

func (f *Fake) MessageReactionAdd(channelID, messageID, emojiID string, _ ...discordgo.RequestOption) error {
	if err := f.fail("MessageReactionAdd"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reacted = append(f.Reacted, Reaction{ChannelID: channelID, MessageID: messageID, Emoji: emojiID})
	return nil
}

func (f *Fake) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	if err := f.fail("ChannelTyping"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Typing = append(f.Typing, channelID)
	return nil
}

func (f *Fake) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if err := f.fail("Channel"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	return ch, nil
}

func (f *Fake) GuildChannels(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Channel, error) {
	if err := f.fail("GuildChannels"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*discordgo.Channel
	for _, ch := range f.channels {
		out = append(out, ch)
	}
	return out, nil
}

func (f *Fake) GuildChannelCreateComplex(guildID string, data discordgo.GuildChannelCreateData, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if err := f.fail("GuildChannelCreateComplex"); err != nil {
		return nil, err
	}
	if data.Type == discordgo.ChannelTypeGuildVoice {
		if err := f.fail("GuildChannelCreateComplex.voice"); err != nil {
			return nil, err
		}
	}
	return f.addChannel(data.Name, data.ParentID, data.Type), nil
}

func (f *Fake) ChannelDelete(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if err := f.fail("ChannelDelete"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	delete(f.channels, channelID)
	f.DeletedChannels = append(f.DeletedChannels, channelID)
	return ch, nil
}

func (f *Fake) ChannelEditComplex(channelID string, data *discordgo.ChannelEdit, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	if err := f.fail("ChannelEditComplex"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	if data.Position != nil {
		ch.Position = *data.Position
	}
	return ch, nil
}

func (f *Fake) GuildRoles(guildID string, _ ...discordgo.RequestOption) ([]*discordgo.Role, error) {
	if err := f.fail("GuildRoles"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*discordgo.Role
	for _, r := range f.roles {
		out = append(out, r)
	}
	return out, nil
}

func (f *Fake) GuildRoleCreate(guildID string, data *discordgo.RoleParams, _ ...discordgo.RequestOption) (*discordgo.Role, error) {
	if err := f.fail("GuildRoleCreate"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &discordgo.Role{ID: f.id(), Name: data.Name}
	if data.Color != nil {
		r.Color = *data.Color
	}
	f.roles[r.ID] = r
	return r, nil
}

func (f *Fake) GuildRoleDelete(guildID, roleID string, _ ...discordgo.RequestOption) error {
	if err := f.fail("GuildRoleDelete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.roles[roleID]; !ok {
		return fmt.Errorf("unknown role %s", roleID)
	}
	delete(f.roles, roleID)
	for _, m := range f.members {
		for i, rid := range m.Roles {
			if rid == roleID {
				m.Roles = append(m.Roles[:i:i], m.Roles[i+1:]...)
				break
			}
		}
	}
	f.DeletedRoles = append(f.DeletedRoles, roleID)
	return nil
}

func (f *Fake) GuildMember(guildID, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	if err := f.fail("GuildMember"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return nil, fmt.Errorf("unknown member %s", userID)
	}
	return m, nil
}

func (f *Fake) GuildMembers(guildID, after string, limit int, _ ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	if err := f.fail("GuildMembers"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*discordgo.Member
	for _, m := range f.members {
		out = append(out, m)
	}
	return out, nil
}

func (f *Fake) GuildMemberRoleAdd(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	if err := f.fail("GuildMemberRoleAdd"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return fmt.Errorf("unknown member %s", userID)
	}
	for _, rid := range m.Roles {
		if rid == roleID {
			return nil
		}
	}
	m.Roles = append(m.Roles, roleID)
	return nil
}

func (f *Fake) GuildMemberRoleRemove(guildID, userID, roleID string, _ ...discordgo.RequestOption) error {
	if err := f.fail("GuildMemberRoleRemove"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.members[userID]
	if !ok {
		return fmt.Errorf("unknown member %s", userID)
	}
	for i, rid := range m.Roles {
		if rid == roleID {
			m.Roles = append(m.Roles[:i:i], m.Roles[i+1:]...)
			return nil
		}
	}
	return nil
}

func (f *Fake) UserChannelPermissions(userID, channelID string, _ ...discordgo.RequestOption) (int64, error) {
	if err := f.fail("UserChannelPermissions"); err != nil {
		return 0, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Perms[userID], nil
}
