package ctf_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"ctfbot/internal/bot"
	"ctfbot/internal/chattest"
	"ctfbot/internal/config"
	"ctfbot/internal/ctf"
	"ctfbot/internal/db"
	"ctfbot/internal/domain"
	"ctfbot/internal/events"
	"ctfbot/internal/migrate"
	"ctfbot/internal/store"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	f   *chattest.Fake
	st  store.Store
	ev  events.Writer
	m   *ctf.Manager
	cat *discordgo.Channel

	replies []string
}

// newEnv builds a guild with one active category and a manager over it.
func newEnv(t *testing.T) *env {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	e := &env{
		f:  chattest.New("g1"),
		st: store.Store{DB: conn},
		ev: events.Writer{DB: conn},
	}
	e.cat = e.f.AddCategory("ctf-2026")
	if err := e.st.Upsert(context.Background(), "g1", domain.PredicateActiveCategory, e.cat.ID); err != nil {
		t.Fatal(err)
	}

	log := discardLogger()
	notifier := &bot.Notifier{Session: e.f, Store: e.st, Log: log}
	e.m = ctf.NewManager(e.f, e.st, e.ev, notifier, config.Default(), log)
	return e
}

func (e *env) reply(s string) error {
	e.replies = append(e.replies, s)
	return nil
}

// openChallenge seeds an open challenge directly on the fake guild.
func (e *env) openChallenge(name string) (*discordgo.Channel, *discordgo.Channel, *discordgo.Role) {
	text := e.f.AddTextChannel(name, e.cat.ID)
	voice := e.f.AddVoiceChannel(name, e.cat.ID)
	role := e.f.AddRole(ctf.RoleName(name))
	return text, voice, role
}

func isUserError(err error) bool {
	var ue *bot.UserError
	return errors.As(err, &ue)
}

func TestCreateChallenge(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	if err := e.m.Create(ctx, "g1", "web100", "admin", e.reply); err != nil {
		t.Fatalf("create: %v", err)
	}

	text := e.f.ChannelByName("web100", discordgo.ChannelTypeGuildText)
	if text == nil || text.ParentID != e.cat.ID {
		t.Fatal("text channel missing or misparented")
	}
	voice := e.f.ChannelByName("web100", discordgo.ChannelTypeGuildVoice)
	if voice == nil || voice.ParentID != e.cat.ID {
		t.Fatal("voice channel missing or misparented")
	}
	if e.f.RoleByName("chall-web100") == nil {
		t.Fatal("gate role missing")
	}

	sent := e.f.SentIn(text.ID)
	if len(sent) != 1 || sent[0] != "React this message to get the role" {
		t.Fatalf("unexpected flag message: %v", sent)
	}
	if len(e.f.Pinned) != 1 || e.f.Pinned[0].ChannelID != text.ID {
		t.Fatal("flag message not pinned")
	}
	if len(e.f.Reacted) != 1 || e.f.Reacted[0].Emoji != config.Default().FlagEmoji {
		t.Fatalf("flag message not pre-reacted: %v", e.f.Reacted)
	}

	want := "Challenge <#" + text.ID + "> created"
	if len(e.replies) != 1 || e.replies[0] != want {
		t.Fatalf("unexpected reply: %v", e.replies)
	}

	evs, err := e.ev.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Type != "challenge.created" || evs[0].EntityID != "web100" {
		t.Fatalf("unexpected audit trail: %+v", evs)
	}
}

func TestCreateDuplicateRejected(t *testing.T) {
	e := newEnv(t)
	e.openChallenge("web100")

	err := e.m.Create(context.Background(), "g1", "web100", "admin", e.reply)
	if !isUserError(err) || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestCreateRejectsBadNames(t *testing.T) {
	e := newEnv(t)
	for _, name := range []string{"", "   ", "two words"} {
		err := e.m.Create(context.Background(), "g1", name, "admin", e.reply)
		if !isUserError(err) {
			t.Fatalf("name %q: expected user error, got %v", name, err)
		}
	}
}

func TestCreateWithoutActiveCategory(t *testing.T) {
	e := newEnv(t)
	err := e.m.Create(context.Background(), "g2", "web100", "admin", e.reply)
	if !isUserError(err) || !strings.Contains(err.Error(), "No active competition") {
		t.Fatalf("expected missing-category error, got %v", err)
	}
}

func TestCreateRollsBackOnFailure(t *testing.T) {
	e := newEnv(t)
	e.f.Fail["GuildRoleCreate"] = errors.New("missing permission")

	err := e.m.Create(context.Background(), "g1", "web100", "admin", e.reply)
	if err == nil || isUserError(err) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if e.f.ChannelByName("web100", discordgo.ChannelTypeGuildText) != nil {
		t.Fatal("anchor text channel not rolled back")
	}
	if len(e.f.DeletedChannels) != 1 {
		t.Fatalf("expected one rollback deletion, got %v", e.f.DeletedChannels)
	}
	if len(e.replies) != 0 {
		t.Fatalf("failed creation still replied: %v", e.replies)
	}
}

func TestSolve(t *testing.T) {
	e := newEnv(t)
	text, _, _ := e.openChallenge("web100")
	ctx := context.Background()

	if err := e.m.Solve(ctx, "g1", text.ID, "admin", e.reply); err != nil {
		t.Fatalf("solve: %v", err)
	}
	if e.f.ChannelByName("web100", discordgo.ChannelTypeGuildVoice) != nil {
		t.Fatal("voice channel survived solve")
	}
	if e.f.RoleByName("chall-web100") != nil {
		t.Fatal("role survived solve")
	}
	if e.f.ChannelByName("web100", discordgo.ChannelTypeGuildText) == nil {
		t.Fatal("text channel must survive solve")
	}
	want := "Challenge <#" + text.ID + "> solved"
	if len(e.replies) != 1 || e.replies[0] != want {
		t.Fatalf("unexpected reply: %v", e.replies)
	}
}

func TestSolveAlreadySolved(t *testing.T) {
	e := newEnv(t)
	text := e.f.AddTextChannel("web100", e.cat.ID)

	err := e.m.Solve(context.Background(), "g1", text.ID, "admin", e.reply)
	if !isUserError(err) || !strings.Contains(err.Error(), "already solved") {
		t.Fatalf("expected already-solved error, got %v", err)
	}
}

func TestSolveInconsistentState(t *testing.T) {
	e := newEnv(t)
	text := e.f.AddTextChannel("web100", e.cat.ID)
	e.f.AddRole(ctf.RoleName("web100")) // role without voice

	err := e.m.Solve(context.Background(), "g1", text.ID, "admin", e.reply)
	if !isUserError(err) || !strings.Contains(err.Error(), "inconsistent") {
		t.Fatalf("expected inconsistency error, got %v", err)
	}
	if e.f.RoleByName("chall-web100") == nil {
		t.Fatal("inconsistent solve mutated guild state")
	}
}

func TestSolveOutsideActiveCategory(t *testing.T) {
	e := newEnv(t)
	old := e.f.AddCategory("ctf-2025")
	text := e.f.AddTextChannel("web100", old.ID)
	e.f.AddVoiceChannel("web100", old.ID)
	e.f.AddRole(ctf.RoleName("web100"))

	err := e.m.Solve(context.Background(), "g1", text.ID, "admin", e.reply)
	if !isUserError(err) || !strings.Contains(err.Error(), "not active") {
		t.Fatalf("expected inactive-category error, got %v", err)
	}
	if e.f.RoleByName("chall-web100") == nil || e.f.ChannelByName("web100", discordgo.ChannelTypeGuildVoice) == nil {
		t.Fatal("solve outside active category mutated guild state")
	}
}

func TestSolveSendsDigestBeforeSolvedNotice(t *testing.T) {
	e := newEnv(t)
	notify := e.f.AddTextChannel("general", "")
	if err := e.st.Upsert(context.Background(), "g1", domain.PredicateNotifyChannel, notify.ID); err != nil {
		t.Fatal(err)
	}
	text, _, _ := e.openChallenge("web100")
	e.openChallenge("pwn200")

	if err := e.m.Solve(context.Background(), "g1", text.ID, "admin", e.reply); err != nil {
		t.Fatalf("solve: %v", err)
	}
	sent := e.f.SentIn(notify.ID)
	if len(sent) != 2 {
		t.Fatalf("expected digest then solved notice, got %v", sent)
	}
	if !strings.Contains(sent[0], "pwn200") {
		t.Fatalf("first notification should be the digest, got %q", sent[0])
	}
	if sent[1] != "Challenge <#"+text.ID+"> solved" {
		t.Fatalf("unexpected solved notice: %q", sent[1])
	}
}

func TestClear(t *testing.T) {
	e := newEnv(t)
	e.openChallenge("web100")
	e.openChallenge("pwn200")
	e.f.AddTextChannel("misc300", e.cat.ID) // already solved
	team := e.f.AddRole("team-red")

	if err := e.m.Clear(context.Background(), "g1", "admin"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if e.f.RoleByName("chall-web100") != nil || e.f.RoleByName("chall-pwn200") != nil {
		t.Fatal("challenge roles survived clear")
	}
	if e.f.ChannelByName("web100", discordgo.ChannelTypeGuildVoice) != nil {
		t.Fatal("voice channels survived clear")
	}
	for _, name := range []string{"web100", "pwn200", "misc300"} {
		if e.f.ChannelByName(name, discordgo.ChannelTypeGuildText) == nil {
			t.Fatalf("text channel %s deleted by clear", name)
		}
	}
	if e.f.RoleByName("team-red") == nil || team == nil {
		t.Fatal("unrelated role deleted by clear")
	}
}

func TestClearWithoutActiveCategorySkipsVoice(t *testing.T) {
	e := newEnv(t)
	e.openChallenge("web100")

	// No active-category fact for this guild: roles still go, voice stays.
	if err := e.m.Clear(context.Background(), "g2", "admin"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if e.f.RoleByName("chall-web100") != nil {
		t.Fatal("challenge role survived clear")
	}
	if e.f.ChannelByName("web100", discordgo.ChannelTypeGuildVoice) == nil {
		t.Fatal("voice channel deleted without an active category")
	}
}

func TestOverview(t *testing.T) {
	e := newEnv(t)
	_, _, role := e.openChallenge("web100")
	e.openChallenge("pwn200")
	e.f.AddMember("u1", "alice", role.ID)
	e.f.AddMember("u2", "bob")

	digest, err := e.m.Overview(context.Background(), "g1")
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if !strings.HasPrefix(digest, "```") || !strings.HasSuffix(digest, "```") {
		t.Fatalf("digest not fenced: %q", digest)
	}
	for _, want := range []string{"web100", "pwn200", "alice", "Nobody"} {
		if !strings.Contains(digest, want) {
			t.Fatalf("digest missing %q: %q", want, digest)
		}
	}
	if strings.Contains(digest, "bob") {
		t.Fatalf("digest lists a user without the role: %q", digest)
	}
}

func TestOverviewEmpty(t *testing.T) {
	e := newEnv(t)
	digest, err := e.m.Overview(context.Background(), "g1")
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if digest != "No open challenges" {
		t.Fatalf("unexpected digest: %q", digest)
	}
}

func TestBroadcastOverview(t *testing.T) {
	e := newEnv(t)
	notify := e.f.AddTextChannel("general", "")
	if err := e.st.Upsert(context.Background(), "g1", domain.PredicateNotifyChannel, notify.ID); err != nil {
		t.Fatal(err)
	}
	e.openChallenge("web100")

	if err := e.m.BroadcastOverview(context.Background(), "g1"); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	sent := e.f.SentIn(notify.ID)
	if len(sent) != 1 || !strings.Contains(sent[0], "web100") {
		t.Fatalf("unexpected broadcast: %v", sent)
	}
}

func TestBroadcastOverviewSkipsUnconfiguredGuild(t *testing.T) {
	e := newEnv(t)
	if err := e.m.BroadcastOverview(context.Background(), "g2"); err != nil {
		t.Fatalf("unconfigured guild should be skipped quietly, got %v", err)
	}
}
