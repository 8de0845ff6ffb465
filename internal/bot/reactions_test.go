package bot_test

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"

	"ctfbot/internal/bot"
	"ctfbot/internal/chattest"
)

func reactionAdd(userID, messageID, emoji string) *discordgo.MessageReactionAdd {
	return &discordgo.MessageReactionAdd{
		MessageReaction: &discordgo.MessageReaction{
			UserID:    userID,
			MessageID: messageID,
			ChannelID: "c1",
			GuildID:   "g1",
			Emoji:     discordgo.Emoji{Name: emoji},
		},
		Member: &discordgo.Member{User: &discordgo.User{ID: userID}},
	}
}

func reactionRemove(userID, messageID, emoji string) *discordgo.MessageReactionRemove {
	return &discordgo.MessageReactionRemove{
		MessageReaction: &discordgo.MessageReaction{
			UserID:    userID,
			MessageID: messageID,
			ChannelID: "c1",
			GuildID:   "g1",
			Emoji:     discordgo.Emoji{Name: emoji},
		},
	}
}

func TestFanOutIsolatesFailures(t *testing.T) {
	f := chattest.New("g1")
	rx := bot.NewReactions(f, discardLogger())

	var calls []string
	rx.Subscribe(func(_ context.Context, _ *discordgo.MessageReaction, _ *discordgo.User, _ bot.ReactionAction) error {
		calls = append(calls, "panic")
		panic("boom")
	})
	rx.Subscribe(func(_ context.Context, _ *discordgo.MessageReaction, _ *discordgo.User, _ bot.ReactionAction) error {
		calls = append(calls, "error")
		return errors.New("boom")
	})
	rx.Subscribe(func(_ context.Context, _ *discordgo.MessageReaction, _ *discordgo.User, _ bot.ReactionAction) error {
		calls = append(calls, "ok")
		return nil
	})

	rx.HandleAdd(context.Background(), reactionAdd("u1", "m1", "🏳"))
	if len(calls) != 3 {
		t.Fatalf("expected all 3 subscribers invoked, got %v", calls)
	}
}

func TestSelfReactionsFiltered(t *testing.T) {
	f := chattest.New("g1")
	rx := bot.NewReactions(f, discardLogger())
	rx.SetBotUser("bot-1")

	called := false
	rx.Subscribe(func(_ context.Context, _ *discordgo.MessageReaction, _ *discordgo.User, _ bot.ReactionAction) error {
		called = true
		return nil
	})

	rx.HandleAdd(context.Background(), reactionAdd("bot-1", "m1", "🏳"))
	if called {
		t.Fatal("self-reaction reached subscribers")
	}
}

func TestBotUserReactionsFiltered(t *testing.T) {
	f := chattest.New("g1")
	rx := bot.NewReactions(f, discardLogger())

	called := false
	rx.Subscribe(func(_ context.Context, _ *discordgo.MessageReaction, _ *discordgo.User, _ bot.ReactionAction) error {
		called = true
		return nil
	})

	e := reactionAdd("u9", "m1", "🏳")
	e.Member.User.Bot = true
	rx.HandleAdd(context.Background(), e)
	if called {
		t.Fatal("bot user reaction reached subscribers")
	}
}

func TestRemoveResolvesUser(t *testing.T) {
	f := chattest.New("g1")
	f.AddMember("u1", "alice")
	rx := bot.NewReactions(f, discardLogger())

	var gotUser string
	var gotAction bot.ReactionAction
	rx.Subscribe(func(_ context.Context, _ *discordgo.MessageReaction, user *discordgo.User, action bot.ReactionAction) error {
		gotUser = user.Username
		gotAction = action
		return nil
	})

	rx.HandleRemove(context.Background(), reactionRemove("u1", "m1", "🏳"))
	if gotUser != "alice" || gotAction != bot.ReactionRemoved {
		t.Fatalf("expected resolved remove for alice, got user=%q action=%v", gotUser, gotAction)
	}
}

func TestRemoveWithUnresolvableUserDropped(t *testing.T) {
	f := chattest.New("g1")
	rx := bot.NewReactions(f, discardLogger())

	called := false
	rx.Subscribe(func(_ context.Context, _ *discordgo.MessageReaction, _ *discordgo.User, _ bot.ReactionAction) error {
		called = true
		return nil
	})

	rx.HandleRemove(context.Background(), reactionRemove("ghost", "m1", "🏳"))
	if called {
		t.Fatal("unresolvable user reached subscribers")
	}
}

func TestDirectMessageReactionsIgnored(t *testing.T) {
	f := chattest.New("g1")
	rx := bot.NewReactions(f, discardLogger())

	called := false
	rx.Subscribe(func(_ context.Context, _ *discordgo.MessageReaction, _ *discordgo.User, _ bot.ReactionAction) error {
		called = true
		return nil
	})

	e := reactionAdd("u1", "m1", "🏳")
	e.GuildID = ""
	rx.HandleAdd(context.Background(), e)
	if called {
		t.Fatal("DM reaction reached subscribers")
	}
}

func TestSubscribeCancel(t *testing.T) {
	f := chattest.New("g1")
	rx := bot.NewReactions(f, discardLogger())

	called := false
	cancel := rx.Subscribe(func(_ context.Context, _ *discordgo.MessageReaction, _ *discordgo.User, _ bot.ReactionAction) error {
		called = true
		return nil
	})
	cancel()

	rx.HandleAdd(context.Background(), reactionAdd("u1", "m1", "🏳"))
	if called {
		t.Fatal("cancelled subscriber was invoked")
	}
}

func TestNormalizeEmoji(t *testing.T) {
	if bot.NormalizeEmoji("🏳️") != bot.NormalizeEmoji("🏳") {
		t.Fatal("variation selector not stripped")
	}
	if bot.NormalizeEmoji("✅") != "✅" {
		t.Fatal("plain emoji altered")
	}
}
