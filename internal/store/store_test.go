package store_test

import (
	"context"
	"errors"
	"testing"

	"ctfbot/internal/db"
	"ctfbot/internal/domain"
	"ctfbot/internal/migrate"
	"ctfbot/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store.Store{DB: conn}
}

func TestUpsertIsSingleValued(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	if err := st.Upsert(ctx, "g1", domain.PredicateActiveCategory, "cat-1"); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := st.Upsert(ctx, "g1", domain.PredicateActiveCategory, "cat-2"); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err := st.Find(ctx, "g1", domain.PredicateActiveCategory)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got != "cat-2" {
		t.Fatalf("expected cat-2, got %s", got)
	}

	var count int
	if err := st.DB.QueryRowContext(ctx, `SELECT count(*) FROM facts WHERE guild_id='g1'`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single fact row, got %d", count)
	}
}

func TestFindMissing(t *testing.T) {
	st := newTestStore(t)
	_, err := st.Find(context.Background(), "g1", domain.PredicateNotifyChannel)
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByPredicate(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	if err := st.Upsert(ctx, "g2", domain.PredicateCompetitionRunning, "true"); err != nil {
		t.Fatal(err)
	}
	if err := st.Upsert(ctx, "g1", domain.PredicateCompetitionRunning, "false"); err != nil {
		t.Fatal(err)
	}
	if err := st.Upsert(ctx, "g1", domain.PredicateNotifyChannel, "ch-9"); err != nil {
		t.Fatal(err)
	}

	facts, err := st.ListByPredicate(ctx, domain.PredicateCompetitionRunning)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(facts) != 2 {
		t.Fatalf("expected 2 facts, got %d", len(facts))
	}
	if facts[0].GuildID != "g1" || facts[0].Object != "false" {
		t.Fatalf("unexpected first fact: %+v", facts[0])
	}
	if facts[1].GuildID != "g2" || facts[1].Object != "true" {
		t.Fatalf("unexpected second fact: %+v", facts[1])
	}
}

func TestGuildConfigView(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	cfg, err := st.GuildConfig(ctx, "g1")
	if err != nil {
		t.Fatalf("empty view: %v", err)
	}
	if cfg.ActiveCategoryID != "" || cfg.NotifyChannelID != "" || cfg.CompetitionRunning {
		t.Fatalf("expected zero view, got %+v", cfg)
	}

	if err := st.Upsert(ctx, "g1", domain.PredicateActiveCategory, "cat-1"); err != nil {
		t.Fatal(err)
	}
	if err := st.Upsert(ctx, "g1", domain.PredicateCompetitionRunning, "true"); err != nil {
		t.Fatal(err)
	}
	cfg, err = st.GuildConfig(ctx, "g1")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if cfg.ActiveCategoryID != "cat-1" || !cfg.CompetitionRunning || cfg.NotifyChannelID != "" {
		t.Fatalf("unexpected view: %+v", cfg)
	}
}
