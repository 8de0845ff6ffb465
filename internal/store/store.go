package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"ctfbot/internal/domain"
)

// Store holds guild-scoped configuration facts. Each (guild, predicate)
// pair maps to at most one object; Upsert replaces any prior record.
type Store struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// Find returns the single current object for (guildID, predicate).
func (s Store) Find(ctx context.Context, guildID string, p domain.Predicate) (string, error) {
	var object string
	err := s.DB.QueryRowContext(ctx, `SELECT object FROM facts WHERE guild_id=? AND predicate=?`, guildID, p).Scan(&object)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("find fact: %w", err)
	}
	return object, nil
}

// Upsert writes the object for (guildID, predicate), deleting any prior
// record for the pair first. The delete and insert run in one transaction
// so the pair is never observed with two values.
func (s Store) Upsert(ctx context.Context, guildID string, p domain.Predicate, object string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM facts WHERE guild_id=? AND predicate=?`, guildID, p); err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO facts(guild_id,predicate,object) VALUES (?,?,?)`, guildID, p, object); err != nil {
		return fmt.Errorf("insert fact: %w", err)
	}
	return tx.Commit()
}

// ListByPredicate returns every guild's fact for one predicate.
func (s Store) ListByPredicate(ctx context.Context, p domain.Predicate) ([]domain.Fact, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT guild_id,object FROM facts WHERE predicate=? ORDER BY guild_id`, p)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()
	var res []domain.Fact
	for rows.Next() {
		f := domain.Fact{Predicate: p}
		if err := rows.Scan(&f.GuildID, &f.Object); err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

// GuildConfig re-derives the configuration view for one guild. It is never
// cached; the store is the sole source of truth.
func (s Store) GuildConfig(ctx context.Context, guildID string) (domain.GuildConfig, error) {
	var cfg domain.GuildConfig
	rows, err := s.DB.QueryContext(ctx, `SELECT predicate,object FROM facts WHERE guild_id=?`, guildID)
	if err != nil {
		return cfg, fmt.Errorf("guild config: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.Predicate
		var object string
		if err := rows.Scan(&p, &object); err != nil {
			return cfg, err
		}
		switch p {
		case domain.PredicateActiveCategory:
			cfg.ActiveCategoryID = object
		case domain.PredicateNotifyChannel:
			cfg.NotifyChannelID = object
		case domain.PredicateCompetitionRunning:
			cfg.CompetitionRunning = object == "true"
		}
	}
	return cfg, rows.Err()
}
