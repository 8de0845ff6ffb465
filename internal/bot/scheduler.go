package bot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ctfbot/internal/domain"
	"ctfbot/internal/store"
)

// Scheduler periodically broadcasts to every guild whose competition is
// running. Guilds are processed sequentially but isolated: one guild's
// failure never aborts the rest of the tick.
type Scheduler struct {
	Store     store.Store
	Interval  time.Duration
	Broadcast func(ctx context.Context, guildID string) error
	Log       *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stop)
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	ch := s.stop
	s.stop = nil
	s.mu.Unlock()
	if ch != nil {
		close(ch)
		s.wg.Wait()
	}
}

func (s *Scheduler) loop(stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Tick(context.Background())
		case <-stop:
			return
		}
	}
}

// Tick runs one scan over the store and broadcasts to each running guild.
func (s *Scheduler) Tick(ctx context.Context) {
	facts, err := s.Store.ListByPredicate(ctx, domain.PredicateCompetitionRunning)
	if err != nil {
		s.Log.Error("scheduler scan failed", "error", err)
		return
	}
	for _, f := range facts {
		if f.Object != "true" {
			continue
		}
		s.broadcastGuild(ctx, f.GuildID)
	}
}

func (s *Scheduler) broadcastGuild(ctx context.Context, guildID string) {
	defer func() {
		if rec := recover(); rec != nil {
			s.Log.Error("scheduled broadcast panicked", "guild", guildID, "panic", rec)
		}
	}()
	if err := s.Broadcast(ctx, guildID); err != nil {
		s.Log.Error("scheduled broadcast failed", "guild", guildID, "error", err)
	}
}
