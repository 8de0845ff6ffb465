package ctf

import "sync"

// guildLocks serializes lifecycle operations. Create/solve take a
// per-(guild, challenge-name) lock; guild-wide operations like clear take
// the whole guild so they cannot interleave with an in-flight create.
type guildLocks struct {
	mu     sync.Mutex
	guilds map[string]*guildLock
}

type guildLock struct {
	wide  sync.RWMutex
	mu    sync.Mutex
	names map[string]*sync.Mutex
}

func (l *guildLocks) guild(guildID string) *guildLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.guilds == nil {
		l.guilds = make(map[string]*guildLock)
	}
	g, ok := l.guilds[guildID]
	if !ok {
		g = &guildLock{names: make(map[string]*sync.Mutex)}
		l.guilds[guildID] = g
	}
	return g
}

func (l *guildLocks) lockChallenge(guildID, name string) (unlock func()) {
	g := l.guild(guildID)
	g.wide.RLock()
	g.mu.Lock()
	nm, ok := g.names[name]
	if !ok {
		nm = &sync.Mutex{}
		g.names[name] = nm
	}
	g.mu.Unlock()
	nm.Lock()
	return func() {
		nm.Unlock()
		g.wide.RUnlock()
	}
}

func (l *guildLocks) lockGuild(guildID string) (unlock func()) {
	g := l.guild(guildID)
	g.wide.Lock()
	return g.wide.Unlock
}
