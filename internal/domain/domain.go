package domain

// Predicate identifies one piece of guild-scoped configuration state.
type Predicate string

const (
	PredicateActiveCategory     Predicate = "ActiveCategory"
	PredicateNotifyChannel      Predicate = "NotifyChannel"
	PredicateCompetitionRunning Predicate = "CompetitionRunning"
)

// Fact is a single-valued (guild, predicate) -> object record.
type Fact struct {
	GuildID   string    `json:"guild_id"`
	Predicate Predicate `json:"predicate"`
	Object    string    `json:"object"`
}

// GuildConfig is the derived view over one guild's facts.
type GuildConfig struct {
	ActiveCategoryID   string `json:"active_category_id,omitempty"`
	NotifyChannelID    string `json:"notify_channel_id,omitempty"`
	CompetitionRunning bool   `json:"competition_running"`
}

type Event struct {
	ID         string `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	GuildID    string `json:"guild_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
