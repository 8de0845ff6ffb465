// Package server exposes a small read-only ops API over the bot's store:
// health, per-guild configuration state and the audit event log.
package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"ctfbot/internal/domain"
	"ctfbot/internal/events"
	"ctfbot/internal/store"
)

// Config for the HTTP ops handler.
type Config struct {
	Store   store.Store
	Events  events.Writer
	Version string
}

// New returns an HTTP handler exposing the ops API under /v0.
func New(cfg Config) http.Handler {
	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("ctfbot ops API", cfg.Version)
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, "/v0")

	registerHealth(group)
	registerStatus(group, cfg.Store)
	registerEvents(group, cfg.Events)

	return router
}

type healthOutput struct {
	Body struct {
		Status string `json:"status" example:"ok"`
	}
}

func registerHealth(api huma.API) {
	huma.Get(api, "/healthz", func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		out := &healthOutput{}
		out.Body.Status = "ok"
		return out, nil
	})
}

type statusOutput struct {
	Body struct {
		RunningGuilds []string `json:"running_guilds"`
	}
}

func registerStatus(api huma.API, st store.Store) {
	huma.Get(api, "/status", func(ctx context.Context, _ *struct{}) (*statusOutput, error) {
		facts, err := st.ListByPredicate(ctx, domain.PredicateCompetitionRunning)
		if err != nil {
			return nil, huma.Error500InternalServerError("status query failed", err)
		}
		out := &statusOutput{}
		out.Body.RunningGuilds = []string{}
		for _, f := range facts {
			if f.Object == "true" {
				out.Body.RunningGuilds = append(out.Body.RunningGuilds, f.GuildID)
			}
		}
		return out, nil
	})
}

type eventsInput struct {
	Limit int `query:"limit" default:"50" minimum:"1" maximum:"500"`
}

type eventsOutput struct {
	Body struct {
		Events []domain.Event `json:"events"`
	}
}

func registerEvents(api huma.API, w events.Writer) {
	huma.Get(api, "/events", func(ctx context.Context, in *eventsInput) (*eventsOutput, error) {
		list, err := w.Recent(ctx, in.Limit)
		if err != nil {
			return nil, huma.Error500InternalServerError("events query failed", err)
		}
		out := &eventsOutput{}
		out.Body.Events = list
		if out.Body.Events == nil {
			out.Body.Events = []domain.Event{}
		}
		return out, nil
	})
}
