package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/meetly/internal/agent"
	"github.com/nugget/meetly/internal/calendar"
	"github.com/nugget/meetly/internal/config"
	"github.com/nugget/meetly/internal/contacts"
	"github.com/nugget/meetly/internal/events"
	"github.com/nugget/meetly/internal/llm"
	"github.com/nugget/meetly/internal/prompts"
	"github.com/nugget/meetly/internal/session"
	"github.com/nugget/meetly/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// app is the wired agent shared by every subcommand.
type app struct {
	cfg    *config.Config
	loop   *agent.Loop
	bus    *events.Bus
	loc    *time.Location
	book   *contacts.Book
	db     *sql.DB
	logger *slog.Logger
}

// newApp builds the LLM client, the calendar and contact tools, the
// session store and the agent loop from cfg.
func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	loc, err := cfg.Agent.Location()
	if err != nil {
		return nil, fmt.Errorf("agent.timezone: %w", err)
	}
	a := &app{cfg: cfg, bus: events.New(), loc: loc, logger: logger}

	registry := tools.NewRegistry()

	provider, err := createCalendarProvider(cfg, loc, logger)
	if err != nil {
		return nil, err
	}
	if provider != nil {
		registry.MustRegister(tools.NewCalendarTools(provider, loc, logger.With("component", "calendar")).Capabilities()...)
	} else {
		logger.Warn("no calendar configured; calendar tools disabled")
	}

	if path := cfg.Contacts.VCardPath; path != "" {
		book, err := contacts.LoadFile(path, logger)
		if err != nil {
			return nil, err
		}
		a.book = book
		registry.MustRegister(tools.NewLookupContactTool(book))
	}

	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	a.loop = agent.NewLoop(logger.With("component", "agent"), createLLMClient(cfg, logger), store, registry, agent.Config{
		Model:            cfg.LLM.Model,
		MaxIterations:    cfg.Agent.MaxIterations,
		MaxParallelTools: cfg.Agent.MaxParallelTools,
	})
	a.loop.SetEventBus(a.bus)

	logger.Info("agent ready",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"calendar", cfg.Calendar.Provider,
		"tools", registry.Names(),
		"session", cfg.Session.Driver,
		"timezone", prompts.ZoneName(loc),
	)
	return a, nil
}

// openStore opens the configured session store. The sqlite driver keeps
// threads across restarts; memory forgets them on exit.
func (a *app) openStore() (session.Store, error) {
	if a.cfg.Session.Driver != "sqlite" {
		return session.NewMemoryStore(), nil
	}
	db, err := sql.Open("sqlite3", a.cfg.Session.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open session database: %w", err)
	}
	store, err := session.NewSQLiteStore(db, a.logger.With("component", "session"))
	if err != nil {
		db.Close()
		return nil, err
	}
	a.db = db
	return store, nil
}

// systemPrompt is rebuilt for every turn so the model sees the current
// time.
func (a *app) systemPrompt() string {
	return prompts.SystemPrompt(time.Now(), a.loc, a.book != nil)
}

// Close releases the session database, if any.
func (a *app) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

// createLLMClient builds the client for the configured provider.
// Validate has already rejected unknown provider names.
func createLLMClient(cfg *config.Config, logger *slog.Logger) llm.Client {
	c := cfg.LLM
	var client llm.Client
	switch c.Provider {
	case "anthropic":
		client = llm.NewAnthropicClient(c.APIKey, c.BaseURL, c.Temperature, logger)
	case "openai":
		client = llm.NewOpenAIClient(c.BaseURL, c.APIKey, c.Temperature, logger)
	default:
		client = llm.NewOllamaClient(c.BaseURL, c.Temperature, logger)
	}
	logger.Info("LLM client initialized", "provider", c.Provider, "model", c.Model)
	return client
}

// createCalendarProvider returns nil when calendar.provider is none.
func createCalendarProvider(cfg *config.Config, loc *time.Location, logger *slog.Logger) (calendar.Provider, error) {
	switch cfg.Calendar.Provider {
	case "none":
		return nil, nil
	case "caldav":
		p, err := calendar.NewCalDAV(calendar.CalDAVOptions{
			URL:      cfg.CalDAV.URL,
			Username: cfg.CalDAV.Username,
			Password: cfg.CalDAV.Password,
			Calendar: cfg.CalDAV.Calendar,
			Location: loc,
		}, logger.With("calendar", "caldav"))
		if err != nil {
			return nil, fmt.Errorf("caldav: %w", err)
		}
		return p, nil
	default:
		g := cfg.Google
		if g.AccessToken == "" && g.RefreshToken == "" {
			return nil, errors.New("google.access_token or google.refresh_token is required (or set calendar.provider to none)")
		}
		return calendar.NewGoogle(calendar.GoogleOptions{
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			TokenURL:     g.TokenURL,
			AccessToken:  g.AccessToken,
			RefreshToken: g.RefreshToken,
			BaseURL:      g.BaseURL,
			CalendarID:   g.CalendarID,
		}, logger.With("calendar", "google")), nil
	}
}
