package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadhero/internal/metrics"
	"leadhero/pkg/admission"
	"leadhero/pkg/ai"
	"leadhero/pkg/content"
	"leadhero/pkg/domain"
	"leadhero/pkg/events"
	"leadhero/pkg/store"
	"leadhero/pkg/webpage"
)

// PageFetcher turns a visitor URL into the text handed to the generator.
type PageFetcher interface {
	Excerpt(ctx context.Context, url string) string
}

// ImageMirror copies a provider image into durable storage.
type ImageMirror interface {
	Mirror(ctx context.Context, formID, id, srcURL string) (string, error)
}

// Limits are applied to newly registered accounts. Nil means unlimited.
type Limits struct {
	MaxLeads *int
	MaxForms *int
}

// Config holds runtime configuration for the core application.
type Config struct {
	Store        store.Store
	DatabaseURL  string
	Sessions     store.SessionStore
	TestIdentity string
	NewUser      Limits

	Text   ai.TextGenerator
	Images ai.ImageGenerator
	Pages  PageFetcher
	Mirror ImageMirror
	Events events.Publisher

	Metrics *metrics.Metrics
	Now     func() time.Time
}

// App wires storage, admission and generation for the forms service.
type App struct {
	store    store.Store
	sessions store.SessionStore
	engine   *admission.Engine
	identity *admission.IdentityResolver
	content  *content.Resolver
	newUser  Limits

	text    ai.TextGenerator
	images  ai.ImageGenerator
	pages   PageFetcher
	mirror  ImageMirror
	events  events.Publisher
	metrics *metrics.Metrics
	clock   func() time.Time
}

// New constructs the application. A nil Store opens Postgres at DatabaseURL.
func New(cfg Config) (*App, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.Text == nil {
		return nil, errors.New("text generator required")
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	engine, err := admission.NewEngine(admission.Config{
		Store:        dataStore,
		Sessions:     cfg.Sessions,
		TestIdentity: cfg.TestIdentity,
		Observer:     m,
		Now:          cfg.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("init admission engine: %w", err)
	}
	a := &App{
		store:    dataStore,
		sessions: cfg.Sessions,
		engine:   engine,
		identity: admission.NewIdentityResolver(cfg.Sessions, dataStore),
		content:  content.NewResolver(dataStore),
		newUser:  cfg.NewUser,
		text:     cfg.Text,
		images:   cfg.Images,
		pages:    cfg.Pages,
		mirror:   cfg.Mirror,
		events:   cfg.Events,
		metrics:  m,
		clock:    cfg.Now,
	}
	if a.clock == nil {
		a.clock = time.Now
	}
	if a.pages == nil {
		a.pages = webpage.NewFetcher(webpage.Options{})
	}
	if a.events == nil {
		a.events = events.NopPublisher{}
	}
	return a, nil
}

// Close releases the event publisher.
func (a *App) Close() error {
	return a.events.Close()
}

// Metrics returns the registry the app reports into.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// ownedForm loads formID and checks that user may manage it. Admins manage
// every form.
func (a *App) ownedForm(ctx context.Context, user domain.User, formID string) (domain.Form, error) {
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return domain.Form{}, ErrFormNotFound
	}
	form, ok, err := a.store.GetForm(ctx, formID)
	if err != nil {
		return domain.Form{}, fmt.Errorf("fetch form: %w", err)
	}
	if !ok {
		return domain.Form{}, ErrFormNotFound
	}
	if form.OwnerID != user.ID && !user.Role.IsAdmin() {
		return domain.Form{}, ErrForbidden
	}
	return form, nil
}

// visibleForm returns formID for public routes. Inactive forms are hidden
// from everyone except their owner.
func (a *App) visibleForm(ctx context.Context, formID, sessionToken string) (domain.Form, error) {
	formID = strings.TrimSpace(formID)
	if formID == "" {
		return domain.Form{}, ErrFormNotFound
	}
	form, ok, err := a.store.GetForm(ctx, formID)
	if err != nil {
		return domain.Form{}, fmt.Errorf("fetch form: %w", err)
	}
	if !ok {
		return domain.Form{}, ErrFormNotFound
	}
	if !form.IsActive && !a.identity.Resolve(ctx, sessionToken, formID).IsOwner {
		return domain.Form{}, ErrFormNotFound
	}
	return form, nil
}

func (a *App) now() time.Time {
	return a.clock().UTC()
}
