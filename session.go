// Package dfadmin is the data layer behind a DreamFactory admin console: a
// request-keyed cache, a stale-while-revalidate fetch coordinator, and an
// optimistic mutation orchestrator, wired together behind one Session.
package dfadmin

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/dreamfactorysoftware/df-admin-data/cache"
	"github.com/dreamfactorysoftware/df-admin-data/fetch"
	"github.com/dreamfactorysoftware/df-admin-data/internal/config"
	"github.com/dreamfactorysoftware/df-admin-data/mutate"
	"github.com/dreamfactorysoftware/df-admin-data/resource"
	"github.com/dreamfactorysoftware/df-admin-data/table"
)

// Config holds the session settings, loadable from DF_* environment variables.
type Config = config.Config

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	return config.Load()
}

// Session owns one instance of the data layer: the shared cache store, the
// fetch coordinator, and the mutation orchestrator, all bound to one
// DreamFactory instance. Safe for concurrent use.
type Session struct {
	cfg    Config
	logger zerolog.Logger

	client *resource.Client
	store  *cache.Store
	coord  *fetch.Coordinator
	mut    *mutate.Orchestrator
}

// SessionOption configures a Session beyond what Config carries.
type SessionOption func(*sessionSettings)

type sessionSettings struct {
	logger      zerolog.Logger
	httpClient  *http.Client
	tokenSource oauth2.TokenSource
	metrics     prometheus.Registerer
}

// WithLogger attaches a logger to every component of the session.
func WithLogger(l zerolog.Logger) SessionOption {
	return func(s *sessionSettings) { s.logger = l }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) SessionOption {
	return func(s *sessionSettings) { s.httpClient = h }
}

// WithTokenSource authenticates requests with OAuth2 bearer tokens instead
// of the static session token.
func WithTokenSource(src oauth2.TokenSource) SessionOption {
	return func(s *sessionSettings) { s.tokenSource = src }
}

// WithMetrics registers cache and fetch metrics with reg.
func WithMetrics(reg prometheus.Registerer) SessionOption {
	return func(s *sessionSettings) { s.metrics = reg }
}

// NewSession validates cfg and wires the client, store, coordinator, and
// orchestrator together.
func NewSession(cfg Config, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	settings := sessionSettings{logger: zerolog.Nop()}
	for _, o := range opts {
		o(&settings)
	}

	clientOpts := []resource.Option{
		resource.WithTimeout(cfg.RequestTimeout),
		resource.WithLogger(settings.logger),
	}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, resource.WithAPIKey(cfg.APIKey))
	}
	if cfg.SessionToken != "" {
		clientOpts = append(clientOpts, resource.WithSessionToken(cfg.SessionToken))
	}
	if settings.httpClient != nil {
		clientOpts = append(clientOpts, resource.WithHTTPClient(settings.httpClient))
	}
	if settings.tokenSource != nil {
		clientOpts = append(clientOpts, resource.WithTokenSource(settings.tokenSource))
	}
	client, err := resource.NewClient(cfg.BaseURL, clientOpts...)
	if err != nil {
		return nil, err
	}

	storeOpts := []cache.StoreOption{
		cache.WithTTL(cache.TTL{FreshFor: cfg.FreshFor, ExpireAfter: cfg.ExpireAfter}),
		cache.WithMaxEntries(cfg.MaxCacheEntries),
	}
	coordOpts := []fetch.CoordinatorOption{
		fetch.WithRetry(cfg.MaxRetries, cfg.RetryBaseDelay, cfg.RetryMaxDelay),
		fetch.WithLogger(settings.logger),
	}
	if settings.metrics != nil {
		storeOpts = append(storeOpts, cache.WithMetrics(settings.metrics))
		coordOpts = append(coordOpts, fetch.WithMetrics(settings.metrics))
	}

	store := cache.NewStore(storeOpts...)
	return &Session{
		cfg:    cfg,
		logger: settings.logger,
		client: client,
		store:  store,
		coord:  fetch.NewCoordinator(store, coordOpts...),
		mut:    mutate.NewOrchestrator(store, mutate.WithLogger(settings.logger)),
	}, nil
}

// Store exposes the shared cache store.
func (s *Session) Store() *cache.Store { return s.store }

// Client exposes the underlying REST client.
func (s *Session) Client() *resource.Client { return s.client }

// Coordinator exposes the fetch coordinator.
func (s *Session) Coordinator() *fetch.Coordinator { return s.coord }

// Invalidate drops every cached key derived from the named resource. Use it
// when the resource changed outside this session (another admin, a script)
// and stale data must not be shown even briefly.
func (s *Session) Invalidate(resource string) {
	s.store.InvalidatePrefix(resource)
}

// TableOption overrides a table controller's defaults.
type TableOption func(*table.Options)

// WithPageSize sets the table's page size.
func WithPageSize(n int) TableOption {
	return func(o *table.Options) { o.PageSize = n }
}

// WithSearchFields overrides the columns a search term is matched against.
func WithSearchFields(fields ...string) TableOption {
	return func(o *table.Options) { o.SearchFields = fields }
}

// Table returns a controller for an admin list screen over the named
// resource, wired to this session's coordinator and mutator.
func (s *Session) Table(name string, opts ...TableOption) (*table.Controller, error) {
	info, err := lookup(name)
	if err != nil {
		return nil, err
	}
	mut := &Mutator{s: s, name: name, factory: info.factory}

	topts := table.Options{
		Resource:    name,
		Coordinator: s.coord,
		Fetch:       s.fetcher(name, info.factory),
		Delete:      mut.DeleteRecord,
		Update:      mut.UpdateFields,

		SearchFields: info.searchFields,
		Debounce:     s.cfg.SearchDebounce,
		Logger:       &s.logger,
	}
	for _, o := range opts {
		o(&topts)
	}
	return table.New(topts)
}

func (s *Session) fetcher(name string, factory resource.Factory) table.Fetcher {
	return func(p cache.Params) fetch.FetchFunc {
		return func(ctx context.Context) (any, error) {
			page, err := s.client.List(ctx, name, p, factory)
			if err != nil {
				return nil, err
			}
			return page, nil
		}
	}
}
