package app

import (
	"fmt"

	"docgate/internal/config"
	"docgate/internal/gateway"
	"docgate/internal/identity"
	"docgate/internal/metrics"
	"docgate/internal/provider"
	"docgate/internal/scheduler"
	"docgate/internal/server"
	"docgate/internal/token"
	"docgate/internal/tokenstore"
	"docgate/internal/upstream"
	"docgate/pkg/logging"
)

// Services holds every constructed component of a docgate process.
type Services struct {
	Config config.Config

	Store    *tokenstore.Store
	Users    *tokenstore.Bucket[token.UserTokenRecord]
	Tenants  *tokenstore.Bucket[token.TenantTokenRecord]
	Upstream *upstream.Client
	Provider *provider.Provider
	Metrics  *metrics.Metrics

	Scheduler *scheduler.Scheduler
	Gateway   *gateway.Gateway
	Sessions  *identity.Registry
	Server    *server.Server
}

// InitializeTokenServices constructs the token lifecycle components only. The
// tokens CLI commands use it to work on the snapshots without serving.
func InitializeTokenServices(cfg config.Config) (*Services, error) {
	store, err := tokenstore.New(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}
	users, err := tokenstore.NewUserBucket(store)
	if err != nil {
		return nil, fmt.Errorf("failed to load user tokens: %w", err)
	}
	tenants, err := tokenstore.NewTenantBucket(store)
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant tokens: %w", err)
	}

	m, err := metrics.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	up := upstream.NewClient(upstream.Config{
		AppID:          cfg.Upstream.AppID,
		AppSecret:      cfg.Upstream.AppSecret,
		AuthorizeURL:   cfg.Upstream.AuthorizeURL,
		TokenURL:       cfg.Upstream.TokenURL,
		TenantTokenURL: cfg.Upstream.TenantTokenURL,
		RevokeURL:      cfg.Upstream.RevokeURL,
		Scopes:         cfg.Upstream.Scopes,
	})

	p := provider.New(up, users, tenants,
		provider.WithTenantMode(cfg.Auth.Mode == config.AuthModeTenant),
		provider.WithObserver(m),
	)

	logging.Debug("Bootstrap", "Token store at %q holds %d entries", store.Dir(), store.Len())

	return &Services{
		Config:   cfg,
		Store:    store,
		Users:    users,
		Tenants:  tenants,
		Upstream: up,
		Provider: p,
		Metrics:  m,
	}, nil
}

// InitializeServices constructs every component needed to serve.
func InitializeServices(cfg config.Config, version string) (*Services, error) {
	s, err := InitializeTokenServices(cfg)
	if err != nil {
		return nil, err
	}

	s.Scheduler = scheduler.New(s.Provider, s.Users, s.Store,
		scheduler.WithReportHook(s.Metrics.SweepCompleted),
	)

	s.Gateway = gateway.New(gateway.Config{
		PublicURL:    cfg.Auth.PublicURL,
		Provider:     cfg.Auth.Provider,
		CallbackPath: cfg.Auth.CallbackPath,
		Scopes:       cfg.Upstream.Scopes,
	}, s.Upstream, s.Provider, gateway.WithObserver(s.Metrics))

	s.Sessions = identity.NewRegistry()

	srv, err := server.New(server.Config{
		Host:       cfg.Server.Host,
		Port:       cfg.Server.Port,
		Transport:  cfg.Server.Transport,
		APIBaseURL: cfg.Upstream.APIBaseURL,
		Provider:   cfg.Auth.Provider,
		Version:    version,
	}, s.Provider, s.Gateway, s.Sessions, s.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}
	s.Server = srv

	logging.Info("Bootstrap", "Initialized services (mode %s, transport %s)", cfg.Auth.Mode, cfg.Server.Transport)
	return s, nil
}
