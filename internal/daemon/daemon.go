package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tutu-network/anoncredits/internal/api"
	"github.com/tutu-network/anoncredits/internal/app/bonus"
	"github.com/tutu-network/anoncredits/internal/app/credits"
	"github.com/tutu-network/anoncredits/internal/app/identity"
	"github.com/tutu-network/anoncredits/internal/bridge"
	"github.com/tutu-network/anoncredits/internal/domain"
	"github.com/tutu-network/anoncredits/internal/infra/gormstore"
	"github.com/tutu-network/anoncredits/internal/infra/memstore"
	"github.com/tutu-network/anoncredits/internal/infra/observability"
	"github.com/tutu-network/anoncredits/internal/infra/sqlite"
	"github.com/tutu-network/anoncredits/internal/security"
)

// OpenStore opens the configured backend. Durable backends apply their
// schema on open.
func OpenStore(cfg StorageConfig) (domain.Store, error) {
	switch cfg.Backend {
	case BackendMemory:
		return memstore.New(), nil
	case BackendSQLite:
		db, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case BackendPostgres:
		s, err := gormstore.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Services are the application services shared by the HTTP server and the
// CLI.
type Services struct {
	Store      domain.Store
	Identities *identity.Manager
	Credits    *credits.Engine
	Bonus      *bonus.Coordinator
}

// NewServices builds the application layer over store.
func NewServices(cfg Config, store domain.Store, log *slog.Logger) (*Services, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Services{
		Store:      store,
		Identities: identity.NewManager(store, cfg.Credits.InitialAmount, log),
		Credits:    credits.NewEngine(store, cfg.Credits.LedgerLimit, log),
		Bonus: bonus.NewCoordinator(store, bonus.Config{
			Amount:      cfg.Credits.DailyBonusAmount,
			Window:      duration(cfg.Bonus.RateWindow),
			MaxAttempts: cfg.Bonus.MaxAttempts,
			Location:    loc,
		}, log),
	}, nil
}

// Daemon is the running anoncredits service.
type Daemon struct {
	cfg    Config
	log    *slog.Logger
	svc    *Services
	server *http.Server
}

// New opens storage and assembles the HTTP server.
func New(cfg Config, log *slog.Logger) (*Daemon, error) {
	store, err := OpenStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}
	svc, err := NewServices(cfg, store, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	handler, err := newHandler(cfg, svc, log)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &Daemon{
		cfg: cfg,
		log: log,
		svc: svc,
		server: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func newHandler(cfg Config, svc *Services, log *slog.Logger) (http.Handler, error) {
	apiCfg := api.DefaultConfig()
	apiCfg.AllowedOrigins = cfg.CORS.AllowedOrigins
	apiCfg.IdentityHeader = cfg.Identity.Header
	apiCfg.IdentityCookie = cfg.Identity.Cookie
	apiCfg.CookieMaxAge = duration(cfg.Identity.CookieMaxAge)
	apiCfg.CookieSecure = cfg.Identity.CookieSecure
	apiCfg.CookieDomain = cfg.Identity.CookieDomain
	apiCfg.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
	apiCfg.Burst = cfg.RateLimit.Burst
	apiCfg.RequestTimeout = duration(cfg.API.RequestTimeout)

	if security.NewAllowList(cfg.CORS.AllowedOrigins).AllowsAll() {
		log.Warn("CORS allows credentialed requests from any origin", "allowed_origins", cfg.CORS.AllowedOrigins)
	}

	srv := api.NewServer(apiCfg, svc.Store, svc.Identities, svc.Credits, svc.Bonus, log)
	if cfg.Metrics.Enabled {
		srv.EnableMetrics()
	}

	bridgeOrigins := cfg.Bridge.AllowedOrigins
	if len(bridgeOrigins) == 0 {
		bridgeOrigins = cfg.CORS.AllowedOrigins
	}
	bridgeAllow := security.NewAllowList(bridgeOrigins)
	if bridgeAllow.AllowsAll() {
		log.Warn("storage bridge answers messages from any origin", "allowed_origins", bridgeOrigins)
	}
	page, err := bridge.PageHandler(bridgeAllow)
	if err != nil {
		return nil, fmt.Errorf("render bridge page: %w", err)
	}
	srv.SetBridgeHandler(page)
	return srv.Handler(), nil
}

// Handler returns the HTTP handler, for tests.
func (d *Daemon) Handler() http.Handler { return d.server.Handler }

// Run serves until ctx is cancelled, then drains in-flight requests for up
// to api.shutdown_timeout and closes storage.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.server.Addr)
	if err != nil {
		d.svc.Store.Close()
		return fmt.Errorf("listen %s: %w", d.server.Addr, err)
	}
	return d.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	defer d.svc.Store.Close()

	if err := d.svc.Store.HealthCheck(ctx); err != nil {
		observability.StoreHealthy.Set(0)
		d.log.Warn("storage health check failed at startup", "error", err)
	} else {
		observability.StoreHealthy.Set(1)
	}

	errCh := make(chan error, 1)
	go func() {
		d.log.Info("anoncredits listening",
			"addr", ln.Addr().String(),
			"storage", d.cfg.Storage.Backend,
			"metrics", d.cfg.Metrics.Enabled,
		)
		errCh <- d.server.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	d.log.Info("shutting down", "timeout", d.cfg.API.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), duration(d.cfg.API.ShutdownTimeout))
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
