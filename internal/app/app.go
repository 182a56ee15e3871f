// Package app wires configuration, storage and services into a runnable
// medkeeper process.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/medkeeper/internal/audit"
	"github.com/dmitrijs2005/medkeeper/internal/auth"
	"github.com/dmitrijs2005/medkeeper/internal/config"
	"github.com/dmitrijs2005/medkeeper/internal/dbx"
	"github.com/dmitrijs2005/medkeeper/internal/httpx"
	"github.com/dmitrijs2005/medkeeper/internal/keys"
	"github.com/dmitrijs2005/medkeeper/internal/logging"
	"github.com/dmitrijs2005/medkeeper/internal/obs"
	"github.com/dmitrijs2005/medkeeper/internal/records"
	"github.com/dmitrijs2005/medkeeper/internal/repositories/repomanager"
	"github.com/dmitrijs2005/medkeeper/internal/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// seams for tests
var (
	openDatabase   = repomanager.OpenPostgres
	newRepoManager = func() repomanager.RepositoryManager { return repomanager.NewPostgresRepositoryManager() }
)

type App struct {
	config  *config.Config
	logger  logging.Logger
	db      *sql.DB
	redis   redis.UniversalClient
	closers []func() error

	Audit     *audit.Logger
	Keys      *keys.Custodian
	Authority *auth.Authority
	Auth      *services.AuthService
	Records   *services.RecordService
}

// NewLogger builds the process logger from the log settings in cfg.
func NewLogger(cfg *config.Config, w io.Writer) (logging.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	return logging.New(w, cfg.LogFormat, level).With("service", "medkeeper", "env", cfg.Env), nil
}

// NewApp connects the database, Redis, key custody, the audit log and the
// services behind the HTTP API. Migrations are applied on the way.
func NewApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	db, err := openDatabase(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)

	rm := newRepoManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	if err := a.openCore(ctx); err != nil {
		return nil, err
	}

	authority, err := auth.NewAuthority([]byte(cfg.SecretKey), cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		return nil, err
	}
	a.Authority = authority

	as, err := services.NewAuthService(db, rm, authority, newSessionStore(cfg, a.redis), a.Audit, logger)
	if err != nil {
		return nil, err
	}
	a.Auth = as

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.Records = services.NewRecordService(services.RecordServiceDeps{
		DB:        db,
		Tx:        dbx.SQLRunner{DB: db},
		Repos:     rm,
		Guard:     records.NewGuard(a.Keys, a.Audit, logger),
		Blobs:     blobs,
		Authz:     as,
		Auditor:   a.Audit,
		Sensitive: cfg.SensitiveFields,
		Logger:    logger,
	})

	ok = true
	return a, nil
}

// NewKeyApp opens only what key custody and the audit log need. The
// database is opened just for the postgres key store.
func NewKeyApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*App, error) {
	a := &App{config: cfg, logger: logger}

	if cfg.KeyStore == config.KeyStorePostgres {
		db, err := openDatabase(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
	}

	if err := a.openCore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openCore(ctx context.Context) error {
	rdb, err := newRedis(ctx, a.config)
	if err != nil {
		return err
	}
	if rdb != nil {
		a.redis = rdb
		a.closers = append(a.closers, rdb.Close)
	}

	a.Audit = audit.NewLogger(newAuditStore(a.config, rdb), a.logger)

	store, closer, err := newKeyStore(ctx, a.config, a.db)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closer)
	a.Keys = keys.NewCustodian(store, a.Audit, a.logger)
	return nil
}

// Handler is the HTTP surface of the app.
func (a *App) Handler() http.Handler {
	return httpx.NewRouter(httpx.RouterParams{
		Verifier:   a.Authority,
		Handler:    httpx.NewHandler(a.Auth, a.Records, a.Audit),
		Metrics:    obs.Handler(),
		Production: a.config.IsProduction(),
	})
}

func (a *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run initializes the master key and serves HTTP until ctx is cancelled or
// the process receives a termination signal.
func (a *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	a.initSignalHandler(cancelFunc)

	if _, err := a.Keys.MasterKey(ctx); err != nil {
		return fmt.Errorf("master key: %w", err)
	}
	state, ephemeral := a.Keys.Status()
	a.logger.Info(ctx, "master key ready", "state", state.String(), "ephemeral", ephemeral, "store", a.config.KeyStore)

	obs.Register(prometheus.DefaultRegisterer)

	srv := &http.Server{
		Addr:              a.config.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info(gctx, "http server listening", "addr", a.config.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info(shutdownCtx, "shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Close releases every connection the app opened, in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
