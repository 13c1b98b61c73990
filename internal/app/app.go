// Package app wires the configured storage, providers and services
// together for the server and admin binaries.
package app

import (
	"context"
	"net/http"

	"github.com/cookstagram/accounts/internal/account"
	"github.com/cookstagram/accounts/internal/auth"
	"github.com/cookstagram/accounts/internal/auth/provider"
	"github.com/cookstagram/accounts/internal/avatar"
	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/internal/database"
	"github.com/cookstagram/accounts/internal/discovery"
	"github.com/cookstagram/accounts/internal/logger"
	"github.com/cookstagram/accounts/internal/oauthstate"
	"github.com/cookstagram/accounts/internal/resolver"
	"github.com/cookstagram/accounts/internal/token"
	"github.com/cookstagram/accounts/pkg/util/cors"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// App holds the running services.
type App struct {
	Config    *config.Config
	DB        database.Database
	States    oauthstate.Store
	Tokens    *token.Issuer
	Accounts  *account.Service
	Resolver  *resolver.Resolver
	Providers *provider.Registry
	Avatars   avatar.Store

	closers []func() error
}

// OpenDatabase connects to the identity store selected by cfg.Driver. The
// returned StateDB is nil for drivers which cannot hold redirect state.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (database.Database, database.StateDB, error) {
	switch cfg.Driver {
	case config.DriverBadger, "":
		db, err := database.InitializeBadgerDB(cfg.Dir, false)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case config.DriverPostgres:
		db, err := database.InitializePostgresDB(ctx, cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		return db, db, nil
	case config.DriverDgraph:
		db, err := database.InitializeDgraphDatabase(ctx, cfg.DgraphAddr)
		if err != nil {
			return nil, nil, err
		}
		return db, nil, nil
	default:
		return nil, nil, errors.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// Open connects everything cfg describes. Only the identity store is
// required by the admin commands, but opening the rest validates the
// configuration in one place.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	db, stateDB, err := OpenDatabase(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	if err := a.openStates(ctx, stateDB); err != nil {
		a.Close()
		return nil, err
	}

	a.Avatars, err = avatar.NewStore(ctx, cfg.Media)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "opening avatar store")
	}

	a.Providers, err = provider.FromConfig(ctx, cfg.Providers)
	if err != nil {
		a.Close()
		return nil, errors.Wrap(err, "configuring providers")
	}

	a.Tokens, err = token.FromConfig(&cfg.Tokens, db)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Accounts = account.NewService(db, a.Tokens)
	a.Resolver = resolver.New(db, avatar.NewFetcher(a.Avatars, nil))
	return a, nil
}

func (a *App) openStates(ctx context.Context, stateDB database.StateDB) error {
	redisCfg := a.Config.Redis
	if redisCfg.Addr == "" {
		if stateDB == nil {
			return errors.Errorf("database driver %q requires redis.addr for redirect logins", a.Config.Database.Driver)
		}
		a.States = oauthstate.NewDatabaseStore(stateDB)
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return errors.Wrap(err, "connecting to redis")
	}
	a.States = oauthstate.NewRedisStore(client)
	a.closers = append(a.closers, client.Close)
	return nil
}

// Handler returns the HTTP API with request logging and CORS applied.
func (a *App) Handler() http.Handler {
	r := mux.NewRouter()
	auth.SetupRoutes(r, &auth.Dependencies{
		Accounts:  a.Accounts,
		Resolver:  a.Resolver,
		Tokens:    a.Tokens,
		Providers: a.Providers,
		States:    a.States,
		Frontend:  a.Config.Frontend,
		AvatarURL: a.Avatars.URL,
	})
	discovery.SetupRoutes(r, a.Config.Server.URL(), a.Tokens, a.Providers)

	// Wrapped outside the router so preflight requests never reach route
	// method matching.
	h := cors.Middleware(a.Config.Server.CORSOrigins)(r)
	return logger.Middleware(logger.L)(h)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
