package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/guess-who-backend/internal/auth"
	"github.com/DoyleJ11/guess-who-backend/internal/catalog"
	"github.com/DoyleJ11/guess-who-backend/internal/config"
	"github.com/DoyleJ11/guess-who-backend/internal/engine"
	"github.com/DoyleJ11/guess-who-backend/internal/eventlog"
	"github.com/DoyleJ11/guess-who-backend/internal/httpapi"
	"github.com/DoyleJ11/guess-who-backend/internal/lobby"
	"github.com/DoyleJ11/guess-who-backend/internal/roomcode"
	"github.com/DoyleJ11/guess-who-backend/internal/secret"
	"github.com/DoyleJ11/guess-who-backend/internal/session"
	"github.com/DoyleJ11/guess-who-backend/internal/turn"
	"github.com/DoyleJ11/guess-who-backend/internal/ws"
)

const shutdownTimeout = 10 * time.Second

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log *zap.Logger) (err error) {
	static, err := catalog.NewStatic()
	if err != nil {
		return err
	}
	var cat catalog.Catalog = static
	if cfg.Catalog == "postgres" {
		pg, pool, err := catalog.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		for _, id := range static.Sets() {
			chars, _ := static.Characters(ctx, id)
			if err := pg.Seed(ctx, id, chars); err != nil {
				return fmt.Errorf("seed set %q: %w", id, err)
			}
		}
		cat = catalog.NewCached(pg)
		log.Info("using postgres catalog", zap.Strings("seeded", static.Sets()))
	}

	var sink eventlog.Sink = eventlog.LogSink{Log: log.Named("events")}
	if cfg.DatabaseURL != "" {
		gs, openErr := eventlog.OpenPostgres(cfg.DatabaseURL)
		if openErr != nil {
			return openErr
		}
		defer func() { err = multierr.Append(err, gs.Close()) }()
		sink = gs
	}
	recorder := eventlog.NewRecorder(sink, log)

	// The store outlives ctx so in-flight rooms can be closed after the listener stops.
	store := session.NewStore(context.Background(), log,
		session.WithEvictGrace(cfg.EvictGrace),
		session.WithListener(recorder),
	)
	codes := roomcode.NewAllocator(store, roomcode.WithMaxAttempts(cfg.CodeAttempts))
	lm := lobby.NewManager(store, codes, secret.NewAssigner(cat), log,
		lobby.WithReconnectGrace(cfg.ReconnectGrace),
		lobby.WithLobbyTTL(cfg.LobbyTTL),
	)
	turns := turn.NewService(store, log)
	guests := auth.NewGuests(cfg.AuthSecret,
		auth.WithTTL(cfg.CredentialTTL),
		auth.AllowAnonymous(cfg.AllowGuests),
	)

	var gwOpts []ws.Option
	if u, perr := url.Parse(cfg.PublicURL); perr == nil && u.Host != "" {
		gwOpts = append(gwOpts, ws.WithOriginPatterns(u.Host))
	}
	gw := ws.NewGateway(store, lm, turns, guests, log, gwOpts...)

	api := &httpapi.API{
		Lobby:     lm,
		Rooms:     store,
		Catalog:   cat,
		Defaults:  engine.Rules{CharacterSetID: cfg.CharacterSet, TurnTimerSec: cfg.TurnTimerSec()},
		PublicURL: cfg.PublicURL,
		Log:       log.Named("http"),
	}
	if cfg.AllowGuests {
		api.Guests = guests
	}

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           httpapi.SetupRoutes(api, gw.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	recCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("public", cfg.PublicURL))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return recorder.Run(recCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := multierr.Combine(
			srv.Shutdown(shutCtx),
			gw.Shutdown(shutCtx),
		)
		store.Close()
		// Rooms are gone, so the recorder has seen its last commit.
		stopRecorder()
		return err
	})
	return g.Wait()
}
