package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zoravur/postgres-live-table/internal/api"
	"github.com/zoravur/postgres-live-table/internal/catalog"
	"github.com/zoravur/postgres-live-table/internal/config"
	"github.com/zoravur/postgres-live-table/internal/reactive"
)

// orphanSweep is how often sessions whose query died are dropped from the
// registry.
const orphanSweep = 30 * time.Second

type Server struct {
	cfg        *config.Config
	log        *zap.Logger
	httpServer *http.Server

	Pool     *pgxpool.Pool
	Catalog  *catalog.Catalog
	Registry *reactive.Registry
}

// NewServer opens the database pool and loads the catalog. The caller owns
// the returned server and must call Run, which releases everything.
func NewServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	cat := catalog.New(pool, cfg.Catalog.Schemas, log.Named("catalog"))
	if _, err := cat.Refresh(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("catalog loaded",
		zap.Int("tables", len(cat.Snapshot().Tables)),
		zap.Strings("schemas", cfg.Catalog.Schemas),
	)

	reg := reactive.NewRegistry()
	mux := api.SetupRoutes(api.Deps{
		Pool:     pool,
		Catalog:  cat,
		Registry: reg,
		Live:     cfg.Live,
	})

	return &Server{
		cfg: cfg,
		log: log,
		httpServer: &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		Pool:     pool,
		Catalog:  cat,
		Registry: reg,
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully: the
// listener stops, live sessions are closed and the pool is released.
func (s *Server) Run(ctx context.Context) error {
	defer s.Pool.Close()

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.httpServer.Addr, err)
	}

	if s.cfg.Catalog.Refresh > 0 {
		stop := s.Catalog.StartAutoRefresh(ctx, s.cfg.Catalog.Refresh)
		defer stop()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		t := time.NewTicker(orphanSweep)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-t.C:
				if n := s.Registry.CleanupOrphans(); n > 0 {
					s.log.Info("dropped ended sessions", zap.Int("count", n))
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := s.httpServer.Shutdown(shutdownCtx)
		// hijacked websocket connections are not tracked by Shutdown
		s.Registry.CloseAll()
		return err
	})

	return g.Wait()
}
