package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zoravur/postgres-live-table/internal/catalog"
	"github.com/zoravur/postgres-live-table/internal/config"
	"github.com/zoravur/postgres-live-table/internal/reactive"
	"github.com/zoravur/postgres-live-table/pkg/livequery"
)

// Deps are the shared resources injected from app.Server.
type Deps struct {
	Pool     *pgxpool.Pool
	Catalog  *catalog.Catalog
	Registry *reactive.Registry
	Live     config.LiveConfig
	// Dial opens the connection of each live query. Defaults to borrowing
	// one from Pool.
	Dial livequery.Dialer
}

func SetupRoutes(d Deps) http.Handler {
	if d.Dial == nil {
		d.Dial = livequery.FromPool(d.Pool)
	}

	r := chi.NewRouter()
	r.Use(LoggingMiddleware)

	h := &handlers{Deps: d}
	r.Route("/api", func(r chi.Router) {
		r.Get("/live", h.handleLiveQueries)
		r.Get("/catalog", h.handleCatalog)
		r.Post("/select", h.handleSelect)
		r.Get("/rows/{handle}", h.handleRow)
	})

	ws := &WSHandler{Deps: d}
	r.Get("/ws", ws.HandleWS)

	return r
}
