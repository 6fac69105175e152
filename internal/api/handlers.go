package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zoravur/postgres-live-table/internal/catalog"
	"github.com/zoravur/postgres-live-table/internal/protocol"
	"github.com/zoravur/postgres-live-table/internal/reactive"
	"github.com/zoravur/postgres-live-table/pkg/rowfilter"
	"github.com/zoravur/postgres-live-table/pkg/tablequery"
)

type handlers struct {
	Deps
}

// SelectResponse is the body of POST /api/select.
type SelectResponse struct {
	Table tablequery.Table `json:"table"`
	Rows  []protocol.Row   `json:"rows"`
}

// RowResponse is the body of GET /api/rows/{handle}.
type RowResponse struct {
	Table tablequery.Table `json:"table"`
	Row   protocol.Row     `json:"row"`
}

func (h *handlers) handleLiveQueries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.SnapshotView())
}

func (h *handlers) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Catalog.Snapshot())
}

// handleSelect takes a single subscription, {"schema","table","filter"}, and
// answers with the matching rows as they would appear in an initial message.
func (h *handlers) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req protocol.Subscription
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Table == "" {
		http.Error(w, "missing table", http.StatusBadRequest)
		return
	}

	t := req.Target()
	if err := h.Catalog.Validate(t, req.Filter.Expr); err != nil {
		writeLookupError(w, err)
		return
	}

	rows, err := tablequery.SelectMany[rowfilter.Row](r.Context(), h.Pool, t, req.Filter.Expr)
	if err != nil {
		L(r.Context()).Error("select failed", zap.Stringer("table", t), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, SelectResponse{
		Table: t,
		Rows:  reactive.SerializeRows(h.Catalog.Handle, t, rows),
	})
}

// handleRow reads back the row a handle points at.
func (h *handlers) handleRow(w http.ResponseWriter, r *http.Request) {
	t, key, err := catalog.DecodeHandle(chi.URLParam(r, "handle"))
	if err != nil {
		http.Error(w, "invalid handle: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.Catalog.Validate(t, key); err != nil {
		writeLookupError(w, err)
		return
	}

	row, err := tablequery.SelectOne[rowfilter.Row](r.Context(), h.Pool, t, key)
	switch {
	case errors.Is(err, tablequery.ErrNotFound):
		http.Error(w, "row not found", http.StatusNotFound)
		return
	case err != nil:
		L(r.Context()).Error("row lookup failed", zap.Stringer("table", t), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := reactive.SerializeRows(h.Catalog.Handle, t, []rowfilter.Row{row})
	writeJSON(w, http.StatusOK, RowResponse{Table: t, Row: out[0]})
}

// writeLookupError maps a catalog.Validate failure: unknown tables are 404,
// unknown columns and malformed filters 400.
func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrUnknownTable) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusBadRequest)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
