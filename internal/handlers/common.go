// Package handlers serves the kiosk's HTTP API on top of a running app.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sjteam/spoolscan/internal/app"
	"github.com/sjteam/spoolscan/internal/auth"
	"github.com/sjteam/spoolscan/internal/storage"
)

type Handler struct {
	app   *app.App
	scans *storage.ScanStore
}

func New(a *app.App, scans *storage.ScanStore) *Handler {
	if scans == nil {
		scans = storage.New(0)
	}
	h := &Handler{app: a, scans: scans}
	a.OnOutcome(func(out app.Outcome) { h.recordOutcome(out) })
	return h
}

// Routes registers every kiosk endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/scan", h.HandleScan)
	mux.HandleFunc("POST /api/scan/camera", h.HandleCameraScan)
	mux.HandleFunc("GET /api/scanner", h.HandleScanner)
	mux.HandleFunc("GET /api/scans", h.HandleScans)
	mux.HandleFunc("GET /api/scans/{id}", h.HandleScanDetail)
	mux.HandleFunc("GET /api/view", h.HandleView)
	mux.HandleFunc("DELETE /api/view", h.HandleCloseView)
	mux.HandleFunc("GET /api/spools", h.HandleSpools)
	mux.HandleFunc("GET /api/spools/{id}", h.HandleSpool)
	mux.HandleFunc("DELETE /api/spools/{id}", h.HandleDeleteSpool)
	mux.HandleFunc("POST /api/spools/{id}/usage", h.HandleUsage)
	mux.HandleFunc("GET /api/session", h.HandleSession)
	mux.HandleFunc("GET /", h.HandleStatic)
	mux.HandleFunc("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			slog.Error("Unable to write healthcheck", "err", err)
		}
	})
}

// Response helpers
func (h *Handler) writeJSON(w http.ResponseWriter, data interface{}) {
	h.writeJSONStatus(w, http.StatusOK, data)
}

func (h *Handler) writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Unable to encode JSON response", "err", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, message string, code int) {
	if code >= http.StatusInternalServerError {
		slog.Error(message)
	} else {
		slog.Info("Request rejected", "status", code, "message", message)
	}
	http.Error(w, message, code)
}

// requireSession writes 401 when nobody is signed in.
func (h *Handler) requireSession(w http.ResponseWriter) (auth.Session, bool) {
	s, err := h.app.Auth.RequireSignedIn()
	if err != nil {
		h.writeError(w, err.Error(), http.StatusUnauthorized)
		return auth.Session{}, false
	}
	return s, true
}

func (h *Handler) spoolIDOrError(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, "Invalid spool id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
