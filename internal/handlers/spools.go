package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sjteam/spoolscan/internal/api"
	"github.com/sjteam/spoolscan/internal/inventory"
	"github.com/sjteam/spoolscan/internal/resolve"
)

func (h *Handler) HandleView(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w); !ok {
		return
	}
	h.writeJSON(w, h.app.View.Snapshot())
}

// HandleCloseView dismisses the spool view, dropping any pending resolution.
func (h *Handler) HandleCloseView(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w); !ok {
		return
	}
	h.app.CloseView()
	h.writeJSON(w, h.app.View.Snapshot())
}

// HandleSpools returns the latest spool list. ?refresh=1 refetches first.
func (h *Handler) HandleSpools(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w); !ok {
		return
	}
	if r.URL.Query().Get("refresh") != "" {
		if err := h.app.Spools.Refresh(r.Context()); err != nil {
			h.writeError(w, "Failed to list spools: "+api.Detail(err), statusOf(err))
			return
		}
	}
	h.writeJSON(w, h.app.Spools.Snapshot())
}

func (h *Handler) HandleSpool(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w); !ok {
		return
	}
	id, ok := h.spoolIDOrError(w, r)
	if !ok {
		return
	}
	snap, err := h.app.ShowSpool(r.Context(), id)
	if err != nil {
		h.writeJSONStatus(w, statusOf(err), snap)
		return
	}
	h.writeJSON(w, snap)
}

func (h *Handler) HandleDeleteSpool(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w); !ok {
		return
	}
	id, ok := h.spoolIDOrError(w, r)
	if !ok {
		return
	}
	snap, err := h.app.DeleteSpool(r.Context(), id)
	if err != nil {
		h.writeJSONStatus(w, statusOf(err), snap)
		return
	}
	h.writeJSON(w, snap)
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w); !ok {
		return
	}
	id, ok := h.spoolIDOrError(w, r)
	if !ok {
		return
	}

	var form inventory.UsageForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		h.writeError(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return
	}

	snap, err := h.app.RecordUsage(r.Context(), id, form)
	if err != nil {
		h.writeJSONStatus(w, statusOf(err), snap)
		return
	}
	h.writeJSON(w, snap)
}

// statusOf maps an action error onto a response code.
func statusOf(err error) int {
	var apiErr *api.Error
	switch {
	case errors.Is(err, inventory.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, resolve.ErrSpoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		return apiErr.StatusCode
	default:
		return http.StatusBadGateway
	}
}
