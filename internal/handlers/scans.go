package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/sjteam/spoolscan/internal/app"
	"github.com/sjteam/spoolscan/internal/inventory"
	"github.com/sjteam/spoolscan/internal/models"
	"github.com/sjteam/spoolscan/internal/scan"
)

const maxPhotoSize = 10 * 1024 * 1024

// scanResponse pairs the stored record with the spool view it opened.
type scanResponse struct {
	Record models.ScanRecord      `json:"record"`
	View   inventory.ViewSnapshot `json:"view"`
}

func (h *Handler) HandleScan(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w); !ok {
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		file, header, err = r.FormFile("files")
		if err != nil {
			h.writeError(w, "Failed to read file: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	defer file.Close()

	fileData, err := io.ReadAll(io.LimitReader(file, maxPhotoSize))
	if err != nil {
		h.writeError(w, "Failed to read file contents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if len(fileData) >= maxPhotoSize {
		h.writeError(w, "File too large (max 10MB)", http.StatusBadRequest)
		return
	}
	if _, err := checkPhoto(fileData, header.Filename); err != nil {
		h.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.runScan(w, r.Context(), app.ScanRequest{Mode: scan.ModePhoto, Photo: fileData})
}

// HandleCameraScan scans with the attached camera until a code is read or
// the timeout query parameter (default 30s) elapses.
func (h *Handler) HandleCameraScan(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w); !ok {
		return
	}

	timeout := 30 * time.Second
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			h.writeError(w, "Invalid timeout", http.StatusBadRequest)
			return
		}
		timeout = d
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	h.runScan(w, ctx, app.ScanRequest{Mode: scan.ModeCamera})
}

func (h *Handler) runScan(w http.ResponseWriter, ctx context.Context, req app.ScanRequest) {
	out, err := h.app.Scan(ctx, req)
	switch {
	case errors.Is(err, app.ErrScanFailed):
		h.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, "No code was read before the timeout", http.StatusRequestTimeout)
		return
	case err != nil:
		h.writeError(w, "Scan failed: "+err.Error(), http.StatusInternalServerError)
		return
	}

	rec, ok := h.scans.BySession(out.SessionID)
	if !ok {
		rec = h.recordOutcome(out)
	}
	h.writeJSON(w, scanResponse{Record: rec, View: h.app.View.Snapshot()})
}

// recordOutcome stores every resolved scan in the history.
func (h *Handler) recordOutcome(out app.Outcome) models.ScanRecord {
	return h.scans.Add(models.ScanRecord{
		SessionID: out.SessionID,
		Source:    string(out.Source),
		Raw:       out.Resolved.Raw,
		SpoolID:   out.Resolved.SpoolID,
		Spool:     out.Resolved.Spool,
		Error:     out.Resolved.Error,
	})
}

func (h *Handler) HandleScanner(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w); !ok {
		return
	}
	h.writeJSON(w, h.app.Scanner.Snapshot())
}

func (h *Handler) HandleScans(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w); !ok {
		return
	}
	h.writeJSON(w, h.scans.List())
}

func (h *Handler) HandleScanDetail(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireSession(w); !ok {
		return
	}
	rec, ok := h.scans.Get(r.PathValue("id"))
	if !ok {
		h.writeError(w, "Scan not found", http.StatusNotFound)
		return
	}
	h.writeJSON(w, rec)
}
