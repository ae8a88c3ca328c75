package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/sjteam/spoolscan/internal/app"
	"github.com/sjteam/spoolscan/internal/auth"
	"github.com/sjteam/spoolscan/internal/config"
	"github.com/sjteam/spoolscan/internal/decoder/decodertest"
	"github.com/sjteam/spoolscan/internal/inventory"
	"github.com/sjteam/spoolscan/internal/models"
	"github.com/sjteam/spoolscan/internal/storage"
)

// backend serves spool 5 and rejects everything else.
func backend(t *testing.T) *httptest.Server {
	t.Helper()
	spool := models.Spool{ID: 5, Color: "red", WeightTotal: 1000, WeightRemaining: 400}
	reply := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /spools/decode_qr", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			QR string `json:"qr"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.QR != "5" {
			reply(w, http.StatusBadRequest, map[string]string{"detail": "Некорректный QR-код"})
			return
		}
		reply(w, http.StatusOK, map[string]int64{"id": 5})
	})
	mux.HandleFunc("GET /spools/{id}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("id") != strconv.FormatInt(spool.ID, 10) {
			reply(w, http.StatusNotFound, map[string]string{"detail": "Катушка не найдена"})
			return
		}
		reply(w, http.StatusOK, spool)
	})
	mux.HandleFunc("GET /spools/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []models.Spool{spool})
	})
	mux.HandleFunc("POST /usage/", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusBadRequest, map[string]string{"detail": "Недостаточно пластика на катушке"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHandler(t *testing.T, signedIn bool) (*Handler, http.Handler) {
	t.Helper()
	cfg := config.Default()
	cfg.APIURL = backend(t).URL

	store := &auth.MemoryStore{}
	if signedIn {
		if err := store.Save(auth.Session{Token: "tok", Username: "bob", Role: auth.RoleModerator}); err != nil {
			t.Fatal(err)
		}
	}
	a, err := app.New(context.Background(), cfg, app.WithAuthStore(store), app.WithDevice(nil))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(a.Close)

	h := New(a, storage.New(10))
	mux := http.NewServeMux()
	h.Routes(mux)
	return h, mux
}

func photoRequest(t *testing.T, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "label.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/scan", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandleScan(t *testing.T) {
	h, mux := newTestHandler(t, true)

	tests := []struct {
		name       string
		photo      []byte
		wantStatus int
		wantSpool  bool
		wantError  string
	}{
		{name: "known spool", photo: decodertest.QRPNG(t, "5"), wantStatus: http.StatusOK, wantSpool: true},
		{name: "foreign code", photo: decodertest.QRPNG(t, "hello"), wantStatus: http.StatusOK, wantError: "invalid code"},
		{name: "no code", photo: decodertest.BlankPNG(t), wantStatus: http.StatusUnprocessableEntity},
		{name: "not an image", photo: []byte("plain text"), wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, photoRequest(t, tt.photo))

			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if rec.Code != http.StatusOK {
				return
			}

			var resp scanResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if (resp.Record.Spool != nil) != tt.wantSpool {
				t.Errorf("Expected spool=%v, got %+v", tt.wantSpool, resp.Record.Spool)
			}
			if tt.wantError != "" && !strings.Contains(resp.Record.Error, tt.wantError) {
				t.Errorf("Expected error containing %q, got %q", tt.wantError, resp.Record.Error)
			}
			if resp.Record.Source != "photo" {
				t.Errorf("Expected source photo, got %q", resp.Record.Source)
			}
			if _, ok := h.scans.Get(resp.Record.ID); !ok {
				t.Errorf("Expected scan %s to be stored", resp.Record.ID)
			}
		})
	}

	if n := len(h.scans.List()); n != 2 {
		t.Errorf("Expected 2 stored scans, got %d", n)
	}
}

func TestHandleScanRequiresSession(t *testing.T) {
	_, mux := newTestHandler(t, false)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, photoRequest(t, decodertest.QRPNG(t, "5")))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", rec.Code)
	}
}

func TestHandleCameraScanWithoutCamera(t *testing.T) {
	_, mux := newTestHandler(t, true)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/scan/camera", nil))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleScanDetail(t *testing.T) {
	h, mux := newTestHandler(t, true)
	stored := h.scans.Add(models.ScanRecord{Raw: "5", Source: "camera"})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scans/"+stored.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/scans/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestHandleSpoolActions(t *testing.T) {
	_, mux := newTestHandler(t, true)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantInBody string
	}{
		{name: "show", method: http.MethodGet, path: "/api/spools/5", wantStatus: http.StatusOK, wantInBody: `"color":"red"`},
		{name: "show missing", method: http.MethodGet, path: "/api/spools/6", wantStatus: http.StatusNotFound, wantInBody: "spool not found"},
		{name: "bad id", method: http.MethodGet, path: "/api/spools/abc", wantStatus: http.StatusBadRequest},
		{name: "usage rejected locally", method: http.MethodPost, path: "/api/spools/5/usage", body: `{"amount":"-3"}`, wantStatus: http.StatusBadRequest, wantInBody: inventory.MsgInvalidAmount},
		{name: "usage rejected by backend", method: http.MethodPost, path: "/api/spools/5/usage", body: `{"amount":"5000"}`, wantStatus: http.StatusBadRequest, wantInBody: "Недостаточно пластика"},
		{name: "usage bad json", method: http.MethodPost, path: "/api/spools/5/usage", body: `{`, wantStatus: http.StatusBadRequest},
		{name: "list", method: http.MethodGet, path: "/api/spools?refresh=1", wantStatus: http.StatusOK, wantInBody: `"id":5`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantInBody != "" && !strings.Contains(rec.Body.String(), tt.wantInBody) {
				t.Errorf("Expected body to contain %q, got %s", tt.wantInBody, rec.Body.String())
			}
		})
	}
}

func TestHandleSession(t *testing.T) {
	tests := []struct {
		name     string
		signedIn bool
		want     sessionResponse
	}{
		{name: "signed out", want: sessionResponse{Sections: []auth.Section{}}},
		{
			name:     "moderator",
			signedIn: true,
			want: sessionResponse{
				SignedIn: true,
				Username: "bob",
				Role:     auth.RoleModerator,
				Sections: []auth.Section{auth.SectionSpools, auth.SectionUsage, auth.SectionProjects, auth.SectionProfile, auth.SectionUsers},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mux := newTestHandler(t, tt.signedIn)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))

			var got sessionResponse
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}
			if got.SignedIn != tt.want.SignedIn || got.Username != tt.want.Username || got.Role != tt.want.Role {
				t.Errorf("Expected %+v, got %+v", tt.want, got)
			}
			if len(got.Sections) != len(tt.want.Sections) {
				t.Errorf("Expected sections %v, got %v", tt.want.Sections, got.Sections)
			}
			if strings.Contains(rec.Body.String(), "tok") {
				t.Errorf("Session response leaked the token: %s", rec.Body.String())
			}
		})
	}
}

func TestHandleStaticAndHealthcheck(t *testing.T) {
	_, mux := newTestHandler(t, false)

	tests := []struct {
		path        string
		wantStatus  int
		wantContent string
	}{
		{path: "/", wantStatus: http.StatusOK, wantContent: "Spool scanner"},
		{path: "/app.js", wantStatus: http.StatusOK, wantContent: "/api/scan"},
		{path: "/healthcheck", wantStatus: http.StatusOK, wantContent: "OK"},
		{path: "/missing.css", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.wantContent) {
				t.Errorf("Expected body to contain %q", tt.wantContent)
			}
		})
	}
}

func TestHandleReadRoutesRequireSession(t *testing.T) {
	_, mux := newTestHandler(t, false)

	for _, path := range []string{"/api/view", "/api/scanner", "/api/scans", "/api/scans/abc"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401 for %s, got %d", path, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/view", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 for DELETE /api/view, got %d", rec.Code)
	}
}

func TestHandleCloseView(t *testing.T) {
	h, mux := newTestHandler(t, true)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/spools/5", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := h.app.View.Snapshot().State; got != inventory.ViewShowing {
		t.Fatalf("Expected view showing, got %s", got)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/view", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"state":"closed"`) {
		t.Errorf("Expected closed view, got %s", rec.Body.String())
	}
	if got := h.app.View.Snapshot().State; got != inventory.ViewClosed {
		t.Errorf("Expected view closed, got %s", got)
	}
}
