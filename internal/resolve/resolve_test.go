package resolve_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sjteam/spoolscan/internal/api"
	"github.com/sjteam/spoolscan/internal/models"
	"github.com/sjteam/spoolscan/internal/resolve"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticToken string

func (s staticToken) Token() string { return string(s) }

type backendScript struct {
	decodeStatus int
	decodeBody   string
	spoolStatus  int
	spool        models.Spool
	spoolCalls   atomic.Int32
}

func (b *backendScript) server(t *testing.T) *api.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /spools/decode_qr", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(b.decodeStatus)
		_, _ = w.Write([]byte(b.decodeBody))
	})
	mux.HandleFunc("GET /spools/{id}", func(w http.ResponseWriter, r *http.Request) {
		b.spoolCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(b.spoolStatus)
		if b.spoolStatus == http.StatusOK {
			_ = json.NewEncoder(w).Encode(b.spool)
			return
		}
		_, _ = w.Write([]byte(`{"detail":"Катушка не найдена"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return api.NewClient(srv.URL, api.WithTokenSource(staticToken("tok")))
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name         string
		script       *backendScript
		wantErr      error
		wantRecord   bool
		wantSpoolGet int32
	}{
		{
			name: "found",
			script: &backendScript{
				decodeStatus: http.StatusOK, decodeBody: `{"id": 42}`,
				spoolStatus: http.StatusOK, spool: models.Spool{ID: 42, Color: "black", WeightTotal: 1000, WeightRemaining: 150},
			},
			wantRecord:   true,
			wantSpoolGet: 1,
		},
		{
			name:         "code rejected",
			script:       &backendScript{decodeStatus: http.StatusBadRequest, decodeBody: `{"detail":"Некорректный QR-код"}`},
			wantErr:      resolve.ErrInvalidCode,
			wantSpoolGet: 0,
		},
		{
			name:         "code resolves to garbage",
			script:       &backendScript{decodeStatus: http.StatusOK, decodeBody: `{"id": "x1"}`},
			wantErr:      resolve.ErrInvalidCode,
			wantSpoolGet: 0,
		},
		{
			name: "spool deleted",
			script: &backendScript{
				decodeStatus: http.StatusOK, decodeBody: `{"id": 42}`,
				spoolStatus: http.StatusNotFound,
			},
			wantErr:      resolve.ErrSpoolNotFound,
			wantSpoolGet: 1,
		},
		{
			name:         "backend down",
			script:       &backendScript{decodeStatus: http.StatusInternalServerError, decodeBody: `oops`},
			wantErr:      resolve.ErrUnavailable,
			wantSpoolGet: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := resolve.NewResolver(tt.script.server(t))
			got := r.Resolve(context.Background(), "SPOOL:42")

			assert.Equal(t, "SPOOL:42", got.Raw)
			assert.Equal(t, tt.wantSpoolGet, tt.script.spoolCalls.Load())
			if tt.wantErr != nil {
				assert.ErrorIs(t, got.Err, tt.wantErr)
				assert.Contains(t, got.Error, tt.wantErr.Error())
				assert.Nil(t, got.Spool)
				assert.False(t, got.OK())
				return
			}
			require.True(t, got.OK())
			assert.Equal(t, int64(42), *got.SpoolID)
			assert.Equal(t, 150.0, got.Spool.WeightRemaining)
			assert.Empty(t, got.Error)
		})
	}
}

func TestResolveNotFoundMessage(t *testing.T) {
	script := &backendScript{decodeStatus: http.StatusOK, decodeBody: `{"id": 42}`, spoolStatus: http.StatusNotFound}
	got := resolve.NewResolver(script.server(t)).Resolve(context.Background(), "SPOOL:42")
	assert.Equal(t, "spool not found", got.Error)
	assert.Nil(t, got.Spool)
}

func label(t *testing.T, body string) string {
	t.Helper()
	return base64.RawURLEncoding.EncodeToString([]byte(body)) + ".0f1e2d"
}

func TestParsePayload(t *testing.T) {
	padded := base64.URLEncoding.EncodeToString([]byte(`{"id":12345}`)) + ".abc"

	tests := []struct {
		name    string
		raw     string
		wantID  int64
		wantErr bool
	}{
		{name: "numeric id", raw: label(t, `{"id": 5}`), wantID: 5},
		{name: "string id", raw: label(t, `{"id": "17"}`), wantID: 17},
		{name: "padded base64", raw: padded, wantID: 12345},
		{name: "no signature", raw: base64.RawURLEncoding.EncodeToString([]byte(`{"id":1}`)), wantErr: true},
		{name: "too many parts", raw: label(t, `{"id":1}`) + ".x", wantErr: true},
		{name: "not base64", raw: "@@@.sig", wantErr: true},
		{name: "not json", raw: label(t, `hello`), wantErr: true},
		{name: "missing id", raw: label(t, `{"name":"pla"}`), wantErr: true},
		{name: "fractional id", raw: label(t, `{"id": 1.5}`), wantErr: true},
		{name: "plain text", raw: "SPOOL:42", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := resolve.ParsePayload(tt.raw)
			if tt.wantErr {
				assert.ErrorIs(t, err, resolve.ErrInvalidCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, p.ID)
			assert.NotEmpty(t, p.Signature)
		})
	}
}

type gatedBackend struct {
	release chan struct{}
}

func (g *gatedBackend) DecodeQR(ctx context.Context, raw string) (int64, error) {
	<-g.release
	return 1, nil
}

func (g *gatedBackend) GetSpool(ctx context.Context, id int64) (*models.Spool, error) {
	return &models.Spool{ID: id}, nil
}

func TestFlowDropsResultAfterClose(t *testing.T) {
	b := &gatedBackend{release: make(chan struct{})}
	f := resolve.NewFlow(resolve.NewResolver(b))

	var presented atomic.Int32
	f.Start(context.Background(), "a", func(resolve.ResolvedSpool) { presented.Add(1) })
	f.Close()
	close(b.release)
	f.Wait()

	assert.Zero(t, presented.Load())
}

func TestFlowKeepsOnlyLatestStart(t *testing.T) {
	b := &gatedBackend{release: make(chan struct{})}
	f := resolve.NewFlow(resolve.NewResolver(b))

	got := make(chan string, 2)
	f.Start(context.Background(), "first", func(r resolve.ResolvedSpool) { got <- r.Raw })
	f.Start(context.Background(), "second", func(r resolve.ResolvedSpool) { got <- r.Raw })
	close(b.release)
	f.Wait()

	select {
	case raw := <-got:
		assert.Equal(t, "second", raw)
	case <-time.After(time.Second):
		t.Fatal("latest resolution was not presented")
	}
	assert.Empty(t, got)
}
