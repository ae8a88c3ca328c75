// Package api is the client for the spool inventory REST backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sjteam/spoolscan/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTimeout bounds every request unless overridden.
const DefaultTimeout = 30 * time.Second

// TokenSource supplies the bearer token for authenticated calls.
type TokenSource interface {
	Token() string
}

// Client talks to the inventory backend.
type Client struct {
	BaseURL string

	httpClient *http.Client
	tokens     TokenSource
	onBlocked  func()
	tracer     trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.httpClient
			hc.Timeout = d
			c.httpClient = &hc
		}
	}
}

// WithTokenSource attaches a bearer token to every authenticated call.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) {
		c.tokens = ts
	}
}

// WithGroupBlockedHandler registers fn to run whenever the backend reports
// that the user's group is blocked. The call still fails with ErrGroupBlocked.
func WithGroupBlockedHandler(fn func()) Option {
	return func(c *Client) {
		c.onBlocked = fn
	}
}

// NewClient creates a new backend client
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		tracer: otel.Tracer("spoolscan/api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for an access token.
func (c *Client) Login(ctx context.Context, username, password string) (*models.Token, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var tok models.Token
	req := request{
		op:          "login",
		method:      http.MethodPost,
		path:        "/auth/login",
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		anonymous:   true,
	}
	if err := c.do(ctx, req, &tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" {
		return nil, errors.New("login response did not include an access token")
	}
	return &tok, nil
}

// Me returns the signed-in user's profile.
func (c *Client) Me(ctx context.Context) (*models.Profile, error) {
	var p models.Profile
	if err := c.do(ctx, request{op: "me", method: http.MethodGet, path: "/auth/me"}, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// DecodeQR asks the backend to verify a scanned payload and return its spool id.
func (c *Client) DecodeQR(ctx context.Context, raw string) (int64, error) {
	body, err := json.Marshal(map[string]string{"qr": raw})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal request body: %w", err)
	}

	var resp struct {
		ID json.RawMessage `json:"id"`
	}
	req := request{op: "decode_qr", method: http.MethodPost, path: "/spools/decode_qr", body: bytes.NewReader(body), contentType: "application/json"}
	if err := c.do(ctx, req, &resp); err != nil {
		return 0, err
	}
	return parseID(resp.ID)
}

// GetSpool fetches one spool.
func (c *Client) GetSpool(ctx context.Context, id int64) (*models.Spool, error) {
	var s models.Spool
	if err := c.do(ctx, request{op: "get_spool", method: http.MethodGet, path: spoolPath(id)}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// DeleteSpool removes a spool.
func (c *Client) DeleteSpool(ctx context.Context, id int64) error {
	return c.do(ctx, request{op: "delete_spool", method: http.MethodDelete, path: spoolPath(id)}, nil)
}

// ListSpools returns every spool visible to the user.
func (c *Client) ListSpools(ctx context.Context) ([]models.Spool, error) {
	var spools []models.Spool
	if err := c.do(ctx, request{op: "list_spools", method: http.MethodGet, path: "/spools/"}, &spools); err != nil {
		return nil, err
	}
	return spools, nil
}

// DownloadQR returns the PNG label for a spool.
func (c *Client) DownloadQR(ctx context.Context, id int64) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.do(ctx, request{op: "download_qr", method: http.MethodGet, path: spoolPath(id) + "/download_qr"}, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CreateUsage records plastic consumption.
func (c *Client) CreateUsage(ctx context.Context, u models.UsageCreate) (*models.Usage, error) {
	body, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal usage: %w", err)
	}
	var out models.Usage
	req := request{op: "create_usage", method: http.MethodPost, path: "/usage/", body: bytes.NewReader(body), contentType: "application/json"}
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListUsages returns every usage visible to the user.
func (c *Client) ListUsages(ctx context.Context) ([]models.Usage, error) {
	var usages []models.Usage
	if err := c.do(ctx, request{op: "list_usages", method: http.MethodGet, path: "/usage/"}, &usages); err != nil {
		return nil, err
	}
	return usages, nil
}

// ListProjects returns every project visible to the user.
func (c *Client) ListProjects(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	if err := c.do(ctx, request{op: "list_projects", method: http.MethodGet, path: "/projects/"}, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// CreateProject creates a project in the user's group.
func (c *Client) CreateProject(ctx context.Context, p models.ProjectCreate) (*models.Project, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project: %w", err)
	}
	var out models.Project
	req := request{op: "create_project", method: http.MethodPost, path: "/projects/", body: bytes.NewReader(body), contentType: "application/json"}
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type request struct {
	op          string
	method      string
	path        string
	body        io.Reader
	contentType string
	anonymous   bool
}

// do sends req and decodes a 2xx body into out. out may be nil, or a
// *bytes.Buffer to receive the raw body.
func (c *Client) do(ctx context.Context, r request, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, "api."+r.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", r.method),
			attribute.String("url.path", r.path),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	req, err := http.NewRequestWithContext(ctx, r.method, c.BaseURL+r.path, r.body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if !r.anonymous {
		token := ""
		if c.tokens != nil {
			token = c.tokens.Token()
		}
		if token == "" {
			return ErrUnauthorized
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send %s request: %w", r.op, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	slog.Debug("Backend call", "op", r.op, "method", r.method, "path", r.path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		apiErr := &Error{Method: r.method, Path: r.path, StatusCode: resp.StatusCode, Detail: parseDetail(body)}
		if apiErr.groupBlocked() {
			slog.Warn("Group blocked, clearing session", "path", r.path)
			if c.onBlocked != nil {
				c.onBlocked()
			}
		}
		return apiErr
	}

	switch dst := out.(type) {
	case nil:
		return nil
	case *bytes.Buffer:
		if _, err := io.Copy(dst, resp.Body); err != nil {
			return fmt.Errorf("failed to read %s response: %w", r.op, err)
		}
		return nil
	default:
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", r.op, err)
		}
		return nil
	}
}

func spoolPath(id int64) string {
	return "/spools/" + strconv.FormatInt(id, 10)
}

// parseID accepts a JSON number or a numeric string.
func parseID(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: response has no id", ErrMalformedID)
	}
	text := string(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		text = s
	}
	id, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMalformedID, text)
	}
	return id, nil
}
