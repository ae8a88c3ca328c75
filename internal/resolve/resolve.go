// Package resolve turns a decoded label into an inventory spool.
package resolve

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/sjteam/spoolscan/internal/api"
	"github.com/sjteam/spoolscan/internal/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrInvalidCode   = errors.New("invalid code")
	ErrSpoolNotFound = errors.New("spool not found")
	// ErrUnavailable covers transport failures and unexpected backend errors.
	// They are not the scanned code's fault, so they get their own message.
	ErrUnavailable = errors.New("inventory unavailable")
)

// Backend is the slice of the REST client the resolver needs.
type Backend interface {
	DecodeQR(ctx context.Context, raw string) (int64, error)
	GetSpool(ctx context.Context, id int64) (*models.Spool, error)
}

// ResolvedSpool is the outcome of one resolution attempt. Exactly one of
// Spool and Err is set.
type ResolvedSpool struct {
	Raw     string        `json:"raw"`
	SpoolID *int64        `json:"spool_id,omitempty"`
	Spool   *models.Spool `json:"spool,omitempty"`
	Error   string        `json:"error,omitempty"`
	Err     error         `json:"-"`
}

// OK reports whether the spool was found.
func (r ResolvedSpool) OK() bool {
	return r.Err == nil && r.Spool != nil
}

// Resolver performs the two sequential backend lookups.
type Resolver struct {
	backend Backend
	tracer  trace.Tracer
}

// NewResolver creates a resolver backed by b.
func NewResolver(b Backend) *Resolver {
	return &Resolver{backend: b, tracer: otel.Tracer("spoolscan/resolve")}
}

// Resolve maps raw to a spool id and then fetches the spool. A failure at
// either step ends the attempt.
func (r *Resolver) Resolve(ctx context.Context, raw string) ResolvedSpool {
	ctx, span := r.tracer.Start(ctx, "resolve.spool")
	defer span.End()

	out := ResolvedSpool{Raw: raw}
	id, err := r.backend.DecodeQR(ctx, raw)
	if err != nil {
		out = fail(out, classifyDecode(err), err)
		span.SetStatus(codes.Error, out.Error)
		return out
	}
	out.SpoolID = &id
	span.SetAttributes(attribute.Int64("spool.id", id))

	spool, err := r.backend.GetSpool(ctx, id)
	if err != nil {
		out = fail(out, classifyFetch(err), err)
		span.SetStatus(codes.Error, out.Error)
		return out
	}
	out.Spool = spool
	slog.Info("Spool resolved", "spool_id", id)
	return out
}

func fail(out ResolvedSpool, kind, cause error) ResolvedSpool {
	out.Err = kind
	out.Error = kind.Error()
	if kind == ErrUnavailable {
		out.Error = kind.Error() + ": " + api.Detail(cause)
	}
	attrs := []any{"raw", out.Raw, "reason", kind, "error", cause}
	if p, err := ParsePayload(out.Raw); err == nil {
		attrs = append(attrs, "label_id", p.ID)
	}
	slog.Warn("Spool resolution failed", attrs...)
	return out
}

func classifyDecode(err error) error {
	switch {
	case errors.Is(err, api.ErrMalformedID),
		api.IsStatus(err, http.StatusBadRequest),
		api.IsStatus(err, http.StatusNotFound),
		api.IsStatus(err, http.StatusUnprocessableEntity):
		return ErrInvalidCode
	}
	return ErrUnavailable
}

func classifyFetch(err error) error {
	if api.IsNotFound(err) {
		return ErrSpoolNotFound
	}
	return ErrUnavailable
}

// Flow runs resolutions in the background for the result view and drops
// any result that arrives after Close or after a newer Start.
type Flow struct {
	resolver *Resolver

	mu  sync.Mutex
	gen uint64
	wg  sync.WaitGroup
}

// NewFlow creates a flow.
func NewFlow(r *Resolver) *Flow {
	return &Flow{resolver: r}
}

// Start resolves raw in the background and hands the result to present
// unless the flow was closed or restarted in the meantime. present runs with
// the flow's lock held and must not call back into the Flow.
func (f *Flow) Start(ctx context.Context, raw string, present func(ResolvedSpool)) uint64 {
	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		res := f.resolver.Resolve(ctx, raw)

		f.mu.Lock()
		defer f.mu.Unlock()
		if gen != f.gen {
			slog.Debug("Discarding stale resolution", "generation", gen)
			return
		}
		present(res)
	}()
	return gen
}

// Close discards any in-flight result. The request itself is left to finish.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gen++
}

// Wait blocks until every started resolution has finished.
func (f *Flow) Wait() {
	f.wg.Wait()
}
