// Package app wires the scan pipeline: camera and photo capture, spool
// resolution, the spool view and its inventory actions.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/sjteam/spoolscan/internal/api"
	"github.com/sjteam/spoolscan/internal/auth"
	"github.com/sjteam/spoolscan/internal/camera"
	"github.com/sjteam/spoolscan/internal/config"
	"github.com/sjteam/spoolscan/internal/decoder"
	"github.com/sjteam/spoolscan/internal/inventory"
	"github.com/sjteam/spoolscan/internal/resolve"
	"github.com/sjteam/spoolscan/internal/scan"
)

// ErrScanFailed wraps the dialog's user-facing failure message.
var ErrScanFailed = errors.New("scan failed")

// App is one running instance of the pipeline.
type App struct {
	Config   config.Config
	Auth     *auth.Context
	API      *api.Client
	Camera   *camera.Manager
	Scanner  *scan.Controller
	Resolver *resolve.Resolver
	Flow     *resolve.Flow
	View     *inventory.View
	Bus      *inventory.Bus
	Bridge   *inventory.Bridge
	Spools   *inventory.ListView

	ctx      context.Context
	log      *slog.Logger
	stopAuth func()

	scanMu    sync.Mutex
	actionMu  sync.Mutex
	mu        sync.Mutex
	waiters   map[uint64]chan resolve.ResolvedSpool
	listeners []func(Outcome)
}

// Outcome is a finished scan: which session produced it and how it resolved.
type Outcome struct {
	SessionID uint64
	Source    scan.Mode
	Resolved  resolve.ResolvedSpool
}

type options struct {
	device     camera.Device
	hasDevice  bool
	store      auth.Store
	httpClient *http.Client
	logger     *slog.Logger
}

// Option customizes New.
type Option func(*options)

// WithDevice overrides the camera from the config. A nil device disables
// camera mode.
func WithDevice(d camera.Device) Option {
	return func(o *options) {
		o.device = d
		o.hasDevice = true
	}
}

// WithAuthStore overrides the session file.
func WithAuthStore(s auth.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithHTTPClient sets the client used for backend calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New builds the pipeline. ctx bounds background resolutions.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.store == nil {
		o.store = auth.NewFileStore(cfg.SessionFile)
	}

	a := &App{
		Config:  cfg,
		ctx:     ctx,
		log:     o.logger,
		waiters: make(map[uint64]chan resolve.ResolvedSpool),
	}
	a.Auth = auth.NewContext(o.store)

	clientOpts := []api.Option{
		api.WithTokenSource(a.Auth),
		api.WithGroupBlockedHandler(a.Auth.Logout),
	}
	if o.httpClient != nil {
		clientOpts = append(clientOpts, api.WithHTTPClient(o.httpClient))
	}
	clientOpts = append(clientOpts, api.WithTimeout(cfg.Timeout))
	a.API = api.NewClient(cfg.APIURL, clientOpts...)

	dec := decoder.New()
	device := o.device
	if !o.hasDevice {
		var err error
		device, err = NewDevice(cfg.Camera)
		if err != nil {
			a.log.Warn("Camera disabled", "error", err)
			device = nil
		}
	}

	var cam scan.Camera
	if device != nil {
		camCfg := camera.DefaultConfig()
		if cfg.Camera.SampleRate > 0 {
			camCfg.SampleRate = cfg.Camera.SampleRate
		}
		if cfg.Camera.OpenTimeout > 0 {
			camCfg.OpenTimeout = cfg.Camera.OpenTimeout
		}
		a.Camera = camera.NewManager(device, dec, camera.WithConfig(camCfg), camera.WithLogger(a.log))
		cam = a.Camera
	}

	a.Scanner = scan.NewController(cam, dec, a.log)
	a.Resolver = resolve.NewResolver(a.API)
	a.Flow = resolve.NewFlow(a.Resolver)
	a.View = inventory.NewView()
	a.Bus = inventory.NewBus()
	a.Bridge = inventory.NewBridge(a.API, a.Bus, a.log)
	a.Spools = inventory.NewListView(a.API)

	a.Scanner.OnResult(a.handleResult)
	a.stopAuth = a.Auth.Subscribe(func(s auth.Session) {
		if s.Token == "" {
			a.CloseView()
		}
	})
	return a, nil
}

// NewDevice builds the camera named by cfg. It returns nil for "none".
func NewDevice(cfg config.Camera) (camera.Device, error) {
	switch cfg.Device {
	case config.DeviceNone, "":
		return nil, nil
	case config.DeviceReplay:
		return camera.NewReplayDevice(cfg.ReplayDir), nil
	case config.DeviceGocv:
		return camera.NewGocvDevice(cfg.RearIndex, cfg.FallbackIndex)
	default:
		return nil, fmt.Errorf("unknown camera device %q", cfg.Device)
	}
}

// OnOutcome registers fn for every resolved scan.
func (a *App) OnOutcome(fn func(Outcome)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// handleResult runs after the scan dialog has closed itself.
func (a *App) handleResult(sessionID uint64, text string) {
	source := a.Scanner.Snapshot().Mode
	a.Flow.Start(a.ctx, text, func(r resolve.ResolvedSpool) {
		a.View.Present(r)

		a.mu.Lock()
		waiter := a.waiters[sessionID]
		delete(a.waiters, sessionID)
		listeners := append([]func(Outcome){}, a.listeners...)
		a.mu.Unlock()

		out := Outcome{SessionID: sessionID, Source: source, Resolved: r}
		for _, fn := range listeners {
			fn(out)
		}
		if waiter != nil {
			waiter <- r
		}
	})
}

// ScanRequest selects how Scan acquires a code.
type ScanRequest struct {
	Mode  scan.Mode
	Photo []byte
}

// Scan runs one scan session to completion: it opens the dialog, acquires a
// code, and waits for the resolution that the dialog hands off when it
// closes. Camera failures and undecodable photos end the attempt with
// ErrScanFailed.
func (a *App) Scan(ctx context.Context, req ScanRequest) (Outcome, error) {
	a.scanMu.Lock()
	defer a.scanMu.Unlock()

	id := a.Scanner.Open(ctx)
	defer a.Scanner.Close()

	done := make(chan resolve.ResolvedSpool, 1)
	a.mu.Lock()
	a.waiters[id] = done
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.waiters, id)
		a.mu.Unlock()
	}()

	switch req.Mode {
	case scan.ModePhoto:
		snap, err := a.Scanner.SubmitPhoto(req.Photo)
		if err != nil {
			return Outcome{}, err
		}
		if snap.Status == scan.StatusFailed {
			return Outcome{}, fmt.Errorf("%w: %s", ErrScanFailed, snap.LastError)
		}
	case scan.ModeCamera:
		if err := a.Scanner.SelectMode(scan.ModeCamera); err != nil {
			return Outcome{}, err
		}
	default:
		return Outcome{}, fmt.Errorf("unknown scan mode %q", req.Mode)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case r := <-done:
			return Outcome{SessionID: id, Source: req.Mode, Resolved: r}, nil
		case <-ctx.Done():
			a.Flow.Close()
			return Outcome{}, ctx.Err()
		case <-ticker.C:
			snap := a.Scanner.Snapshot()
			if snap.ID == id && snap.Status == scan.StatusFailed {
				return Outcome{}, fmt.Errorf("%w: %s", ErrScanFailed, snap.LastError)
			}
		}
	}
}

// ShowSpool opens the spool view on the spool with id, as if it had been
// scanned. The error is the resolution failure, if any.
func (a *App) ShowSpool(ctx context.Context, id int64) (inventory.ViewSnapshot, error) {
	a.actionMu.Lock()
	defer a.actionMu.Unlock()
	return a.showLocked(ctx, id)
}

func (a *App) showLocked(ctx context.Context, id int64) (inventory.ViewSnapshot, error) {
	r := resolve.ResolvedSpool{SpoolID: &id}
	spool, err := a.API.GetSpool(ctx, id)
	switch {
	case err == nil:
		r.Spool = spool
	case api.IsNotFound(err):
		r.Err, r.Error = resolve.ErrSpoolNotFound, resolve.ErrSpoolNotFound.Error()
	default:
		r.Err = fmt.Errorf("%w: %w", resolve.ErrUnavailable, err)
		r.Error = resolve.ErrUnavailable.Error() + ": " + api.Detail(err)
	}
	a.View.Present(r)
	return a.View.Snapshot(), r.Err
}

// DeleteSpool shows spool id and deletes it through the confirmation step.
func (a *App) DeleteSpool(ctx context.Context, id int64) (inventory.ViewSnapshot, error) {
	a.actionMu.Lock()
	defer a.actionMu.Unlock()

	if snap, err := a.showLocked(ctx, id); err != nil {
		return snap, err
	}
	if err := a.View.RequestDelete(); err != nil {
		return a.View.Snapshot(), err
	}
	err := a.Bridge.DeleteSpool(ctx, a.View)
	return a.View.Snapshot(), err
}

// RecordUsage shows spool id and submits form through the usage dialog.
func (a *App) RecordUsage(ctx context.Context, id int64, form inventory.UsageForm) (inventory.ViewSnapshot, error) {
	a.actionMu.Lock()
	defer a.actionMu.Unlock()

	if snap, err := a.showLocked(ctx, id); err != nil {
		return snap, err
	}
	if err := a.View.OpenUsage(); err != nil {
		return a.View.Snapshot(), err
	}
	a.View.SetForm(form)
	err := a.Bridge.RecordUsage(ctx, a.View)
	return a.View.Snapshot(), err
}

// CloseView dismisses the spool view. A resolution still in flight is
// dropped rather than reopening it.
func (a *App) CloseView() {
	a.Flow.Close()
	a.View.Close()
}

// Close releases the camera, drops pending resolutions and waits for their
// requests to finish.
func (a *App) Close() {
	a.stopAuth()
	a.Scanner.Close()
	a.Flow.Close()
	a.Flow.Wait()
	if a.Camera != nil {
		if err := a.Camera.Close(); err != nil {
			a.log.Error("Camera did not release on shutdown", "error", err)
		}
	}
}
