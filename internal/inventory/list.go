package inventory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sjteam/spoolscan/internal/models"
)

// Lister fetches the spool list.
type Lister interface {
	ListSpools(ctx context.Context) ([]models.Spool, error)
}

// ListSnapshot is the last applied spool list.
type ListSnapshot struct {
	Spools    []models.Spool `json:"spools"`
	Error     string         `json:"error,omitempty"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// ListView keeps a spool list fresh by refetching it whenever the bus
// signals a change. Refreshes are never merged: the most recently started
// one that completes wins.
type ListView struct {
	lister Lister
	now    func() time.Time

	mu      sync.Mutex
	seq     uint64
	applied uint64
	snap    ListSnapshot
}

// NewListView creates an empty list view.
func NewListView(l Lister) *ListView {
	return &ListView{lister: l, now: time.Now}
}

// Refresh fetches the list once.
func (l *ListView) Refresh(ctx context.Context) error {
	l.mu.Lock()
	l.seq++
	seq := l.seq
	l.mu.Unlock()

	spools, err := l.lister.ListSpools(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < l.applied {
		return err
	}
	l.applied = seq
	if err != nil {
		l.snap.Error = err.Error()
		return err
	}
	l.snap = ListSnapshot{Spools: spools, FetchedAt: l.now()}
	return nil
}

// Run refreshes once, then again on every bus signal until ctx is done.
func (l *ListView) Run(ctx context.Context, bus *Bus) {
	signals, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	if err := l.Refresh(ctx); err != nil {
		slog.Warn("Initial spool list fetch failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-signals:
			if !ok {
				return
			}
			slog.Debug("Inventory changed, refetching spools")
			if err := l.Refresh(ctx); err != nil {
				slog.Warn("Spool list refresh failed", "error", err)
			}
		}
	}
}

// Snapshot returns a copy of the last applied list.
func (l *ListView) Snapshot() ListSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := l.snap
	snap.Spools = append([]models.Spool(nil), l.snap.Spools...)
	return snap
}
