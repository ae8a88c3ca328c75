package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sjteam/spoolscan/internal/models"
)

// Authenticator is the backend's login surface.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*models.Token, error)
	Me(ctx context.Context) (*models.Profile, error)
}

// Context is the process-wide holder of the current Session. Components read
// immutable snapshots from it instead of global flags, and may subscribe to
// be told when the user signs in or out.
type Context struct {
	store Store
	now   func() time.Time

	mu     sync.RWMutex
	cur    Session
	subs   map[int]func(Session)
	nextID int
}

// NewContext loads the saved session from store. An expired or unreadable
// session starts signed out.
func NewContext(store Store) *Context {
	if store == nil {
		store = &MemoryStore{}
	}
	c := &Context{store: store, now: time.Now, subs: make(map[int]func(Session))}

	s, err := store.Load()
	if err != nil {
		slog.Warn("Ignoring saved session", "error", err)
		return c
	}
	if s.Token != "" && !s.SignedIn(c.now()) {
		slog.Info("Saved session expired", "username", s.Username)
		_ = store.Clear()
		return c
	}
	c.cur = s
	return c
}

// Current returns the current session snapshot.
func (c *Context) Current() Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// Token implements api.TokenSource.
func (c *Context) Token() string {
	return c.Current().Token
}

// Subscribe calls fn with every new snapshot until the returned cancel func runs.
func (c *Context) Subscribe(fn func(Session)) (cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Login signs in through a and persists the resulting session. The user's
// group is taken from the profile when the token does not carry it.
func (c *Context) Login(ctx context.Context, a Authenticator, username, password string) (Session, error) {
	tok, err := a.Login(ctx, username, password)
	if err != nil {
		return Session{}, fmt.Errorf("login failed: %w", err)
	}
	s, err := FromToken(tok.AccessToken)
	if err != nil {
		return Session{}, err
	}
	if s.Username == "" {
		s.Username = username
	}

	c.mu.Lock()
	c.cur = s
	c.mu.Unlock()

	if profile, err := a.Me(ctx); err != nil {
		slog.Warn("Failed to fetch profile after login", "username", s.Username, "error", err)
	} else {
		if profile.Group != nil && s.GroupID == nil {
			s = s.WithGroup(profile.Group.ID)
		}
		if profile.Role != nil && profile.Role.Name != "" {
			s.Role = profile.Role.Name
		}
	}

	if err := c.store.Save(s); err != nil {
		slog.Error("Failed to save session", "error", err)
	}
	c.set(s)
	slog.Info("Signed in", "username", s.Username, "role", s.Role)
	return s, nil
}

// Logout clears the session. It is safe to call when already signed out.
func (c *Context) Logout() {
	if c.Current().Token == "" {
		return
	}
	if err := c.store.Clear(); err != nil {
		slog.Error("Failed to clear session", "error", err)
	}
	c.set(Session{})
	slog.Info("Signed out")
}

// RequireSignedIn returns the session or an error asking the user to log in.
func (c *Context) RequireSignedIn() (Session, error) {
	s := c.Current()
	if !s.SignedIn(c.now()) {
		return Session{}, ErrSignedOut
	}
	return s, nil
}

// ErrSignedOut is returned when an operation needs a session and there is none.
var ErrSignedOut = errors.New("not signed in: run `spoolscan login` first")

func (c *Context) set(s Session) {
	c.mu.Lock()
	c.cur = s
	subs := make([]func(Session), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}
