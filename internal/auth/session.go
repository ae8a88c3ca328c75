// Package auth holds the signed-in session and the role policy that decides
// which parts of the inventory a user may see.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// Roles issued by the backend.
const (
	RoleAdmin     = "admin"
	RoleModerator = "moderator"
	RoleUser      = "user"
)

// Section is an area of the inventory UI.
type Section string

const (
	SectionSpools   Section = "spools"
	SectionUsage    Section = "usage"
	SectionProjects Section = "projects"
	SectionProfile  Section = "profile"
	SectionUsers    Section = "users"
	SectionGroups   Section = "groups"
)

// Session is an immutable snapshot of the signed-in user. The zero value is
// the signed-out session.
type Session struct {
	Token     string    `yaml:"token"`
	Username  string    `yaml:"username"`
	Role      string    `yaml:"role"`
	GroupID   *int64    `yaml:"group_id,omitempty"`
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
}

// SignedIn reports whether the session carries a token that has not expired.
func (s Session) SignedIn(now time.Time) bool {
	if s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

// CanView applies the role visibility policy.
func (s Session) CanView(section Section) bool {
	if s.Token == "" {
		return false
	}
	switch section {
	case SectionSpools, SectionUsage, SectionProjects, SectionProfile:
		return true
	case SectionUsers:
		return s.Role == RoleAdmin || s.Role == RoleModerator
	case SectionGroups:
		return s.Role == RoleAdmin
	default:
		return false
	}
}

// IsAdmin reports whether the session belongs to an administrator.
func (s Session) IsAdmin() bool {
	return s.Role == RoleAdmin
}

// WithGroup returns a copy of s bound to group id.
func (s Session) WithGroup(id int64) Session {
	s.GroupID = &id
	return s
}

// FromToken builds a session from an access token. The signature is not
// checked: the client has no key, and the backend verifies every request.
func FromToken(token string) (Session, error) {
	if token == "" {
		return Session{}, errors.New("empty access token")
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Session{}, fmt.Errorf("failed to parse access token: %w", err)
	}

	s := Session{Token: token, Role: RoleUser}
	if sub, ok := claims["sub"].(string); ok {
		s.Username = sub
	}
	if role, ok := claims["role"].(string); ok && role != "" {
		s.Role = role
	}
	if exp, ok := claims["exp"].(float64); ok {
		s.ExpiresAt = time.Unix(int64(exp), 0)
	}
	switch g := claims["group_id"].(type) {
	case float64:
		s = s.WithGroup(int64(g))
	case string:
		if id, err := strconv.ParseInt(g, 10, 64); err == nil {
			s = s.WithGroup(id)
		}
	}
	return s, nil
}
