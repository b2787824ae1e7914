// Package roles defines the two access levels of the agent and the immutable
// role context that is threaded through skill resolution and workspace
// selection.
package roles

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

// Role is the access level of the party driving a session
type Role string

const (
	// Author may create and edit skills, sees every skill root including the
	// system-provided one, and works in the developer workspace.
	Author Role = "author"
	// Consumer only uses skills and works in a per-session workspace.
	Consumer Role = "consumer"
)

// ParseRole converts a role name into a Role. The historical names
// "developer" and "user" are accepted as aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "author", "developer", "dev":
		return Author, nil
	case "consumer", "user", "":
		return Consumer, nil
	default:
		return "", errors.Errorf("unknown role %q (expected author or consumer)", s)
	}
}

// String returns the canonical role name
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles
func (r Role) Valid() bool {
	return r == Author || r == Consumer
}

// Context is the runtime identity attached to a session. It is a value type:
// the With* helpers return modified copies and never mutate the receiver.
type Context struct {
	Role      Role
	UserID    string
	SessionID string
	metadata  map[string]string
}

// NewContext creates a role context for the given role and identities
func NewContext(role Role, userID, sessionID string) Context {
	return Context{Role: role, UserID: userID, SessionID: sessionID}
}

// IsAuthor reports whether the context carries the author role
func (c Context) IsAuthor() bool {
	return c.Role == Author
}

// WithSessionID returns a copy of c bound to the given session
func (c Context) WithSessionID(sessionID string) Context {
	c.SessionID = sessionID
	return c
}

// WithUserID returns a copy of c with the given user identity
func (c Context) WithUserID(userID string) Context {
	c.UserID = userID
	return c
}

// WithMetadata returns a copy of c with key set to value. The metadata map is
// copied so earlier values of the context are unaffected.
func (c Context) WithMetadata(key, value string) Context {
	md := make(map[string]string, len(c.metadata)+1)
	for k, v := range c.metadata {
		md[k] = v
	}
	md[key] = value
	c.metadata = md
	return c
}

// Metadata returns the value stored under key
func (c Context) Metadata(key string) (string, bool) {
	v, ok := c.metadata[key]
	return v, ok
}

// Fields returns the context as log fields
func (c Context) Fields() map[string]any {
	fields := map[string]any{"role": c.Role.String()}
	if c.UserID != "" {
		fields["user_id"] = c.UserID
	}
	if c.SessionID != "" {
		fields["session_id"] = c.SessionID
	}
	return fields
}

type contextKey struct{}

// WithContext attaches the role context to ctx
func WithContext(ctx context.Context, rc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, rc)
}

// FromContext returns the role context attached to ctx. When none is attached
// a consumer context is returned, so missing plumbing never widens access.
func FromContext(ctx context.Context) (Context, bool) {
	rc, ok := ctx.Value(contextKey{}).(Context)
	if !ok {
		return Context{Role: Consumer}, false
	}
	return rc, true
}
