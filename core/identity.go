package core

import (
	"context"
	"sync"
	"time"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyIdentity contextKey = "_identity_"
)

/*Identity is a context object which stores the authenticated caller of a request.

An identity carries the numeric user id, the opaque token it was derived from and
an optional list of roles.

Identities are added to a request context with

  ctx = identity.ContextWithIdentity(ctx)

and retrieved with

  identity := IdentityFromContext(ctx)

The backend hands the identity to the authorization policies of the resources. It
is added to the context by a middleware based on the passed authorization bearer
token. Requests without identity are anonymous.
*/
type Identity struct {
	UserID    int       `json:"user_id"`
	Token     string    `json:"-"`
	Roles     []string  `json:"roles,omitempty"`
	ExpiresAt time.Time `json:"-"`
}

// HasRole returns true if the identity contains the requested role;
// otherwise it returns false.
func (i *Identity) HasRole(role string) bool {
	if i == nil {
		return false
	}
	for _, hasRole := range i.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// ID returns the user id, or 0 for an anonymous caller
func (i *Identity) ID() int {
	if i == nil {
		return 0
	}
	return i.UserID
}

// ContextWithIdentity returns a new context with this identity added to it
func (i *Identity) ContextWithIdentity(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, i)
}

// IdentityFromContext retrieves an identity from the context
func IdentityFromContext(ctx context.Context) *Identity {
	i, ok := ctx.Value(contextKeyIdentity).(*Identity)
	if ok {
		return i
	}
	return nil
}

// IdentityCache is an in-memory cache for identities. It is used by
// the jwt middleware to cache identities for bearer tokens, so that
// a token is only verified once.
type IdentityCache struct {
	mutex sync.RWMutex
	cache map[string]*Identity
}

// NewIdentityCache creates a new identity cache
func NewIdentityCache() *IdentityCache {
	return &IdentityCache{cache: make(map[string]*Identity)}
}

// Read returns an identity from in-process cache.
// This function is go-route safe
func (c *IdentityCache) Read(token string) *Identity {
	c.mutex.RLock()
	identity, ok := c.cache[token]
	c.mutex.RUnlock()
	if ok {
		return identity
	}
	return nil
}

// Write stores an identity in the in-memory cache.
// This function is go-route safe
func (c *IdentityCache) Write(token string, identity *Identity) {
	c.mutex.Lock()
	c.cache[token] = identity
	c.mutex.Unlock()
}
