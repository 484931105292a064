// Package session composes the identity provider and the role resolver into
// one explicit context per signed-in client.
package session

import (
	"context"
	"sync"

	"pentestdesk/internal/auth"
	"pentestdesk/internal/models"
	"pentestdesk/internal/roles"
)

// Snapshot is the combined identity and role state at one instant.
type Snapshot struct {
	Identity *auth.Identity `json:"identity,omitempty"`
	Role     roles.State    `json:"role"`
	Loading  bool           `json:"loading"`
}

func (s Snapshot) Authenticated() bool { return s.Identity != nil }

func (s Snapshot) UserID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.UserID
}

// FromRequest builds the snapshot for a single request from the values the
// auth and roles middleware stored in ctx.
func FromRequest(ctx context.Context) Snapshot {
	id, ok := auth.IdentityFrom(ctx)
	if !ok {
		return Snapshot{}
	}
	return Snapshot{Identity: &id, Role: roles.FromContext(ctx)}
}

type Context struct {
	provider *auth.Provider
	resolver *roles.Resolver

	mu              sync.RWMutex
	identity        *auth.Identity
	identityLoading bool
	token           string
	watcher         *roles.Watcher
}

// New returns a context that reports Loading until Start or SignIn completes.
func New(p *auth.Provider, r *roles.Resolver) *Context {
	return &Context{provider: p, resolver: r, identityLoading: true}
}

// Start restores a session from an access token, resolves the role and
// starts watching it.
func (c *Context) Start(ctx context.Context, token string) error {
	c.mu.Lock()
	c.identityLoading = true
	c.mu.Unlock()

	id, err := c.provider.CurrentIdentity(ctx, token)
	if err != nil {
		c.reset()
		return err
	}
	c.mu.Lock()
	c.identity, c.token = &id, token
	c.identityLoading = false
	c.mu.Unlock()

	w, err := c.resolver.Watch(ctx, id.UserID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	old := c.watcher
	c.watcher = w
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

func (c *Context) SignIn(ctx context.Context, email, password string) (auth.Session, error) {
	s, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		return auth.Session{}, err
	}
	return s, c.Start(ctx, s.AccessToken)
}

// SignOut revokes the session and clears identity and role.
func (c *Context) SignOut(ctx context.Context) error {
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	var err error
	if token != "" {
		err = c.provider.SignOut(ctx, token)
	}
	c.reset()
	return err
}

func (c *Context) reset() {
	c.mu.Lock()
	w := c.watcher
	c.identity, c.token, c.watcher = nil, "", nil
	c.identityLoading = false
	c.mu.Unlock()
	if w != nil {
		w.Close()
	}
}

func (c *Context) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := Snapshot{Loading: c.identityLoading}
	if c.identity != nil {
		id := *c.identity
		s.Identity = &id
	}
	switch {
	case c.watcher != nil:
		s.Role = c.watcher.State()
	case c.identity != nil:
		s.Role = roles.Loading()
	default:
		s.Role = roles.StateOf(models.RoleNone)
	}
	s.Loading = s.Loading || s.Role.Loading
	return s
}

// RoleUpdates signals role changes; nil before Start.
func (c *Context) RoleUpdates() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Updates()
}

// Close releases the role watcher without revoking the session.
func (c *Context) Close() {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()
	if w != nil {
		w.Close()
	}
}
