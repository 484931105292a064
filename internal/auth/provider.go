package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"pentestdesk/internal/apperr"
	"pentestdesk/internal/models"
	"pentestdesk/internal/store"
)

// Accounts is the slice of the store the provider signs in against.
type Accounts interface {
	store.Users
	store.Sessions
}

// Session is what a successful sign-in hands back to the client.
type Session struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
	Identity    Identity  `json:"-"`
	User        UserView  `json:"user"`
}

type UserView struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

var errInvalidCredentials = apperr.Authentication("invalid credentials")

// Provider is the identity provider: password sign-in, sign-up, sessions
// backed by revocable rows and HS256 access tokens.
type Provider struct {
	accounts   Accounts
	signer     *Signer
	serviceKey string
	lg         *zap.SugaredLogger
	now        func() time.Time

	mu        sync.RWMutex
	onSignOut []func(userID string)
}

func NewProvider(accounts Accounts, signer *Signer, serviceKey string, lg *zap.SugaredLogger) *Provider {
	return &Provider{accounts: accounts, signer: signer, serviceKey: serviceKey, lg: lg, now: time.Now}
}

// OnSignOut registers a hook run after a session is revoked.
func (p *Provider) OnSignOut(fn func(userID string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSignOut = append(p.onSignOut, fn)
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Session{}, apperr.Validation("email and password required")
	}
	u, err := p.accounts.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, errInvalidCredentials
	}
	if err != nil {
		return Session{}, apperr.Upstream(err)
	}
	if CheckPassword(u.PasswordHash, password) != nil || !u.IsActive {
		return Session{}, errInvalidCredentials
	}
	return p.issue(ctx, u)
}

func (p *Provider) issue(ctx context.Context, u models.User) (Session, error) {
	tok, claims, err := p.signer.Sign(u.ID, u.Email)
	if err != nil {
		return Session{}, apperr.Upstream(err)
	}
	exp := claims.ExpiresAt.Time
	if err := p.accounts.CreateSession(ctx, models.Session{JTI: claims.ID, UserID: u.ID, ExpiresAt: exp, CreatedAt: p.now()}); err != nil {
		return Session{}, apperr.Upstream(err)
	}
	if err := p.accounts.TouchSignIn(ctx, u.ID, p.now()); err != nil {
		p.lg.Warnw("touch sign-in failed", "user_id", u.ID, "err", err)
	}
	return Session{
		AccessToken: tok,
		TokenType:   "bearer",
		ExpiresAt:   exp,
		Identity:    Identity{UserID: u.ID, Email: u.Email, SessionID: claims.ID, ExpiresAt: exp},
		User:        UserView{ID: u.ID, Email: u.Email},
	}, nil
}

// SignUp creates an identity with an empty profile and no role: the new
// user waits for an administrator to grant access.
func (p *Provider) SignUp(ctx context.Context, email, password, fullName string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return models.User{}, apperr.Validation("valid email required")
	}
	if err := ValidatePassword(password); err != nil {
		return models.User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return models.User{}, apperr.Upstream(err)
	}
	u, err := p.accounts.CreateAccount(ctx, store.NewAccount{Email: email, PasswordHash: hash, FullName: strings.TrimSpace(fullName)})
	if errors.Is(err, store.ErrConflict) {
		return models.User{}, apperr.Conflict("email already registered")
	}
	if err != nil {
		return models.User{}, apperr.Upstream(err)
	}
	p.lg.Infow("user signed up", "user_id", u.ID)
	return u, nil
}

// SignOut revokes the session behind token and runs the sign-out hooks.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	id, err := p.CurrentIdentity(ctx, token)
	if err != nil {
		return err
	}
	if err := p.accounts.RevokeSession(ctx, id.SessionID, p.now()); err != nil {
		return apperr.Upstream(err)
	}
	p.mu.RLock()
	hooks := append([]func(string){}, p.onSignOut...)
	p.mu.RUnlock()
	for _, fn := range hooks {
		fn(id.UserID)
	}
	return nil
}

// CurrentIdentity verifies the token and its session row.
func (p *Provider) CurrentIdentity(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, apperr.Authentication("missing bearer token")
	}
	c, err := p.signer.Verify(token)
	if err != nil {
		return Identity{}, apperr.Authentication("invalid token")
	}
	sess, err := p.accounts.SessionByJTI(ctx, c.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Identity{}, apperr.Authentication("session not found")
	}
	if err != nil {
		return Identity{}, apperr.Upstream(err)
	}
	if sess.RevokedAt != nil || p.now().After(sess.ExpiresAt) || sess.UserID != c.Subject {
		return Identity{}, apperr.Authentication("session expired/revoked")
	}
	return Identity{UserID: c.Subject, Email: c.Email, SessionID: c.ID, ExpiresAt: sess.ExpiresAt}, nil
}

func (p *Provider) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	u, err := p.accounts.UserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("user not found")
	}
	if err != nil {
		return apperr.Upstream(err)
	}
	if CheckPassword(u.PasswordHash, oldPassword) != nil {
		return apperr.Authentication("current password is incorrect")
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return apperr.Upstream(err)
	}
	return apperr.Upstream(p.accounts.UpdatePasswordHash(ctx, userID, hash))
}

// IsServiceCredential reports whether token is the configured service key.
func (p *Provider) IsServiceCredential(token string) bool {
	if p.serviceKey == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(p.serviceKey)) == 1
}

// EnsureAdmin provisions the bootstrap administrator when it does not exist.
func (p *Provider) EnsureAdmin(ctx context.Context, email, password string) (models.User, bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	u, err := p.accounts.UserByEmail(ctx, email)
	if err == nil {
		return u, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.User{}, false, err
	}
	if err := ValidatePassword(password); err != nil {
		return models.User{}, false, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return models.User{}, false, err
	}
	u, err = p.accounts.CreateAccount(ctx, store.NewAccount{
		Email: email, PasswordHash: hash, FullName: "Administrator", Role: models.RoleAdmin, Confirmed: true,
	})
	if err != nil {
		return models.User{}, false, err
	}
	return u, true, nil
}
