package auth

import (
	"context"
	"time"
)

type ctxKey string

const identityKey ctxKey = "identity"

// Identity is the authenticated caller behind a verified, unrevoked session.
type Identity struct {
	UserID    string
	Email     string
	SessionID string
	ExpiresAt time.Time
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

func Subject(ctx context.Context) string {
	id, _ := IdentityFrom(ctx)
	return id.UserID
}
