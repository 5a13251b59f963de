package credentials

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"stories-go/internal/stories"
)

var (
	// ErrNotLoggedIn means no session is stored.
	ErrNotLoggedIn = errors.New("not logged in")

	// ErrTokenExpired means the stored token's exp claim has passed.
	ErrTokenExpired = errors.New("session expired, log in again")
)

// Accessor hands the current token to the remote client.
type Accessor struct {
	store TokenStore
	clock stories.Clock
}

// NewAccessor creates an Accessor over store.
func NewAccessor(store TokenStore, clock stories.Clock) *Accessor {
	if clock == nil {
		clock = stories.RealClock{}
	}
	return &Accessor{store: store, clock: clock}
}

// Token returns the stored bearer token.
// The signature is not checked here; the API does that. Only the exp claim is
// read, so an expired session fails locally instead of as a remote rejection.
// Tokens that are not JWTs are passed through unchanged.
func (a *Accessor) Token(ctx context.Context) (string, error) {
	sess, err := a.store.Load()
	if err != nil {
		return "", fmt.Errorf("loading session: %w", err)
	}
	if sess == nil || sess.Token == "" {
		return "", ErrNotLoggedIn
	}

	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(sess.Token, &claims); err != nil {
		return sess.Token, nil
	}
	if claims.ExpiresAt != nil && !a.clock.Now().Before(claims.ExpiresAt.Time) {
		return "", ErrTokenExpired
	}
	return sess.Token, nil
}

// Session returns the stored session, or ErrNotLoggedIn.
func (a *Accessor) Session() (*Session, error) {
	sess, err := a.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if sess == nil {
		return nil, ErrNotLoggedIn
	}
	return sess, nil
}
