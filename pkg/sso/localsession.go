package sso

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// LocalCookieName is the cookie carrying the local session
const LocalCookieName = "websso_auth"

// LocalSessions tracks which principal is signed in to the site
type LocalSessions struct {
	store  SessionStore
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewLocalSessions creates local sessions kept in store for ttl
func NewLocalSessions(store SessionStore, ttl time.Duration, secure bool) *LocalSessions {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	return &LocalSessions{store: store, ttl: ttl, secure: secure, now: time.Now}
}

// Establish signs the principal in and sets the session cookie
func (l *LocalSessions) Establish(ctx context.Context, w http.ResponseWriter, principalID int64) error {
	id, err := NewSessionID()
	if err != nil {
		return err
	}
	now := l.now()
	session := &Session{
		ID:          id,
		PrincipalID: principalID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(l.ttl),
	}
	if err := l.store.Put(ctx, session); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     LocalCookieName,
		Value:    id,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   l.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// PrincipalID returns the signed-in principal of the request
func (l *LocalSessions) PrincipalID(r *http.Request) (int64, error) {
	cookie, err := r.Cookie(LocalCookieName)
	if err != nil || cookie.Value == "" {
		return 0, ErrSessionNotFound
	}
	session, err := l.store.Get(r.Context(), cookie.Value)
	if err != nil {
		return 0, err
	}
	if session.Expired(l.now()) || session.PrincipalID == 0 {
		return 0, ErrSessionNotFound
	}
	return session.PrincipalID, nil
}

// Clear signs the request out
func (l *LocalSessions) Clear(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(LocalCookieName); err == nil && cookie.Value != "" {
		_ = l.store.Delete(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     LocalCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   l.secure,
		SameSite: http.SameSiteLaxMode,
	})
}
