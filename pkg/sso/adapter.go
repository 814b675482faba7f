package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// AssertionAdapter wraps an identity-provider client. It never decides who
// the user is locally; it only reports what the identity provider asserted.
type AssertionAdapter interface {
	// Protocol returns the federation protocol
	Protocol() Protocol

	// IsAuthenticated reports whether the request carries a live upstream session
	IsAuthenticated(r *http.Request) bool

	// RequireAuth redirects the client to the identity provider.
	// After authentication the client is sent back to returnTo.
	RequireAuth(w http.ResponseWriter, r *http.Request, returnTo string) error

	// Attributes returns the assertion of the current upstream session
	Attributes(r *http.Request) (RawAssertion, error)

	// Logout ends the upstream session and sends the client to returnURL
	// when the identity provider honours it
	Logout(w http.ResponseWriter, r *http.Request, returnURL string) error
}

// CallbackHandler is implemented by adapters that receive the identity
// provider's response on a route of their own
type CallbackHandler interface {
	// HandleCallback verifies the response, stores the upstream session and
	// returns where the client should continue
	HandleCallback(w http.ResponseWriter, r *http.Request) (string, error)
}

// AdapterOptions holds the settings shared by all adapters
type AdapterOptions struct {
	BaseURL    string
	Store      SessionStore
	SessionTTL time.Duration
	Logger     logrus.FieldLogger
}

func (o *AdapterOptions) withDefaults() (*AdapterOptions, error) {
	if o == nil || o.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if o.Store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	opts := *o
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 8 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &opts, nil
}

// UpstreamCookieName is the cookie referencing the upstream session
const UpstreamCookieName = "websso_idp"

// upstreamSessions ties the upstream session cookie to the session store
type upstreamSessions struct {
	store  SessionStore
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func newUpstreamSessions(opts *AdapterOptions) *upstreamSessions {
	return &upstreamSessions{
		store:  opts.Store,
		ttl:    opts.SessionTTL,
		secure: strings.HasPrefix(opts.BaseURL, "https://"),
		now:    time.Now,
	}
}

func (u *upstreamSessions) current(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(UpstreamCookieName)
	if err != nil || cookie.Value == "" {
		return nil, ErrSessionNotFound
	}
	session, err := u.store.Get(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	if session.Expired(u.now()) {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (u *upstreamSessions) establish(ctx context.Context, w http.ResponseWriter, session *Session, notOnOrAfter *time.Time) error {
	id, err := NewSessionID()
	if err != nil {
		return err
	}
	now := u.now()
	session.ID = id
	session.CreatedAt = now
	session.ExpiresAt = now.Add(u.ttl)
	if notOnOrAfter != nil && !notOnOrAfter.IsZero() && notOnOrAfter.Before(session.ExpiresAt) {
		session.ExpiresAt = *notOnOrAfter
	}

	if err := u.store.Put(ctx, session); err != nil {
		return fmt.Errorf("failed to store upstream session: %w", err)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     UpstreamCookieName,
		Value:    id,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   u.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func (u *upstreamSessions) clear(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(UpstreamCookieName); err == nil && cookie.Value != "" {
		_ = u.store.Delete(r.Context(), cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     UpstreamCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   u.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (u *upstreamSessions) attributes(r *http.Request) (RawAssertion, error) {
	session, err := u.current(r)
	if errors.Is(err, ErrSessionNotFound) {
		return RawAssertion{}, nil
	}
	if err != nil {
		return nil, err
	}
	if session.Attributes == nil {
		return RawAssertion{}, nil
	}
	return session.Attributes, nil
}

// SafeReturnTo resolves target against baseURL and falls back to "/" for
// anything that would leave the site
func SafeReturnTo(baseURL, target string) string {
	if target == "" {
		return "/"
	}
	if strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") && !strings.HasPrefix(target, "/\\") {
		return target
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return "/"
	}
	u, err := url.Parse(target)
	if err != nil || !u.IsAbs() {
		return "/"
	}
	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return "/"
	}
	return u.String()
}
