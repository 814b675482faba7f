package sso

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/platinummonkey/websso/pkg/config"
)

// MetadataProvider is implemented by adapters publishing service provider
// metadata
type MetadataProvider interface {
	Metadata() ([]byte, error)
}

// NewAdapter creates the adapter for an auth source
func NewAdapter(ctx context.Context, source *config.AuthSource, opts *AdapterOptions) (AssertionAdapter, error) {
	if source == nil {
		return nil, fmt.Errorf("auth source is required")
	}
	switch source.Protocol {
	case config.ProtocolSAML:
		return NewSAMLAdapter(source.SAML, opts)
	case config.ProtocolOIDC:
		return NewOIDCAdapter(ctx, source.OIDC, opts)
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", source.Protocol)
	}
}

// LoadAdapter reads the identity client named by settings and creates the
// adapter for its auth source
func LoadAdapter(ctx context.Context, settings config.SSOSettings, opts *AdapterOptions) (AssertionAdapter, error) {
	client, err := config.LoadIdentityClient(settings.IdentityClientLocation)
	if err != nil {
		return nil, err
	}
	source, err := client.Source(settings.AuthSourceName)
	if err != nil {
		return nil, err
	}
	return NewAdapter(ctx, source, opts)
}

// SwitchableAdapter delegates to the adapter most recently set. Without one
// it behaves as an identity provider client that could not be loaded.
type SwitchableAdapter struct {
	mu      sync.RWMutex
	current AssertionAdapter
}

// NewSwitchableAdapter creates a switchable adapter, optionally with an
// initial delegate
func NewSwitchableAdapter(initial AssertionAdapter) *SwitchableAdapter {
	return &SwitchableAdapter{current: initial}
}

// Set replaces the delegate. A nil adapter marks the client unavailable.
func (s *SwitchableAdapter) Set(adapter AssertionAdapter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = adapter
}

// Current returns the delegate, or nil
func (s *SwitchableAdapter) Current() AssertionAdapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Protocol returns the delegate protocol
func (s *SwitchableAdapter) Protocol() Protocol {
	if a := s.Current(); a != nil {
		return a.Protocol()
	}
	return ""
}

// IsAuthenticated reports false without a delegate
func (s *SwitchableAdapter) IsAuthenticated(r *http.Request) bool {
	a := s.Current()
	return a != nil && a.IsAuthenticated(r)
}

// RequireAuth fails with AutoloadMissing without a delegate
func (s *SwitchableAdapter) RequireAuth(w http.ResponseWriter, r *http.Request, returnTo string) error {
	a := s.Current()
	if a == nil {
		return newError(KindAutoloadMissing, nil)
	}
	return a.RequireAuth(w, r, returnTo)
}

// Attributes fails with AutoloadMissing without a delegate
func (s *SwitchableAdapter) Attributes(r *http.Request) (RawAssertion, error) {
	a := s.Current()
	if a == nil {
		return nil, newError(KindAutoloadMissing, nil)
	}
	return a.Attributes(r)
}

// Logout fails with AutoloadMissing without a delegate
func (s *SwitchableAdapter) Logout(w http.ResponseWriter, r *http.Request, returnURL string) error {
	a := s.Current()
	if a == nil {
		return newError(KindAutoloadMissing, nil)
	}
	return a.Logout(w, r, returnURL)
}

// HandleCallback forwards to the delegate when it handles callbacks
func (s *SwitchableAdapter) HandleCallback(w http.ResponseWriter, r *http.Request) (string, error) {
	cb, ok := s.Current().(CallbackHandler)
	if !ok {
		return "", ErrNoCallback
	}
	return cb.HandleCallback(w, r)
}

// Metadata forwards to the delegate when it publishes metadata
func (s *SwitchableAdapter) Metadata() ([]byte, error) {
	mp, ok := s.Current().(MetadataProvider)
	if !ok {
		return nil, ErrNoMetadata
	}
	return mp.Metadata()
}
