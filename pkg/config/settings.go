package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Settings defaults
const (
	DefaultIdentityClientLocation = "/etc/websso/identity-client.yaml"
	DefaultAuthSourceName         = "default-sp"
)

// SSOSettings are the administrator-facing single sign-on settings
type SSOSettings struct {
	IdentityClientLocation string `yaml:"identity_client_location" json:"identity_client_location"`
	AuthSourceName         string `yaml:"auth_source" json:"auth_source"`
	ForceSSO               bool   `yaml:"force_sso" json:"force_sso"`
}

// SettingsInput is an unvalidated settings submission
type SettingsInput struct {
	IdentityClientLocation string
	AuthSourceName         string
	ForceSSO               string
}

// ValidateSettings merges input over current. A location that does not
// exist and an empty source name keep their current values.
func ValidateSettings(input SettingsInput, current SSOSettings) SSOSettings {
	out := current
	out.ForceSSO = parseFlag(input.ForceSSO)

	location := strings.TrimSpace(input.IdentityClientLocation)
	if location != "" && exists(location) {
		out.IdentityClientLocation = location
	}

	if source := strings.TrimSpace(input.AuthSourceName); source != "" {
		out.AuthSourceName = source
	}

	return out
}

func parseFlag(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SettingsStatus tracks the active settings and whether the identity client
// can be loaded from the configured location
type SettingsStatus struct {
	mu        sync.RWMutex
	settings  SSOSettings
	missing   bool
	listeners []func(SSOSettings, bool)
	moved     chan struct{}
}

// NewSettingsStatus checks the location and returns the status
func NewSettingsStatus(settings SSOSettings) *SettingsStatus {
	return &SettingsStatus{
		settings: settings,
		missing:  !exists(settings.IdentityClientLocation),
		moved:    make(chan struct{}, 1),
	}
}

// AutoloadMissing reports whether the identity client location was missing
// at the last check
func (s *SettingsStatus) AutoloadMissing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.missing
}

// Settings returns a copy of the active settings
func (s *SettingsStatus) Settings() SSOSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// OnChange registers fn to run after every refresh or apply
func (s *SettingsStatus) OnChange(fn func(SSOSettings, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Refresh re-checks the location and notifies listeners
func (s *SettingsStatus) Refresh() {
	s.mu.Lock()
	s.missing = !exists(s.settings.IdentityClientLocation)
	settings, missing, listeners := s.settings, s.missing, s.listeners
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(settings, missing)
	}
}

// Apply validates input against the active settings and makes the result
// active
func (s *SettingsStatus) Apply(input SettingsInput) SSOSettings {
	s.mu.Lock()
	previous := s.settings.IdentityClientLocation
	s.settings = ValidateSettings(input, s.settings)
	moved := s.settings.IdentityClientLocation != previous
	s.mu.Unlock()

	if moved {
		select {
		case s.moved <- struct{}{}:
		default:
		}
	}
	s.Refresh()
	return s.Settings()
}

// WatchSettings re-checks status whenever the identity client directory
// changes, until ctx is cancelled
func WatchSettings(ctx context.Context, status *SettingsStatus, logger logrus.FieldLogger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	watched := ""
	rewatch := func() {
		dir := filepath.Dir(status.Settings().IdentityClientLocation)
		if dir == watched {
			return
		}
		if watched != "" {
			_ = watcher.Remove(watched)
		}
		if err := watcher.Add(dir); err != nil {
			logger.WithError(err).WithField("dir", dir).Warn("Cannot watch identity client directory")
			watched = ""
			return
		}
		watched = dir
		logger.WithField("dir", dir).Debug("Watching identity client directory")
	}
	rewatch()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-status.moved:
			rewatch()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			location := filepath.Clean(status.Settings().IdentityClientLocation)
			if filepath.Clean(event.Name) != location {
				continue
			}
			before := status.AutoloadMissing()
			status.Refresh()
			logger.WithFields(logrus.Fields{
				"event":            event.Op.String(),
				"autoload_missing": status.AutoloadMissing(),
				"was_missing":      before,
			}).Info("Identity client changed")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WithError(err).Warn("Settings watcher error")
		}
	}
}
