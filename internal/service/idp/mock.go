package idp

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dzerik/oauth-relay/internal/config"
	"github.com/dzerik/oauth-relay/internal/model"
	"github.com/dzerik/oauth-relay/internal/service/crypto"
	"github.com/dzerik/oauth-relay/pkg/logger"
)

const (
	mockCodePrefix  = "mock_"
	mockTokenPrefix = "mock_access_"

	defaultProfilesDir = "./configs/profiles"
	reloadDebounce     = 500 * time.Millisecond
)

// ProfileUser is the provider user a dev profile logs in as.
type ProfileUser struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Username string `yaml:"username"`
}

// Profile is one YAML file under the profiles directory.
type Profile struct {
	User ProfileUser `yaml:"user"`
	// Access maps experience ids to the access level the user holds.
	Access map[string]string `yaml:"access"`
}

// MockProvider stands in for Whop in dev mode. Authorization redirects
// straight back to the relay callback with a code naming the profile.
type MockProvider struct {
	config      *config.DevModeConfig
	dir         string
	callbackURL string

	mu             sync.RWMutex
	profiles       map[string]*Profile
	defaultProfile string

	watcher   *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// NewMockProvider creates a new mock provider for dev mode
func NewMockProvider(cfg *config.DevModeConfig, callbackURL string) (*MockProvider, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, fmt.Errorf("dev mode is not enabled")
	}

	dir := cfg.ProfilesDir
	if dir == "" {
		dir = defaultProfilesDir
	}

	p := &MockProvider{
		config:      cfg,
		dir:         dir,
		callbackURL: callbackURL,
		done:        make(chan struct{}),
	}

	if err := p.reload(); err != nil {
		return nil, fmt.Errorf("failed to load profiles: %w", err)
	}

	if cfg.WatchProfiles {
		if err := p.watch(); err != nil {
			logger.Warn("profile hot reload disabled",
				zap.String("dir", dir),
				zap.Error(err),
			)
		}
	}

	return p, nil
}

// reload replaces the profile set from disk.
func (p *MockProvider) reload() error {
	profiles, err := loadProfiles(p.dir)
	if err != nil {
		return err
	}

	def := p.config.DefaultProfile
	if def != "" {
		if _, ok := profiles[def]; !ok {
			return fmt.Errorf("default profile '%s' not found", def)
		}
	} else {
		def = firstProfile(profiles)
	}

	p.mu.Lock()
	p.profiles = profiles
	p.defaultProfile = def
	p.mu.Unlock()
	return nil
}

func loadProfiles(dir string) (map[string]*Profile, error) {
	profiles := make(map[string]*Profile)

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		profiles["default"] = &Profile{
			User:   ProfileUser{ID: "user_mock", Name: "Mock User", Username: "mock"},
			Access: map[string]string{},
		}
		return profiles, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to access profiles directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("profiles path is not a directory: %s", dir)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read profiles directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		profile, err := loadProfile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to load profile '%s': %w", name, err)
		}
		profiles[strings.TrimSuffix(name, ext)] = profile
	}

	if len(profiles) == 0 {
		return nil, fmt.Errorf("no profiles found in %s", dir)
	}
	return profiles, nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if profile.User.ID == "" {
		return nil, fmt.Errorf("user.id is required")
	}
	return &profile, nil
}

// firstProfile picks a stable default when none is configured.
func firstProfile(profiles map[string]*Profile) string {
	if _, ok := profiles["default"]; ok {
		return "default"
	}
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0]
}

// watch reloads profiles when files in the directory change.
func (p *MockProvider) watch() error {
	if _, err := os.Stat(p.dir); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(p.dir); err != nil {
		watcher.Close()
		return err
	}

	p.watcher = watcher
	go p.watchLoop()
	return nil
}

func (p *MockProvider) watchLoop() {
	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()

	for {
		select {
		case <-p.done:
			debounce.Stop()
			return

		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				debounce.Reset(reloadDebounce)
			}

		case <-debounce.C:
			if err := p.reload(); err != nil {
				logger.Error("failed to reload dev profiles, keeping previous set", zap.Error(err))
				continue
			}
			logger.Info("dev profiles reloaded", zap.Strings("profiles", p.Profiles()))

		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("profile watcher error", zap.Error(err))
		}
	}
}

// Close stops the profile watcher.
func (p *MockProvider) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if p.watcher != nil {
			err = p.watcher.Close()
		}
	})
	return err
}

// Name returns the provider name
func (p *MockProvider) Name() string {
	return "mock"
}

// AuthorizationURL points straight at the relay callback with a code for the
// default profile.
func (p *MockProvider) AuthorizationURL(_ context.Context) (*AuthorizationRequest, error) {
	state, err := crypto.GenerateRandomHex(crypto.StateTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorizationURLFailed, err)
	}

	u, err := url.Parse(p.callbackURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthorizationURLFailed, err)
	}

	p.mu.RLock()
	profile := p.defaultProfile
	p.mu.RUnlock()

	q := u.Query()
	q.Set("code", mockCodePrefix+profile)
	q.Set("state", state)
	u.RawQuery = q.Encode()

	return &AuthorizationRequest{URL: u.String(), State: state}, nil
}

// ExchangeCode accepts mock_<profile> codes.
func (p *MockProvider) ExchangeCode(_ context.Context, code string) (*model.ProviderTokens, error) {
	name, ok := strings.CutPrefix(code, mockCodePrefix)
	if !ok {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, &APIError{Status: http.StatusBadRequest, Code: "invalid_grant", Message: "invalid authorization code"})
	}
	if _, ok := p.Profile(name); !ok {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchangeFailed, &APIError{Status: http.StatusBadRequest, Code: "invalid_grant", Message: fmt.Sprintf("unknown profile %q", name)})
	}

	return &model.ProviderTokens{
		AccessToken: mockTokenPrefix + name,
		TokenType:   "Bearer",
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

// FetchIdentity resolves the profile named by a mock access token.
func (p *MockProvider) FetchIdentity(_ context.Context, accessToken string) (*model.Identity, error) {
	name, ok := strings.CutPrefix(accessToken, mockTokenPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: malformed mock token", ErrTokenVerification)
	}
	profile, ok := p.Profile(name)
	if !ok {
		return nil, fmt.Errorf("%w: profile %q not found", ErrIdentityFetchFailed, name)
	}

	return &model.Identity{
		ID:       profile.User.ID,
		Name:     profile.User.Name,
		Username: profile.User.Username,
	}, nil
}

// CheckAccess answers from the access map of the profile owning userID.
func (p *MockProvider) CheckAccess(_ context.Context, userID, experienceID string) (*model.AccessDecision, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	for _, profile := range p.profiles {
		if profile.User.ID != userID {
			continue
		}
		level := profile.Access[experienceID]
		return &model.AccessDecision{
			HasAccess:   level != "" && level != model.NoAccess,
			AccessLevel: level,
		}, nil
	}

	return nil, fmt.Errorf("%w: %w", ErrAccessCheckFailed, &APIError{Status: http.StatusNotFound, Message: "user not found"})
}

// Profile returns a profile by name
func (p *MockProvider) Profile(name string) (*Profile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	profile, ok := p.profiles[name]
	return profile, ok
}

// Profiles returns the loaded profile names, sorted.
func (p *MockProvider) Profiles() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.profiles))
	for name := range p.profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultProfile returns the profile used for new logins.
func (p *MockProvider) DefaultProfile() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.defaultProfile
}
