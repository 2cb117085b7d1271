// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-desk/internal/backend"
	"github.com/jeranaias/rigrun-desk/internal/router"
)

// Configurer receives the configuration of the selected profile.
// *router.ConfigurationManager implements it.
type Configurer interface {
	UpdateConfiguration(cfg router.Configuration)
}

// Options configures NewManager.
type Options struct {
	Store Store
	Vault Vault

	// KeyFunc derives vault keys (default: DefaultKeyFunc).
	KeyFunc KeyFunc

	// Router receives the selected profile's configuration. May be nil.
	Router Configurer

	Logger *zap.Logger

	// Now is the clock used for timestamps (default: time.Now).
	Now func() time.Time
}

// Manager is the profile layer. All methods are safe for concurrent use;
// mutations are serialized.
type Manager struct {
	mu       sync.Mutex
	store    Store
	vault    Vault
	keyFor   KeyFunc
	router   Configurer
	logger   *zap.Logger
	now      func() time.Time
	selected string
}

// NewManager creates a manager. Store and Vault are required.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("profile: store is required")
	}
	if opts.Vault == nil {
		return nil, errors.New("profile: vault is required")
	}
	if opts.KeyFunc == nil {
		opts.KeyFunc = DefaultKeyFunc
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		store:  opts.Store,
		vault:  opts.Vault,
		keyFor: opts.KeyFunc,
		router: opts.Router,
		logger: opts.Logger.Named("profile"),
		now:    opts.Now,
	}, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// List returns every profile, oldest first.
func (m *Manager) List(ctx context.Context) ([]Profile, error) {
	return m.store.List(ctx)
}

// Get returns one profile.
func (m *Manager) Get(ctx context.Context, id string) (Profile, error) {
	return m.store.Get(ctx, id)
}

// Search filters profiles by name, model or endpoint.
func (m *Manager) Search(ctx context.Context, query string) ([]Profile, error) {
	return m.store.Search(ctx, query)
}

// Find resolves a profile by id, then by exact name, then by unique
// case-insensitive name prefix. The CLI uses it for user-typed references.
func (m *Manager) Find(ctx context.Context, ref string) (Profile, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return Profile{}, err
	}
	for _, p := range all {
		if p.ID == ref || p.Name == ref {
			return p, nil
		}
	}

	var matches []Profile
	lower := strings.ToLower(ref)
	for _, p := range all {
		if strings.HasPrefix(strings.ToLower(p.Name), lower) {
			matches = append(matches, p)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	default:
		return Profile{}, fmt.Errorf("profile reference %q is ambiguous (%d matches)", ref, len(matches))
	}
}

// Default returns the default profile.
func (m *Manager) Default(ctx context.Context) (Profile, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return Profile{}, err
	}
	for _, p := range all {
		if p.IsDefault {
			return p, nil
		}
	}
	if len(all) == 0 {
		return Profile{}, ErrNoProfiles
	}
	// A store edited by hand may lack a default; treat the oldest as one.
	return all[0], nil
}

// Selected returns the id of the selected profile.
func (m *Manager) Selected() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected, m.selected != ""
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Create validates and stores p. An empty ID is assigned. The first profile
// always becomes the default; a new default clears the previous one. A
// non-empty apiKey is written to the vault.
func (m *Manager) Create(ctx context.Context, p Profile, apiKey string) (Profile, error) {
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.store.List(ctx)
	if err != nil {
		return Profile{}, err
	}

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	for _, existing := range all {
		if existing.ID == p.ID {
			return Profile{}, fmt.Errorf("%w: duplicate id %s", ErrInvalidProfile, p.ID)
		}
	}
	p.Name = strings.TrimSpace(p.Name)
	p.APIEndpoint = strings.TrimSpace(p.APIEndpoint)
	now := m.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if len(all) == 0 {
		p.IsDefault = true
	}

	if apiKey != "" {
		if err := m.vault.SetSecret(m.keyFor(p.ID), apiKey); err != nil {
			return Profile{}, fmt.Errorf("store api key: %w", err)
		}
	}
	if err := m.store.Put(ctx, p); err != nil {
		return Profile{}, err
	}
	if p.IsDefault {
		if err := m.clearOtherDefaults(ctx, all, p.ID); err != nil {
			return Profile{}, err
		}
	}

	m.logger.Info("profile created", zap.String("id", p.ID), zap.String("name", p.Name))
	return p, nil
}

// Update replaces the editable fields of an existing profile. Setting
// IsDefault makes it the default; clearing it on the current default is
// ignored because one profile must stay default. Updating the selected
// profile re-pushes its configuration.
func (m *Manager) Update(ctx context.Context, p Profile) (Profile, error) {
	if err := p.Validate(); err != nil {
		return Profile{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prev, err := m.store.Get(ctx, p.ID)
	if err != nil {
		return Profile{}, err
	}

	p.Name = strings.TrimSpace(p.Name)
	p.APIEndpoint = strings.TrimSpace(p.APIEndpoint)
	p.CreatedAt = prev.CreatedAt
	p.UpdatedAt = m.now().UTC()
	if prev.IsDefault {
		p.IsDefault = true
	}

	if err := m.store.Put(ctx, p); err != nil {
		return Profile{}, err
	}
	if p.IsDefault && !prev.IsDefault {
		all, err := m.store.List(ctx)
		if err != nil {
			return Profile{}, err
		}
		if err := m.clearOtherDefaults(ctx, all, p.ID); err != nil {
			return Profile{}, err
		}
	}

	m.logger.Info("profile updated", zap.String("id", p.ID))
	if m.selected == p.ID {
		if err := m.push(p); err != nil {
			return p, err
		}
	}
	return p, nil
}

// Duplicate copies a profile, including its API key, under a new id. The
// copy is never the default.
func (m *Manager) Duplicate(ctx context.Context, id string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	src, err := m.store.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}

	dup := src
	dup.ID = uuid.NewString()
	dup.Name = copyName(src.Name)
	dup.IsDefault = false
	now := m.now().UTC()
	dup.CreatedAt, dup.UpdatedAt = now, now

	key, ok, err := m.vault.GetSecret(m.keyFor(src.ID))
	if err != nil {
		return Profile{}, fmt.Errorf("read api key: %w", err)
	}
	if ok {
		if err := m.vault.SetSecret(m.keyFor(dup.ID), key); err != nil {
			return Profile{}, fmt.Errorf("store api key: %w", err)
		}
	}
	if err := m.store.Put(ctx, dup); err != nil {
		return Profile{}, err
	}

	m.logger.Info("profile duplicated", zap.String("from", src.ID), zap.String("id", dup.ID))
	return dup, nil
}

// Delete removes a profile and its API key. The selected profile and the
// last profile cannot be deleted. Deleting the default promotes the oldest
// remaining profile.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	all, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	var target *Profile
	for i := range all {
		if all[i].ID == id {
			target = &all[i]
			break
		}
	}
	switch {
	case target == nil:
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	case len(all) == 1:
		return ErrDeleteLast
	case m.selected == id:
		return ErrDeleteSelected
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}

	// The profile is gone; a leftover secret is only logged.
	var errs error
	if err := m.vault.DeleteSecret(m.keyFor(id)); err != nil {
		m.logger.Warn("failed to delete api key", zap.String("id", id), zap.Error(err))
	}

	if target.IsDefault {
		for _, p := range all {
			if p.ID == id {
				continue
			}
			p.IsDefault = true
			p.UpdatedAt = m.now().UTC()
			errs = multierr.Append(errs, m.store.Put(ctx, p))
			m.logger.Info("default profile promoted", zap.String("id", p.ID))
			break
		}
	}

	m.logger.Info("profile deleted", zap.String("id", id))
	return errs
}

// SetDefault makes id the only default profile.
func (m *Manager) SetDefault(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !p.IsDefault {
		p.IsDefault = true
		p.UpdatedAt = m.now().UTC()
		if err := m.store.Put(ctx, p); err != nil {
			return err
		}
	}

	all, err := m.store.List(ctx)
	if err != nil {
		return err
	}
	return m.clearOtherDefaults(ctx, all, id)
}

// =============================================================================
// SELECTION AND SECRETS
// =============================================================================

// Select makes id the active profile and pushes its configuration, with the
// API key read from the vault, into the router.
func (m *Manager) Select(ctx context.Context, id string) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Get(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	if err := m.push(p); err != nil {
		return Profile{}, err
	}
	m.selected = p.ID
	m.logger.Info("profile selected", zap.String("id", p.ID), zap.String("model", p.ModelName))
	return p, nil
}

// Load selects the default profile. It is called once at startup.
func (m *Manager) Load(ctx context.Context) (Profile, error) {
	def, err := m.Default(ctx)
	if err != nil {
		return Profile{}, err
	}
	return m.Select(ctx, def.ID)
}

// APIKey returns the stored key of a profile, "" when none is stored.
func (m *Manager) APIKey(id string) (string, error) {
	key, _, err := m.vault.GetSecret(m.keyFor(id))
	if err != nil {
		return "", fmt.Errorf("read api key: %w", err)
	}
	return key, nil
}

// SetAPIKey stores a new key for a profile. An empty key deletes it. If the
// profile is selected the router is updated.
func (m *Manager) SetAPIKey(ctx context.Context, id, apiKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}

	vaultKey := m.keyFor(id)
	if apiKey == "" {
		err = m.vault.DeleteSecret(vaultKey)
	} else {
		err = m.vault.SetSecret(vaultKey, apiKey)
	}
	if err != nil {
		return fmt.Errorf("store api key: %w", err)
	}

	m.logger.Info("api key updated", zap.String("id", id), zap.String("key", backend.KeyFingerprint(apiKey)))
	if m.selected == id {
		return m.push(p)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// push sends p's configuration to the router. Caller holds m.mu.
func (m *Manager) push(p Profile) error {
	if m.router == nil {
		return nil
	}
	key, _, err := m.vault.GetSecret(m.keyFor(p.ID))
	if err != nil {
		return fmt.Errorf("read api key: %w", err)
	}
	m.router.UpdateConfiguration(router.Configuration{
		Endpoint:   p.APIEndpoint,
		APIKey:     key,
		ModelName:  p.ModelName,
		Parameters: p.Parameters,
	})
	return nil
}

// clearOtherDefaults unsets IsDefault on every profile in all except keep.
func (m *Manager) clearOtherDefaults(ctx context.Context, all []Profile, keep string) error {
	var errs error
	for _, p := range all {
		if p.ID == keep || !p.IsDefault {
			continue
		}
		p.IsDefault = false
		p.UpdatedAt = m.now().UTC()
		errs = multierr.Append(errs, m.store.Put(ctx, p))
	}
	return errs
}

func copyName(name string) string {
	name += " Copy"
	if r := []rune(name); len(r) > MaxNameLength {
		name = string(r[:MaxNameLength])
	}
	return name
}
