// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/jeranaias/rigrun-desk/internal/model"
	"github.com/jeranaias/rigrun-desk/internal/util"
)

// DefaultMaxConversations is the retention limit used when Options leaves it
// unset.
const DefaultMaxConversations = 100

var (
	// ErrConversationNotFound is returned for an unknown conversation id.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrInvalidID is returned for ids that are not safe file names.
	ErrInvalidID = errors.New("invalid conversation id")
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// =============================================================================
// CONVERSATION STORE
// =============================================================================

// Options configures NewConversationStore.
type Options struct {
	// Dir holds one JSON file per conversation.
	Dir string

	// MaxConversations limits stored conversations; the least recently
	// updated are removed first. Zero means DefaultMaxConversations, a
	// negative value disables the limit.
	MaxConversations int

	Logger *zap.Logger

	// Now is the clock used for timestamps (default: time.Now).
	Now func() time.Time
}

// ConversationStore handles conversation persistence.
type ConversationStore struct {
	mu     sync.Mutex
	dir    string
	max    int
	logger *zap.Logger
	now    func() time.Time
}

// NewConversationStore creates the directory if needed.
func NewConversationStore(opts Options) (*ConversationStore, error) {
	if opts.Dir == "" {
		return nil, errors.New("storage: directory is required")
	}
	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, fmt.Errorf("storage: create %s: %w", opts.Dir, err)
	}
	if opts.MaxConversations == 0 {
		opts.MaxConversations = DefaultMaxConversations
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ConversationStore{
		dir:    opts.Dir,
		max:    opts.MaxConversations,
		logger: opts.Logger.Named("storage"),
		now:    opts.Now,
	}, nil
}

// Dir returns the store directory.
func (s *ConversationStore) Dir() string {
	return s.dir
}

// =============================================================================
// SAVE / LOAD / DELETE
// =============================================================================

// Save writes conv, stamping UpdatedAt (and CreatedAt if unset), then prunes
// past the retention limit. The conversation itself is never pruned by its
// own save.
func (s *ConversationStore) Save(conv *model.Conversation) error {
	if conv == nil {
		return errors.New("storage: nil conversation")
	}
	if !validID.MatchString(conv.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidID, conv.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	conv.UpdatedAt = s.now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = conv.UpdatedAt
	}
	if conv.Title == "" {
		conv.Title = conv.GetTitle()
	}

	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return fmt.Errorf("storage: encode %s: %w", conv.ID, err)
	}
	if err := util.AtomicWriteFile(s.filePath(conv.ID), data, 0600); err != nil {
		return fmt.Errorf("storage: save %s: %w", conv.ID, err)
	}

	if err := s.enforceLimit(conv.ID); err != nil {
		s.logger.Warn("failed to prune conversations", zap.Error(err))
	}
	return nil
}

// Load reads one conversation.
func (s *ConversationStore) Load(id string) (*model.Conversation, error) {
	if !validID.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return s.load(id)
}

func (s *ConversationStore) load(id string) (*model.Conversation, error) {
	data, err := os.ReadFile(s.filePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", id, err)
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("storage: decode %s: %w", id, err)
	}
	if conv.ID == "" {
		conv.ID = id
	}
	return &conv, nil
}

// Delete removes a conversation.
func (s *ConversationStore) Delete(id string) error {
	if !validID.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(id)
}

func (s *ConversationStore) remove(id string) error {
	err := os.Remove(s.filePath(id))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return err
}

// Clear removes every stored conversation.
func (s *ConversationStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.ids()
	if err != nil {
		return err
	}
	var errs error
	for _, id := range ids {
		errs = multierr.Append(errs, s.remove(id))
	}
	return errs
}

// =============================================================================
// LIST / SEARCH
// =============================================================================

// List returns metadata for every readable conversation, most recently
// updated first. Unreadable files are skipped and logged.
func (s *ConversationStore) List() ([]model.ConversationMeta, error) {
	convs, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	metas := make([]model.ConversationMeta, 0, len(convs))
	for _, c := range convs {
		metas = append(metas, c.Meta())
	}
	return metas, nil
}

// Search returns conversations whose title or any message contains query,
// case-insensitively. An empty query lists everything.
func (s *ConversationStore) Search(query string) ([]model.ConversationMeta, error) {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.List()
	}

	convs, err := s.loadAll()
	if err != nil {
		return nil, err
	}

	var results []model.ConversationMeta
	for _, c := range convs {
		if matches(c, query) {
			results = append(results, c.Meta())
		}
	}
	return results, nil
}

func matches(c *model.Conversation, lowerQuery string) bool {
	if strings.Contains(strings.ToLower(c.Title), lowerQuery) {
		return true
	}
	for _, msg := range c.Messages {
		if strings.Contains(strings.ToLower(msg.Content), lowerQuery) {
			return true
		}
	}
	return false
}

// LoadByIndex loads the conversation at index in List order.
func (s *ConversationStore) LoadByIndex(index int) (*model.Conversation, error) {
	metas, err := s.List()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(metas) {
		return nil, fmt.Errorf("%w: index %d", ErrConversationNotFound, index)
	}
	return s.load(metas[index].ID)
}

// =============================================================================
// HELPERS
// =============================================================================

// loadAll reads every conversation, most recently updated first.
func (s *ConversationStore) loadAll() ([]*model.Conversation, error) {
	ids, err := s.ids()
	if err != nil {
		return nil, err
	}

	convs := make([]*model.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.load(id)
		if err != nil {
			s.logger.Warn("skipping unreadable conversation", zap.String("id", id), zap.Error(err))
			continue
		}
		convs = append(convs, c)
	}

	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

func (s *ConversationStore) ids() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", s.dir, err)
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if id := strings.TrimSuffix(name, ".json"); validID.MatchString(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// enforceLimit removes the least recently updated conversations past the
// limit, never keep. Caller holds s.mu.
func (s *ConversationStore) enforceLimit(keep string) error {
	if s.max < 0 {
		return nil
	}
	convs, err := s.loadAll()
	if err != nil || len(convs) <= s.max {
		return err
	}

	var errs error
	excess := len(convs) - s.max
	for i := len(convs) - 1; i >= 0 && excess > 0; i-- {
		if convs[i].ID == keep {
			continue
		}
		errs = multierr.Append(errs, s.remove(convs[i].ID))
		excess--
		s.logger.Debug("pruned conversation", zap.String("id", convs[i].ID))
	}
	return errs
}

func (s *ConversationStore) filePath(id string) string {
	return filepath.Join(s.dir, id+".json")
}
