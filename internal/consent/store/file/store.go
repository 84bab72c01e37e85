// Package file serves consent policies from a YAML document and reloads it
// when the file changes. Intended for local development and demos.
package file

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"consentgate/internal/consent"
	"consentgate/internal/consent/store/memory"
	"consentgate/pkg/domain"
)

const reloadDebounce = 250 * time.Millisecond

// Document is the on-disk layout.
type Document struct {
	Policies []Entry `yaml:"policies"`
}

// Entry is one policy row in the YAML document.
type Entry struct {
	ID              string             `yaml:"id"`
	SubjectID       string             `yaml:"subject_id"`
	Purpose         string             `yaml:"purpose"`
	AllowedFields   []string           `yaml:"allowed_fields"`
	DeniedFields    []string           `yaml:"denied_fields"`
	Conditions      consent.Conditions `yaml:"conditions"`
	ConfidenceScore float64            `yaml:"confidence_score"`
	ExpiresAt       time.Time          `yaml:"expires_at"`
	CreatedAt       time.Time          `yaml:"created_at"`
}

// Parse decodes a policy document strictly: unknown keys at any level are rejected.
func Parse(r io.Reader) ([]*consent.Policy, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", consent.ErrMalformedPolicy, err)
	}

	seen := make(map[string]struct{}, len(doc.Policies))
	policies := make([]*consent.Policy, 0, len(doc.Policies))
	for i, e := range doc.Policies {
		if e.ID == "" || e.SubjectID == "" || e.Purpose == "" {
			return nil, fmt.Errorf("%w: entry %d: id, subject_id and purpose are required", consent.ErrMalformedPolicy, i)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate policy id %q", consent.ErrMalformedPolicy, e.ID)
		}
		seen[e.ID] = struct{}{}
		if e.ConfidenceScore < 0 || e.ConfidenceScore > 1 {
			return nil, fmt.Errorf("%w: policy %s: confidence_score must be within [0,1]", consent.ErrMalformedPolicy, e.ID)
		}
		if e.Conditions.MaxRecords < 0 {
			return nil, fmt.Errorf("%w: policy %s: max_records must not be negative", consent.ErrMalformedPolicy, e.ID)
		}
		policies = append(policies, &consent.Policy{
			ID:              e.ID,
			SubjectID:       e.SubjectID,
			Purpose:         domain.Purpose(e.Purpose),
			AllowedFields:   e.AllowedFields,
			DeniedFields:    e.DeniedFields,
			Conditions:      e.Conditions,
			ConfidenceScore: e.ConfidenceScore,
			ExpiresAt:       e.ExpiresAt,
			CreatedAt:       e.CreatedAt,
		})
	}
	return policies, nil
}

// LoadFile reads and parses the document at path.
func LoadFile(path string) ([]*consent.Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return Parse(bytes.NewReader(raw))
}

// Store serves the most recently loaded document.
type Store struct {
	*memory.Store

	path            string
	logger          *slog.Logger
	reviewThreshold float64

	mu       sync.Mutex
	loadedAt time.Time

	watchOnce sync.Once
	watching  chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithReviewThreshold sets the score below which loaded policies are logged
// as needing manual review.
func WithReviewThreshold(v float64) Option {
	return func(s *Store) { s.reviewThreshold = v }
}

// New loads path and returns a store serving its contents.
func New(path string, opts ...Option) (*Store, error) {
	s := &Store{
		Store:           memory.New(),
		path:            path,
		logger:          slog.Default(),
		reviewThreshold: consent.DefaultReviewConfidence,
		watching:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file. On error the previous contents stay in place.
func (s *Store) Reload() error {
	policies, err := LoadFile(s.path)
	if err != nil {
		return err
	}
	s.Replace(policies)

	s.mu.Lock()
	s.loadedAt = time.Now()
	s.mu.Unlock()

	for _, p := range policies {
		if consent.NeedsReview(p.ConfidenceScore, s.reviewThreshold) {
			s.logger.Warn("consent policy needs manual review",
				"policy_id", p.ID,
				"subject_id", p.SubjectID,
				"confidence_score", p.ConfidenceScore,
			)
		}
	}
	s.logger.Info("consent policies loaded", "path", s.path, "count", len(policies))
	return nil
}

// LoadedAt returns when the file was last loaded successfully.
func (s *Store) LoadedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadedAt
}

// Watching is closed once Watch has registered its file watch; changes made
// after that are picked up.
func (s *Store) Watching() <-chan struct{} {
	return s.watching
}

// Watch reloads the file whenever it changes. Blocks until ctx is cancelled.
// The parent directory is watched so editors that replace the file by rename
// are picked up.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %q: %w", target, err)
	}
	s.watchOnce.Do(func() { close(s.watching) })

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := s.Reload(); err != nil {
					s.logger.Error("consent policy reload failed, keeping previous policies",
						"path", s.path,
						"error", err,
					)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("policy file watcher error", "error", err)
		}
	}
}
