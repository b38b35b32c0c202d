// Package profile stores and validates personality profiles.
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ashureev/agora-labs/internal/domain"
	"github.com/ashureev/agora-labs/internal/store"
)

var (
	// ErrInvalidSchema is returned when a profile fails validation.
	ErrInvalidSchema = errors.New("invalid profile schema")
	// ErrNotFound is returned when a referenced profile does not exist.
	ErrNotFound = errors.New("profile not found")
)

// SchemaError names the rejected profile and the first field that failed.
type SchemaError struct {
	ProfileID string
	Field     string
}

func (e *SchemaError) Error() string {
	if e.ProfileID == "" {
		return fmt.Sprintf("%s: %s is required", ErrInvalidSchema, e.Field)
	}
	return fmt.Sprintf("%s: profile %q: %s is required", ErrInvalidSchema, e.ProfileID, e.Field)
}

// Is reports ErrInvalidSchema so callers can use errors.Is.
func (e *SchemaError) Is(target error) bool {
	return target == ErrInvalidSchema
}

// Store holds profiles in memory, optionally writing through to a repository.
type Store struct {
	mu       sync.RWMutex
	profiles map[string]domain.Profile
	repo     store.ProfileRepository
}

// NewStore creates a profile store. repo may be nil for a purely in-memory store.
func NewStore(repo store.ProfileRepository) *Store {
	return &Store{
		profiles: make(map[string]domain.Profile),
		repo:     repo,
	}
}

// Validate reports whether p satisfies the profile schema. It has no side effects.
func (s *Store) Validate(p domain.Profile) bool {
	return checkSchema(p) == nil
}

func checkSchema(p domain.Profile) error {
	switch {
	case p.ID == "":
		return &SchemaError{Field: "id"}
	case p.Name == "":
		return &SchemaError{ProfileID: p.ID, Field: "name"}
	case p.Tone == "":
		return &SchemaError{ProfileID: p.ID, Field: "tone"}
	case len(p.SamplePrompts) == 0:
		return &SchemaError{ProfileID: p.ID, Field: "sample_prompts"}
	}
	return nil
}

// Save validates p and inserts or replaces it. An invalid profile leaves the
// store unchanged.
func (s *Store) Save(ctx context.Context, p domain.Profile) error {
	if err := checkSchema(p); err != nil {
		return err
	}

	p = p.Clone()
	if s.repo != nil {
		if err := s.repo.UpsertProfile(ctx, p); err != nil {
			return fmt.Errorf("persist profile %s: %w", p.ID, err)
		}
	}

	s.mu.Lock()
	s.profiles[p.ID] = p
	s.mu.Unlock()

	slog.Debug("Profile saved", "profile_id", p.ID)
	return nil
}

// Load returns the profile with the given ID and whether it exists.
func (s *Store) Load(id string) (domain.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return domain.Profile{}, false
	}
	return p.Clone(), true
}

// List returns all profiles sorted by ID.
func (s *Store) List() []domain.Profile {
	s.mu.RLock()
	out := make([]domain.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resolve looks up each id in order.
func (s *Store) Resolve(ids []string) ([]domain.Profile, error) {
	out := make([]domain.Profile, 0, len(ids))
	for _, id := range ids {
		p, ok := s.Load(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		out = append(out, p)
	}
	return out, nil
}

// Hydrate loads every persisted profile into memory. Persisted rows that no
// longer validate are skipped.
func (s *Store) Hydrate(ctx context.Context) (int, error) {
	if s.repo == nil {
		return 0, nil
	}

	profiles, err := s.repo.ListProfiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list persisted profiles: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	loaded := 0
	for _, p := range profiles {
		if err := checkSchema(p); err != nil {
			slog.Warn("Skipping invalid persisted profile", "profile_id", p.ID, "error", err)
			continue
		}
		s.profiles[p.ID] = p
		loaded++
	}
	return loaded, nil
}
