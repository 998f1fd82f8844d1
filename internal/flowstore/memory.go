package flowstore

import (
	"context"
	"sort"
	"sync"

	"github.com/flexinfer/flowreach/pkg/types"
)

// MemoryStore implements Store using in-memory storage.
// Suitable for testing and local development.
type MemoryStore struct {
	mu      sync.RWMutex
	flows   map[string]*types.Flow
	screens map[string]*types.Screen
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory definition store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows:   make(map[string]*types.Flow),
		screens: make(map[string]*types.Screen),
	}
}

// GetFlow retrieves a flow by slug.
func (s *MemoryStore) GetFlow(ctx context.Context, slug string) (*types.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	flow, ok := s.flows[slug]
	if !ok {
		return nil, ErrFlowNotFound
	}

	// Return a copy to prevent external mutation
	copy := *flow
	return &copy, nil
}

// GetScreen retrieves a screen definition by slug.
func (s *MemoryStore) GetScreen(ctx context.Context, slug string) (*types.Screen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	screen, ok := s.screens[slug]
	if !ok {
		return nil, ErrScreenNotFound
	}

	copy := *screen
	return &copy, nil
}

// ListFlowSlugs returns every flow slug in lexical order.
func (s *MemoryStore) ListFlowSlugs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slugs := make([]string, 0, len(s.flows))
	for slug := range s.flows {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)
	return slugs, nil
}

// CreateFlow saves a new flow.
func (s *MemoryStore) CreateFlow(ctx context.Context, flow *types.Flow) error {
	if err := ValidateFlow(flow); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.flows[flow.Slug]; exists {
		return ErrFlowExists
	}

	copy := *flow
	s.flows[flow.Slug] = &copy
	return nil
}

// UpdateFlow replaces an existing flow.
func (s *MemoryStore) UpdateFlow(ctx context.Context, flow *types.Flow) error {
	if err := ValidateFlow(flow); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[flow.Slug]; !ok {
		return ErrFlowNotFound
	}

	copy := *flow
	s.flows[flow.Slug] = &copy
	return nil
}

// DeleteFlow removes a flow.
func (s *MemoryStore) DeleteFlow(ctx context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.flows[slug]; !ok {
		return ErrFlowNotFound
	}

	delete(s.flows, slug)
	return nil
}

// ListFlows returns all flows ordered by slug.
func (s *MemoryStore) ListFlows(ctx context.Context) ([]*types.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slugs := make([]string, 0, len(s.flows))
	for slug := range s.flows {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	flows := make([]*types.Flow, 0, len(slugs))
	for _, slug := range slugs {
		copy := *s.flows[slug]
		flows = append(flows, &copy)
	}
	return flows, nil
}

// PutScreen creates or replaces a screen definition.
func (s *MemoryStore) PutScreen(ctx context.Context, screen *types.Screen) error {
	if err := ValidateScreen(screen); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *screen
	s.screens[screen.Slug] = &copy
	return nil
}

// DeleteScreen removes a screen definition.
func (s *MemoryStore) DeleteScreen(ctx context.Context, slug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.screens[slug]; !ok {
		return ErrScreenNotFound
	}

	delete(s.screens, slug)
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
