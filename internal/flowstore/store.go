// Package flowstore provides flow and screen definition persistence.
package flowstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/flexinfer/flowreach/pkg/types"
)

// Common errors returned by Store implementations.
var (
	ErrFlowNotFound   = errors.New("flow not found")
	ErrFlowExists     = errors.New("flow already exists")
	ErrScreenNotFound = errors.New("screen not found")
)

// Source is the read-only view of flow and screen definitions consumed by
// path discovery. Implementations must be safe for concurrent use.
type Source interface {
	// GetFlow retrieves a flow by slug. Returns ErrFlowNotFound if absent.
	GetFlow(ctx context.Context, slug string) (*types.Flow, error)

	// GetScreen retrieves a screen definition by slug.
	// Returns ErrScreenNotFound if absent.
	GetScreen(ctx context.Context, slug string) (*types.Screen, error)

	// ListFlowSlugs returns every flow slug in lexical order.
	ListFlowSlugs(ctx context.Context) ([]string, error)
}

// Store adds admin mutation on top of Source. Mutations do not touch the
// reachability cache; callers are responsible for bumping the global cache
// version after any successful edit.
type Store interface {
	Source

	// CreateFlow saves a new flow. Returns ErrFlowExists if the slug is taken.
	CreateFlow(ctx context.Context, flow *types.Flow) error

	// UpdateFlow replaces an existing flow. Returns ErrFlowNotFound if absent.
	UpdateFlow(ctx context.Context, flow *types.Flow) error

	// DeleteFlow removes a flow. Returns ErrFlowNotFound if absent.
	DeleteFlow(ctx context.Context, slug string) error

	// ListFlows returns all flows ordered by slug.
	ListFlows(ctx context.Context) ([]*types.Flow, error)

	// PutScreen creates or replaces a screen definition.
	PutScreen(ctx context.Context, screen *types.Screen) error

	// DeleteScreen removes a screen definition. Returns ErrScreenNotFound if absent.
	DeleteScreen(ctx context.Context, slug string) error

	// Close releases any resources.
	Close() error
}

// ValidateFlow checks the structural minimum before persisting.
func ValidateFlow(flow *types.Flow) error {
	if flow == nil {
		return errors.New("flow is required")
	}
	if flow.Slug == "" {
		return errors.New("flow slug is required")
	}
	for i, r := range flow.Rules {
		if r.Condition == "" {
			return fmt.Errorf("rule %d: condition is required", i)
		}
		switch r.Effect {
		case types.RuleEffectSkip:
		case types.RuleEffectReplace:
			if r.ReplaceWith == "" {
				return fmt.Errorf("rule %d: replace_with is required for replace rules", i)
			}
		default:
			return fmt.Errorf("rule %d: unknown effect %q", i, r.Effect)
		}
	}
	for i, s := range flow.Screens {
		if s.ScreenSlug == "" {
			return fmt.Errorf("screen %d: screen_slug is required", i)
		}
	}
	return nil
}

// ValidateScreen checks the structural minimum before persisting.
func ValidateScreen(screen *types.Screen) error {
	if screen == nil {
		return errors.New("screen is required")
	}
	if screen.Slug == "" {
		return errors.New("screen slug is required")
	}
	return nil
}
