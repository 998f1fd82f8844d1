package discover

import (
	"context"
	"errors"
	"fmt"

	"github.com/flexinfer/flowreach/internal/flowstore"
	"github.com/flexinfer/flowreach/pkg/types"
)

// sourceAdjacency derives the single-step edge set of a flow straight
// from its definition. Rules run first; the first matching skip or
// replace rule short-circuits all screen analysis. A flow absent from
// the store has no edges.
func (r *run) sourceAdjacency(ctx context.Context, slug string) ([]Edge, error) {
	flow, err := r.getFlow(ctx, slug)
	if err != nil {
		return nil, err
	}
	if flow == nil {
		return nil, nil
	}

	for _, rule := range flow.Rules {
		matched := true
		if rule.Condition != "" {
			matched, err = r.d.eval.EvaluateBool(rule.Condition, r.env)
			if err != nil {
				return nil, fmt.Errorf("flow %q rule condition: %w", slug, err)
			}
		}
		if !matched {
			continue
		}
		switch rule.Effect {
		case types.RuleEffectSkip:
			return nil, nil
		case types.RuleEffectReplace:
			edge := Edge{Target: rule.ReplaceWith, Via: types.Via{
				Kind:        types.ViaFlowReplacerRule,
				Description: rule.Description,
			}}
			return r.filterTargets(ctx, []Edge{edge})
		}
	}

	var candidates []Edge
	for i := range flow.Screens {
		screen := &flow.Screens[i]
		if !screen.VisibleTo(r.env.Platform, r.env.SubscriptionTier) {
			continue
		}
		if screen.Condition != "" {
			visible, err := r.d.eval.EvaluateBool(screen.Condition, r.env)
			if err != nil {
				return nil, fmt.Errorf("flow %q screen %d condition: %w", slug, i, err)
			}
			if !visible {
				continue
			}
		}
		for _, trigger := range screen.AllowedTriggers {
			candidates = append(candidates, Edge{Target: trigger, Via: types.Via{
				Kind:        types.ViaScreenAllowed,
				ScreenIndex: i,
				ScreenSlug:  screen.ScreenSlug,
			}})
		}
		found, err := r.configTriggers(ctx, screen, i)
		if err != nil {
			return nil, fmt.Errorf("flow %q screen %d config: %w", slug, i, err)
		}
		candidates = append(candidates, found...)
	}
	return r.filterTargets(ctx, candidates)
}

// configTriggers turns trigger fields found in a screen's config into
// edges carrying the exact field path and the schema description.
func (r *run) configTriggers(ctx context.Context, screen *types.FlowScreen, index int) ([]Edge, error) {
	fields, err := r.triggerFields(ctx, screen.ScreenSlug)
	if err != nil {
		return nil, err
	}
	found, err := searchConfig(screen.Config, fields)
	if err != nil {
		return nil, err
	}
	edges := make([]Edge, 0, len(found))
	for _, hit := range found {
		edges = append(edges, Edge{Target: hit.target, Via: types.Via{
			Kind:        types.ViaScreenTrigger,
			ScreenIndex: index,
			ScreenSlug:  screen.ScreenSlug,
			FieldPath:   hit.fieldPath,
			Description: hit.field.description,
		}})
	}
	return edges, nil
}

// filterTargets keeps the first edge per distinct target, dropping
// targets that do not exist or cannot be triggered on the platform.
func (r *run) filterTargets(ctx context.Context, candidates []Edge) ([]Edge, error) {
	var edges []Edge
	seen := make(map[string]bool, len(candidates))
	for _, e := range candidates {
		if e.Target == "" || seen[e.Target] {
			continue
		}
		seen[e.Target] = true
		flow, err := r.getFlow(ctx, e.Target)
		if err != nil {
			return nil, err
		}
		if flow == nil || !flow.TriggerableOn(r.env.Platform) {
			continue
		}
		edges = append(edges, e)
	}
	return edges, nil
}

// getFlow memoizes flow lookups for the duration of one transfer.
// Absent flows memoize as nil.
func (r *run) getFlow(ctx context.Context, slug string) (*types.Flow, error) {
	if flow, ok := r.flows[slug]; ok {
		return flow, nil
	}
	flow, err := r.d.flows.GetFlow(ctx, slug)
	if err != nil {
		if errors.Is(err, flowstore.ErrFlowNotFound) {
			r.flows[slug] = nil
			return nil, nil
		}
		return nil, fmt.Errorf("load flow %q: %w", slug, err)
	}
	r.flows[slug] = flow
	return flow, nil
}

func (r *run) getScreen(ctx context.Context, slug string) (*types.Screen, error) {
	if screen, ok := r.screens[slug]; ok {
		return screen, nil
	}
	screen, err := r.d.flows.GetScreen(ctx, slug)
	if err != nil {
		if errors.Is(err, flowstore.ErrScreenNotFound) {
			r.screens[slug] = nil
			return nil, nil
		}
		return nil, fmt.Errorf("load screen %q: %w", slug, err)
	}
	r.screens[slug] = screen
	return screen, nil
}

// triggerFields memoizes the parsed trigger annotations of a screen
// definition schema. A screen without a stored definition contributes
// no config triggers.
func (r *run) triggerFields(ctx context.Context, slug string) ([]triggerField, error) {
	if fields, ok := r.fields[slug]; ok {
		return fields, nil
	}
	screen, err := r.getScreen(ctx, slug)
	if err != nil {
		return nil, err
	}
	var fields []triggerField
	if screen != nil {
		fields, err = parseTriggerFields(screen.Schema)
		if err != nil {
			return nil, fmt.Errorf("screen %q: %w", slug, err)
		}
	}
	r.fields[slug] = fields
	return fields, nil
}
