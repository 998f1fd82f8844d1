package types

import (
	"encoding/json"
)

// RuleEffect is the action a matching flow rule applies.
type RuleEffect string

const (
	// RuleEffectSkip suppresses the flow entirely for the environment.
	RuleEffectSkip RuleEffect = "skip"
	// RuleEffectReplace substitutes another flow in place of this one.
	RuleEffectReplace RuleEffect = "replace"
)

// Rule is a conditional effect attached to a flow. Rules are ordered; the
// first rule whose condition evaluates true wins and short-circuits all
// screen analysis for the flow.
type Rule struct {
	Condition   string     `json:"condition"`
	Effect      RuleEffect `json:"effect"`
	ReplaceWith string     `json:"replace_with,omitempty"`
	Description string     `json:"description,omitempty"`
}

// FlowScreen is one ordered screen pushed when a flow is triggered. It
// references a reusable screen definition by slug and carries the triggers
// and visibility gates local to this flow.
type FlowScreen struct {
	ScreenSlug      string          `json:"screen_slug"`
	AllowedTriggers []string        `json:"allowed_triggers,omitempty"`
	Platforms       []string        `json:"platforms,omitempty"`
	Tiers           []string        `json:"tiers,omitempty"`
	Condition       string          `json:"condition,omitempty"`
	Config          json.RawMessage `json:"config,omitempty"`
}

// Flow is a node of the flow graph: the screens it pushes when triggered,
// the conditional rules gating it, and the platforms allowed to trigger it.
type Flow struct {
	Slug      string       `json:"slug"`
	Title     string       `json:"title,omitempty"`
	Platforms []string     `json:"platforms,omitempty"`
	Rules     []Rule       `json:"rules,omitempty"`
	Screens   []FlowScreen `json:"screens,omitempty"`
}

// Screen is a reusable screen definition. Its schema describes the shape of
// per-flow Config values; schema properties annotated with
// "x-trigger-target": true name flow slugs and become graph edges.
type Screen struct {
	Slug   string          `json:"slug"`
	Title  string          `json:"title,omitempty"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

// TriggerableOn reports whether the flow may be triggered on the platform.
// An empty platform list means all platforms.
func (f *Flow) TriggerableOn(platform string) bool {
	if len(f.Platforms) == 0 {
		return true
	}
	for _, p := range f.Platforms {
		if p == platform {
			return true
		}
	}
	return false
}

// VisibleTo reports whether the screen is shown for the platform and
// subscription tier. Empty gate lists do not restrict.
func (s *FlowScreen) VisibleTo(platform, tier string) bool {
	if len(s.Platforms) > 0 {
		found := false
		for _, p := range s.Platforms {
			if p == platform {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.Tiers) > 0 {
		for _, t := range s.Tiers {
			if t == tier {
				return true
			}
		}
		return false
	}
	return true
}
