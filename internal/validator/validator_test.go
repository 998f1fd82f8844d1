package validator

import (
	"testing"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return v
}

func TestValidateFlowJSON(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name      string
		doc       string
		wantValid bool
	}{
		{
			name:      "minimal flow",
			doc:       `{"slug": "home"}`,
			wantValid: true,
		},
		{
			name: "full flow",
			doc: `{
				"slug": "onboarding",
				"title": "Onboarding",
				"platforms": ["ios", "android"],
				"rules": [
					{"condition": "platform == \"ios\"", "effect": "skip"},
					{"condition": "subscription_tier == \"free\"", "effect": "replace", "replace_with": "onboarding-lite"}
				],
				"screens": [
					{"screen_slug": "welcome", "allowed_triggers": ["next"], "config": {"next": "home"}},
					{"screen_slug": "paywall", "tiers": ["free"], "condition": "account_age_days < 7"}
				]
			}`,
			wantValid: true,
		},
		{
			name:      "missing slug",
			doc:       `{"title": "No Slug"}`,
			wantValid: false,
		},
		{
			name:      "bad slug",
			doc:       `{"slug": "Home Flow!"}`,
			wantValid: false,
		},
		{
			name:      "rule without condition",
			doc:       `{"slug": "a", "rules": [{"effect": "skip"}]}`,
			wantValid: false,
		},
		{
			name:      "rule empty condition",
			doc:       `{"slug": "a", "rules": [{"condition": "", "effect": "skip"}]}`,
			wantValid: false,
		},
		{
			name:      "rule unknown effect",
			doc:       `{"slug": "a", "rules": [{"condition": "true", "effect": "remove"}]}`,
			wantValid: false,
		},
		{
			name:      "replace without target",
			doc:       `{"slug": "a", "rules": [{"condition": "true", "effect": "replace"}]}`,
			wantValid: false,
		},
		{
			name:      "skip needs no target",
			doc:       `{"slug": "a", "rules": [{"condition": "true", "effect": "skip"}]}`,
			wantValid: true,
		},
		{
			name:      "screen without slug",
			doc:       `{"slug": "a", "screens": [{"allowed_triggers": ["next"]}]}`,
			wantValid: false,
		},
		{
			name:      "config not an object",
			doc:       `{"slug": "a", "screens": [{"screen_slug": "s", "config": "next"}]}`,
			wantValid: false,
		},
		{
			name:      "malformed json",
			doc:       `{"slug": "a"`,
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateFlowJSON([]byte(tt.doc))
			if result.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (errors: %+v)", result.Valid, tt.wantValid, result.Errors)
			}
			if !tt.wantValid && len(result.Errors) == 0 {
				t.Error("invalid result carries no errors")
			}
		})
	}
}

func TestValidateScreenJSON(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name      string
		doc       string
		wantValid bool
	}{
		{
			name:      "minimal screen",
			doc:       `{"slug": "welcome"}`,
			wantValid: true,
		},
		{
			name: "screen with trigger schema",
			doc: `{
				"slug": "promo",
				"title": "Promo Banner",
				"schema": {
					"type": "object",
					"properties": {
						"cta": {"type": "string", "x-trigger-target": true},
						"headline": {"type": "string"}
					}
				}
			}`,
			wantValid: true,
		},
		{
			name:      "missing slug",
			doc:       `{"title": "No Slug"}`,
			wantValid: false,
		},
		{
			name:      "schema not an object",
			doc:       `{"slug": "promo", "schema": "cta"}`,
			wantValid: false,
		},
		{
			name:      "schema properties not an object",
			doc:       `{"slug": "promo", "schema": {"properties": ["cta"]}}`,
			wantValid: false,
		},
		{
			name:      "malformed json",
			doc:       `{"slug": `,
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateScreenJSON([]byte(tt.doc))
			if result.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (errors: %+v)", result.Valid, tt.wantValid, result.Errors)
			}
		})
	}
}

func TestValidationErrorPaths(t *testing.T) {
	v := newValidator(t)

	result := v.ValidateFlowJSON([]byte(`{"slug": "a", "rules": [{"condition": "true", "effect": "remove"}]}`))
	if result.Valid {
		t.Fatal("bad effect validated")
	}

	found := false
	for _, e := range result.Errors {
		if e.Path != "" {
			found = true
		}
	}
	if !found {
		t.Errorf("no error carries an instance path: %+v", result.Errors)
	}
}
