package flowstore

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/flexinfer/flowreach/pkg/types"
)

func TestMemoryStore_CreateFlow(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	t.Run("creates new flow", func(t *testing.T) {
		flow := &types.Flow{
			Slug:      "onboarding",
			Title:     "Onboarding",
			Platforms: []string{"ios", "android"},
			Screens: []types.FlowScreen{
				{ScreenSlug: "welcome", AllowedTriggers: []string{"home"}},
			},
		}

		if err := store.CreateFlow(ctx, flow); err != nil {
			t.Fatalf("CreateFlow failed: %v", err)
		}

		got, err := store.GetFlow(ctx, "onboarding")
		if err != nil {
			t.Fatalf("GetFlow failed: %v", err)
		}
		if got.Title != flow.Title {
			t.Errorf("expected Title %q, got %q", flow.Title, got.Title)
		}
		if len(got.Screens) != 1 {
			t.Errorf("expected 1 screen, got %d", len(got.Screens))
		}
	})

	t.Run("returns error for duplicate slug", func(t *testing.T) {
		flow := &types.Flow{Slug: "duplicate-flow"}

		if err := store.CreateFlow(ctx, flow); err != nil {
			t.Fatalf("first create failed: %v", err)
		}
		if err := store.CreateFlow(ctx, flow); err != ErrFlowExists {
			t.Errorf("expected ErrFlowExists, got %v", err)
		}
	})

	t.Run("validates structure", func(t *testing.T) {
		tests := []struct {
			name string
			flow *types.Flow
		}{
			{"missing slug", &types.Flow{Title: "No Slug"}},
			{"rule without condition", &types.Flow{
				Slug:  "bad-rule",
				Rules: []types.Rule{{Effect: types.RuleEffectSkip}},
			}},
			{"replace rule without target", &types.Flow{
				Slug:  "bad-replace",
				Rules: []types.Rule{{Condition: "true", Effect: types.RuleEffectReplace}},
			}},
			{"unknown effect", &types.Flow{
				Slug:  "bad-effect",
				Rules: []types.Rule{{Condition: "true", Effect: "explode"}},
			}},
			{"screen without slug", &types.Flow{
				Slug:    "bad-screen",
				Screens: []types.FlowScreen{{AllowedTriggers: []string{"x"}}},
			}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if err := store.CreateFlow(ctx, tt.flow); err == nil {
					t.Error("expected validation error")
				}
			})
		}
	})
}

func TestMemoryStore_GetFlow(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	store.CreateFlow(ctx, &types.Flow{Slug: "get-test-flow", Title: "Get Test"})

	t.Run("gets existing flow", func(t *testing.T) {
		flow, err := store.GetFlow(ctx, "get-test-flow")
		if err != nil {
			t.Fatalf("GetFlow failed: %v", err)
		}
		if flow.Slug != "get-test-flow" {
			t.Errorf("expected slug %q, got %q", "get-test-flow", flow.Slug)
		}
	})

	t.Run("returns error for non-existent flow", func(t *testing.T) {
		_, err := store.GetFlow(ctx, "non-existent")
		if err != ErrFlowNotFound {
			t.Errorf("expected ErrFlowNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_UpdateFlow(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	store.CreateFlow(ctx, &types.Flow{Slug: "update-test-flow", Title: "Original"})

	t.Run("replaces existing flow", func(t *testing.T) {
		updated := &types.Flow{
			Slug:  "update-test-flow",
			Title: "Updated",
			Rules: []types.Rule{{Condition: `platform == "web"`, Effect: types.RuleEffectSkip}},
		}
		if err := store.UpdateFlow(ctx, updated); err != nil {
			t.Fatalf("UpdateFlow failed: %v", err)
		}

		got, _ := store.GetFlow(ctx, "update-test-flow")
		if got.Title != "Updated" {
			t.Errorf("expected Title %q, got %q", "Updated", got.Title)
		}
		if len(got.Rules) != 1 {
			t.Errorf("expected 1 rule, got %d", len(got.Rules))
		}
	})

	t.Run("returns error for non-existent flow", func(t *testing.T) {
		err := store.UpdateFlow(ctx, &types.Flow{Slug: "non-existent"})
		if err != ErrFlowNotFound {
			t.Errorf("expected ErrFlowNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_DeleteFlow(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	store.CreateFlow(ctx, &types.Flow{Slug: "delete-test-flow"})

	t.Run("deletes existing flow", func(t *testing.T) {
		if err := store.DeleteFlow(ctx, "delete-test-flow"); err != nil {
			t.Fatalf("DeleteFlow failed: %v", err)
		}
		if _, err := store.GetFlow(ctx, "delete-test-flow"); err != ErrFlowNotFound {
			t.Error("flow should be deleted")
		}
	})

	t.Run("returns error for non-existent flow", func(t *testing.T) {
		if err := store.DeleteFlow(ctx, "non-existent"); err != ErrFlowNotFound {
			t.Errorf("expected ErrFlowNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_ListFlowSlugs(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	for _, slug := range []string{"gamma", "alpha", "beta"} {
		store.CreateFlow(ctx, &types.Flow{Slug: slug})
	}

	slugs, err := store.ListFlowSlugs(ctx)
	if err != nil {
		t.Fatalf("ListFlowSlugs failed: %v", err)
	}

	want := []string{"alpha", "beta", "gamma"}
	if len(slugs) != len(want) {
		t.Fatalf("expected %d slugs, got %d", len(want), len(slugs))
	}
	for i, slug := range want {
		if slugs[i] != slug {
			t.Errorf("slugs[%d] = %q, want %q (lexical order)", i, slugs[i], slug)
		}
	}

	flows, err := store.ListFlows(ctx)
	if err != nil {
		t.Fatalf("ListFlows failed: %v", err)
	}
	if len(flows) != 3 || flows[0].Slug != "alpha" {
		t.Errorf("ListFlows should return flows in slug order, got %d starting with %q", len(flows), flows[0].Slug)
	}
}

func TestMemoryStore_Screens(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	t.Run("put and get screen", func(t *testing.T) {
		screen := &types.Screen{
			Slug:   "settings-main",
			Title:  "Settings",
			Schema: json.RawMessage(`{"type":"object"}`),
		}
		if err := store.PutScreen(ctx, screen); err != nil {
			t.Fatalf("PutScreen failed: %v", err)
		}

		got, err := store.GetScreen(ctx, "settings-main")
		if err != nil {
			t.Fatalf("GetScreen failed: %v", err)
		}
		if got.Title != "Settings" {
			t.Errorf("expected Title %q, got %q", "Settings", got.Title)
		}
	})

	t.Run("put replaces existing screen", func(t *testing.T) {
		store.PutScreen(ctx, &types.Screen{Slug: "replace-me", Title: "Old"})
		store.PutScreen(ctx, &types.Screen{Slug: "replace-me", Title: "New"})

		got, _ := store.GetScreen(ctx, "replace-me")
		if got.Title != "New" {
			t.Errorf("expected Title %q, got %q", "New", got.Title)
		}
	})

	t.Run("returns error for non-existent screen", func(t *testing.T) {
		if _, err := store.GetScreen(ctx, "non-existent"); err != ErrScreenNotFound {
			t.Errorf("expected ErrScreenNotFound, got %v", err)
		}
		if err := store.DeleteScreen(ctx, "non-existent"); err != ErrScreenNotFound {
			t.Errorf("expected ErrScreenNotFound, got %v", err)
		}
	})

	t.Run("deletes screen", func(t *testing.T) {
		store.PutScreen(ctx, &types.Screen{Slug: "doomed"})
		if err := store.DeleteScreen(ctx, "doomed"); err != nil {
			t.Fatalf("DeleteScreen failed: %v", err)
		}
		if _, err := store.GetScreen(ctx, "doomed"); err != ErrScreenNotFound {
			t.Error("screen should be deleted")
		}
	})
}
