package types

import (
	"testing"
)

func TestDoneMarker_MatchesEncodedDoneItem(t *testing.T) {
	encoded, err := PathItem{Type: PathItemTypeDone}.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if encoded != DoneMarker {
		t.Errorf("encoded done item = %q, want the DoneMarker literal %q", encoded, DoneMarker)
	}
}

func TestDecodePathItem(t *testing.T) {
	item := NewPathItem([]PathNode{
		EdgeNode("settings", Via{Kind: ViaScreenAllowed, ScreenIndex: 0, ScreenSlug: "home"}),
		EdgeNode("billing", Via{Kind: ViaScreenTrigger, ScreenSlug: "settings-main", FieldPath: "sections.0.target"}),
	})
	encoded, err := item.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := DecodePathItem(encoded)
	if err != nil {
		t.Fatalf("DecodePathItem() error = %v", err)
	}
	if decoded.IsDone() {
		t.Error("path record decoded as done marker")
	}
	if len(decoded.Nodes) != 2 {
		t.Fatalf("decoded %d nodes, want 2", len(decoded.Nodes))
	}
	if decoded.Nodes[1].Slug != "billing" {
		t.Errorf("Nodes[1].Slug = %q, want %q", decoded.Nodes[1].Slug, "billing")
	}
	if decoded.Nodes[1].Via.Kind != ViaScreenTrigger {
		t.Errorf("Nodes[1].Via.Kind = %q, want %q", decoded.Nodes[1].Via.Kind, ViaScreenTrigger)
	}

	if _, err := DecodePathItem(DoneMarker); err != nil {
		t.Errorf("DecodePathItem(DoneMarker) error = %v", err)
	}
	if _, err := DecodePathItem(`{"type":"mystery"}`); err == nil {
		t.Error("DecodePathItem should reject unknown record types")
	}
	if _, err := DecodePathItem("not json"); err == nil {
		t.Error("DecodePathItem should reject malformed input")
	}
}

func TestFlowVisibilityHelpers(t *testing.T) {
	flow := Flow{Slug: "onboarding", Platforms: []string{"ios", "android"}}
	if !flow.TriggerableOn("ios") {
		t.Error("flow should be triggerable on ios")
	}
	if flow.TriggerableOn("web") {
		t.Error("flow should not be triggerable on web")
	}
	open := Flow{Slug: "open"}
	if !open.TriggerableOn("web") {
		t.Error("flow with no platform gate should be triggerable everywhere")
	}

	screen := FlowScreen{ScreenSlug: "upsell", Platforms: []string{"ios"}, Tiers: []string{"free"}}
	if !screen.VisibleTo("ios", "free") {
		t.Error("screen should be visible to ios free users")
	}
	if screen.VisibleTo("android", "free") {
		t.Error("screen should be hidden on android")
	}
	if screen.VisibleTo("ios", "pro") {
		t.Error("screen should be hidden for pro tier")
	}
}
