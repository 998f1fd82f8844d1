package types

import (
	"encoding/json"
	"fmt"
)

// ViaKind identifies why a graph edge exists.
type ViaKind string

const (
	// ViaScreenAllowed is a trigger listed in a screen's allowed_triggers.
	ViaScreenAllowed ViaKind = "screen-allowed"
	// ViaScreenTrigger is a trigger named by a screen configuration field,
	// located by deep structural search over the config value.
	ViaScreenTrigger ViaKind = "screen-trigger"
	// ViaFlowReplacerRule is the single edge produced by a matching
	// replace rule on the source flow.
	ViaFlowReplacerRule ViaKind = "flow-replacer-rule"
)

// Via carries enough metadata about an edge to explain why it exists.
type Via struct {
	Kind        ViaKind `json:"kind"`
	ScreenIndex int     `json:"screen_index,omitempty"`
	ScreenSlug  string  `json:"screen_slug,omitempty"`
	FieldPath   string  `json:"field_path,omitempty"`
	Description string  `json:"description,omitempty"`
}

// PathNode is one hop of a path: the edge taken and the flow it lands on.
type PathNode struct {
	Type string `json:"type"`
	Via  Via    `json:"via"`
	Slug string `json:"slug"`
}

// PathItem type discriminators.
const (
	PathItemTypePath = "path"
	PathItemTypeDone = "done"
)

// PathItem is one element of a target's cached path list: either a full
// path record or the terminal done marker. Each item is independently
// JSON-decodable so lists can be paged without knowing their length.
type PathItem struct {
	Type  string     `json:"type"`
	Nodes []PathNode `json:"nodes,omitempty"`
}

// DoneMarker is the exact serialized form of the terminal marker. A path
// list whose tail is not this literal is a partial write and must be
// treated as absent.
const DoneMarker = `{"type":"done"}`

// NewPathItem wraps an ordered hop sequence as a path record.
func NewPathItem(nodes []PathNode) PathItem {
	return PathItem{Type: PathItemTypePath, Nodes: nodes}
}

// EdgeNode builds a single hop landing on slug via the given edge.
func EdgeNode(slug string, via Via) PathNode {
	return PathNode{Type: "edge", Via: via, Slug: slug}
}

// IsDone reports whether the item is the terminal marker.
func (p PathItem) IsDone() bool { return p.Type == PathItemTypeDone }

// Encode serializes the item for cache storage.
func (p PathItem) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode path item: %w", err)
	}
	return string(b), nil
}

// DecodePathItem parses one stored list element.
func DecodePathItem(s string) (PathItem, error) {
	var item PathItem
	if err := json.Unmarshal([]byte(s), &item); err != nil {
		return PathItem{}, fmt.Errorf("decode path item: %w", err)
	}
	switch item.Type {
	case PathItemTypePath, PathItemTypeDone:
		return item, nil
	default:
		return PathItem{}, fmt.Errorf("decode path item: unknown type %q", item.Type)
	}
}
