package discover

import (
	"encoding/json"
	"fmt"
	"sort"
)

// triggerField is a config property that names a trigger target,
// declared by a screen definition schema.
type triggerField struct {
	name        string
	description string
}

// parseTriggerFields scans a screen definition schema for properties
// annotated with "x-trigger-target": true and returns their names with
// the schema's human description, sorted for determinism.
func parseTriggerFields(schema json.RawMessage) ([]triggerField, error) {
	if len(schema) == 0 {
		return nil, nil
	}
	var doc interface{}
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("parse screen schema: %w", err)
	}
	byName := make(map[string]triggerField)
	collectTriggerFields(doc, byName)

	fields := make([]triggerField, 0, len(byName))
	for _, f := range byName {
		fields = append(fields, f)
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })
	return fields, nil
}

func collectTriggerFields(node interface{}, out map[string]triggerField) {
	switch v := node.(type) {
	case map[string]interface{}:
		if props, ok := v["properties"].(map[string]interface{}); ok {
			for name, sub := range props {
				subObj, ok := sub.(map[string]interface{})
				if !ok {
					continue
				}
				if marked, _ := subObj["x-trigger-target"].(bool); marked {
					if _, exists := out[name]; !exists {
						desc, _ := subObj["description"].(string)
						out[name] = triggerField{name: name, description: desc}
					}
				}
			}
		}
		for _, child := range v {
			collectTriggerFields(child, out)
		}
	case []interface{}:
		for _, child := range v {
			collectTriggerFields(child, out)
		}
	}
}

// configTrigger is one located trigger value: the named target, the exact
// field path inside the config value, and the declaring schema field.
type configTrigger struct {
	target    string
	fieldPath string
	field     triggerField
}

// searchConfig walks a screen's free-form config value and returns every
// trigger field occurrence holding a non-empty string, with its path.
func searchConfig(config json.RawMessage, fields []triggerField) ([]configTrigger, error) {
	if len(config) == 0 || len(fields) == 0 {
		return nil, nil
	}
	byName := make(map[string]triggerField, len(fields))
	for _, f := range fields {
		byName[f.name] = f
	}
	var value interface{}
	if err := json.Unmarshal(config, &value); err != nil {
		return nil, fmt.Errorf("parse screen config: %w", err)
	}
	var found []configTrigger
	walkConfig(value, "", byName, &found)
	sort.Slice(found, func(i, j int) bool { return found[i].fieldPath < found[j].fieldPath })
	return found, nil
}

func walkConfig(node interface{}, path string, fields map[string]triggerField, out *[]configTrigger) {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, child := range v {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			if f, ok := fields[key]; ok {
				if target, ok := child.(string); ok && target != "" {
					*out = append(*out, configTrigger{target: target, fieldPath: childPath, field: f})
					continue
				}
			}
			walkConfig(child, childPath, fields, out)
		}
	case []interface{}:
		for i, child := range v {
			walkConfig(child, fmt.Sprintf("%s[%d]", path, i), fields, out)
		}
	}
}
