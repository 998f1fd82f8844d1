// Package validator provides JSON schema validation for flow and screen
// documents.
package validator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator validates flow and screen definitions before they reach the
// store. It checks structure only; cross-document rules (dangling screen
// references, unknown replacement flows) are the store's concern.
type Validator struct {
	flowSchema   *jsonschema.Schema
	screenSchema *jsonschema.Schema
}

// ValidationError represents a validation failure.
type ValidationError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// ValidationResult holds the result of a validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// New creates a new validator with embedded schemas.
func New() (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource("flow.json", strings.NewReader(flowSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add flow schema: %w", err)
	}

	if err := compiler.AddResource("screen.json", strings.NewReader(screenSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add screen schema: %w", err)
	}

	flowSchema, err := compiler.Compile("flow.json")
	if err != nil {
		return nil, fmt.Errorf("compile flow schema: %w", err)
	}

	screenSchema, err := compiler.Compile("screen.json")
	if err != nil {
		return nil, fmt.Errorf("compile screen schema: %w", err)
	}

	return &Validator{
		flowSchema:   flowSchema,
		screenSchema: screenSchema,
	}, nil
}

// ValidateFlow validates a decoded flow document.
func (v *Validator) ValidateFlow(flow map[string]interface{}) *ValidationResult {
	return v.validate(v.flowSchema, flow)
}

// ValidateScreen validates a decoded screen document.
func (v *Validator) ValidateScreen(screen map[string]interface{}) *ValidationResult {
	return v.validate(v.screenSchema, screen)
}

// ValidateFlowJSON validates a JSON-encoded flow.
func (v *Validator) ValidateFlowJSON(data []byte) *ValidationResult {
	var flow map[string]interface{}
	if err := json.Unmarshal(data, &flow); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidateFlow(flow)
}

// ValidateScreenJSON validates a JSON-encoded screen.
func (v *Validator) ValidateScreenJSON(data []byte) *ValidationResult {
	var screen map[string]interface{}
	if err := json.Unmarshal(data, &screen); err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{
				{Path: "$", Message: fmt.Sprintf("invalid JSON: %v", err)},
			},
		}
	}
	return v.ValidateScreen(screen)
}

// validate runs schema validation and converts errors.
func (v *Validator) validate(schema *jsonschema.Schema, data interface{}) *ValidationResult {
	err := schema.Validate(data)
	if err == nil {
		return &ValidationResult{Valid: true}
	}

	result := &ValidationResult{Valid: false}

	if verr, ok := err.(*jsonschema.ValidationError); ok {
		result.Errors = extractErrors(verr)
	} else {
		result.Errors = []ValidationError{
			{Path: "$", Message: err.Error()},
		}
	}

	return result
}

// extractErrors recursively extracts validation errors.
func extractErrors(verr *jsonschema.ValidationError) []ValidationError {
	var errors []ValidationError

	if verr.Message != "" {
		errors = append(errors, ValidationError{
			Path:    verr.InstanceLocation,
			Message: verr.Message,
		})
	}

	for _, cause := range verr.Causes {
		errors = append(errors, extractErrors(cause)...)
	}

	return errors
}

// Embedded JSON schemas

const flowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "flow.json",
  "title": "Flow",
  "description": "Schema for flow graph nodes",
  "type": "object",
  "required": ["slug"],
  "properties": {
    "slug": {
      "type": "string",
      "pattern": "^[a-z][a-z0-9._-]*$",
      "description": "Unique flow identifier"
    },
    "title": {
      "type": "string",
      "description": "Human-readable flow name"
    },
    "platforms": {
      "type": "array",
      "items": {"type": "string", "minLength": 1},
      "description": "Platforms allowed to trigger the flow; empty means all"
    },
    "rules": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["condition", "effect"],
        "properties": {
          "condition": {
            "type": "string",
            "minLength": 1,
            "description": "Boolean expression over the trigger environment"
          },
          "effect": {
            "type": "string",
            "enum": ["skip", "replace"]
          },
          "replace_with": {
            "type": "string",
            "minLength": 1,
            "description": "Flow slug substituted when the effect is replace"
          },
          "description": {"type": "string"}
        },
        "if": {
          "properties": {"effect": {"const": "replace"}}
        },
        "then": {
          "required": ["replace_with"]
        }
      }
    },
    "screens": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["screen_slug"],
        "properties": {
          "screen_slug": {
            "type": "string",
            "minLength": 1,
            "description": "Slug of the reusable screen definition"
          },
          "allowed_triggers": {
            "type": "array",
            "items": {"type": "string"}
          },
          "platforms": {
            "type": "array",
            "items": {"type": "string"}
          },
          "tiers": {
            "type": "array",
            "items": {"type": "string"}
          },
          "condition": {"type": "string"},
          "config": {
            "type": "object",
            "description": "Values for the screen schema's fields"
          }
        }
      }
    }
  }
}`

const screenSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "screen.json",
  "title": "Screen",
  "description": "Schema for reusable screen definitions",
  "type": "object",
  "required": ["slug"],
  "properties": {
    "slug": {
      "type": "string",
      "pattern": "^[a-z][a-z0-9._-]*$",
      "description": "Unique screen identifier"
    },
    "title": {
      "type": "string",
      "description": "Human-readable screen name"
    },
    "schema": {
      "type": "object",
      "description": "JSON schema for per-flow config values; properties marked x-trigger-target become graph edges",
      "properties": {
        "properties": {"type": "object"}
      }
    }
  }
}`
