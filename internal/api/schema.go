package api

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const permissionsSchemaURL = "connsync://schemas/permissions.json"

const permissionsSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["updates"],
  "additionalProperties": false,
  "properties": {
    "updates": {
      "type": "array",
      "minItems": 1,
      "maxItems": 1000,
      "items": {
        "type": "object",
        "required": ["internal_id", "permission"],
        "additionalProperties": false,
        "properties": {
          "internal_id": {"type": "string", "minLength": 1, "maxLength": 1024},
          "permission": {"enum": ["read", "selected", "none"]}
        }
      }
    }
  }
}`

// permissionsRequest is the body of POST /connectors/{id}/permissions.
type permissionsRequest struct {
	Updates []struct {
		InternalID string `json:"internal_id"`
		Permission string `json:"permission"`
	} `json:"updates"`
}

func compilePermissionsSchema() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(permissionsSchema))
	if err != nil {
		return nil, fmt.Errorf("parsing permissions schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(permissionsSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("adding permissions schema: %w", err)
	}
	sch, err := c.Compile(permissionsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compiling permissions schema: %w", err)
	}
	return sch, nil
}

// validate checks body against sch before it is decoded.
func validate(sch *jsonschema.Schema, body []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	return sch.Validate(inst)
}
