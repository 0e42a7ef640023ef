package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBase = "https://transmuter.dev/schemas/"

const takerTokenSchema = `{
  "type": "object",
  "required": ["gem_bank", "required_amount", "required_units", "vault_action"],
  "properties": {
    "gem_bank": {"type": "string", "minLength": 1},
    "required_amount": {"type": "integer", "minimum": 0},
    "required_units": {"enum": ["RarityPoints", "Gems"]},
    "vault_action": {"enum": ["ChangeOwner", "Lock", "DoNothing"]}
  },
  "additionalProperties": false
}`

const makerTokenSchema = `{
  "type": "object",
  "required": ["mint", "total_funding", "amount_per_use"],
  "properties": {
    "mint": {"type": "string", "minLength": 1},
    "total_funding": {"type": "integer", "minimum": 0},
    "amount_per_use": {"type": "integer", "minimum": 0}
  },
  "additionalProperties": false
}`

const initMutationSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["config", "uses"],
  "properties": {
    "name": {"type": "string"},
    "seed": {"type": "string"},
    "uses": {"type": "integer", "minimum": 1},
    "config": {
      "type": "object",
      "required": ["taker_token_a", "maker_token_a"],
      "properties": {
        "taker_token_a": {"$ref": "taker-token.schema.json"},
        "taker_token_b": {"anyOf": [{"type": "null"}, {"$ref": "taker-token.schema.json"}]},
        "taker_token_c": {"anyOf": [{"type": "null"}, {"$ref": "taker-token.schema.json"}]},
        "maker_token_a": {"$ref": "maker-token.schema.json"},
        "maker_token_b": {"anyOf": [{"type": "null"}, {"$ref": "maker-token.schema.json"}]},
        "maker_token_c": {"anyOf": [{"type": "null"}, {"$ref": "maker-token.schema.json"}]},
        "price": {
          "type": "object",
          "properties": {
            "price_lamports": {"type": "integer", "minimum": 0},
            "reversal_price_lamports": {"type": "integer"},
            "pay_every_time": {"type": "boolean"}
          },
          "additionalProperties": false
        },
        "mutation_time_sec": {"type": "integer", "minimum": 0},
        "reversible": {"type": "boolean"}
      },
      "additionalProperties": false
    }
  },
  "additionalProperties": false
}`

// schemas holds the compiled request schemas.
type schemas struct {
	initMutation *jsonschema.Schema
}

func compileSchemas() (*schemas, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	resources := map[string]string{
		"taker-token.schema.json":   takerTokenSchema,
		"maker-token.schema.json":   makerTokenSchema,
		"init-mutation.schema.json": initMutationSchema,
	}
	for name, doc := range resources {
		if err := c.AddResource(schemaBase+name, strings.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("schema %s load failed: %w", name, err)
		}
	}
	compiled, err := c.Compile(schemaBase + "init-mutation.schema.json")
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return &schemas{initMutation: compiled}, nil
}

// validateDocument checks raw JSON against s before it is decoded into a
// typed request.
func validateDocument(s *jsonschema.Schema, raw []byte) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return err
	}
	return nil
}
