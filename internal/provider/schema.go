package provider

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const rawProductSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "properties": {
      "nome": {"type": "string", "minLength": 1},
      "marca": {"type": "string"},
      "categoria": {"type": "string"},
      "prezzo": {"type": ["string", "number"]},
      "prezzo_originale": {"type": ["string", "number"]},
      "quantita": {"type": "string"},
      "descrizione": {"type": "string"},
      "confidenza": {"type": "number", "minimum": 0, "maximum": 1}
    },
    "required": ["nome"]
  }
}`

var rawProductSchema = jsonschema.MustCompileString("raw_product.json", rawProductSchemaJSON)

// validatePayload checks a decoded provider payload against the product
// schema. Validation is advisory for optional fields but hard on shape:
// a non-array or nameless entries fail.
func validatePayload(payload interface{}) error {
	return rawProductSchema.Validate(payload)
}

// stripFences removes a markdown code fence around a model response.
// Models add them despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
