package ingest

import (
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// payloadSchema gates the structural shape of an upload before any field
// extraction happens: a top-level array of row objects, or an object wrapping
// one under "items". Field-level requirements are checked during extraction so
// the errors can name the offending item.
const payloadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "oneOf": [
    {"$ref": "#/$defs/rows"},
    {
      "type": "object",
      "required": ["items"],
      "properties": {"items": {"$ref": "#/$defs/rows"}}
    }
  ],
  "$defs": {
    "rows": {
      "type": "array",
      "items": {"type": "object"}
    }
  }
}`

var compiledSchema = mustCompileSchema(payloadSchema)

func mustCompileSchema(raw string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("payload.json", strings.NewReader(raw)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("payload.json")
}
