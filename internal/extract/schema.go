package extract

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// scanResponseSchema is the expected shape of a successful /scan body.
// A success response that fails this check is a ParseError, not a
// RemoteError: the collaborator answered, but unusably.
const scanResponseSchema = `{
  "type": "object",
  "properties": {
    "documentType": {"type": "string"},
    "suggestedDomain": {"type": "string"},
    "error": {"type": "string"},
    "suggestion": {"type": "string"},
    "enhancedData": {
      "type": "object",
      "properties": {
        "documentTitle": {"type": "string"},
        "summary": {"type": "string"},
        "allDatesFound": {"type": "array", "items": {"type": "string"}},
        "allNumbersFound": {"type": "array", "items": {"type": "string"}},
        "allNamesFound": {"type": "array", "items": {"type": "string"}},
        "fields": {
          "type": "object",
          "additionalProperties": {
            "type": "object",
            "properties": {
              "name": {"type": "string"},
              "label": {"type": "string"},
              "value": {},
              "confidence": {"type": "number", "minimum": 0, "maximum": 1},
              "fieldType": {
                "type": "string",
                "enum": ["text", "date", "currency", "number", "email", "phone", "address"]
              }
            },
            "required": ["name", "confidence", "fieldType"]
          }
        }
      },
      "required": ["fields"]
    }
  }
}`

var scanSchema = jsonschema.MustCompileString("scan-response.json", scanResponseSchema)

// validateScanBody checks a raw success body against the scan schema.
func validateScanBody(body []byte) error {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return err
	}
	return scanSchema.Validate(v)
}
