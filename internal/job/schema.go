// Copyright 2025 James Ross
package job

import (
	"fmt"

	"github.com/archivault/workers/internal/apperrors"
	"github.com/xeipuuv/gojsonschema"
)

// baseSchema enforces the shape spec.md §4.2 step 1 requires before worker
// derivation is attempted: an object carrying tenant_id and a discriminator.
const baseSchema = `{
  "type": "object",
  "properties": {
    "tenant_id": {"type": "string"},
    "job_type": {"type": "string"},
    "processing_type": {"type": "string"},
    "asset_id": {"type": "string"},
    "batch_id": {"type": "string"},
    "file_purpose": {"type": "string"},
    "input_extension": {"type": "string", "maxLength": 256}
  },
  "required": ["tenant_id", "asset_id"],
  "anyOf": [
    {"required": ["job_type"]},
    {"required": ["processing_type"]}
  ]
}`

var baseSchemaLoader = gojsonschema.NewStringLoader(baseSchema)

// ValidateShape runs the JSON-schema layer ahead of the struct validators,
// catching malformed or discriminator-less payloads before DeriveWorker
// ever sees them.
func ValidateShape(raw []byte) error {
	result, err := gojsonschema.Validate(baseSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return apperrors.NewValidation("MALFORMED_PAYLOAD", "", err.Error())
	}
	if !result.Valid() {
		msg := "payload failed schema validation"
		if errs := result.Errors(); len(errs) > 0 {
			msg = fmt.Sprintf("%s: %s", msg, errs[0].String())
		}
		return apperrors.NewValidation("MALFORMED_PAYLOAD", "", msg)
	}
	return nil
}
