package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// maxBodySize caps JSON request bodies. Metadata records are small.
const maxBodySize = 64 * 1024

const uploadGrantSchema = `{
	"type": "object",
	"properties": {
		"file_name": {"type": "string", "maxLength": 1024},
		"file_type": {"type": "string", "maxLength": 255}
	},
	"additionalProperties": false
}`

// Identity comes from the path, so no body field is required. name and
// owner_id are accepted so a client can send back a record it received; they
// must match the path. A missing file_size registers as 0.
const registerMetaSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"owner_id": {"type": "string"},
		"file_name": {"type": "string", "maxLength": 1024},
		"file_type": {"type": "string", "maxLength": 255},
		"file_size": {"type": "integer", "minimum": 0},
		"created_at": {"type": "string"}
	},
	"additionalProperties": false
}`

var (
	uploadGrantSchemaLoader  = gojsonschema.NewStringLoader(uploadGrantSchema)
	registerMetaSchemaLoader = gojsonschema.NewStringLoader(registerMetaSchema)
)

// readValidatedBody reads at most maxBodySize bytes and checks them against
// schema. An empty body is treated as "{}".
func readValidatedBody(r *http.Request, schema gojsonschema.JSONLoader) ([]byte, error) {
	if r.ContentLength > maxBodySize {
		return nil, fmt.Errorf("request body too large: %d bytes (max: %d)", r.ContentLength, maxBodySize)
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(body) > maxBodySize {
		return nil, fmt.Errorf("request body too large (max: %d bytes)", maxBodySize)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		body = []byte("{}")
	}

	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return nil, fmt.Errorf("malformed JSON body: %w", err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return nil, fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return body, nil
}
