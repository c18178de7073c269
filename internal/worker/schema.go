package worker

import (
	"encoding/json"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"ocrdeploy/pkg/types"
)

// jobSchema describes the accepted job envelope. Envelope fields other than
// id and input (webhook, policy, ...) are accepted and ignored; a missing
// input is treated as empty.
const jobSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "id": {"type": "string"},
    "input": {
      "type": "object",
      "properties": {
        "prompt": {"type": "string"},
        "image": {"type": "string"},
        "ocr": {"type": "boolean"}
      },
      "additionalProperties": false
    }
  }
}`

var jobSchemaLoader = gojsonschema.NewStringLoader(jobSchema)

// compileSchema is called once per Handler.
func compileSchema() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(jobSchemaLoader)
}

// validate checks raw against the schema and joins every violation into one error.
func validate(s *gojsonschema.Schema, raw []byte) error {
	res, err := s.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return invalidInputError{msg: err.Error()}
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return invalidInputError{msg: strings.Join(msgs, "; ")}
}

// decode validates raw and unmarshals it into a JobRequest.
func decode(s *gojsonschema.Schema, raw []byte) (types.JobRequest, error) {
	var req types.JobRequest
	if err := validate(s, raw); err != nil {
		return req, err
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, invalidInputError{msg: err.Error()}
	}
	return req, nil
}
