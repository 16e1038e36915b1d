package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"vidgen/internal/domain"
	"vidgen/internal/domain/jsoncfg"
)

const submitSchemaJSON = `{
  "type": "object",
  "required": ["input"],
  "properties": {
    "kind": {"enum": ["text", "image"]},
    "action": {"type": "string"},
    "callbackUrl": {"type": "string", "maxLength": 2048},
    "callback_url": {"type": "string", "maxLength": 2048},
    "input": {
      "type": "object",
      "properties": {
        "prompt": {"type": "string", "maxLength": 2000},
        "negative_prompt": {"type": "string", "maxLength": 2000},
        "source_image": {"type": "string"},
        "duration": {"type": "integer"},
        "fps": {"type": "integer", "minimum": 0},
        "width": {"type": "integer", "minimum": 0, "maximum": 4096},
        "height": {"type": "integer", "minimum": 0, "maximum": 4096},
        "style": {"type": "string"},
        "aspect_ratio": {"type": "string"},
        "cfg_scale": {"type": "number"}
      }
    }
  }
}`

var submitSchema = jsonschema.MustCompileString("submit.json", submitSchemaJSON)

// submission is the body accepted by the job and automation endpoints.
// callback_url is accepted as an alias of callbackUrl.
type submission struct {
	Kind          domain.JobKind          `json:"kind"`
	Action        string                  `json:"action,omitempty"`
	CallbackURL   string                  `json:"callbackUrl,omitempty"`
	CallbackAlias string                  `json:"callback_url,omitempty"`
	Input         jsoncfg.GenerationInput `json:"input"`
}

// decodeSubmission checks the raw body against the schema before binding it.
// A missing kind is inferred from the presence of a source image.
func decodeSubmission(body []byte) (submission, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return submission{}, &domain.ValidationError{Message: "body must be valid JSON"}
	}
	if err := submitSchema.Validate(doc); err != nil {
		return submission{}, &domain.ValidationError{Message: schemaMessage(err)}
	}
	var sub submission
	if err := json.Unmarshal(body, &sub); err != nil {
		return submission{}, &domain.ValidationError{Message: "body does not match the submission shape"}
	}
	switch {
	case sub.CallbackURL == "":
		sub.CallbackURL = sub.CallbackAlias
	case sub.CallbackAlias != "" && sub.CallbackAlias != sub.CallbackURL:
		return submission{}, &domain.ValidationError{Field: "callbackUrl", Message: "conflicts with callback_url"}
	}
	if sub.Kind == "" {
		sub.Kind = domain.JobKindText
		if strings.TrimSpace(sub.Input.SourceImage) != "" {
			sub.Kind = domain.JobKindImage
		}
	}
	return sub, nil
}

// schemaMessage reports the innermost failing location.
func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	if field == "" {
		return ve.Message
	}
	return fmt.Sprintf("%s: %s", strings.ReplaceAll(field, "/", "."), ve.Message)
}
