package llm

import (
	"strings"

	apperrors "jobpilot-workers/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

// Validate checks a decoded response document against a JSON schema.
func Validate(schema string, document interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewGoLoader(document),
	)
	if err != nil {
		return apperrors.NewFatal(apperrors.ErrCodeInternal, "response schema unusable", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	e := apperrors.NewRetryable(apperrors.ErrCodeInvalidResponse, "language model response failed validation", nil)
	e.Details = strings.Join(msgs, "; ")
	return e
}
