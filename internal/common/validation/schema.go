// Package validation checks queue message bodies before they are decoded
// into typed payloads.
package validation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Schema is the subset of JSON Schema used for queue messages.
type Schema struct {
	Properties map[string]Property
	Required   []string
}

type Property struct {
	Type       string
	Enum       []string
	MinLength  int
	Minimum    *float64
	Maximum    *float64
	Properties map[string]Property
	Required   []string
}

type Result struct {
	Errors []FieldError
}

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (r *Result) Valid() bool { return len(r.Errors) == 0 }

// Messages returns "field: message" for each error.
func (r *Result) Messages() []string {
	out := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		out[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return out
}

// HasCode reports whether any error carries code.
func (r *Result) HasCode(code string) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func (r *Result) add(field, code, format string, args ...interface{}) {
	r.Errors = append(r.Errors, FieldError{Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
}

func float(v float64) *float64 { return &v }

// Message schemas for the three consumed queues.
var (
	IntakeSchema = Schema{
		Required: []string{"type", "data"},
		Properties: map[string]Property{
			"job_id":       {Type: "string"},
			"type":         {Type: "string", Enum: []string{"job_application"}},
			"callback_url": {Type: "string"},
			"priority":     {Type: "number", Minimum: float(0), Maximum: float(100)},
			"metadata":     {Type: "object"},
			"data": {
				Type:     "object",
				Required: []string{"job"},
				Properties: map[string]Property{
					"job":       {Type: "object"},
					"candidate": {Type: "object"},
					"image":     {Type: "string"},
				},
			},
		},
	}

	MarkDoneSchema = Schema{
		Required: []string{"id"},
		Properties: map[string]Property{
			"id": {Type: "string", MinLength: 1},
		},
	}

	ReprocessSchema = Schema{
		Required: []string{"id", "message"},
		Properties: map[string]Property{
			"id":      {Type: "string", MinLength: 1},
			"message": {Type: "string"},
		},
	}
)

// ValidateMessage decodes body as a JSON object and checks it against schema.
func ValidateMessage(body []byte, schema Schema) (*Result, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("message is not a JSON object: %w", err)
	}
	r := &Result{}
	validateObject(r, "", doc, schema.Properties, schema.Required)
	return r, nil
}

func validateObject(r *Result, prefix string, doc map[string]interface{}, props map[string]Property, required []string) {
	for _, name := range required {
		if v, ok := doc[name]; !ok || v == nil {
			r.add(join(prefix, name), "REQUIRED_FIELD_MISSING", "required field missing")
		}
	}
	for name, prop := range props {
		v, ok := doc[name]
		if !ok || v == nil {
			continue
		}
		validateField(r, join(prefix, name), v, prop)
	}
}

func validateField(r *Result, field string, v interface{}, prop Property) {
	if err := checkType(v, prop.Type); err != nil {
		r.add(field, "INVALID_TYPE", "%v", err)
		return
	}

	switch val := v.(type) {
	case string:
		if len(strings.TrimSpace(val)) < prop.MinLength {
			r.add(field, "MIN_LENGTH_VIOLATION", "value must be at least %d characters", prop.MinLength)
		}
		if len(prop.Enum) > 0 && !contains(prop.Enum, val) {
			r.add(field, "INVALID_ENUM_VALUE", "value must be one of %v", prop.Enum)
		}
	case float64:
		if prop.Minimum != nil && val < *prop.Minimum {
			r.add(field, "MINIMUM_VIOLATION", "value must be >= %g", *prop.Minimum)
		}
		if prop.Maximum != nil && val > *prop.Maximum {
			r.add(field, "MAXIMUM_VIOLATION", "value must be <= %g", *prop.Maximum)
		}
	case map[string]interface{}:
		if prop.Properties != nil || prop.Required != nil {
			validateObject(r, field, val, prop.Properties, prop.Required)
		}
	}
}

func checkType(v interface{}, expected string) error {
	ok := true
	switch expected {
	case "string":
		_, ok = v.(string)
	case "number":
		_, ok = v.(float64)
	case "boolean":
		_, ok = v.(bool)
	case "object":
		_, ok = v.(map[string]interface{})
	case "array":
		_, ok = v.([]interface{})
	}
	if !ok {
		return fmt.Errorf("expected %s, got %T", expected, v)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	urlPattern   = regexp.MustCompile(`^https?://[^\s/$.?#].[^\s]*$`)
)

func ValidateEmail(email string) bool { return emailPattern.MatchString(email) }

func ValidateURL(url string) bool { return urlPattern.MatchString(url) }
