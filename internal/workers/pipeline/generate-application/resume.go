package generateapplication

import (
	"fmt"

	"jobpilot-workers/internal/profile"
)

// resumeDefaults is the fixed shape handed to the resume template.
var resumeDefaults = map[string]interface{}{
	"name":             "",
	"age":              "",
	"marital_status":   "",
	"location":         "",
	"phone":            "",
	"phone_link":       "",
	"email":            "",
	"github":           "",
	"github_display":   "",
	"linkedin":         "",
	"linkedin_display": "",
	"language":         "",
	"objective":        "",
	"summary":          "",
	"skills":           []interface{}{},
	"languages":        []interface{}{},
	"experience":       []interface{}{},
	"education":        []interface{}{},
	"projects":         []interface{}{},
	"certifications":   []interface{}{},
}

// MergeResumeConfig overlays generated on base. Identity keys always keep
// base's value, and stay absent when base has none.
func MergeResumeConfig(base, generated map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(generated))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range generated {
		if profile.IsIdentityKey(k) {
			continue
		}
		out[k] = v
	}
	return out
}

// NormalizeResume fills every expected key with a value of the expected
// type. Unknown keys are kept.
func NormalizeResume(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(resumeDefaults)+len(in))
	for k, v := range in {
		out[k] = v
	}
	for key, def := range resumeDefaults {
		v, ok := out[key]
		switch def.(type) {
		case string:
			out[key] = asString(v, ok)
		case []interface{}:
			out[key] = asList(v, ok)
		}
	}
	return out
}

func asString(v interface{}, ok bool) string {
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return fmt.Sprintf("%g", s)
	case bool, int, int64:
		return fmt.Sprint(s)
	}
	return ""
}

func asList(v interface{}, ok bool) []interface{} {
	if !ok || v == nil {
		return []interface{}{}
	}
	switch l := v.(type) {
	case []interface{}:
		return l
	case []string:
		out := make([]interface{}, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	case string:
		if l == "" {
			return []interface{}{}
		}
		return []interface{}{l}
	}
	return []interface{}{}
}
