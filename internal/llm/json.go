package llm

import (
	"encoding/json"
	"strings"

	apperrors "jobpilot-workers/internal/common/errors"
)

// ExtractJSON pulls the first JSON object out of a model response: code
// fences are stripped, then everything from the first '{' to the last '}' is
// decoded into out. Failures are retryable so the call is simply reissued.
func ExtractJSON(text string, out interface{}) error {
	body := stripFences(text)

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return apperrors.NewMalformedResponseError("no JSON object found")
	}

	if err := json.Unmarshal([]byte(body[start:end+1]), out); err != nil {
		return apperrors.NewMalformedResponseError(err.Error())
	}
	return nil
}

// ExtractObject is ExtractJSON into a generic map.
func ExtractObject(text string) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := ExtractJSON(text, &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperrors.NewMalformedResponseError("null object")
	}
	return m, nil
}

func stripFences(content string) string {
	content = strings.TrimSpace(content)
	if i := strings.Index(content, "```"); i >= 0 {
		rest := content[i+3:]
		rest = strings.TrimPrefix(rest, "json")
		if j := strings.LastIndex(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		content = rest
	}
	return strings.TrimSpace(content)
}
