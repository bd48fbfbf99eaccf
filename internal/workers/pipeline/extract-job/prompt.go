package extractjob

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/language"
)

const ocrPrompt = `Transcribe all text visible in this image of a job posting.
Return only the transcribed text, preserving line breaks. Do not summarize.`

// ExtractionPrompt asks for the normalized posting fields.
type ExtractionPrompt struct {
	Title            string
	Company          string
	Link             string
	Description      string
	ExtraInformation string
	Raw              map[string]interface{}
}

func (p ExtractionPrompt) String() string {
	var b strings.Builder
	b.WriteString("You extract structured data from job postings.\n")
	b.WriteString("Respond with a single JSON object and nothing else, using these keys:\n")
	b.WriteString(`{"title": string, "company": string, "description": string, "required_skills": [string], `)
	b.WriteString(`"location": string, "salary": string, "employment_type": string, `)
	b.WriteString(`"language": BCP 47 tag of the posting language (e.g. "en", "pt-BR"), `)
	b.WriteString(`"contact_email": string, "is_relevant": boolean, "relevance_reason": string}` + "\n")
	b.WriteString("is_relevant is false only when the text is not a job posting at all.\n")
	b.WriteString("Use an empty string for unknown fields.\n\n")

	if p.Title != "" {
		b.WriteString("Title: " + p.Title + "\n")
	}
	if p.Company != "" {
		b.WriteString("Company: " + p.Company + "\n")
	}
	if p.Link != "" {
		b.WriteString("Link: " + p.Link + "\n")
	}
	b.WriteString("Description:\n" + p.Description + "\n")
	if len(p.Raw) > 0 {
		if raw, err := json.Marshal(p.Raw); err == nil {
			b.WriteString("\nOriginal fields:\n" + string(raw) + "\n")
		}
	}
	if p.ExtraInformation != "" {
		b.WriteString("\nAdditional context from the candidate, which takes precedence:\n" + p.ExtraInformation + "\n")
	}
	return b.String()
}

var languageNames = map[string]string{
	"english":    "en",
	"portuguese": "pt",
	"português":  "pt",
	"spanish":    "es",
	"español":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"dutch":      "nl",
}

// normalizeLanguage returns a canonical BCP 47 tag, falling back to "und".
func normalizeLanguage(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return UndeterminedLang
	}
	if code, ok := languageNames[s]; ok {
		s = code
	}
	tag, err := language.Parse(strings.ReplaceAll(s, "_", "-"))
	if err != nil {
		return UndeterminedLang
	}
	return tag.String()
}
