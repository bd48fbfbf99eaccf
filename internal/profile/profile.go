// Package profile serves read-only snapshots of the candidate profile.
package profile

import (
	"encoding/json"
	"sort"
)

// IdentityKeys are resume fields that always come from the stored profile.
var IdentityKeys = []string{
	"name",
	"age",
	"marital_status",
	"location",
	"phone",
	"phone_link",
	"email",
	"github",
	"github_display",
	"linkedin",
	"linkedin_display",
}

// IsIdentityKey reports whether key is one of IdentityKeys.
func IsIdentityKey(key string) bool {
	for _, k := range IdentityKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Profile is an immutable candidate profile. Accessors return copies.
type Profile struct {
	identity   map[string]string
	summary    string
	skills     []string
	languages  []string
	baseResume map[string]interface{}
}

// snapshot is the cached wire form.
type snapshot struct {
	Identity   map[string]string      `json:"identity"`
	Summary    string                 `json:"summary"`
	Skills     []string               `json:"skills"`
	Languages  []string               `json:"languages"`
	BaseResume map[string]interface{} `json:"base_resume"`
}

func New(identity map[string]string, summary string, skills, languages []string, baseResume map[string]interface{}) *Profile {
	p := &Profile{
		identity:   make(map[string]string, len(identity)),
		summary:    summary,
		skills:     append([]string(nil), skills...),
		languages:  append([]string(nil), languages...),
		baseResume: deepCopy(baseResume),
	}
	for k, v := range identity {
		p.identity[k] = v
	}
	return p
}

func (p *Profile) Identity(key string) string { return p.identity[key] }
func (p *Profile) Name() string               { return p.identity["name"] }
func (p *Profile) Email() string              { return p.identity["email"] }
func (p *Profile) Summary() string            { return p.summary }
func (p *Profile) Skills() []string           { return append([]string(nil), p.skills...) }
func (p *Profile) Languages() []string        { return append([]string(nil), p.languages...) }

// ResumeBase is the stored base resume with the non-empty identity fields on top.
func (p *Profile) ResumeBase() map[string]interface{} {
	base := deepCopy(p.baseResume)
	if base == nil {
		base = make(map[string]interface{})
	}
	for _, k := range IdentityKeys {
		if v := p.identity[k]; v != "" {
			base[k] = v
		}
	}
	return base
}

// PromptJSON renders the whole profile for inclusion in a prompt.
func (p *Profile) PromptJSON() string {
	identity := make(map[string]string)
	keys := make([]string, 0, len(p.identity))
	for k := range p.identity {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if p.identity[k] != "" {
			identity[k] = p.identity[k]
		}
	}
	b, _ := json.MarshalIndent(map[string]interface{}{
		"identity":  identity,
		"summary":   p.summary,
		"skills":    p.skills,
		"languages": p.languages,
		"resume":    p.baseResume,
	}, "", "  ")
	return string(b)
}

func (p *Profile) toSnapshot() snapshot {
	return snapshot{
		Identity:   p.identity,
		Summary:    p.summary,
		Skills:     p.skills,
		Languages:  p.languages,
		BaseResume: p.baseResume,
	}
}

func fromSnapshot(s snapshot) *Profile {
	return New(s.Identity, s.Summary, s.Skills, s.Languages, s.BaseResume)
}

func deepCopy(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}
