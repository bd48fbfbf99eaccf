package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// ProfileRow is the active candidate profile as stored by the dashboard.
type ProfileRow struct {
	Identity   map[string]string
	Summary    string
	Skills     []string
	Languages  []string
	BaseResume map[string]interface{}
}

// LoadActiveProfile reads the single active candidate profile.
func (s *Store) LoadActiveProfile(ctx context.Context) (*ProfileRow, error) {
	var (
		name, age, marital, location, phone, phoneLink, email      string
		github, githubDisplay, linkedin, linkedinDisplay, summary string
		skills, languages, baseResume                             []byte
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT name, age, marital_status, location, phone, phone_link, email,
			github, github_display, linkedin, linkedin_display, summary,
			skills, languages, base_resume
		FROM candidate_profiles
		WHERE active
		ORDER BY updated_at DESC
		LIMIT 1`).Scan(
		&name, &age, &marital, &location, &phone, &phoneLink, &email,
		&github, &githubDisplay, &linkedin, &linkedinDisplay, &summary,
		&skills, &languages, &baseResume,
	)
	if err != nil {
		return nil, dbErr("load profile", err)
	}

	row := &ProfileRow{
		Identity: map[string]string{
			"name":             name,
			"age":              age,
			"marital_status":   marital,
			"location":         location,
			"phone":            phone,
			"phone_link":       phoneLink,
			"email":            email,
			"github":           github,
			"github_display":   githubDisplay,
			"linkedin":         linkedin,
			"linkedin_display": linkedinDisplay,
		},
		Summary: summary,
	}
	if err := decodeList(skills, &row.Skills); err != nil {
		return nil, fmt.Errorf("profile skills: %w", err)
	}
	if err := decodeList(languages, &row.Languages); err != nil {
		return nil, fmt.Errorf("profile languages: %w", err)
	}
	if row.BaseResume, err = unmarshalMap(baseResume); err != nil {
		return nil, fmt.Errorf("profile base resume: %w", err)
	}
	return row, nil
}

func decodeList(raw []byte, out *[]string) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
