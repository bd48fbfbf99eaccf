// Package llmtest provides Generator doubles for stage tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stretchr/testify/mock"
)

// MockGenerator is a testify mock of llm.Generator.
type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) TextGenerate(ctx context.Context, prompt string, images []string) (string, error) {
	args := m.Called(ctx, prompt, images)
	return args.String(0), args.Error(1)
}

// Rule answers prompts containing Match.
type Rule struct {
	Match    string
	Response string
	Err      error
}

// Scripted answers by the first rule whose Match occurs in the prompt and
// records every prompt it saw.
type Scripted struct {
	mu      sync.Mutex
	rules   []Rule
	Prompts []string
	Images  [][]string
}

func NewScripted(rules ...Rule) *Scripted {
	return &Scripted{rules: rules}
}

func (s *Scripted) TextGenerate(ctx context.Context, prompt string, images []string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Prompts = append(s.Prompts, prompt)
	s.Images = append(s.Images, images)
	for _, r := range s.rules {
		if strings.Contains(prompt, r.Match) {
			return r.Response, r.Err
		}
	}
	return "", fmt.Errorf("no scripted response for prompt %.60q", prompt)
}

// Count returns how many prompts contained substr.
func (s *Scripted) Count(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.Prompts {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}
