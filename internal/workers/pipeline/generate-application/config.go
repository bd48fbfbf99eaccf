// internal/workers/pipeline/generate-application/config.go
package generateapplication

import "time"

type Config struct {
	BatchSize   int
	Threshold   int
	TemplateRef string
	Timeout     time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		BatchSize:   50,
		Threshold:   70,
		TemplateRef: "resume.html",
		Timeout:     10 * time.Minute,
	}
}
