// internal/workers/pipeline/score-job/config.go
package scorejob

import "time"

type Config struct {
	BatchSize int
	Threshold int
	Timeout   time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		BatchSize: 50,
		Threshold: 70,
		Timeout:   5 * time.Minute,
	}
}
