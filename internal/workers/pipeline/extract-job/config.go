// internal/workers/pipeline/extract-job/config.go
package extractjob

import "time"

type Config struct {
	BatchSize     int
	Timeout       time.Duration
	MinImageBytes int
	MaxImageBytes int
}

func DefaultConfig() *Config {
	return &Config{
		BatchSize:     50,
		Timeout:       5 * time.Minute,
		MinImageBytes: 128,
		MaxImageBytes: 10 << 20,
	}
}
