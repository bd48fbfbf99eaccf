package processjob

import "time"

type Config struct {
	Timeout         time.Duration
	CallbackTimeout time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Timeout:         30 * time.Minute,
		CallbackTimeout: 10 * time.Second,
	}
}
