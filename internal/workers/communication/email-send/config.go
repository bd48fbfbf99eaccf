package emailsend

import (
	"fmt"
	"time"
)

type Config struct {
	BatchSize    int
	Timeout      time.Duration
	From         string
	ReplyTo      string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	UseTLS       bool
}

func DefaultConfig() *Config {
	return &Config{
		BatchSize: 50,
		Timeout:   30 * time.Second,
		SMTPPort:  587,
		UseTLS:    true,
	}
}

// Validate checks the SMTP settings. SES only needs From.
func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.From == "" {
		return fmt.Errorf("from address is required")
	}
	if c.SMTPHost == "" {
		return fmt.Errorf("smtp_host is required")
	}
	if c.SMTPPort <= 0 || c.SMTPPort > 65535 {
		return fmt.Errorf("smtp_port must be between 1 and 65535")
	}
	return nil
}
