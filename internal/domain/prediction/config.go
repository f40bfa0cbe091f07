package prediction

import "time"

// Config holds runtime knobs for the prediction pipeline.
type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	BaseBackoff    time.Duration
	ModelVersion   string
	UserID         string
}

const (
	DefaultMaxAttempts    = 8
	DefaultAttemptTimeout = 60 * time.Second
	DefaultBaseBackoff    = 15 * time.Second
	DefaultModelVersion   = "v2.1.0"
	DefaultUserID         = "user-1"
)

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = DefaultBaseBackoff
	}
	if c.ModelVersion == "" {
		c.ModelVersion = DefaultModelVersion
	}
	if c.UserID == "" {
		c.UserID = DefaultUserID
	}
	return c
}
