package expiry

import "time"

// Config controls the session expiry worker loop. The TTL and sweep interval
// come from the tracking policy so they can change without a restart.
type Config struct {
	RunTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunTimeout: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultConfig().RunTimeout
	}
	return c
}
