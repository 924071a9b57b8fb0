package config

import "time"

// TimeoutsConfig carries per-operation deadlines. Values are yaml duration
// strings ("30s", "20m") parsed once at load.
type TimeoutsConfig struct {
	Embed   Duration `yaml:"embed"`   // embedding call (default 30s)
	Search  Duration `yaml:"search"`  // vector search (default 5s)
	Chat    Duration `yaml:"chat"`    // blocking chat (default 120s)
	Stream  Duration `yaml:"stream"`  // streaming chat / review SSE (default 20m)
	Persist Duration `yaml:"persist"` // session/message/memory writes (default 5s)
}

// DefaultTimeouts returns the built-in timeout defaults.
func DefaultTimeouts() TimeoutsConfig {
	return TimeoutsConfig{
		Embed:   Duration(30 * time.Second),
		Search:  Duration(5 * time.Second),
		Chat:    Duration(120 * time.Second),
		Stream:  Duration(20 * time.Minute),
		Persist: Duration(5 * time.Second),
	}
}

// Duration wraps time.Duration with yaml string parsing.
type Duration time.Duration

// UnmarshalYAML parses "30s"-style strings.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard-library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
