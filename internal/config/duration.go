package config

import (
	"fmt"
	"strings"
	"time"
)

// Durations in the config file are Go duration strings ("10s", "2m"). An
// empty or zero value means "use the caller's default"; negatives are
// config errors.

func Duration(field, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: bad duration %q: %w", field, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: negative duration %q", field, raw)
	}
	return d, nil
}

func DurationDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(field, raw)
	if err != nil || d == 0 {
		return def, err
	}
	return d, nil
}
