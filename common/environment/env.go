// Package environment reads Kokoro's process configuration from environment
// variables. The daemon's surface is small: strings with defaults, required
// secrets, and durations for the scheduler knobs.
package environment

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StringOr returns the named variable's value, or defaultValue when the
// variable is unset or blank.
func StringOr(name, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the named variable's value, or an error when it is
// unset or blank. Used for secrets the daemon cannot start without.
func RequiredString(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// DurationOr parses the named variable as a Go duration ("300s", "5m"). A
// bare positive integer is read as seconds, the unit deployments of the
// original service used for these knobs. Unset, blank, or unparseable
// values yield defaultValue.
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
