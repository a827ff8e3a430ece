// Package environment reads process configuration from environment variables
// and optional dotenv files.
//
// Every accessor returns a fallback instead of failing, except Required which
// reports the missing name so the caller can decide how to exit.
package environment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadFiles merges the given dotenv files into the process environment.
// Variables already present in the environment win over file values, and
// files that do not exist are skipped.
func LoadFiles(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Lookup returns the raw value of name and whether it was set at all.
func Lookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// StringOr returns the trimmed value of name, or fallback when it is unset
// or blank.
func StringOr(name, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return fallback
}

// Required returns the value of name or an error naming the variable.
func Required(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("environment variable %s is required", name)
	}
	return v, nil
}

// BoolOr parses name with strconv.ParseBool and also accepts "yes", "no",
// "on" and "off". Unparseable values yield fallback.
func BoolOr(name string, fallback bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	switch v {
	case "":
		return fallback
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// IntOr parses name as a base-10 integer.
func IntOr(name string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// DurationOr parses name with time.ParseDuration. A bare integer is read as
// milliseconds, so AMI_THINK_DELAY=1500 and AMI_THINK_DELAY=1.5s are equal.
// Negative values yield fallback.
func DurationOr(name string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return fallback
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms < 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// ListOr splits name on commas, dropping blank elements.
func ListOr(name string, fallback []string) []string {
	v := os.Getenv(name)
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
