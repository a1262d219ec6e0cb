// Package bootstrap reads and validates the process environment once at
// startup. It never re-reads the environment after Load returns.
package bootstrap

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// apiKeyPattern is the normative form adopted by this implementation: the
// source material validates the bearer credential against two differing
// regexes in different places (32 vs 40 hex chars after "agnt_"); this
// implementation adopts 32 hex characters as the normative form and
// documents the choice here.
var apiKeyPattern = regexp.MustCompile(`^agnt_[a-f0-9]{32}$`)

// Env is the validated process configuration surface.
type Env struct {
	APIKey  string
	APIURL  string

	PollIntervalMS      int
	HeartbeatIntervalMS int
	MaxConcurrentTasks  int

	LogLevel  string
	LogFormat string

	// Passthrough holds optional external-system credentials forwarded to
	// handlers verbatim (source-system org/project/token, AI endpoint/key/
	// deployment); the runtime never inspects these values.
	Passthrough map[string]string
}

const (
	defaultPollIntervalMS      = 30_000
	defaultHeartbeatIntervalMS = 60_000
	defaultMaxConcurrentTasks  = 3
)

var passthroughVars = []string{
	"SOURCE_SYSTEM_ORG",
	"SOURCE_SYSTEM_PROJECT",
	"SOURCE_SYSTEM_TOKEN",
	"AI_ENDPOINT",
	"AI_API_KEY",
	"AI_DEPLOYMENT",
}

// Load reads and validates every environment variable the runtime needs. On
// success it returns a fully populated Env. On failure it returns the
// accumulated ValidationErrors — every violation found, not just the first —
// and the caller must treat this as fatal (process exit code 1).
func Load(lookup func(string) (string, bool)) (Env, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var errs ValidationErrors
	var env Env

	if v, ok := lookup("ADNO_API_KEY"); !ok || v == "" {
		errs = append(errs, ValidationError{"ADNO_API_KEY", "is required"})
	} else if !apiKeyPattern.MatchString(v) {
		errs = append(errs, ValidationError{"ADNO_API_KEY", "must match agnt_ followed by 32 lowercase hex characters"})
	} else {
		env.APIKey = v
	}

	if v, ok := lookup("ADNO_API_URL"); !ok || v == "" {
		errs = append(errs, ValidationError{"ADNO_API_URL", "is required"})
	} else if !isHTTPSURL(v) {
		errs = append(errs, ValidationError{"ADNO_API_URL", "must be an https URL"})
	} else {
		env.APIURL = v
	}

	env.PollIntervalMS = parseIntRange(lookup, "POLL_INTERVAL_MS", defaultPollIntervalMS, 5_000, 300_000, &errs)
	env.HeartbeatIntervalMS = parseIntRange(lookup, "HEARTBEAT_INTERVAL_MS", defaultHeartbeatIntervalMS, 10_000, 600_000, &errs)
	env.MaxConcurrentTasks = parseIntRange(lookup, "MAX_CONCURRENT_TASKS", defaultMaxConcurrentTasks, 1, 10, &errs)

	env.LogLevel = parseEnum(lookup, "LOG_LEVEL", "info", []string{"debug", "info", "warn", "error"}, &errs)
	env.LogFormat = parseEnum(lookup, "LOG_FORMAT", "json", []string{"json", "text"}, &errs)

	env.Passthrough = make(map[string]string, len(passthroughVars))
	for _, name := range passthroughVars {
		if v, ok := lookup(name); ok {
			env.Passthrough[name] = v
		}
	}

	if errs.HasErrors() {
		return Env{}, errs
	}
	return env, nil
}

func isHTTPSURL(v string) bool {
	return len(v) > len("https://") && v[:len("https://")] == "https://"
}

func parseIntRange(lookup func(string) (string, bool), name string, def, min, max int, errs *ValidationErrors) int {
	v, ok := lookup(name)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, ValidationError{name, fmt.Sprintf("must be an integer, got %q", v)})
		return def
	}
	if n < min || n > max {
		*errs = append(*errs, ValidationError{name, fmt.Sprintf("must be between %d and %d, got %d", min, max, n)})
		return def
	}
	return n
}

func parseEnum(lookup func(string) (string, bool), name, def string, allowed []string, errs *ValidationErrors) string {
	v, ok := lookup(name)
	if !ok || v == "" {
		return def
	}
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	*errs = append(*errs, ValidationError{name, fmt.Sprintf("must be one of %v, got %q", allowed, v)})
	return def
}
