// Package envx provides a uniform accessor over process environment
// variables and $NAME expansion in path strings.
package envx

import (
	"os"
	"regexp"
	"strings"
)

var namePattern = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)

// Map converts os.Environ-style "KEY=VALUE" pairs into a lookup map.
// Later duplicates win, matching shell semantics.
func Map(environ []string) map[string]string {
	env := make(map[string]string, len(environ))

	for _, entry := range environ {
		if key, value, ok := strings.Cut(entry, "="); ok {
			env[key] = value
		}
	}

	return env
}

// Get returns the value for name from env, falling back to the process
// environment when env is nil.
func Get(env map[string]string, name string) string {
	if env != nil {
		return env[name]
	}

	return os.Getenv(name)
}

// Expand substitutes every $NAME occurrence in path with its value from env.
// Unknown names expand to the empty string.
func Expand(env map[string]string, path string) string {
	if !strings.Contains(path, "$") {
		return path
	}

	return namePattern.ReplaceAllStringFunc(path, func(match string) string {
		return Get(env, match[1:])
	})
}
