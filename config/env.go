package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// env reads typed variables and remembers every malformed one, so a typo in
// HTTP_PORT fails the start instead of silently falling back to 8080.
type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) fail(key, format string, args ...any) {
	e.errs = append(e.errs, fmt.Errorf("%s: "+format, append([]any{key}, args...)...))
}

// raw returns the trimmed value; empty counts as unset.
func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) boolean(key string, def bool) bool {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, "invalid boolean %q", v)
		return def
	}
	return b
}

func (e *env) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, "invalid integer %q", v)
		return def
	}
	return n
}

func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, "invalid duration %q", v)
		return def
	}
	return d
}

// list splits a comma-separated value and drops empty items.
func (e *env) list(key string, def []string) []string {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
