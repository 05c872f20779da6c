package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// sources layers configuration inputs. Explicit values beat the process environment, which
// beats the .env file.
type sources struct {
	explicit map[string]string
	system   bool
	dotenv   map[string]string
}

func openSources(o loaderOptions) (sources, error) {
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return sources{}, err
	}
	return sources{explicit: o.envMap, system: o.useSystemEnv, dotenv: dotenv}, nil
}

func (s sources) lookup(key string) (string, bool) {
	if v, ok := s.explicit[key]; ok {
		return v, true
	}
	if s.system {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
	}
	v, ok := s.dotenv[key]
	return v, ok
}

// merged flattens every layer into one map with the same precedence as lookup.
func (s sources) merged() map[string]string {
	out := make(map[string]string, len(s.dotenv)+len(s.explicit))
	for k, v := range s.dotenv {
		out[k] = v
	}
	if s.system {
		for _, entry := range os.Environ() {
			if k, v, ok := strings.Cut(entry, "="); ok && strings.TrimSpace(k) != "" {
				out[k] = v
			}
		}
	}
	for k, v := range s.explicit {
		out[k] = v
	}
	return out
}

// readDotEnv returns nil when path is empty or the file does not exist.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return values, nil
}

// reader parses typed values. A malformed value keeps the default and is reported by Load
// as invalid instead of being silently ignored.
type reader struct {
	lookup  func(string) (string, bool)
	invalid []string
}

func (r *reader) value(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) reject(key string) {
	r.invalid = append(r.invalid, key)
}

func (r *reader) String(key, fallback string) string {
	if v, ok := r.value(key); ok {
		return v
	}
	return fallback
}

func (r *reader) Lower(key, fallback string) string {
	return strings.ToLower(r.String(key, fallback))
}

func (r *reader) Duration(key string, fallback time.Duration) time.Duration {
	v, ok := r.value(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		r.reject(key)
		return fallback
	}
	return d
}

func (r *reader) Int(key string, fallback int) int {
	v, ok := r.value(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		r.reject(key)
		return fallback
	}
	return n
}

func (r *reader) Bool(key string, fallback bool) bool {
	v, ok := r.value(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(v) {
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.reject(key)
		return fallback
	}
	return b
}

// List splits a comma separated value, dropping blanks.
func (r *reader) List(key string) []string {
	v, _ := r.value(key)
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Prefixes parses a list of CIDR ranges. A bare address is a single-host range.
func (r *reader) Prefixes(key string) []netip.Prefix {
	var out []netip.Prefix
	for _, entry := range r.List(key) {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			r.reject(key)
			return nil
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

// Pairs parses "name=value,name=value". Names are lower-cased.
func (r *reader) Pairs(key string) map[string]string {
	out := map[string]string{}
	for _, entry := range r.List(key) {
		name, value, ok := strings.Cut(entry, "=")
		name, value = strings.ToLower(strings.TrimSpace(name)), strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			r.reject(key)
			continue
		}
		out[name] = value
	}
	return out
}
