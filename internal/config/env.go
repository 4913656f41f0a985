package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "KEYVALUE_SERVICE_"

// envSetting binds one environment variable to a Config field.
type envSetting struct {
	name  string
	apply func(c *Config, raw string) error
}

func envValue[T any](parse func(string) (T, error), field func(*Config) *T) func(*Config, string) error {
	return func(c *Config, raw string) error {
		v, err := parse(raw)
		if err != nil {
			return err
		}
		*field(c) = v
		return nil
	}
}

func parseString(raw string) (string, error) { return raw, nil }
func parseInt(raw string) (int, error)       { return strconv.Atoi(raw) }
func parseFloat(raw string) (float64, error) { return strconv.ParseFloat(raw, 64) }

// envSettings are the options without a serve flag.
var envSettings = []envSetting{
	{"DB_MIGRATE_AT_START", envValue(strconv.ParseBool, func(c *Config) *bool { return &c.DatastoreMigrateAtStart })},
	{"DB_NAME", envValue(parseString, func(c *Config) *string { return &c.DBName })},
	{"CACHE_THREAD_TTL", envValue(ParseDuration, func(c *Config) *time.Duration { return &c.CacheThreadTTL })},
	{"CACHE_LOCAL_MAX_SIZE", envValue(ParseMemorySize, func(c *Config) *int64 { return &c.CacheLocalMaxCost })},
	{"MAX_BODY_SIZE", envValue(ParseMemorySize, func(c *Config) *int64 { return &c.MaxBodySize })},
	{"COMPLETION_MAX_TOKENS", envValue(parseInt, func(c *Config) *int { return &c.CompletionMaxTokens })},
	{"COMPLETION_ALT_MAX_TOKENS", envValue(parseInt, func(c *Config) *int { return &c.CompletionAltMaxTokens })},
	{"COMPLETION_ALT_MODEL_MATCH", envValue(parseString, func(c *Config) *string { return &c.CompletionAltModelMatch })},
	{"COMPLETION_TEMPERATURE", envValue(parseFloat, func(c *Config) *float64 { return &c.CompletionTemperature })},
	{"KEY_INDEX_DEFAULT_LIMIT", envValue(parseInt, func(c *Config) *int { return &c.KeyIndexDefaultLimit })},
	{"BCRYPT_COST", envValue(parseInt, func(c *Config) *int { return &c.BcryptCost })},
	{"DRAIN_TIMEOUT_SECONDS", envValue(parseInt, func(c *Config) *int { return &c.DrainTimeout })},
}

// ApplyEnv overlays the KEYVALUE_SERVICE_* variables listed in envSettings.
// Unset or blank variables leave the field untouched.
func (c *Config) ApplyEnv() error {
	if c == nil {
		return nil
	}
	for _, s := range envSettings {
		raw := strings.TrimSpace(os.Getenv(envPrefix + s.name))
		if raw == "" {
			continue
		}
		if err := s.apply(c, raw); err != nil {
			return fmt.Errorf("invalid %s%s: %w", envPrefix, s.name, err)
		}
	}
	return nil
}

var isoDuration = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseDuration accepts Go durations such as 30s or 5m, and the ISO-8601
// time form PT#H#M#S.
func ParseDuration(raw string) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(strings.ToLower(v)); err == nil {
		return d, nil
	}

	m := isoDuration.FindStringSubmatch(strings.ToUpper(v))
	if m == nil || (m[1] == "" && m[2] == "" && m[3] == "") {
		return 0, fmt.Errorf("unsupported duration %q", raw)
	}
	var total time.Duration
	for i, unit := range []time.Duration{time.Hour, time.Minute, time.Second} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("unsupported duration %q", raw)
		}
		total += time.Duration(n) * unit
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return total, nil
}

var sizeUnits = []struct {
	suffix string
	factor int64
}{
	{"GB", 1 << 30}, {"G", 1 << 30},
	{"MB", 1 << 20}, {"M", 1 << 20},
	{"KB", 1 << 10}, {"K", 1 << 10},
	{"B", 1},
}

// ParseMemorySize parses a positive byte count with an optional binary
// K, M or G suffix (12M is 12 MiB).
func ParseMemorySize(raw string) (int64, error) {
	v := strings.ToUpper(strings.TrimSpace(raw))
	factor := int64(1)
	for _, u := range sizeUnits {
		if strings.HasSuffix(v, u.suffix) {
			v, factor = strings.TrimSuffix(v, u.suffix), u.factor
			break
		}
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n * factor, nil
}
