package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// secretKeys lists the dot-separated keys whose values should be masked.
var secretKeys = map[string]bool{
	"telegram.token": true,
}

// IsSecretKey returns true if the given dot-separated key is a secret.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Mask hides all but the last 4 characters of a secret value. Empty
// values are left empty.
func Mask(key string, v any) any {
	if !secretKeys[key] {
		return v
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	if len(s) <= 4 {
		return "***" + s
	}
	return "***" + s[len(s)-4:]
}

// Values flattens cfg into dot-separated keys with secrets masked.
func Values(cfg *Config) (map[string]any, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(cfg, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	out := k.All()
	for key, v := range out {
		out[key] = Mask(key, v)
	}
	return out, nil
}

// Keys returns the flattened keys of m in sorted order.
func Keys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetValue returns the value of one key, masked if secret.
func GetValue(cfg *Config, key string) (any, error) {
	vals, err := Values(cfg)
	if err != nil {
		return nil, err
	}
	v, ok := vals[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue parses raw according to the type of key, writes it into the
// config file at path and returns the updated configuration. Environment
// overrides are not written to the file.
func SetValue(path, key, raw string) (*Config, error) {
	k, err := loadFile(path, true)
	if err != nil {
		return nil, err
	}
	if !k.Exists(key) {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}

	var v any
	switch k.Get(key).(type) {
	case bool:
		v, err = strconv.ParseBool(raw)
	case int, int64, uint64, float64:
		v, err = strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	default:
		v = raw
	}
	if err != nil {
		return nil, fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if err := k.Set(key, v); err != nil {
		return nil, fmt.Errorf("set %s: %w", key, err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
