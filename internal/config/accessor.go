package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// GetByPath retrieves a config value by dot-notation path (e.g. "discord.prefix").
func GetByPath(cfg *Config, path string) (any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	parts := strings.Split(path, ".")
	var current any = m
	for _, key := range parts {
		switch v := current.(type) {
		case map[string]any:
			val, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("key not found: %s", path)
			}
			current = val
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("invalid array index: %s", key)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot traverse into %T at %s", current, key)
		}
	}
	return current, nil
}

// SetByPath sets a config value by dot-notation path and returns updated config.
func SetByPath(cfg *Config, path string, value any) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	// Navigate to parent and set value
	parts := strings.Split(path, ".")
	if len(parts) == 0 {
		return fmt.Errorf("empty path")
	}

	parent := m
	for i := 0; i < len(parts)-1; i++ {
		child, ok := parent[parts[i]]
		if !ok {
			newMap := make(map[string]any)
			parent[parts[i]] = newMap
			parent = newMap
			continue
		}
		childMap, ok := child.(map[string]any)
		if !ok {
			return fmt.Errorf("cannot traverse into %T at %s", child, parts[i])
		}
		parent = childMap
	}

	lastKey := parts[len(parts)-1]

	// Try to parse value as proper type; snowflake ids like guildId look
	// numeric but are strings, so fall back to the raw value on mismatch.
	parent[lastKey] = parseValue(value)
	updated, err := decodeInto(cfg, m)
	if err != nil {
		if _, isString := value.(string); !isString {
			return err
		}
		parent[lastKey] = value
		if updated, err = decodeInto(cfg, m); err != nil {
			return err
		}
	}
	*cfg = *updated
	return nil
}

// decodeInto unmarshals m over a copy of base.
func decodeInto(base *Config, m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	next := *base
	next.Webhook.Headers = nil
	if err := json.Unmarshal(data, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

// parseValue tries to convert string values to appropriate Go types.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}

	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}

	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}

	return s
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var masked Config
	if err := json.Unmarshal(data, &masked); err != nil {
		return cfg
	}

	if masked.Discord.Token != "" {
		masked.Discord.Token = maskString(masked.Discord.Token)
	}
	if masked.Webhook.Secret != "" {
		masked.Webhook.Secret = "***"
	}
	// n8n webhook URLs embed an unguessable path that acts as a credential.
	if masked.Webhook.URL != "" {
		if u, err := url.Parse(masked.Webhook.URL); err == nil && u.Host != "" {
			masked.Webhook.URL = u.Scheme + "://" + u.Host + "/***"
		} else {
			masked.Webhook.URL = maskString(masked.Webhook.URL)
		}
	}
	for k := range masked.Webhook.Headers {
		masked.Webhook.Headers[k] = "***"
	}
	if masked.Audit.URL != "" {
		if u, err := url.Parse(masked.Audit.URL); err == nil && u.User != nil {
			u.User = url.UserPassword(u.User.Username(), "***")
			masked.Audit.URL = u.String()
		}
	}

	return &masked
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}
