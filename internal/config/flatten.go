package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Settings are addressed by dot-separated paths into the JSON form of
// Config, such as "agent.max_steps" or "safety.blocked_hotkeys". A list is
// one setting.

var (
	ErrUnknownKey     = errors.New("unknown config key")
	ErrInvalidSetting = errors.New("setting rejected")
)

// IsSecretKey reports whether key holds a credential.
func IsSecretKey(key string) bool {
	switch key[strings.LastIndexByte(key, '.')+1:] {
	case "api_key", "token", "password":
		return true
	}
	return false
}

// Keys returns every settable key, sorted.
func Keys() []string {
	defaults, _ := ListValues(Default(), false)
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Flatten turns the nested JSON form of a config into dot-separated keys.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			if prefix != "" {
				k = prefix + "." + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(k, child)
				continue
			}
			out[k] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten rebuilds the nested form. A key that is both a value and a
// section ("llm" and "llm.model") is an error.
func Unflatten(flat map[string]any) (map[string]any, error) {
	keys := make([]string, 0, len(flat))
	for k := range flat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]any)
	for _, key := range keys {
		parts := strings.Split(key, ".")
		node := out
		for i, part := range parts[:len(parts)-1] {
			switch next := node[part].(type) {
			case nil:
				child := make(map[string]any)
				node[part] = child
				node = child
			case map[string]any:
				node = next
			default:
				return nil, fmt.Errorf("key %s: %s is a value, not a section", key, strings.Join(parts[:i+1], "."))
			}
		}
		leaf := parts[len(parts)-1]
		if _, isSection := node[leaf].(map[string]any); isSection {
			return nil, fmt.Errorf("key %s is a section, not a value", key)
		}
		node[leaf] = flat[key]
	}
	return out, nil
}

// Mask hides all but the last four characters of a non-empty string.
func Mask(v any) any {
	s, ok := v.(string)
	switch {
	case !ok || s == "":
		return v
	case len(s) <= 4:
		return "***"
	}
	return "***" + s[len(s)-4:]
}

// MaskSecrets returns a copy of flat with every secret masked.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if IsSecretKey(k) {
			v = Mask(v)
		}
		out[k] = v
	}
	return out
}

// coerce converts a string from the command line or a form to the JSON
// type def has. Non-string values pass through for decoding to check.
func coerce(key string, def, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	switch def.(type) {
	case bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a boolean", key, s)
		}
		return b, nil
	case float64:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a number", key, s)
		}
		return n, nil
	case []any, nil:
		var list []any
		if err := json.Unmarshal([]byte(s), &list); err == nil {
			return list, nil
		}
		list = []any{}
		for _, item := range strings.Split(s, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
		return list, nil
	}
	return s, nil
}
