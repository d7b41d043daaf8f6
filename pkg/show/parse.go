package show

import (
	"fmt"
	"strconv"
	"strings"
)

// FromRaw turns one decoded config entry into a Policy. Entries come in three
// shapes:
//
//	- "Show Name"                          literal name
//	- {name: ..., pattern: "regex", ...}   regex pattern
//	- {name: ..., pattern: {literal|regex: ...}, ...}
//
// A map without a pattern falls back to its name as a literal.
func FromRaw(raw any) (Policy, error) {
	switch v := raw.(type) {
	case string:
		p, err := NewLiteral(v)
		if err != nil {
			return Policy{}, err
		}
		return Policy{DisplayName: strings.TrimSpace(v), Pattern: p}, nil
	case map[string]any:
		return fromMap(v)
	case map[any]any:
		converted := make(map[string]any, len(v))
		for k, val := range v {
			converted[fmt.Sprint(k)] = val
		}
		return fromMap(converted)
	default:
		return Policy{}, fmt.Errorf("unsupported show entry type %T", raw)
	}
}

// FromRawList converts every entry, failing on the first invalid one.
func FromRawList(raws []any) ([]Policy, error) {
	policies := make([]Policy, 0, len(raws))
	for i, raw := range raws {
		p, err := FromRaw(raw)
		if err != nil {
			return nil, fmt.Errorf("show %d: %w", i, err)
		}
		policies = append(policies, p)
	}

	return policies, nil
}

func fromMap(m map[string]any) (Policy, error) {
	var policy Policy

	if name, ok := lookup(m, "name"); ok {
		policy.DisplayName = strings.TrimSpace(fmt.Sprint(name))
	}

	pattern, err := patternFromMap(m, policy.DisplayName)
	if err != nil {
		return Policy{}, err
	}
	policy.Pattern = pattern

	if policy.DisplayName == "" {
		policy.DisplayName = pattern.Expr
	}

	if start, ok := lookup(m, "start", "startepisode"); ok {
		n, err := toInt(start)
		if err != nil {
			return Policy{}, fmt.Errorf("invalid start episode for %q: %w", policy.DisplayName, err)
		}
		policy.StartEpisode = n
	}

	if archive, ok := lookup(m, "autoarchive", "automove"); ok {
		b, err := toBool(archive)
		if err != nil {
			return Policy{}, fmt.Errorf("invalid autoArchive for %q: %w", policy.DisplayName, err)
		}
		policy.AutoArchive = &b
	}

	return policy, nil
}

func patternFromMap(m map[string]any, name string) (Pattern, error) {
	raw, ok := lookup(m, "pattern")
	if !ok {
		return NewLiteral(name)
	}

	switch v := raw.(type) {
	case string:
		return NewRegex(v)
	case map[string]any:
		return nestedPattern(v)
	case map[any]any:
		converted := make(map[string]any, len(v))
		for k, val := range v {
			converted[fmt.Sprint(k)] = val
		}
		return nestedPattern(converted)
	default:
		return Pattern{}, fmt.Errorf("unsupported pattern type %T", raw)
	}
}

func nestedPattern(m map[string]any) (Pattern, error) {
	if expr, ok := lookup(m, "regex"); ok {
		return NewRegex(fmt.Sprint(expr))
	}
	if name, ok := lookup(m, "literal"); ok {
		return NewLiteral(fmt.Sprint(name))
	}
	return Pattern{}, fmt.Errorf("pattern needs a literal or regex key")
}

// lookup finds the first key present, ignoring case since viper lowercases
// map keys.
func lookup(m map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		for k, v := range m {
			if strings.EqualFold(k, key) {
				return v, true
			}
		}
	}
	return nil, false
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(n))
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(b))
	default:
		return false, fmt.Errorf("unexpected type %T", v)
	}
}
