package cache

import (
	"encoding/json"
	"path"
	"strings"
)

// BuildPattern creates a pattern matching every key under prefix.
func BuildPattern(prefix string) string { return prefix + "*" }

// MatchPattern reports whether key matches a glob pattern. Backslash
// escapes the next character, as in Redis MATCH.
func MatchPattern(pattern, key string) bool {
	if strings.HasSuffix(pattern, "*") {
		if prefix, ok := literalPrefix(pattern[:len(pattern)-1]); ok {
			return strings.HasPrefix(key, prefix)
		}
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}

// literalPrefix unescapes p, failing when p holds an unescaped wildcard.
func literalPrefix(p string) (string, bool) {
	if !strings.ContainsAny(p, `*?[\`) {
		return p, true
	}
	var b strings.Builder
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '*', '?', '[':
			return "", false
		case '\\':
			i++
			if i == len(p) {
				return "", false
			}
		}
		b.WriteByte(p[i])
	}
	return b.String(), true
}

// encodeValue serializes a value the same way for every backend.
func encodeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

// decodeValue fills dest from stored bytes.
func decodeValue(data []byte, dest interface{}) error {
	switch d := dest.(type) {
	case *string:
		*d = string(data)
		return nil
	case *[]byte:
		*d = append((*d)[:0], data...)
		return nil
	case *json.RawMessage:
		*d = append((*d)[:0], data...)
		return nil
	default:
		return json.Unmarshal(data, dest)
	}
}
