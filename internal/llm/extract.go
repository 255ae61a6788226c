package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Extract decodes the value at path (gjson syntax) into out. data may be a
// JSON object, or a JSON string holding an object, optionally fenced.
func Extract(data json.RawMessage, path string, out any) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return errors.New("empty payload")
	}
	parsed := gjson.Parse(raw)
	if parsed.Type == gjson.String {
		raw = unfence(parsed.String())
		if !gjson.Valid(raw) {
			return errors.New("payload text is not JSON")
		}
		parsed = gjson.Parse(raw)
	}
	if path != "" {
		parsed = parsed.Get(path)
		if !parsed.Exists() {
			return fmt.Errorf("payload has no %q", path)
		}
	}
	return json.Unmarshal([]byte(parsed.Raw), out)
}

func unfence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
