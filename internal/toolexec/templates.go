package toolexec

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// templatePattern matches {{results.N.path.to.field}} references inside a
// tool argument string.
var templatePattern = regexp.MustCompile(`\{\{\s*results\.(\d+)\.([a-zA-Z0-9_.]+)\s*\}\}`)

// resolveTemplates walks args (a JSON object) substituting every
// {{results.N.path}} placeholder found in string values with the
// corresponding field from priorResults[N].Content. Non-string values and
// values containing no placeholder are left untouched.
func resolveTemplates(args json.RawMessage, priorResults []ToolResult) (json.RawMessage, error) {
	if len(args) == 0 {
		return args, nil
	}

	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return nil, fmt.Errorf("decoding tool arguments for template resolution: %w", err)
	}

	resolved, err := resolveValue(decoded, priorResults)
	if err != nil {
		return nil, err
	}

	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("re-encoding resolved tool arguments: %w", err)
	}
	return out, nil
}

func resolveValue(v any, priorResults []ToolResult) (any, error) {
	switch val := v.(type) {
	case string:
		return resolveString(val, priorResults)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			resolvedChild, err := resolveValue(child, priorResults)
			if err != nil {
				return nil, err
			}
			out[k] = resolvedChild
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			resolvedChild, err := resolveValue(child, priorResults)
			if err != nil {
				return nil, err
			}
			out[i] = resolvedChild
		}
		return out, nil
	default:
		return val, nil
	}
}

// resolveString substitutes every {{results.N.path}} match in s. If the
// entire string is a single placeholder, the referenced value's native type
// is preserved instead of being stringified.
func resolveString(s string, priorResults []ToolResult) (any, error) {
	matches := templatePattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		m := matches[0]
		return lookupResult(s[m[2]:m[3]], s[m[4]:m[5]], priorResults)
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		idx := s[m[2]:m[3]]
		path := s[m[4]:m[5]]
		value, err := lookupResult(idx, path, priorResults)
		if err != nil {
			return nil, err
		}
		b.WriteString(fmt.Sprintf("%v", value))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func lookupResult(idxStr, path string, priorResults []ToolResult) (any, error) {
	idx, err := strconv.Atoi(idxStr)
	if err != nil || idx < 0 || idx >= len(priorResults) {
		return nil, fmt.Errorf("template references out-of-range result index %q", idxStr)
	}

	var content any
	if err := json.Unmarshal(priorResults[idx].Content, &content); err != nil {
		return nil, fmt.Errorf("decoding prior result %d for template resolution: %w", idx, err)
	}

	return navigate(content, strings.Split(path, "."))
}

func navigate(v any, segments []string) (any, error) {
	cur := v
	for _, seg := range segments {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, fmt.Errorf("template path segment %q not found", seg)
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("template path segment %q is not a valid array index", seg)
			}
			cur = node[i]
		default:
			return nil, fmt.Errorf("cannot navigate into non-object/array at segment %q", seg)
		}
	}
	return cur, nil
}
