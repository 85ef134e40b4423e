package evaluator

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"codebundle-score/rules"
)

var (
	reJSONBlock = regexp.MustCompile("(?s)```json\\s*\\n?(.*?)```")
	reCodeBlock = regexp.MustCompile("(?s)```\\s*\\n?(.*?)```")
)

// rawVerdict is the lenient wire shape LLMs answer with.
type rawVerdict struct {
	Score              json.Number `json:"score"`
	Reasoning          string      `json:"reasoning"`
	SuggestedTitle     string      `json:"suggested_title"`
	AccessTag          string      `json:"access_tag"`
	SuggestedAccessTag string      `json:"suggested_access_tag"`
}

// ParseVerdict extracts a title verdict from free-form model output. It
// tries a fenced json block, then the same text with trailing commas
// removed, then the first balanced JSON object in the text.
func ParseVerdict(raw, source string) (*rules.TitleVerdict, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty evaluator response")
	}

	candidates := []string{extractJSONBlock(raw)}
	candidates = append(candidates, fixTrailingComma(candidates[0]))
	if obj := extractJSONObject(raw); obj != "" {
		candidates = append(candidates, fixTrailingComma(obj))
	}

	var lastErr error
	for _, c := range candidates {
		v, err := decodeVerdict(c, source)
		if err == nil {
			return v, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("parse verdict: %w", lastErr)
}

func decodeVerdict(s, source string) (*rules.TitleVerdict, error) {
	var rv rawVerdict
	if err := json.Unmarshal([]byte(s), &rv); err != nil {
		return nil, fmt.Errorf("json unmarshal: %w", err)
	}
	f, err := rv.Score.Float64()
	if err != nil {
		return nil, fmt.Errorf("score %q: %w", rv.Score, err)
	}
	v := &rules.TitleVerdict{
		Score:          int(math.Round(f)),
		Reasoning:      strings.TrimSpace(rv.Reasoning),
		SuggestedTitle: strings.TrimSpace(rv.SuggestedTitle),
		AccessTag:      strings.ToLower(strings.TrimSpace(rv.AccessTag)),
		Source:         source,
	}
	if v.AccessTag == "" {
		v.AccessTag = strings.ToLower(strings.TrimSpace(rv.SuggestedAccessTag))
	}
	if strings.ContainsAny(v.SuggestedTitle, "\r\n") {
		v.SuggestedTitle = ""
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

func extractJSONBlock(raw string) string {
	if m := reJSONBlock.FindStringSubmatch(raw); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	if m := reCodeBlock.FindStringSubmatch(raw); len(m) > 1 {
		if c := strings.TrimSpace(m[1]); strings.HasPrefix(c, "{") {
			return c
		}
	}
	return raw
}

// extractJSONObject returns the first balanced {...} in raw, honoring
// string literals.
func extractJSONObject(raw string) string {
	start := strings.IndexByte(raw, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}
	return ""
}

func fixTrailingComma(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == ',':
			j := i + 1
			for j < len(s) && strings.IndexByte(" \t\r\n", s[j]) >= 0 {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
