package agent

import (
	"encoding/json"
	"strings"
)

// Output is the parsed text of a generation call: either Structured or
// Unstructured.
type Output interface {
	// Candidates returns the SQL candidates the output yields, in order.
	Candidates() []string
	Kind() string
}

// Structured is a well-formed {"candidates": [...]} response.
type Structured struct {
	SQL []string
}

func (s Structured) Candidates() []string {
	out := make([]string, 0, len(s.SQL))
	for _, sql := range s.SQL {
		if sql = cleanSQL(sql); sql != "" {
			out = append(out, sql)
		}
	}
	return out
}

func (Structured) Kind() string { return "structured" }

// Unstructured is any other response. It collapses to a single candidate: the
// contents of the first SQL code block if there is one, else the whole text.
type Unstructured struct {
	Text string
}

func (u Unstructured) Candidates() []string {
	sql := extractSQLFromCodeBlock(u.Text)
	if sql == "" {
		sql = cleanSQL(u.Text)
	}
	if sql == "" {
		return []string{}
	}
	return []string{sql}
}

func (Unstructured) Kind() string { return "unstructured" }

// ParseOutput classifies a raw generation response.
func ParseOutput(response string) Output {
	response = strings.TrimSpace(response)
	if jsonStr := extractJSON(response); jsonStr != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(jsonStr), &parsed); err == nil {
			if raw, ok := parsed["candidates"]; ok {
				return structuredFrom(raw)
			}
		}
	}
	return Unstructured{Text: response}
}

func structuredFrom(raw any) Structured {
	switch c := raw.(type) {
	case []any:
		sqls := make([]string, 0, len(c))
		for _, v := range c {
			if s, ok := v.(string); ok {
				sqls = append(sqls, s)
			}
		}
		return Structured{SQL: sqls}
	case string:
		return Structured{SQL: []string{c}}
	}
	return Structured{}
}

// extractJSON finds a JSON object in the response: a ```json block, a
// generic block holding an object, or the first balanced object in the text.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if start := strings.Index(response, "```json"); start != -1 {
		start += len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			content := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(content, "{") {
				return content
			}
		}
	}

	if start := strings.Index(response, "{"); start != -1 {
		return extractJSONObject(response, start)
	}
	return ""
}

// extractJSONObject returns the balanced object starting at start, skipping
// braces inside strings, or "" when it never closes.
func extractJSONObject(s string, start int) string {
	if start >= len(s) || s[start] != '{' {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func extractSQLFromCodeBlock(response string) string {
	if start := strings.Index(response, "```sql"); start != -1 {
		start += len("```sql")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return cleanSQL(response[start : start+end])
		}
	}
	if start := strings.Index(response, "```"); start != -1 {
		start += 3
		if end := strings.Index(response[start:], "```"); end != -1 {
			return cleanSQL(response[start : start+end])
		}
	}
	return ""
}

// cleanSQL trims whitespace and trailing semicolons.
func cleanSQL(sql string) string {
	sql = strings.TrimSpace(sql)
	for strings.HasSuffix(sql, ";") {
		sql = strings.TrimSpace(strings.TrimSuffix(sql, ";"))
	}
	return sql
}
