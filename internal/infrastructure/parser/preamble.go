package parser

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// preamble holds the header fields proposal documents start with.
type preamble struct {
	Title   string
	Status  string
	Author  string
	Type    string
	Created string
	Body    string
}

var (
	preExpr     = regexp.MustCompile(`(?s)<pre>(.*?)</pre>`)
	dateExpr    = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	headingExpr = regexp.MustCompile(`^(#+|=+)`)
)

// parsePreamble understands YAML front matter ("---"), fenced preambles
// ("```") and mediawiki <pre> headers.
func parsePreamble(content string) preamble {
	content = strings.TrimPrefix(content, "\ufeff")
	trimmed := strings.TrimLeft(content, " \t\r\n")

	var header, body string
	switch {
	case strings.HasPrefix(trimmed, "---"):
		header, body = splitFenced(trimmed, "---")
	case strings.HasPrefix(trimmed, "```"):
		header, body = splitFenced(trimmed, "```")
	default:
		if loc := preExpr.FindStringSubmatchIndex(content); loc != nil {
			header = content[loc[2]:loc[3]]
			body = content[loc[1]:]
		} else {
			body = content
		}
	}

	fields := headerFields(header)
	p := preamble{
		Title:   fields["title"],
		Status:  fields["status"],
		Author:  firstNonEmpty(fields["author"], fields["authors"]),
		Type:    firstNonEmpty(fields["type"], fields["category"]),
		Created: fields["created"],
		Body:    bodySummary(body),
	}
	if p.Created == "" {
		p.Created = fields["date"]
	}
	if m := dateExpr.FindString(p.Created); m != "" {
		p.Created = m
	}
	return p
}

func splitFenced(content, fence string) (header, body string) {
	rest := strings.TrimPrefix(content, fence)
	// Skip the remainder of the opening fence line (e.g. "```yaml").
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	end := strings.Index(rest, "\n"+fence)
	if end < 0 {
		return "", content
	}
	header = rest[:end]
	body = rest[end+1+len(fence):]
	return header, body
}

// headerFields decodes header as YAML and falls back to "Key: value" lines
// when authors with <emails> or stray colons make it invalid YAML.
func headerFields(header string) map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(header) == "" {
		return out
	}

	var decoded map[string]interface{}
	if err := yaml.Unmarshal([]byte(header), &decoded); err == nil && len(decoded) > 0 {
		for k, v := range decoded {
			out[strings.ToLower(strings.TrimSpace(k))] = scalarString(v)
		}
		return out
	}

	for _, line := range strings.Split(header, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" || strings.Contains(key, " ") {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if _, seen := out[key]; !seen {
			out[key] = value
		}
	}
	return out
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case []interface{}:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, scalarString(item))
		}
		return strings.Join(parts, ", ")
	default:
		// yaml decodes dates into time.Time and numbers into ints.
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

func bodySummary(body string) string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || headingExpr.MatchString(line) || strings.HasPrefix(line, "<") {
			continue
		}
		lines = append(lines, line)
		if len(lines) == 3 {
			break
		}
	}
	return truncate(cleanText(strings.Join(lines, " ")), 300)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
