// Package manifest extracts structured metadata from the leading header
// block of a user script. Scripts declare their name, match pattern, timing,
// and library requirements in an associative header literal:
//
//	{:epupp/script-name "Example"
//	 :epupp/auto-run-match "https://example.com/*"
//	 :epupp/run-at :document-end
//	 :epupp/require ["https://cdn.example.com/lib.js"]}
//
// Manifest presence is advisory. Absent, unrecognized, or malformed headers
// yield an empty manifest, never an error.
package manifest

import (
	"strings"

	"github.com/PEZ/epupp/schema"
)

// Parse locates the leading header literal in code and returns the parsed
// manifest plus the remainder as executable body. When no valid header is
// present, the manifest is empty and the body is the full input.
func Parse(code string) (schema.Manifest, string) {
	start := headerStart(code)
	if start < 0 {
		return schema.Manifest{}, code
	}
	end, ok := matchBrace(code, start)
	if !ok {
		return schema.Manifest{}, code
	}
	pairs, ok := readPairs(code[start+1 : end])
	if !ok {
		return schema.Manifest{}, code
	}
	m := schema.Manifest{}
	for _, pair := range pairs {
		switch pair.key {
		case ":epupp/script-name", ":epupp/name":
			m.Name = pair.str
		case ":epupp/auto-run-match", ":epupp/match", ":epupp/site":
			m.Match = pair.str
		case ":epupp/description":
			m.Description = pair.str
		case ":epupp/run-at":
			m.RunAt = runAt(pair.str)
		case ":epupp/require", ":epupp/inject":
			m.Require = append(m.Require, pair.list...)
		}
	}
	body := strings.TrimLeft(code[end+1:], " \t\r\n")
	return m, body
}

// headerStart returns the offset of the header's opening brace, skipping
// leading whitespace and line comments, or -1 when the script has no header.
func headerStart(code string) int {
	i := 0
	for i < len(code) {
		switch code[i] {
		case ' ', '\t', '\r', '\n':
			i++
		case ';':
			for i < len(code) && code[i] != '\n' {
				i++
			}
		case '{':
			return i
		default:
			return -1
		}
	}
	return -1
}

// matchBrace returns the offset of the brace closing the block opened at
// start, honoring string literals and escapes.
func matchBrace(code string, start int) (int, bool) {
	depth := 0
	i := start
	for i < len(code) {
		switch code[i] {
		case '"':
			end, ok := skipString(code, i)
			if !ok {
				return 0, false
			}
			i = end
			continue
		case ';':
			for i < len(code) && code[i] != '\n' {
				i++
			}
			continue
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
		i++
	}
	return 0, false
}

func skipString(code string, start int) (int, bool) {
	i := start + 1
	for i < len(code) {
		switch code[i] {
		case '\\':
			i += 2
		case '"':
			return i + 1, true
		default:
			i++
		}
	}
	return 0, false
}

type pair struct {
	key  string
	str  string
	list []string
}

// readPairs tokenizes the header interior into keyword/value pairs. Values
// that are neither strings, keywords, nor vectors of such are skipped with
// their key.
func readPairs(src string) ([]pair, bool) {
	var pairs []pair
	i := 0
	for {
		key, next, ok := readForm(src, i)
		if !ok {
			break
		}
		i = next
		value, next, ok := readForm(src, i)
		if !ok {
			return nil, false
		}
		i = next
		if !strings.HasPrefix(key.str, ":") || key.list != nil {
			continue
		}
		pairs = append(pairs, pair{key: key.str, str: value.str, list: value.list})
	}
	return pairs, true
}

type form struct {
	str  string
	list []string
}

func readForm(src string, i int) (form, int, bool) {
	for i < len(src) {
		c := src[i]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == ',' {
			i++
			continue
		}
		if c == ';' {
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		}
		break
	}
	if i >= len(src) {
		return form{}, i, false
	}
	switch src[i] {
	case '"':
		end, ok := skipString(src, i)
		if !ok {
			return form{}, i, false
		}
		return form{str: unquote(src[i:end])}, end, true
	case '[':
		return readVector(src, i)
	case '{', '(':
		end, ok := matchDelim(src, i)
		if !ok {
			return form{}, i, false
		}
		return form{}, end + 1, true
	default:
		end := i
		for end < len(src) && !isDelim(src[end]) {
			end++
		}
		return form{str: src[i:end]}, end, true
	}
}

func readVector(src string, i int) (form, int, bool) {
	items := []string{}
	i++
	for i < len(src) {
		c := src[i]
		if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == ',' {
			i++
			continue
		}
		if c == ']' {
			return form{list: items}, i + 1, true
		}
		item, next, ok := readForm(src, i)
		if !ok {
			return form{}, i, false
		}
		if item.str != "" {
			items = append(items, item.str)
		}
		i = next
	}
	return form{}, i, false
}

// matchDelim skips a balanced nested map or list form.
func matchDelim(src string, start int) (int, bool) {
	open := src[start]
	var close byte = '}'
	if open == '(' {
		close = ')'
	}
	depth := 0
	i := start
	for i < len(src) {
		switch src[i] {
		case '"':
			end, ok := skipString(src, i)
			if !ok {
				return 0, false
			}
			i = end
			continue
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return i, true
			}
		}
		i++
	}
	return 0, false
}

func isDelim(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', ',', '[', ']', '{', '}', '(', ')', '"', ';':
		return true
	}
	return false
}

func unquote(s string) string {
	s = strings.TrimPrefix(s, `"`)
	s = strings.TrimSuffix(s, `"`)
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			switch s[i] {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(s[i])
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func runAt(value string) schema.RunAt {
	switch strings.TrimPrefix(value, ":") {
	case "document-start":
		return schema.RunAtDocumentStart
	case "document-end":
		return schema.RunAtDocumentEnd
	case "document-idle":
		return schema.RunAtDocumentIdle
	default:
		return ""
	}
}
