// Package jsonrepair coerces raw model output into parsed JSON.
//
// Models asked for "JSON only" still return fenced blocks, prose-wrapped
// objects, trailing commas, bare keys, and single-quoted strings. Repair
// applies an ordered chain of best-effort fixes, re-attempting a parse after
// each one, and falls back to balanced-brace extraction when the payload is
// embedded in surrounding text. The chain is deterministic: the same input
// always yields the same value or the same failure.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ExcerptLimit bounds the fragment of raw output carried in a Failure.
const ExcerptLimit = 500

// Failure is returned when no step of the repair chain produced valid JSON.
// Excerpt holds a bounded slice of the original raw output and Cause the
// last parse error encountered.
type Failure struct {
	Excerpt string
	Cause   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("could not repair model output into JSON: %v", f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Excerpt truncates s to ExcerptLimit bytes for error records.
func Excerpt(s string) string {
	if len(s) <= ExcerptLimit {
		return s
	}
	return s[:ExcerptLimit] + "..."
}

var errNotObject = errors.New("repaired value is not a JSON object")

// Repair runs the full chain and requires a top-level object, the shape
// every stage schema expects.
func Repair(raw string) (map[string]any, error) {
	v, err := RepairAny(raw)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &Failure{Excerpt: Excerpt(raw), Cause: errNotObject}
	}
	return obj, nil
}

// RepairAny runs the full chain and accepts any top-level JSON value.
func RepairAny(raw string) (any, error) {
	s := StripFence(strings.TrimSpace(raw))

	if v, err := tryParse(s); err == nil {
		return v, nil
	}

	repaired, v, lastErr := applyRepairs(s)
	if lastErr == nil {
		return v, nil
	}

	// The payload may be buried in prose. Extract from the pristine text
	// first: repairs applied across prose (an apostrophe in "here's", say)
	// can corrupt the object region.
	for _, src := range []string{s, repaired} {
		for _, extract := range []func(string) (string, bool){ExtractObject, ExtractArray} {
			frag, ok := extract(src)
			if !ok {
				continue
			}
			if v, err := tryParse(frag); err == nil {
				return v, nil
			}
			if _, v, err := applyRepairs(frag); err == nil {
				return v, nil
			}
		}
	}

	return nil, &Failure{Excerpt: Excerpt(raw), Cause: lastErr}
}

type repairStep struct {
	name string
	fn   func(string) string
}

// Single-quote conversion must precede comment stripping: until it runs,
// a "//" inside a single-quoted value looks like a line comment to the
// double-quote-aware scanner and the value's tail would be deleted.
var repairSteps = []repairStep{
	{"normalize_quotes", NormalizeQuotes},
	{"trim_backticks", trimBackticks},
	{"single_quotes", SingleToDoubleQuotes},
	{"strip_comments", StripComments},
	{"trailing_commas", RemoveTrailingCommas},
	{"bare_keys", QuoteBareKeys},
	{"close_string", CloseUnterminatedString},
	{"close_delimiters", CloseDelimiters},
}

// applyRepairs applies the textual repair steps cumulatively, attempting a
// parse after each. Returns the fully repaired text, the parsed value on
// success, and the last parse error otherwise.
func applyRepairs(s string) (string, any, error) {
	cur := s
	var lastErr error = errors.New("empty input")
	if cur != "" {
		_, lastErr = tryParse(cur)
	}
	for _, step := range repairSteps {
		next := step.fn(cur)
		if next == cur {
			continue
		}
		cur = next
		v, err := tryParse(cur)
		if err == nil {
			return cur, v, nil
		}
		lastErr = err
	}
	return cur, nil, lastErr
}

func tryParse(s string) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	}
	return nil, fmt.Errorf("top-level value is %T, not an object or array", v)
}

// StripFence removes a single outer markdown code fence (``` or ```json).
// Text that is not fence-wrapped is returned unchanged.
func StripFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return s
	}
	rest := t[3:]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		return s
	}
	lang := strings.TrimSpace(rest[:nl])
	if lang != "" && !strings.EqualFold(lang, "json") {
		return s
	}
	rest = rest[nl+1:]
	if idx := strings.LastIndex(rest, "```"); idx >= 0 {
		rest = rest[:idx]
	}
	return strings.TrimSpace(rest)
}

var quoteReplacer = strings.NewReplacer(
	"“", `"`, // left double
	"”", `"`, // right double
	"„", `"`, // low double
	"‘", "'", // left single
	"’", "'", // right single
)

// NormalizeQuotes replaces typographic quote characters with ASCII ones.
func NormalizeQuotes(s string) string {
	return quoteReplacer.Replace(s)
}

func trimBackticks(s string) string {
	return strings.Trim(s, "` \t\n")
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// RemoveTrailingCommas drops commas that directly precede a closing brace
// or bracket, applied until a fixed point so stacked commas resolve too.
// String literals are left untouched.
func RemoveTrailingCommas(s string) string {
	return applyOutsideStrings(s, func(seg string) string {
		for {
			next := trailingComma.ReplaceAllString(seg, "$1")
			if next == seg {
				return seg
			}
			seg = next
		}
	})
}

var bareKey = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z0-9_]*)\s*:`)

// QuoteBareKeys wraps unquoted identifier-style object keys in double
// quotes. Quoted keys and key-shaped text inside string literals never
// match.
func QuoteBareKeys(s string) string {
	return applyOutsideStrings(s, func(seg string) string {
		return bareKey.ReplaceAllString(seg, `$1"$2":`)
	})
}

// applyOutsideStrings rewrites the regions of s that lie outside
// double-quoted string literals with fn, copying the literals through
// verbatim. The trailing-comma and bare-key patterns never span a
// literal, so per-segment application is lossless.
func applyOutsideStrings(s string, fn func(string) string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		j := i
		for j < len(s) && s[j] != '"' {
			j++
		}
		b.WriteString(fn(s[i:j]))
		if j >= len(s) {
			break
		}
		k := j + 1
		escaped := false
		for k < len(s) {
			c := s[k]
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				k++
				break
			}
			k++
		}
		b.WriteString(s[j:k])
		i = k
	}
	return b.String()
}

// SingleToDoubleQuotes rewrites single-quoted strings as double-quoted,
// escaping any embedded double quotes. Content inside double-quoted
// strings is left alone.
func SingleToDoubleQuotes(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inDouble, inSingle, escaped := false, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inDouble:
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inDouble = false
			}
		case inSingle:
			switch c {
			case '\'':
				b.WriteByte('"')
				inSingle = false
			case '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(c)
			}
		default:
			switch c {
			case '"':
				inDouble = true
				b.WriteByte(c)
			case '\'':
				inSingle = true
				b.WriteByte('"')
			default:
				b.WriteByte(c)
			}
		}
	}
	return b.String()
}

// StripComments removes // line comments and /* */ block comments found
// outside string literals.
func StripComments(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inStr, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inStr = false
			}
			continue
		}
		if c == '"' {
			inStr = true
			b.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) {
			if s[i+1] == '/' {
				for i < len(s) && s[i] != '\n' {
					i++
				}
				if i < len(s) {
					b.WriteByte('\n')
				}
				continue
			}
			if s[i+1] == '*' {
				i += 2
				for i+1 < len(s) && !(s[i] == '*' && s[i+1] == '/') {
					i++
				}
				i++ // skip the trailing '/'
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// CloseUnterminatedString appends a closing quote when the text ends inside
// a string literal.
func CloseUnterminatedString(s string) string {
	inStr, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inStr = false
			}
		} else if c == '"' {
			inStr = true
		}
	}
	if inStr {
		return s + `"`
	}
	return s
}

// CloseDelimiters appends the closing braces and brackets still open at
// end of input. Output truncated at a token limit usually cuts mid-object.
func CloseDelimiters(s string) string {
	var stack []byte
	inStr, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if len(stack) == 0 {
		return s
	}
	var b strings.Builder
	b.WriteString(s)
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// ExtractObject returns the first balanced top-level {...} region of s.
func ExtractObject(s string) (string, bool) {
	return extractBalanced(s, '{', '}')
}

// ExtractArray returns the first balanced top-level [...] region of s.
func ExtractArray(s string) (string, bool) {
	return extractBalanced(s, '[', ']')
}

// extractBalanced depth-matches from the first opening delimiter, skipping
// string literals so braces inside values do not shift the depth.
func extractBalanced(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
	depth := 0
	inStr, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
