// Package match provides the callbacks a watch applies to each log line.
// A Matcher inspects one line and either extracts a payload from it or
// reports no match. Matchers must not keep state between calls.
package match

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/1sec-project/1sec-qa/internal/core"
)

// Matcher extracts a T from a line, reporting whether the line matched.
type Matcher[T any] func(line core.LogLine) (T, bool)

// Regex matches lines against pattern and returns the capture groups
// (index 0 is the whole match). It panics on an invalid pattern, like
// regexp.MustCompile; use RegexE for patterns from user input.
func Regex(pattern string) Matcher[[]string] {
	return RegexFrom(regexp.MustCompile(pattern))
}

// RegexE is Regex for patterns that may not compile.
func RegexE(pattern string) (Matcher[[]string], error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	return RegexFrom(re), nil
}

// RegexFrom wraps an already compiled expression.
func RegexFrom(re *regexp.Regexp) Matcher[[]string] {
	return func(line core.LogLine) ([]string, bool) {
		m := re.FindStringSubmatch(line.Text)
		return m, m != nil
	}
}

// Group returns capture group n of pattern.
func Group(pattern string, n int) Matcher[string] {
	return Map(Regex(pattern), func(m []string) string {
		if n < len(m) {
			return m[n]
		}
		return ""
	})
}

// Contains matches lines containing substr and returns the whole text.
func Contains(substr string) Matcher[string] {
	return func(line core.LogLine) (string, bool) {
		if strings.Contains(line.Text, substr) {
			return line.Text, true
		}
		return "", false
	}
}

// After matches lines containing marker and returns the trimmed text that
// follows its first occurrence.
func After(marker string) Matcher[string] {
	return func(line core.LogLine) (string, bool) {
		_, rest, ok := strings.Cut(line.Text, marker)
		if !ok {
			return "", false
		}
		return strings.TrimSpace(rest), true
	}
}

// JSON matches lines where marker is followed by a JSON object and
// returns the decoded object. An empty marker decodes the whole line.
// Lines whose payload does not decode do not match.
func JSON(marker string) Matcher[map[string]any] {
	return func(line core.LogLine) (map[string]any, bool) {
		payload := line.Text
		if marker != "" {
			_, rest, ok := strings.Cut(line.Text, marker)
			if !ok {
				return nil, false
			}
			payload = rest
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &obj); err != nil {
			return nil, false
		}
		return obj, true
	}
}

// Line matches every line and returns it unchanged.
func Line() Matcher[core.LogLine] {
	return func(line core.LogLine) (core.LogLine, bool) { return line, true }
}

// Map transforms the payload of m.
func Map[T, U any](m Matcher[T], fn func(T) U) Matcher[U] {
	return func(line core.LogLine) (U, bool) {
		v, ok := m(line)
		if !ok {
			var zero U
			return zero, false
		}
		return fn(v), true
	}
}

// Where keeps only the matches whose payload satisfies pred.
func Where[T any](m Matcher[T], pred func(T) bool) Matcher[T] {
	return func(line core.LogLine) (T, bool) {
		v, ok := m(line)
		if !ok || !pred(v) {
			var zero T
			return zero, false
		}
		return v, true
	}
}

// FromHost restricts m to lines from host.
func FromHost[T any](host string, m Matcher[T]) Matcher[T] {
	return func(line core.LogLine) (T, bool) {
		if line.Host != host {
			var zero T
			return zero, false
		}
		return m(line)
	}
}

// Any tries each matcher in order and returns the first match.
func Any[T any](ms ...Matcher[T]) Matcher[T] {
	return func(line core.LogLine) (T, bool) {
		for _, m := range ms {
			if v, ok := m(line); ok {
				return v, true
			}
		}
		var zero T
		return zero, false
	}
}

// Field walks a dotted path ("data.type") through decoded JSON objects.
func Field(obj map[string]any, path string) (any, bool) {
	var cur any = obj
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}
