package confstore

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// ParseOptions reads "key=value" lines. Blank lines and lines starting
// with '#' are ignored. A value wrapped in matching single or double
// quotes, as in daemon state files, is unquoted.
func ParseOptions(data []byte) map[string]string {
	opts := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		opts[strings.TrimSpace(k)] = unquote(strings.TrimSpace(v))
	}
	return opts
}

func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '\'' || v[0] == '"') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

// StateValue reads key from a daemon state file such as
// wazuh-analysisd.state. ok is false when the key is absent.
func StateValue(path, key string) (value string, ok bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, fmt.Errorf("reading state %s: %w", path, err)
	}
	value, ok = ParseOptions(data)[key]
	return value, ok, nil
}

// MergeOptions rewrites existing keys in place and appends new keys in
// sorted order. Comments and unrelated lines are kept.
func MergeOptions(data []byte, set map[string]string) []byte {
	remaining := make(map[string]string, len(set))
	for k, v := range set {
		remaining[k] = v
	}

	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if k, _, ok := strings.Cut(trimmed, "="); ok && !strings.HasPrefix(trimmed, "#") {
			key := strings.TrimSpace(k)
			if v, found := remaining[key]; found {
				line = key + "=" + v
				delete(remaining, key)
			}
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}

	keys := make([]string, 0, len(remaining))
	for k := range remaining {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&out, "%s=%s\n", k, remaining[k])
	}
	return out.Bytes()
}

// SetInternalOptions merges set into the options file and returns a
// function restoring it. A missing file is created.
func (s *Store) SetInternalOptions(set map[string]string) (func() error, error) {
	data, err := os.ReadFile(s.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return s.Apply(MergeOptions(data, set))
}

// InternalOptions returns the parsed options file; a missing file is empty.
func (s *Store) InternalOptions() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}
	return ParseOptions(data), nil
}
