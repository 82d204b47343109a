package source

import (
	"os"
	"testing"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/stretchr/testify/require"
)

func testPolicy() core.TimeoutPolicy {
	return core.TimeoutPolicy{
		PollInterval:   5 * time.Millisecond,
		SourceRetries:  3,
		RetryBackoff:   5 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
		DefaultTimeout: time.Second,
	}
}

func appendFile(t *testing.T, path, data string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func texts(lines []core.LogLine) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}
