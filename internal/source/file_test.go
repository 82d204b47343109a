package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Offsets ─────────────────────────────────────────────────────────────────

func TestFileSource_StartsAtEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ossec.log")
	appendFile(t, path, "old line\n")

	src, err := OpenFile(path, FileOptions{}, testPolicy(), zerolog.Nop())
	require.NoError(t, err)

	lines, err := src.ReadNewLines(context.Background())
	require.NoError(t, err)
	assert.Empty(t, lines)

	appendFile(t, path, "new line\n")
	lines, err = src.ReadNewLines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"new line"}, texts(lines))
	assert.Equal(t, "localhost", lines[0].Host)
}

func TestFileSource_FromStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ossec.log")
	appendFile(t, path, "a\nb\n")

	src, err := OpenFile(path, FileOptions{FromStart: true, Host: "manager"}, testPolicy(), zerolog.Nop())
	require.NoError(t, err)

	lines, err := src.ReadNewLines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, texts(lines))
	assert.Equal(t, "manager", lines[1].Host)
	assert.Equal(t, int64(4), src.Offset())
}

func TestFileSource_NeverRedeliversLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ossec.log")
	src, err := OpenFile(path, FileOptions{}, testPolicy(), zerolog.Nop())
	require.NoError(t, err)

	var seen []string
	for i := 0; i < 100; i++ {
		appendFile(t, path, fmt.Sprintf("line %d\n", i))
		if i%7 == 0 {
			lines, err := src.ReadNewLines(context.Background())
			require.NoError(t, err)
			seen = append(seen, texts(lines)...)
		}
	}
	lines, err := src.ReadNewLines(context.Background())
	require.NoError(t, err)
	seen = append(seen, texts(lines)...)

	require.Len(t, seen, 100)
	for i, text := range seen {
		assert.Equal(t, fmt.Sprintf("line %d", i), text)
	}
}

func TestFileSource_PartialLineHeldBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ossec.log")
	src, err := OpenFile(path, FileOptions{}, testPolicy(), zerolog.Nop())
	require.NoError(t, err)

	appendFile(t, path, "complete\npart")
	lines, err := src.ReadNewLines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"complete"}, texts(lines))

	appendFile(t, path, "ial\r\n\n")
	lines, err = src.ReadNewLines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"partial"}, texts(lines), "CRLF trimmed and blank lines skipped")
}

// ─── Rotation ────────────────────────────────────────────────────────────────

func TestFileSource_Truncation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ossec.log")
	appendFile(t, path, "a long line before truncation\n")
	src, err := OpenFile(path, FileOptions{}, testPolicy(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.Truncate(path, 0))
	appendFile(t, path, "after\n")

	lines, err := src.ReadNewLines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"after"}, texts(lines))
}

func TestFileSource_RotationByRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ossec.log")
	appendFile(t, path, "before rotation\n")
	src, err := OpenFile(path, FileOptions{}, testPolicy(), zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, os.Rename(path, filepath.Join(dir, "ossec.log.1")))
	// New file longer than the old offset: only the inode change reveals it.
	appendFile(t, path, "first line in the new file that is long\n")

	lines, err := src.ReadNewLines(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"first line in the new file that is long"}, texts(lines))
}

// ─── Absence ─────────────────────────────────────────────────────────────────

func TestFileSource_MissingFileUnavailableAfterRetries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.log")
	src, err := OpenFile(path, FileOptions{}, testPolicy(), zerolog.Nop())
	require.NoError(t, err)

	_, err = src.ReadNewLines(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFileSource_FileAppearsDuringRetry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.log")
	p := testPolicy()
	p.SourceRetries = 50
	src, err := OpenFile(path, FileOptions{}, p, zerolog.Nop())
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(path, []byte("daemon started\n"), 0644)
	}()

	lines, err := src.ReadNewLines(context.Background())
	require.NoError(t, err)
	if len(lines) == 0 {
		// The file may have been created before its line was flushed.
		lines, err = src.ReadNewLines(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"daemon started"}, texts(lines))
}

func TestFileSource_Closed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ossec.log")
	src, err := OpenFile(path, FileOptions{}, testPolicy(), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, src.Close())

	_, err = src.ReadNewLines(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
