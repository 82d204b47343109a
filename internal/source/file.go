package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/rs/zerolog"
)

// FileOptions controls where a FileSource starts reading.
type FileOptions struct {
	// Host tags every line; defaults to "localhost".
	Host string
	// FromStart reads the existing contents instead of only lines
	// appended after the source is opened.
	FromStart bool
}

// FileSource tails a log file by byte offset. The file is reopened on each
// read so rotation and temporary removal during a daemon restart are
// tolerated: a different inode or a file shorter than the offset resets
// the cursor to the beginning of the new file.
type FileSource struct {
	path   string
	host   string
	policy core.TimeoutPolicy
	logger zerolog.Logger

	offset int64
	info   os.FileInfo
	closed bool
}

// OpenFile positions a FileSource at the current end of path (or at its
// start with opts.FromStart). A missing file is not an error: every line
// it later receives counts as new.
func OpenFile(path string, opts FileOptions, policy core.TimeoutPolicy, logger zerolog.Logger) (*FileSource, error) {
	host := opts.Host
	if host == "" {
		host = "localhost"
	}
	s := &FileSource{
		path:   path,
		host:   host,
		policy: policy,
		logger: logger.With().Str("component", "file_source").Str("path", path).Logger(),
	}

	info, err := os.Stat(path)
	switch {
	case err == nil:
		s.info = info
		if !opts.FromStart {
			s.offset = info.Size()
		}
	case errors.Is(err, os.ErrNotExist):
		s.logger.Debug().Msg("log file not present yet, reading from its start once created")
	default:
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return s, nil
}

func (s *FileSource) Name() string { return "file:" + s.path }

// Offset returns the byte position of the next unread line.
func (s *FileSource) Offset() int64 { return s.offset }

func (s *FileSource) ReadNewLines(ctx context.Context) ([]core.LogLine, error) {
	if s.closed {
		return nil, ErrClosed
	}

	var f *os.File
	err := Retry(ctx, s.Name(), s.policy, func() error {
		var err error
		f, err = os.Open(s.path)
		if errors.Is(err, os.ErrNotExist) {
			return Transient(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", s.path, err)
	}
	if (s.info != nil && !os.SameFile(s.info, info)) || info.Size() < s.offset {
		s.logger.Info().Int64("old_offset", s.offset).Msg("log rotation detected, reading new file from start")
		s.offset = 0
	}
	s.info = info

	if info.Size() == s.offset {
		return nil, nil
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seeking %s to %d: %w", s.path, s.offset, err)
	}

	var lines []core.LogLine
	reader := bufio.NewReader(f)
	for {
		raw, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// A trailing partial line stays unread until its newline arrives.
				break
			}
			return lines, fmt.Errorf("reading %s: %w", s.path, err)
		}
		s.offset += int64(len(raw))

		text := strings.TrimRight(raw, "\r\n")
		if text == "" {
			continue
		}
		lines = append(lines, core.NewLogLine(s.host, s.Name(), text))
	}
	return lines, nil
}

func (s *FileSource) Close() error {
	s.closed = true
	return nil
}
