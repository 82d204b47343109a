package watch

import "github.com/1sec-project/1sec-qa/internal/core"

// recentLines is a fixed-size ring of the last lines a session looked at,
// kept so a timeout can show what the log actually said.
type recentLines struct {
	entries []core.LogLine
	maxSize int
	pos     int
	full    bool
}

func newRecentLines(maxSize int) *recentLines {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &recentLines{
		entries: make([]core.LogLine, maxSize),
		maxSize: maxSize,
	}
}

func (b *recentLines) add(line core.LogLine) {
	b.entries[b.pos] = line
	b.pos = (b.pos + 1) % b.maxSize
	if b.pos == 0 {
		b.full = true
	}
}

// last returns up to n of the most recent lines in chronological order.
func (b *recentLines) last(n int) []core.LogLine {
	total := b.pos
	if b.full {
		total = b.maxSize
	}
	if n > total {
		n = total
	}
	if n <= 0 {
		return []core.LogLine{}
	}

	result := make([]core.LogLine, n)
	start := b.pos - n
	if start < 0 {
		start += b.maxSize
	}
	for i := 0; i < n; i++ {
		result[i] = b.entries[(start+i)%b.maxSize]
	}
	return result
}
