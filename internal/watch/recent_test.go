package watch

import (
	"fmt"
	"testing"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/stretchr/testify/assert"
)

func TestRecentLines_Empty(t *testing.T) {
	r := newRecentLines(5)
	assert.Empty(t, r.last(3))
}

func TestRecentLines_Wraps(t *testing.T) {
	r := newRecentLines(3)
	for i := 0; i < 5; i++ {
		r.add(core.NewLogLine("h", "s", fmt.Sprintf("line %d", i)))
	}

	got := r.last(10)
	assert.Len(t, got, 3)
	assert.Equal(t, "line 2", got[0].Text)
	assert.Equal(t, "line 4", got[2].Text)

	got = r.last(1)
	assert.Equal(t, "line 4", got[0].Text)
}
