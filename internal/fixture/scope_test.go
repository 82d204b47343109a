package fixture

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope_ReleasesInReverseOrder(t *testing.T) {
	s := NewScope(zerolog.Nop())
	var order []string
	for _, name := range []string{"service", "config", "monitor"} {
		name := name
		s.Defer(name, func() error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, s.Close())
	assert.Equal(t, []string{"monitor", "config", "service"}, order)

	// Closing again does not rerun anything.
	require.NoError(t, s.Close())
	assert.Len(t, order, 3)
}

func TestScope_JoinsErrorsAndKeepsGoing(t *testing.T) {
	s := NewScope(zerolog.Nop())
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ran := 0
	s.Defer("a", func() error { ran++; return errA })
	s.Defer("ok", func() error { ran++; return nil })
	s.Defer("b", func() error { ran++; return errB })

	err := s.Close()
	assert.Equal(t, 3, ran)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestScope_DeferAfterClose(t *testing.T) {
	s := NewScope(zerolog.Nop())
	require.NoError(t, s.Close())

	ran := false
	s.Defer("late", func() error { ran = true; return nil })
	assert.True(t, ran)
}

func TestAcquire(t *testing.T) {
	s := NewScope(zerolog.Nop())
	released := false

	v, err := Acquire(s, "thing", func() (int, func() error, error) {
		return 7, func() error { released = true; return nil }, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = Acquire(s, "broken", func() (int, func() error, error) {
		return 0, func() error { t.Error("release of failed acquire must not run"); return nil }, errors.New("nope")
	})
	assert.ErrorContains(t, err, "acquiring broken")

	require.NoError(t, s.Close())
	assert.True(t, released)
}
