package source

import (
	"context"
	"errors"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

var errBusDisconnected = errors.New("log bus disconnected")

// BusSource reads the lines a remote host publishes on the log bus. Only
// lines published after OpenBus returns are seen.
type BusSource struct {
	bus    *core.LogBus
	host   string
	ch     chan *nats.Msg
	sub    *nats.Subscription
	policy core.TimeoutPolicy
	logger zerolog.Logger
	closed bool
}

// OpenBus subscribes to host's subject with room for buffer undelivered lines.
func OpenBus(bus *core.LogBus, host string, buffer int, policy core.TimeoutPolicy, logger zerolog.Logger) (*BusSource, error) {
	if buffer <= 0 {
		buffer = 4096
	}
	s := &BusSource{
		bus:    bus,
		host:   host,
		ch:     make(chan *nats.Msg, buffer),
		policy: policy,
		logger: logger.With().Str("component", "bus_source").Str("host", host).Logger(),
	}
	sub, err := bus.SubscribeHost(host, s.ch)
	if err != nil {
		return nil, err
	}
	s.sub = sub
	return s, nil
}

func (s *BusSource) Name() string { return "bus:" + s.host }

func (s *BusSource) ReadNewLines(ctx context.Context) ([]core.LogLine, error) {
	if s.closed {
		return nil, ErrClosed
	}

	err := Retry(ctx, s.Name(), s.policy, func() error {
		if !s.bus.IsConnected() && len(s.ch) == 0 {
			return Transient(errBusDisconnected)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return drainMsgs(s.ch, s.logger), nil
}

// drainMsgs takes what is buffered right now and nothing that arrives after.
func drainMsgs(ch chan *nats.Msg, logger zerolog.Logger) []core.LogLine {
	n := len(ch)
	if n == 0 {
		return nil
	}
	lines := make([]core.LogLine, 0, n)
	for i := 0; i < n; i++ {
		msg := <-ch
		line, err := core.UnmarshalLogLine(msg.Data)
		if err != nil {
			logger.Warn().Err(err).Str("subject", msg.Subject).Msg("dropping undecodable log line")
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func (s *BusSource) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.bus.Unsubscribe(s.sub)
}
