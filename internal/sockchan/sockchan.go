// Package sockchan talks to the product's request/response sockets. A
// message is framed either with a 4-byte little-endian length prefix or
// terminated by a newline.
package sockchan

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/watch"
	"github.com/rs/zerolog"
)

// Framing selects how messages are delimited on the wire.
type Framing int

const (
	FramingSize Framing = iota
	FramingNewline
)

// ParseFraming maps "size" and "newline" to a Framing.
func ParseFraming(s string) (Framing, error) {
	switch s {
	case "size", "":
		return FramingSize, nil
	case "newline":
		return FramingNewline, nil
	default:
		return 0, fmt.Errorf("unknown framing %q", s)
	}
}

func (f Framing) String() string {
	if f == FramingNewline {
		return "newline"
	}
	return "size"
}

// MaxMessageSize bounds a size-prefixed message.
const MaxMessageSize = 64 << 20

// ErrMessageTooLarge is returned for a size prefix above MaxMessageSize.
var ErrMessageTooLarge = errors.New("message exceeds maximum size")

// Channel is one connection to a socket. Requests are serialized.
type Channel struct {
	conn    net.Conn
	r       *bufio.Reader
	framing Framing
	policy  core.TimeoutPolicy
	logger  zerolog.Logger

	mu sync.Mutex
}

// Dial connects to addr over network ("unix", "tcp", ...). The dial is
// bounded by ctx and by the policy's default timeout.
func Dial(ctx context.Context, network, addr string, framing Framing, policy core.TimeoutPolicy, logger zerolog.Logger) (*Channel, error) {
	d := net.Dialer{Timeout: policy.DefaultTimeout}
	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing %s %s: %w", network, addr, err)
	}
	return NewChannel(conn, framing, policy, logger), nil
}

// NewChannel wraps an established connection.
func NewChannel(conn net.Conn, framing Framing, policy core.TimeoutPolicy, logger zerolog.Logger) *Channel {
	return &Channel{
		conn:    conn,
		r:       bufio.NewReader(conn),
		framing: framing,
		policy:  policy,
		logger:  logger.With().Str("component", "sockchan").Str("addr", conn.RemoteAddr().String()).Logger(),
	}
}

// Close closes the connection.
func (c *Channel) Close() error { return c.conn.Close() }

// Send writes one framed message.
func (c *Channel) Send(ctx context.Context, msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.send(ctx, msg)
}

// Receive reads one framed message.
func (c *Channel) Receive(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receive(ctx)
}

// Request sends msg and waits for the reply.
func (c *Channel) Request(ctx context.Context, msg []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.send(ctx, msg); err != nil {
		return nil, err
	}
	return c.receive(ctx)
}

// RequestJSON marshals req, sends it and decodes the reply into resp.
func (c *Channel) RequestJSON(ctx context.Context, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	reply, err := c.Request(ctx, payload)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(reply, resp); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	return nil
}

// RequestAsync runs Request in the background.
func (c *Channel) RequestAsync(ctx context.Context, msg []byte) *watch.Handle[[]byte] {
	return watch.Go(ctx, func(ctx context.Context) ([]byte, error) {
		return c.Request(ctx, msg)
	})
}

func (c *Channel) send(ctx context.Context, msg []byte) error {
	if err := c.conn.SetWriteDeadline(c.deadline(ctx)); err != nil {
		return err
	}
	stop := c.interruptOn(ctx)
	defer stop()

	var frame []byte
	switch c.framing {
	case FramingNewline:
		frame = append(append(make([]byte, 0, len(msg)+1), msg...), '\n')
	default:
		frame = make([]byte, 4, 4+len(msg))
		binary.LittleEndian.PutUint32(frame, uint32(len(msg)))
		frame = append(frame, msg...)
	}
	if _, err := c.conn.Write(frame); err != nil {
		return c.wrapErr(ctx, "send", err)
	}
	c.logger.Debug().Int("bytes", len(msg)).Msg("message sent")
	return nil
}

func (c *Channel) receive(ctx context.Context) ([]byte, error) {
	if err := c.conn.SetReadDeadline(c.deadline(ctx)); err != nil {
		return nil, err
	}
	stop := c.interruptOn(ctx)
	defer stop()

	var msg []byte
	switch c.framing {
	case FramingNewline:
		line, err := c.r.ReadBytes('\n')
		if err != nil {
			return nil, c.wrapErr(ctx, "receive", err)
		}
		msg = bytes.TrimRight(line, "\r\n")
	default:
		var hdr [4]byte
		if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
			return nil, c.wrapErr(ctx, "receive", err)
		}
		size := binary.LittleEndian.Uint32(hdr[:])
		if size > MaxMessageSize {
			return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, size)
		}
		msg = make([]byte, size)
		if _, err := io.ReadFull(c.r, msg); err != nil {
			return nil, c.wrapErr(ctx, "receive", err)
		}
	}
	// Daemons pad some replies with NULs.
	msg = bytes.TrimRight(msg, "\x00")
	c.logger.Debug().Int("bytes", len(msg)).Msg("message received")
	return msg, nil
}

// deadline is ctx's deadline or, without one, the policy default from now.
func (c *Channel) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(c.policy.DefaultTimeout)
}

// interruptOn unblocks pending I/O when ctx is cancelled.
func (c *Channel) interruptOn(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.conn.SetDeadline(time.Unix(1, 0))
		case <-done:
		}
	}()
	return func() { close(done) }
}

func (c *Channel) wrapErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
	return fmt.Errorf("%s: %w", op, err)
}
