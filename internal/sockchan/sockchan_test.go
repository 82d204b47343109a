package sockchan

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/watch"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() core.TimeoutPolicy {
	p := core.DefaultTimeoutPolicy()
	p.DefaultTimeout = 2 * time.Second
	return p
}

// serveSize answers every size-prefixed request with reply(req) padded
// with NULs, the way the logtest socket does.
func serveSize(t *testing.T, reply func([]byte) []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				for {
					var hdr [4]byte
					if _, err := io.ReadFull(conn, hdr[:]); err != nil {
						return
					}
					req := make([]byte, binary.LittleEndian.Uint32(hdr[:]))
					if _, err := io.ReadFull(conn, req); err != nil {
						return
					}
					out := append(reply(req), 0, 0)
					binary.LittleEndian.PutUint32(hdr[:], uint32(len(out)))
					conn.Write(append(hdr[:], out...))
				}
			}()
		}
	}()
	return path
}

func TestChannel_SizeFramedRequest(t *testing.T) {
	path := serveSize(t, func(req []byte) []byte { return append([]byte("echo:"), req...) })
	ch, err := Dial(context.Background(), "unix", path, FramingSize, testPolicy(), zerolog.Nop())
	require.NoError(t, err)
	defer ch.Close()

	reply, err := ch.Request(context.Background(), []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "echo:hello", string(reply))

	// The connection stays usable.
	reply, err = ch.Request(context.Background(), []byte("again"))
	require.NoError(t, err)
	assert.Equal(t, "echo:again", string(reply))
}

func TestChannel_RequestJSON(t *testing.T) {
	path := serveSize(t, func(req []byte) []byte {
		var in map[string]any
		if err := json.Unmarshal(req, &in); err != nil {
			return []byte(`{"error":1}`)
		}
		out, _ := json.Marshal(map[string]any{"error": 0, "data": map[string]any{"command": in["command"]}})
		return out
	})
	ch, err := Dial(context.Background(), "unix", path, FramingSize, testPolicy(), zerolog.Nop())
	require.NoError(t, err)
	defer ch.Close()

	var resp struct {
		Error int `json:"error"`
		Data  struct {
			Command string `json:"command"`
		} `json:"data"`
	}
	require.NoError(t, ch.RequestJSON(context.Background(), map[string]any{"command": "log_processing"}, &resp))
	assert.Equal(t, 0, resp.Error)
	assert.Equal(t, "log_processing", resp.Data.Command)
}

func TestChannel_RequestAsync(t *testing.T) {
	path := serveSize(t, func(req []byte) []byte {
		time.Sleep(30 * time.Millisecond)
		return req
	})
	ch, err := Dial(context.Background(), "unix", path, FramingSize, testPolicy(), zerolog.Nop())
	require.NoError(t, err)
	defer ch.Close()

	h := ch.RequestAsync(context.Background(), []byte("slow"))
	_, err = h.Result(0)
	assert.ErrorIs(t, err, watch.ErrNotReady)

	reply, err := h.Result(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "slow", string(reply))
}

func TestChannel_NewlineFraming(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	ch := NewChannel(client, FramingNewline, testPolicy(), zerolog.Nop())
	defer ch.Close()

	go func() {
		r := bufio.NewReader(server)
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		server.Write([]byte("ok " + line))
	}()

	reply, err := ch.Request(context.Background(), []byte("ping"))
	require.NoError(t, err)
	assert.Equal(t, "ok ping", string(reply))
}

func TestChannel_ReceiveHonorsContext(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	ch := NewChannel(client, FramingSize, testPolicy(), zerolog.Nop())
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := ch.Receive(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestChannel_RejectsOversizedMessage(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	ch := NewChannel(client, FramingSize, testPolicy(), zerolog.Nop())
	defer ch.Close()

	go func() {
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], MaxMessageSize+1)
		server.Write(hdr[:])
	}()
	_, err := ch.Receive(context.Background())
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestParseFraming(t *testing.T) {
	f, err := ParseFraming("newline")
	require.NoError(t, err)
	assert.Equal(t, FramingNewline, f)
	assert.Equal(t, "newline", f.String())

	f, err = ParseFraming("")
	require.NoError(t, err)
	assert.Equal(t, FramingSize, f)

	_, err = ParseFraming("xml")
	assert.Error(t, err)
}
