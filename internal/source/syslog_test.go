package source

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── parseSyslog ──────────────────────────────────────────────────────────────

func TestParseSyslog_RFC5424(t *testing.T) {
	msg := parseSyslog(`<134>1 2025-06-15T10:30:00Z myhost myapp 1234 ID47 This is a test message`)
	require.NotNil(t, msg)
	// PRI 134 = facility 16 (local0), severity 6 (informational)
	assert.Equal(t, 16, msg.Facility)
	assert.Equal(t, 6, msg.Severity)
	assert.Equal(t, "myhost", msg.Hostname)
	assert.Equal(t, "myapp", msg.AppName)
	assert.Equal(t, "1234", msg.ProcID)
	assert.Equal(t, "ID47", msg.MsgID)
	assert.Equal(t, "This is a test message", msg.Message)
	assert.NotNil(t, msg.Timestamp)
}

func TestParseSyslog_RFC3164(t *testing.T) {
	msg := parseSyslog(`<38>Jun 15 10:30:00 myhost sshd[1234]: Failed password for root from 1.2.3.4 port 22`)
	require.NotNil(t, msg)
	assert.Equal(t, 4, msg.Facility)
	assert.Equal(t, "myhost", msg.Hostname)
	assert.Equal(t, "sshd", msg.AppName)
	assert.Equal(t, "1234", msg.ProcID)
	assert.Equal(t, "Failed password for root from 1.2.3.4 port 22", msg.Message)
}

func TestParseSyslog_BarePriorityAndGarbage(t *testing.T) {
	msg := parseSyslog(`<13>Some bare message without timestamp`)
	require.NotNil(t, msg)
	assert.Empty(t, msg.Hostname)
	assert.Equal(t, "Some bare message without timestamp", msg.Message)

	assert.Nil(t, parseSyslog("no priority at all"))
	assert.Nil(t, parseSyslog("   "))
}

// ─── SyslogListener ───────────────────────────────────────────────────────────

func startListener(t *testing.T, proto string) *SyslogListener {
	t.Helper()
	l := NewSyslogListener(&core.SyslogConfig{Protocol: proto, Host: "127.0.0.1", Port: 0, Buffer: 16}, zerolog.Nop())
	require.NoError(t, l.Start(context.Background()))
	t.Cleanup(func() { _ = l.Stop() })
	return l
}

func readUntil(t *testing.T, src Source, n int) []core.LogLine {
	t.Helper()
	var got []core.LogLine
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < n && time.Now().Before(deadline) {
		lines, err := src.ReadNewLines(context.Background())
		require.NoError(t, err)
		got = append(got, lines...)
		time.Sleep(5 * time.Millisecond)
	}
	require.Len(t, got, n)
	return got
}

func TestSyslogListener_RoutesUDPByHostname(t *testing.T) {
	l := startListener(t, "udp")
	agent1 := l.Subscribe("agent1", testPolicy())
	all := l.Subscribe(AnyHost, testPolicy())
	defer agent1.Close()
	defer all.Close()

	conn, err := net.Dial("udp", l.UDPAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprint(conn, "<134>1 2025-06-15T10:30:00Z agent2 app 1 - - other host\n")
	require.NoError(t, err)
	_, err = fmt.Fprint(conn, "<134>1 2025-06-15T10:30:01Z agent1 app 1 - - hello from agent1\n")
	require.NoError(t, err)

	got := readUntil(t, agent1, 1)
	assert.Equal(t, "agent1", got[0].Host)
	assert.Contains(t, got[0].Text, "hello from agent1")
	assert.Equal(t, 2025, got[0].Timestamp.Year())

	everything := readUntil(t, all, 2)
	assert.ElementsMatch(t, []string{"agent1", "agent2"}, []string{everything[0].Host, everything[1].Host})
}

func TestSyslogListener_TCPFallsBackToSourceIP(t *testing.T) {
	l := startListener(t, "tcp")
	src := l.Subscribe("127.0.0.1", testPolicy())
	defer src.Close()

	conn, err := net.Dial("tcp", l.TCPAddr().String())
	require.NoError(t, err)
	_, err = fmt.Fprint(conn, "<13>bare message one\n<13>bare message two\n")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	got := readUntil(t, src, 2)
	assert.Equal(t, []string{"<13>bare message one", "<13>bare message two"}, texts(got))
}

func TestSyslogSource_UnavailableWhenListenerStopped(t *testing.T) {
	l := startListener(t, "udp")
	src := l.Subscribe("agent1", testPolicy())
	require.NoError(t, l.Stop())

	_, err := src.ReadNewLines(context.Background())
	assert.ErrorIs(t, err, ErrSourceUnavailable)

	require.NoError(t, src.Close())
	_, err = src.ReadNewLines(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
