package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/rs/zerolog"
)

// AnyHost subscribes a SyslogSource to messages from every host.
const AnyHost = "*"

var errListenerStopped = errors.New("syslog listener not running")

// SyslogListener accepts syslog messages (RFC 5424 / RFC 3164) over UDP
// and/or TCP and routes them by hostname to subscribed SyslogSources.
// Messages from hosts nobody is watching are discarded.
type SyslogListener struct {
	cfg     *core.SyslogConfig
	logger  zerolog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	udpConn *net.UDPConn
	tcpLn   net.Listener
	wg      sync.WaitGroup

	mu      sync.Mutex
	running bool
	subs    map[string]map[*SyslogSource]struct{}
	dropped int64
}

// NewSyslogListener creates a listener; call Start to bind it.
func NewSyslogListener(cfg *core.SyslogConfig, logger zerolog.Logger) *SyslogListener {
	return &SyslogListener{
		cfg:    cfg,
		logger: logger.With().Str("component", "syslog_listener").Logger(),
		subs:   make(map[string]map[*SyslogSource]struct{}),
	}
}

// Start begins listening for syslog messages.
func (l *SyslogListener) Start(ctx context.Context) error {
	l.ctx, l.cancel = context.WithCancel(ctx)

	proto := strings.ToLower(l.cfg.Protocol)
	addr := net.JoinHostPort(l.cfg.Host, strconv.Itoa(l.cfg.Port))

	if proto == "udp" || proto == "both" {
		if err := l.startUDP(addr); err != nil {
			l.Stop()
			return fmt.Errorf("starting syslog UDP listener: %w", err)
		}
	}

	if proto == "tcp" || proto == "both" {
		if err := l.startTCP(addr); err != nil {
			l.Stop()
			return fmt.Errorf("starting syslog TCP listener: %w", err)
		}
	}

	l.mu.Lock()
	l.running = true
	l.mu.Unlock()

	l.logger.Info().Str("addr", addr).Str("protocol", proto).Msg("syslog listener started")
	return nil
}

// Stop shuts down the listener and waits for its goroutines.
func (l *SyslogListener) Stop() error {
	l.mu.Lock()
	l.running = false
	l.mu.Unlock()

	if l.cancel != nil {
		l.cancel()
	}
	if l.udpConn != nil {
		l.udpConn.Close()
	}
	if l.tcpLn != nil {
		l.tcpLn.Close()
	}
	l.wg.Wait()
	l.logger.Info().Msg("syslog listener stopped")
	return nil
}

// UDPAddr returns the bound UDP address, or nil when UDP is not enabled.
func (l *SyslogListener) UDPAddr() net.Addr {
	if l.udpConn == nil {
		return nil
	}
	return l.udpConn.LocalAddr()
}

// TCPAddr returns the bound TCP address, or nil when TCP is not enabled.
func (l *SyslogListener) TCPAddr() net.Addr {
	if l.tcpLn == nil {
		return nil
	}
	return l.tcpLn.Addr()
}

// Dropped returns how many messages were discarded because a subscriber's
// buffer was full.
func (l *SyslogListener) Dropped() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Subscribe opens a source receiving host's messages from now on. Use
// AnyHost to receive everything.
func (l *SyslogListener) Subscribe(host string, policy core.TimeoutPolicy) *SyslogSource {
	buffer := l.cfg.Buffer
	if buffer <= 0 {
		buffer = 4096
	}
	s := &SyslogSource{
		listener: l,
		host:     host,
		ch:       make(chan core.LogLine, buffer),
		policy:   policy,
	}

	l.mu.Lock()
	if l.subs[host] == nil {
		l.subs[host] = make(map[*SyslogSource]struct{})
	}
	l.subs[host][s] = struct{}{}
	l.mu.Unlock()
	return s
}

func (l *SyslogListener) unsubscribe(s *SyslogSource) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.subs[s.host], s)
	if len(l.subs[s.host]) == 0 {
		delete(l.subs, s.host)
	}
}

func (l *SyslogListener) isRunning() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *SyslogListener) startUDP(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolving UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listening on UDP %s: %w", addr, err)
	}
	l.udpConn = conn

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		buf := make([]byte, 65536)
		for {
			select {
			case <-l.ctx.Done():
				return
			default:
			}

			conn.SetReadDeadline(time.Now().Add(1 * time.Second))
			n, remoteAddr, err := conn.ReadFromUDP(buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					continue
				}
				if l.ctx.Err() != nil {
					return
				}
				l.logger.Error().Err(err).Msg("UDP read error")
				continue
			}

			sourceIP := ""
			if remoteAddr != nil {
				sourceIP = remoteAddr.IP.String()
			}
			// One datagram may carry several newline-separated messages.
			for _, raw := range strings.Split(string(buf[:n]), "\n") {
				l.route(raw, sourceIP)
			}
		}
	}()

	return nil
}

func (l *SyslogListener) startTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on TCP %s: %w", addr, err)
	}
	l.tcpLn = ln

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if l.ctx.Err() != nil {
					return
				}
				l.logger.Error().Err(err).Msg("TCP accept error")
				continue
			}

			l.wg.Add(1)
			go l.handleTCPConn(conn)
		}
	}()

	return nil
}

func (l *SyslogListener) handleTCPConn(conn net.Conn) {
	defer l.wg.Done()
	defer conn.Close()

	go func() {
		<-l.ctx.Done()
		conn.Close()
	}()

	sourceIP := ""
	if addr, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		sourceIP = addr.IP.String()
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 65536), 65536)
	for scanner.Scan() {
		l.route(scanner.Text(), sourceIP)
	}

	if err := scanner.Err(); err != nil && l.ctx.Err() == nil {
		l.logger.Debug().Err(err).Str("remote", sourceIP).Msg("TCP connection read error")
	}
}

// route parses one raw message and hands it to every matching subscriber.
func (l *SyslogListener) route(raw, sourceIP string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return
	}

	host := sourceIP
	ts := time.Now().UTC()
	if parsed := parseSyslog(raw); parsed != nil {
		if parsed.Hostname != "" && parsed.Hostname != "-" {
			host = parsed.Hostname
		}
		if parsed.Timestamp != nil {
			ts = *parsed.Timestamp
		}
	}
	line := core.LogLine{Host: host, Source: "syslog", Text: raw, Timestamp: ts}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range []string{host, AnyHost} {
		for s := range l.subs[key] {
			select {
			case s.ch <- line:
			default:
				l.dropped++
				l.logger.Warn().Str("host", host).Msg("syslog subscriber buffer full, dropping message")
			}
		}
	}
}

// SyslogSource drains the messages a SyslogListener routed to one host.
type SyslogSource struct {
	listener *SyslogListener
	host     string
	ch       chan core.LogLine
	policy   core.TimeoutPolicy
	closed   bool
}

func (s *SyslogSource) Name() string { return "syslog:" + s.host }

func (s *SyslogSource) ReadNewLines(ctx context.Context) ([]core.LogLine, error) {
	if s.closed {
		return nil, ErrClosed
	}
	err := Retry(ctx, s.Name(), s.policy, func() error {
		if !s.listener.isRunning() && len(s.ch) == 0 {
			return Transient(errListenerStopped)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	n := len(s.ch)
	if n == 0 {
		return nil, nil
	}
	lines := make([]core.LogLine, 0, n)
	for i := 0; i < n; i++ {
		lines = append(lines, <-s.ch)
	}
	return lines, nil
}

func (s *SyslogSource) Close() error {
	if !s.closed {
		s.closed = true
		s.listener.unsubscribe(s)
	}
	return nil
}

// syslogMessage represents a parsed syslog message.
type syslogMessage struct {
	Facility  int
	Severity  int
	Timestamp *time.Time
	Hostname  string
	AppName   string
	ProcID    string
	MsgID     string
	Message   string
}

// RFC 5424 pattern: <PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID MSG
var rfc5424Re = regexp.MustCompile(`^<(\d{1,3})>(\d)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s+(\S+)\s*(.*)$`)

// RFC 3164 pattern: <PRI>TIMESTAMP HOSTNAME MSG
var rfc3164Re = regexp.MustCompile(`^<(\d{1,3})>([A-Z][a-z]{2}\s+\d{1,2}\s+\d{2}:\d{2}:\d{2})\s+(\S+)\s+(.*)$`)

// Bare priority pattern: <PRI>MSG
var barePriRe = regexp.MustCompile(`^<(\d{1,3})>(.+)$`)

func parseSyslog(raw string) *syslogMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if m := rfc5424Re.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		msg := &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Hostname: m[4],
			AppName:  m[5],
			ProcID:   m[6],
			MsgID:    m[7],
			Message:  m[8],
		}
		if t, err := time.Parse(time.RFC3339, m[3]); err == nil {
			msg.Timestamp = &t
		}
		return msg
	}

	if m := rfc3164Re.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		msg := &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Hostname: m[3],
			Message:  m[4],
		}
		// BSD timestamps carry no year.
		tsStr := fmt.Sprintf("%d %s", time.Now().Year(), m[2])
		if t, err := time.Parse("2006 Jan  2 15:04:05", tsStr); err == nil {
			msg.Timestamp = &t
		} else if t, err := time.Parse("2006 Jan 2 15:04:05", tsStr); err == nil {
			msg.Timestamp = &t
		}
		// "sshd[1234]: message"
		if idx := strings.Index(msg.Message, ":"); idx > 0 {
			appPart := msg.Message[:idx]
			if pidIdx := strings.Index(appPart, "["); pidIdx > 0 {
				msg.AppName = appPart[:pidIdx]
				msg.ProcID = strings.Trim(appPart[pidIdx:], "[]")
			} else {
				msg.AppName = appPart
			}
			msg.Message = strings.TrimSpace(msg.Message[idx+1:])
		}
		return msg
	}

	if m := barePriRe.FindStringSubmatch(raw); m != nil {
		pri, _ := strconv.Atoi(m[1])
		return &syslogMessage{
			Facility: pri / 8,
			Severity: pri % 8,
			Message:  m[2],
		}
	}

	return nil
}
