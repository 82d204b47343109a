package core

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// LogSubjectPrefix is the subject space agents publish their log lines under.
const LogSubjectPrefix = "qa.logs"

// LogBus wraps NATS JetStream for shipping log lines from remote hosts to
// the harness.
type LogBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	url    string
	logger zerolog.Logger
	mu     sync.Mutex
	subs   map[*nats.Subscription]struct{}

	metrics *BusMetrics
}

// BusMetrics tracks log bus counters.
type BusMetrics struct {
	mu             sync.Mutex `json:"-"`
	LinesPublished int64      `json:"lines_published"`
	LinesFailed    int64      `json:"lines_failed"`
	Subscriptions  int64      `json:"subscriptions"`
}

// NewLogBus connects to NATS, starting an embedded server when cfg.Embedded
// is set. A zero or negative embedded port picks a random free port.
func NewLogBus(cfg *BusConfig, logger zerolog.Logger) (*LogBus, error) {
	bus := &LogBus{
		logger:  logger.With().Str("component", "log_bus").Logger(),
		subs:    make(map[*nats.Subscription]struct{}),
		metrics: &BusMetrics{},
		url:     cfg.URL,
	}

	if cfg.Embedded {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating NATS data dir: %w", err)
		}

		port := cfg.Port
		if port <= 0 {
			port = server.RANDOM_PORT
		}
		opts := &server.Options{
			Host:      "127.0.0.1",
			Port:      port,
			JetStream: true,
			StoreDir:  cfg.DataDir,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}

		ns.Start()

		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}

		bus.ns = ns
		bus.url = ns.ClientURL()
		bus.logger.Info().Str("url", bus.url).Msg("embedded NATS server started")
	}

	nc, err := nats.Connect(bus.url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		bus.shutdownServer()
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	streamName := cfg.Stream
	if streamName == "" {
		streamName = "QA_LOGS"
	}
	streamCfg := &nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{LogSubjectPrefix + ".>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Discard:   nats.DiscardOld,
	}
	if _, err := js.AddStream(streamCfg); err != nil {
		// Stream may exist with a different config from an older run.
		if _, updateErr := js.UpdateStream(streamCfg); updateErr != nil {
			bus.Close()
			return nil, fmt.Errorf("creating/updating log stream: %w (original: %v)", updateErr, err)
		}
	}

	bus.logger.Info().Str("url", bus.url).Str("stream", streamName).Msg("connected to NATS JetStream")
	return bus, nil
}

// HostSubject returns the subject a host's lines are published on.
func HostSubject(host string) string {
	return LogSubjectPrefix + "." + subjectToken(host)
}

func subjectToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

// PublishLine publishes a log line on its host's subject.
func (b *LogBus) PublishLine(line LogLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshaling log line: %w", err)
	}

	subject := HostSubject(line.Host)
	if _, err := b.js.Publish(subject, data); err != nil {
		b.metrics.mu.Lock()
		b.metrics.LinesFailed++
		b.metrics.mu.Unlock()
		return fmt.Errorf("publishing line to %s: %w", subject, err)
	}

	b.metrics.mu.Lock()
	b.metrics.LinesPublished++
	b.metrics.mu.Unlock()
	return nil
}

// SubscribeHost delivers every line the host publishes from now on into ch.
// The caller releases the subscription with Unsubscribe.
func (b *LogBus) SubscribeHost(host string, ch chan *nats.Msg) (*nats.Subscription, error) {
	subject := HostSubject(host)
	sub, err := b.js.ChanSubscribe(subject, ch, nats.DeliverNew(), nats.AckNone())
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	b.metrics.mu.Lock()
	b.metrics.Subscriptions++
	b.metrics.mu.Unlock()

	b.logger.Debug().Str("subject", subject).Msg("subscribed")
	return sub, nil
}

// Unsubscribe drops a subscription created by SubscribeHost.
func (b *LogBus) Unsubscribe(sub *nats.Subscription) error {
	b.mu.Lock()
	_, ok := b.subs[sub]
	delete(b.subs, sub)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	return sub.Unsubscribe()
}

// UnmarshalLogLine decodes a line published by PublishLine.
func UnmarshalLogLine(data []byte) (LogLine, error) {
	var line LogLine
	if err := json.Unmarshal(data, &line); err != nil {
		return LogLine{}, err
	}
	return line, nil
}

// Close shuts down the log bus.
func (b *LogBus) Close() error {
	b.mu.Lock()
	for sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = make(map[*nats.Subscription]struct{})
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}
	b.shutdownServer()
	return nil
}

func (b *LogBus) shutdownServer() {
	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
		b.ns = nil
		b.logger.Info().Msg("embedded NATS server stopped")
	}
}

// URL returns the client URL the bus is connected to.
func (b *LogBus) URL() string {
	return b.url
}

// IsConnected returns true if the NATS connection is active.
func (b *LogBus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// GetMetrics returns a snapshot of bus metrics.
func (b *LogBus) GetMetrics() map[string]int64 {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return map[string]int64{
		"lines_published": b.metrics.LinesPublished,
		"lines_failed":    b.metrics.LinesFailed,
		"subscriptions":   b.metrics.Subscriptions,
	}
}
