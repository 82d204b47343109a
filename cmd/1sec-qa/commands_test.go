package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/dbquery"
	"github.com/1sec-project/1sec-qa/internal/hostmon"
	"github.com/1sec-project/1sec-qa/internal/match"
	"github.com/1sec-project/1sec-qa/internal/source"
	"github.com/1sec-project/1sec-qa/internal/watch"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLog(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, appendLines(path, lines...))
}

func appendLines(path string, lines ...string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

// ─── watch ────────────────────────────────────────────────────────────────────

func TestRunWatch_Satisfied(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ossec.log")
	writeLog(t, path, "alpha 1", "beta", "alpha 2", "alpha 3")

	target := source.Target{Kind: source.KindFile, Host: "localhost", Path: path, FromStart: true}
	opts := watch.Options{Count: 2, Timeout: 2 * time.Second}
	var out bytes.Buffer
	err := runWatch(context.Background(), testConfig(), zerolog.Nop(), target, match.Regex(`alpha (\d)`), opts, &out, FormatJSON)
	require.NoError(t, err)

	var res watchResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.True(t, res.Satisfied)
	assert.Equal(t, 2, res.Want)
	assert.Equal(t, "file:"+path, res.Source)
	assert.Equal(t, [][]string{{"alpha 1", "1"}, {"alpha 2", "2"}}, res.Matches)
	assert.Empty(t, res.Error)
}

func TestRunWatch_TimeoutReportsPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ossec.log")
	writeLog(t, path, "alpha 1", "alpha 2")

	target := source.Target{Kind: source.KindFile, Path: path, FromStart: true}
	opts := watch.Options{Count: 3, Timeout: 50 * time.Millisecond, ErrorMessage: "waiting for alphas"}
	var out bytes.Buffer
	err := runWatch(context.Background(), testConfig(), zerolog.Nop(), target, match.Regex(`alpha (\d)`), opts, &out, FormatJSON)
	require.ErrorIs(t, err, watch.ErrMonitorTimeout)

	var res watchResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	assert.False(t, res.Satisfied)
	assert.Equal(t, 3, res.Want)
	assert.Len(t, res.Matches, 2)
	assert.Contains(t, res.Error, "waiting for alphas")
}

func TestRunWatch_TableOutput(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	path := filepath.Join(t.TempDir(), "ossec.log")
	writeLog(t, path, "Agent started")

	target := source.Target{Kind: source.KindFile, Path: path, FromStart: true}
	var out bytes.Buffer
	err := runWatch(context.Background(), testConfig(), zerolog.Nop(), target, match.Regex(`Agent started`), watch.Options{Timeout: time.Second}, &out, FormatTable)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "Agent started")
	assert.Contains(t, out.String(), "1/1 matches")
}

func TestRunWatch_UnknownKind(t *testing.T) {
	err := runWatch(context.Background(), testConfig(), zerolog.Nop(), source.Target{Kind: "smoke-signal"}, match.Regex(`x`), watch.Options{}, &bytes.Buffer{}, FormatTable)
	assert.ErrorContains(t, err, "unknown source kind")
}

// ─── hosts ────────────────────────────────────────────────────────────────────

func TestRunHosts_AllPass(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	dir := t.TempDir()
	managerLog := filepath.Join(dir, "manager.log")
	agentLog := filepath.Join(dir, "agent.log")
	writeLog(t, managerLog)
	writeLog(t, agentLog)

	cfg := testConfig()
	cfg.Hosts = map[string]core.HostConfig{
		"wazuh-manager": {Source: source.KindFile, Path: managerLog},
		"wazuh-agent1":  {Source: source.KindFile, Path: agentLog},
	}
	plan, err := hostmon.ParsePlan([]byte(`
wazuh-manager:
  - regex: "Remote connection accepted"
    timeout: 5
wazuh-agent1:
  - regex: "Connected to the server"
  - regex: "Agent is ready"
    timeout: 5s
`))
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = appendLines(managerLog, "wazuh-remoted: INFO: Remote connection accepted")
		_ = appendLines(agentLog, "wazuh-agentd: INFO: Connected to the server", "wazuh-agentd: INFO: Agent is ready")
	}()

	var out bytes.Buffer
	require.NoError(t, runHosts(context.Background(), cfg, zerolog.Nop(), plan, 5*time.Second, &out, FormatTable))
	assert.Contains(t, out.String(), "wazuh-agent1")
	assert.Contains(t, out.String(), "all 2 hosts passed")
}

func TestRunHosts_HostNotInInventory(t *testing.T) {
	plan, err := hostmon.ParsePlan([]byte(`
ghost:
  - regex: "anything"
`))
	require.NoError(t, err)

	err = runHosts(context.Background(), testConfig(), zerolog.Nop(), plan, time.Second, &bytes.Buffer{}, FormatJSON)
	var hf *hostmon.HostFailure
	require.ErrorAs(t, err, &hf)
	assert.Equal(t, "ghost", hf.Host)
	assert.Equal(t, -1, hf.Index)
	assert.ErrorContains(t, err, "not in the inventory")
}

// ─── query ────────────────────────────────────────────────────────────────────

func openTestDB(t *testing.T) *dbquery.DB {
	t.Helper()
	db, err := dbquery.Open(filepath.Join(t.TempDir(), "cve.db"), testConfig().Timeouts, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Exec(context.Background(),
		`CREATE TABLE metadata (key TEXT, value TEXT)`,
		`INSERT INTO metadata VALUES ('version', '2')`,
		`INSERT INTO metadata VALUES ('source', 'nvd')`,
	))
	return db
}

func TestRunQuery_Count(t *testing.T) {
	db := openTestDB(t)
	var out bytes.Buffer
	require.NoError(t, runQuery(context.Background(), db, query{count: "metadata"}, &out, FormatTable))
	assert.Equal(t, "2\n", out.String())
}

func TestRunQuery_TablesJSON(t *testing.T) {
	db := openTestDB(t)
	var out bytes.Buffer
	require.NoError(t, runQuery(context.Background(), db, query{tables: true}, &out, FormatJSON))

	var names []string
	require.NoError(t, json.Unmarshal(out.Bytes(), &names))
	assert.Equal(t, []string{"metadata"}, names)
}

func TestRunQuery_SQLTable(t *testing.T) {
	db := openTestDB(t)
	var out bytes.Buffer
	require.NoError(t, runQuery(context.Background(), db, query{sql: `SELECT key, value FROM metadata ORDER BY key`}, &out, FormatTable))
	assert.Contains(t, out.String(), "│ key ")
	assert.Contains(t, out.String(), "version")
	assert.Contains(t, out.String(), "nvd")
}

func TestRunQuery_NothingRequested(t *testing.T) {
	db := openTestDB(t)
	assert.Error(t, runQuery(context.Background(), db, query{}, &bytes.Buffer{}, FormatTable))
}

func TestCell(t *testing.T) {
	assert.Equal(t, "NULL", cell(nil))
	assert.Equal(t, "abc", cell([]byte("abc")))
	assert.Equal(t, "42", cell(int64(42)))
	assert.Equal(t, "1.5", cell(1.5))
}

// ─── forward ──────────────────────────────────────────────────────────────────

func TestForward_PublishesLines(t *testing.T) {
	bus, err := core.NewLogBus(&core.BusConfig{
		Embedded: true,
		DataDir:  t.TempDir(),
		Port:     -1,
		Stream:   "QA_LOGS_FORWARD_TEST",
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })

	ch := make(chan *nats.Msg, 16)
	sub, err := bus.SubscribeHost("wazuh-agent1", ch)
	require.NoError(t, err)
	defer bus.Unsubscribe(sub)

	path := filepath.Join(t.TempDir(), "ossec.log")
	writeLog(t, path, "first", "second")
	src, err := source.OpenFile(path, source.FileOptions{Host: "wazuh-agent1", FromStart: true}, testConfig().Timeouts, zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := forward(ctx, src, bus, 10*time.Millisecond, zerolog.Nop())
		done <- result{n, err}
	}()

	var got []string
	deadline := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case msg := <-ch:
			line, err := core.UnmarshalLogLine(msg.Data)
			require.NoError(t, err)
			got = append(got, line.Text)
		case <-deadline:
			t.Fatalf("timed out waiting for forwarded lines, got %v", got)
		}
	}
	cancel()

	res := <-done
	assert.Equal(t, []string{"first", "second"}, got)
	assert.Equal(t, 2, res.n)
	assert.ErrorIs(t, res.err, context.Canceled)
}
