package fixture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/match"
	"github.com/1sec-project/1sec-qa/internal/service"
	"github.com/1sec-project/1sec-qa/internal/watch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *core.Config {
	dir := t.TempDir()
	cfg := core.DefaultConfig()
	cfg.Product.LogFile = filepath.Join(dir, "ossec.log")
	cfg.Product.ConfigFile = filepath.Join(dir, "ossec.conf")
	cfg.Product.InternalOptions = filepath.Join(dir, "local_internal_options.conf")
	cfg.Timeouts.PollInterval = 2 * time.Millisecond
	cfg.Timeouts.RetryBackoff = 2 * time.Millisecond
	return cfg
}

type recordingController struct {
	calls []string
	stop  error
}

func (c *recordingController) Start(ctx context.Context, name string) error {
	c.calls = append(c.calls, "start "+name)
	return nil
}

func (c *recordingController) Stop(ctx context.Context, name string) error {
	c.calls = append(c.calls, "stop "+name)
	return c.stop
}

func (c *recordingController) Restart(ctx context.Context, name string) error {
	c.calls = append(c.calls, "restart "+name)
	return nil
}

func (c *recordingController) State(ctx context.Context, name string) (service.State, error) {
	return service.StateUnknown, nil
}

func TestEnv_TeardownRestoresEverything(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Product.ConfigFile, []byte("original"), 0640))
	require.NoError(t, os.WriteFile(cfg.Product.LogFile, []byte("old line\n"), 0644))
	ctl := &recordingController{stop: service.ErrAlreadyInState}

	t.Run("test body", func(t *testing.T) {
		env := NewEnv(t, cfg)
		require.NoError(t, env.TruncateLogs())
		require.NoError(t, env.ApplyConfig(cfg.Product.ConfigFile, []byte("changed")))
		require.NoError(t, env.SetInternalOptions(map[string]string{"syscheck.debug": "2"}))
		require.NoError(t, env.RunService(context.Background(), ctl, "wazuh-manager"))

		mon, err := env.ProductLog()
		require.NoError(t, err)

		f, err := os.OpenFile(cfg.Product.LogFile, os.O_APPEND|os.O_WRONLY, 0644)
		require.NoError(t, err)
		_, err = f.WriteString("wazuh-syscheckd: INFO: File integrity monitoring scan ended.\n")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		_, err = watch.Watch(context.Background(), mon, match.ScanEnd(), watch.Options{Timeout: time.Second})
		require.NoError(t, err)
	})

	data, err := os.ReadFile(cfg.Product.ConfigFile)
	require.NoError(t, err)
	assert.Equal(t, "original", string(data))
	assert.NoFileExists(t, cfg.Product.InternalOptions)

	data, err = os.ReadFile(cfg.Product.LogFile)
	require.NoError(t, err)
	assert.Empty(t, data)

	assert.Equal(t, []string{"restart wazuh-manager", "stop wazuh-manager"}, ctl.calls)
}

func TestEnv_MonitorUnknownKind(t *testing.T) {
	env := NewEnv(t, testConfig(t))
	_, err := env.Monitor(sourceTarget("carrier-pigeon"))
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log")
	require.NoError(t, Truncate(path))
	assert.FileExists(t, path)

	require.NoError(t, os.WriteFile(path, []byte("data"), 0644))
	require.NoError(t, Truncate(path))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	err = Truncate(filepath.Join(t.TempDir(), "missing", "log"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
