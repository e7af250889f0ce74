package bootstrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/logger"
)

func newTestProcess(buf *bytes.Buffer) *Process {
	return &Process{
		Name:     "worker",
		Config:   &config.Config{App: config.AppConfig{Env: "test"}},
		Logger:   logger.New(logger.Options{ServiceName: "worker", Output: buf, Format: "json"}),
		Instance: "worker-1",
	}
}

func TestCloseRunsInReverseOnce(t *testing.T) {
	var buf bytes.Buffer
	p := newTestProcess(&buf)

	var order []string
	p.OnClose("database", func() error { order = append(order, "database"); return nil })
	p.OnClose("redis", func() error { order = append(order, "redis"); return errors.New("already closed") })
	p.OnClose("ignored", nil)

	p.Close(context.Background())
	p.Close(context.Background())

	assert.Equal(t, []string{"redis", "database"}, order)
	assert.Contains(t, buf.String(), "bootstrap.close_failed")
	assert.Contains(t, buf.String(), `"resource":"redis"`)
}

func TestRequireExitsAfterClosing(t *testing.T) {
	var buf bytes.Buffer
	p := newTestProcess(&buf)

	code := -1
	orig := exit
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = orig })

	closed := false
	p.OnClose("database", func() error { closed = true; return nil })

	p.Require(context.Background(), "pubsub", nil)
	assert.Equal(t, -1, code)

	p.Require(context.Background(), "pubsub", errors.New("topic missing"))
	assert.Equal(t, 1, code)
	assert.True(t, closed)

	var line map[string]any
	first := strings.SplitN(strings.TrimSpace(buf.String()), "\n", 2)[0]
	require.NoError(t, json.Unmarshal([]byte(first), &line))
	assert.Equal(t, "bootstrap.pubsub_unavailable", line["message"])
	assert.Equal(t, "pubsub", line["resource"])
}

func TestSignalContextCarriesProcessFields(t *testing.T) {
	var buf bytes.Buffer
	p := newTestProcess(&buf)

	ctx, stop := p.SignalContext()
	defer stop()
	p.Logger.Info(ctx, "hello")

	out := buf.String()
	assert.Contains(t, out, `"serviceKind":"worker"`)
	assert.Contains(t, out, `"instance":"worker-1"`)
	assert.Contains(t, out, `"env":"test"`)
}

func TestServeMetricsWithoutAddrDoesNothing(t *testing.T) {
	var buf bytes.Buffer
	p := newTestProcess(&buf)
	p.ServeMetrics(context.Background(), nil)
	assert.Empty(t, buf.String())
}

func TestLoadReportsConfigErrors(t *testing.T) {
	t.Setenv(config.EnvAppEnv, "test")
	require.NoError(t, os.Unsetenv(config.EnvAppEnv))
	p, err := Load("worker")
	require.Error(t, err)
	require.NotNil(t, p)
	assert.NotNil(t, p.Logger)
	assert.Nil(t, p.Config)
}
