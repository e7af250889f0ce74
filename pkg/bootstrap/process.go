// Package bootstrap is the startup sequence shared by the API and the
// background workers: load .env and config, build the logger, track what
// must be closed, and exit cleanly when a dependency cannot start.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/accountable/accountable-backend/pkg/config"
	"github.com/accountable/accountable-backend/pkg/instance"
	"github.com/accountable/accountable-backend/pkg/logger"
	"github.com/accountable/accountable-backend/pkg/metrics"
)

// exit is swapped in tests.
var exit = os.Exit

type closer struct {
	name string
	fn   func() error
}

// Process is one running binary.
type Process struct {
	Name     string
	Config   *config.Config
	Logger   *logger.Logger
	Instance string

	mu      sync.Mutex
	closers []closer
}

// Load reads an optional .env file, parses the config and builds the logger
// at the configured level. name becomes the service kind and log service.
func Load(name string) (*Process, error) {
	boot := logger.New(logger.Options{ServiceName: name})
	if err := godotenv.Load(); err != nil {
		boot.Debug(context.Background(), "bootstrap.no_dotenv")
	}

	cfg, err := config.Load()
	if err != nil {
		return &Process{Name: name, Logger: boot}, err
	}
	cfg.Service.Kind = name

	return &Process{
		Name:   name,
		Config: cfg,
		Logger: logger.New(logger.Options{
			ServiceName: name,
			Level:       logger.ParseLevel(cfg.App.LogLevel),
			WarnStack:   cfg.App.LogWarnStack,
		}),
		Instance: instance.ID(name + "-0"),
	}, nil
}

// MustLoad is Load that exits the process on failure.
func MustLoad(name string) *Process {
	p, err := Load(name)
	if err != nil {
		p.Fail(context.Background(), "config", err)
	}
	return p
}

// Require exits when err is set, naming the resource that failed to start.
func (p *Process) Require(ctx context.Context, resource string, err error) {
	if err != nil {
		p.Fail(ctx, resource, err)
	}
}

// Fail logs, releases everything registered so far and exits with status 1.
func (p *Process) Fail(ctx context.Context, resource string, err error) {
	p.Logger.Error(p.Logger.WithField(ctx, "resource", resource), fmt.Sprintf("bootstrap.%s_unavailable", resource), err)
	p.Close(ctx)
	exit(1)
}

// OnClose registers fn to run at shutdown. Closers run in reverse order.
func (p *Process) OnClose(name string, fn func() error) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.closers = append(p.closers, closer{name: name, fn: fn})
	p.mu.Unlock()
}

// Close runs the registered closers once, logging failures.
func (p *Process) Close(ctx context.Context) {
	p.mu.Lock()
	closers := p.closers
	p.closers = nil
	p.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(); err != nil {
			p.Logger.Error(p.Logger.WithField(ctx, "resource", c.name), "bootstrap.close_failed", err)
		}
	}
}

// SignalContext ends on SIGINT or SIGTERM and carries the process log fields.
func (p *Process) SignalContext() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return p.Logger.WithFields(ctx, p.fields()), stop
}

func (p *Process) fields() map[string]any {
	fields := map[string]any{
		"serviceKind": p.Name,
		"instance":    p.Instance,
	}
	if p.Config != nil {
		fields["env"] = p.Config.App.Env
	}
	return fields
}

// ServeMetrics exposes gatherer on ACCOUNTABLE_METRICS_ADDR in the background
// until ctx ends. Nothing happens when the address is unset.
func (p *Process) ServeMetrics(ctx context.Context, gatherer prometheus.Gatherer) {
	if p.Config == nil || p.Config.Service.MetricsAddr == "" {
		return
	}
	go func() {
		if err := metrics.Serve(ctx, p.Config.Service.MetricsAddr, gatherer, p.Logger); err != nil {
			p.Logger.Error(ctx, "bootstrap.metrics_failed", err)
		}
	}()
}
