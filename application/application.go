package application

import (
	"context"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/event"
	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/gateway"
	"github.com/lk2023060901/danmu-garden-connhub/internal/connection/manager"
	"github.com/lk2023060901/danmu-garden-connhub/internal/json"
	zlog "github.com/lk2023060901/danmu-garden-connhub/pkg/log"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/conc"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-connhub/pkg/util/retry"
	zviper "github.com/lk2023060901/danmu-garden-connhub/pkg/util/viper"
)

const defaultConfigPath = "./config.yaml"

// Application is the main runtime container for the connection hub.
// It owns configuration, loggers and the serving components.
type Application struct {
	args    []string
	cfg     *zviper.Config
	conf    *Config
	loggers map[string]*zlog.MLogger

	mgr       *manager.Manager
	scheduler *manager.Scheduler
	gateway   *gateway.Gateway
	pool      *conc.Pool[any]
	registry  *prometheus.Registry
	server    *http.Server

	mu    sync.RWMutex
	addr  string
	ready chan struct{}
}

// Option configures an Application.
type Option func(a *Application)

// WithArgs overrides the command-line arguments, which default to os.Args[1:].
func WithArgs(args []string) Option {
	return func(a *Application) {
		a.args = args
	}
}

// New creates a new Application instance.
func New(opts ...Option) *Application {
	a := &Application{
		args:  os.Args[1:],
		ready: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run loads configuration, starts every component and blocks until ctx is
// cancelled or the HTTP server fails. Configuration is resolved with the
// following priority:
//  1. Default: ./config.yaml (optional)
//  2. Env: CONNHUB_CONFIG_FILE_PATH
//  3. CLI: --config <path> or --config=<path>
func (a *Application) Run(ctx context.Context) error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	conf, err := decodeConfig(cfg)
	if err != nil {
		return err
	}
	a.conf = conf

	if err := a.initLogging(); err != nil {
		return err
	}
	if err := a.build(); err != nil {
		return err
	}

	ln, err := a.listen(ctx)
	if err != nil {
		_ = a.gateway.Close()
		a.pool.Release()
		return errors.Wrapf(err, "listen on %s", a.conf.Server.Addr)
	}
	return a.serve(ctx, ln)
}

// listen binds the server address, retrying while a previous process still
// holds the port.
func (a *Application) listen(ctx context.Context) (net.Listener, error) {
	var ln net.Listener
	err := retry.Do(ctx, func() error {
		var err error
		ln, err = net.Listen("tcp", a.conf.Server.Addr)
		return err
	}, retry.Attempts(5), retry.Sleep(100*time.Millisecond), retry.RetryErr(func(err error) bool {
		return errors.Is(err, syscall.EADDRINUSE)
	}))
	return ln, err
}

// Config returns the loaded configuration, if any.
func (a *Application) Config() *zviper.Config {
	return a.cfg
}

// Logger returns a named logger created from configuration.
// If the name is unknown, it falls back to the global logger.
func (a *Application) Logger(name string) *zlog.MLogger {
	if a.loggers == nil {
		return &zlog.MLogger{Logger: zlog.L()}
	}
	if lg, ok := a.loggers[name]; ok && lg != nil {
		return lg
	}
	return &zlog.MLogger{Logger: zlog.L()}
}

// Manager returns the connection manager once Run has built it.
func (a *Application) Manager() *manager.Manager {
	return a.mgr
}

// Ready is closed once the listener is bound.
func (a *Application) Ready() <-chan struct{} {
	return a.ready
}

// Addr returns the bound listener address, empty before Ready.
func (a *Application) Addr() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.addr
}

// loadConfig resolves config file path and loads it via viper wrapper.
// A missing default file is tolerated; an explicitly requested one is not.
func (a *Application) loadConfig() (*zviper.Config, error) {
	configPath := defaultConfigPath
	explicit := false

	if envPath := os.Getenv(envPrefix + "_CONFIG_FILE_PATH"); envPath != "" {
		configPath = envPath
		explicit = true
	}

	args := a.args
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--config" {
			if i+1 >= len(args) {
				return nil, merr.WrapErrParameterMissing("--config", "missing value after --config")
			}
			configPath = args[i+1]
			explicit = true
			i++
			continue
		}
		if strings.HasPrefix(arg, "--config=") {
			val := strings.TrimPrefix(arg, "--config=")
			if val != "" {
				configPath = val
				explicit = true
			}
			continue
		}
	}

	cfg := zviper.New(envPrefix)
	registerDefaults(cfg)

	if _, err := os.Stat(configPath); err != nil && !explicit && os.IsNotExist(err) {
		return cfg, nil
	}
	if err := cfg.LoadFile(configPath); err != nil {
		return nil, errors.Wrapf(err, "failed to load config file %q", configPath)
	}
	return cfg, nil
}

// initLogging initializes global and module-level loggers.
func (a *Application) initLogging() error {
	if err := a.initGlobalLoggerFromEnv(); err != nil {
		return err
	}
	if err := a.initModuleLoggersFromConfig(); err != nil {
		return err
	}
	return nil
}

// initGlobalLoggerFromEnv configures the process-wide logger based on CONNHUB_LOG_* env vars.
//
// Priority:
//   - CONNHUB_LOG_ENABLE: "1"/"true" to enable outputs; others treated as disabled.
//   - CONNHUB_LOG_LEVEL: log level, falls back to connhub.log_level.
//   - CONNHUB_LOG_STDOUT: whether to log to stdout (default false).
//   - CONNHUB_LOG_FILE_DIR: log directory.
//   - CONNHUB_LOG_FILE: log file name (empty means no file).
//   - CONNHUB_LOG_FORMAT: log format ("text" or "json", default "text").
func (a *Application) initGlobalLoggerFromEnv() error {
	enabled := getenvBool(envPrefix+"_LOG_ENABLE", false)

	cfg := &zlog.Config{
		Level:  getenvDefault(envPrefix+"_LOG_LEVEL", a.conf.ConnHub.LogLevel),
		Format: getenvDefault(envPrefix+"_LOG_FORMAT", "text"),
		Stdout: getenvBool(envPrefix+"_LOG_STDOUT", false),
		File: zlog.FileLogConfig{
			RootPath: getenvDefault(envPrefix+"_LOG_FILE_DIR", ""),
			Filename: getenvDefault(envPrefix+"_LOG_FILE", ""),
		},
	}

	// When not enabled, direct all outputs to a discarded sink.
	if !enabled {
		cfg.Stdout = false
		cfg.File.Filename = ""
	}

	logger, props, err := zlog.InitLogger(cfg)
	if err != nil {
		return errors.Wrap(err, "init global logger from env")
	}
	zlog.ReplaceGlobals(logger, props)

	level, err := zapcore.ParseLevel(cfg.Level)
	if err == nil {
		zlog.SetLevel(level)
	}
	return nil
}

// initModuleLoggersFromConfig creates named loggers from YAML config under "logging" key.
//
// Example:
//
//	logging:
//	  audit:
//	    level: info
//	    stdout: true
//	    file:
//	      rootpath: ./logs
//	      filename: audit.log
func (a *Application) initModuleLoggersFromConfig() error {
	if a.cfg == nil || !a.cfg.IsSet("logging") {
		return nil
	}

	raw := make(map[string]zlog.Config)
	if err := a.cfg.UnmarshalKey("logging", &raw); err != nil {
		return err
	}
	if len(raw) == 0 {
		return nil
	}

	a.loggers = make(map[string]*zlog.MLogger, len(raw))
	for name, lc := range raw {
		cfgCopy := lc
		logger, _, err := zlog.InitLogger(&cfgCopy)
		if err != nil {
			return errors.Wrapf(err, "init module logger %q", name)
		}
		a.loggers[name] = &zlog.MLogger{Logger: logger}
	}
	return nil
}

// build wires the manager, the audit observer, the gateway and the HTTP routes.
func (a *Application) build() error {
	mgr, err := manager.New(a.conf.ConnHub)
	if err != nil {
		return err
	}
	a.mgr = mgr
	a.scheduler = manager.NewScheduler(mgr)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if a.conf.ConnHub.EnableMetrics {
		metrics.Register(a.registry)
	}

	a.pool = conc.NewPool[any](a.conf.Server.AuditPoolSize,
		conc.WithConcealPanic(true),
		conc.WithNonBlocking(true))
	mgr.Subscribe(event.Async(newAuditObserver(a.Logger("audit")), a.pool))

	a.gateway = gateway.New(mgr, a.conf.Gateway)

	mux := http.NewServeMux()
	mux.Handle(a.gateway.Path(), a.gateway)
	mux.Handle(a.conf.Server.MetricsPath, promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc(a.conf.Server.StatsPath, a.handleStats)
	mux.HandleFunc(a.conf.Server.HealthPath, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	a.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (a *Application) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := json.Marshal(a.mgr.GetConnectionStats())
	if err != nil {
		zlog.L().Warn("failed to encode stats", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// serve runs the HTTP server and the cleanup scheduler until ctx is done,
// then shuts components down in dependency order.
func (a *Application) serve(ctx context.Context, ln net.Listener) error {
	a.mu.Lock()
	a.addr = ln.Addr().String()
	a.mu.Unlock()
	close(a.ready)

	g, gctx := errgroup.WithContext(ctx)
	if err := a.scheduler.Start(gctx); err != nil {
		_ = ln.Close()
		a.pool.Release()
		return err
	}

	zlog.L().Info("connection hub started",
		zap.String("addr", a.addr),
		zap.String("gateway", a.gateway.Path()),
		zap.String("metrics", a.conf.Server.MetricsPath))

	g.Go(func() error {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	err := g.Wait()
	_ = zlog.Sync()
	return err
}

func (a *Application) shutdown() error {
	zlog.L().Info("connection hub shutting down")
	a.scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), a.conf.Server.ShutdownTimeout)
	defer cancel()
	serverErr := a.server.Shutdown(ctx)
	gatewayErr := a.gateway.Close()
	a.pool.Release()

	zlog.L().Info("connection hub stopped", zap.Int64("sweeps", a.scheduler.Sweeps()))
	return merr.Combine(serverErr, gatewayErr)
}

func getenvDefault(key, def string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	return val
}

func getenvBool(key string, def bool) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return def
	}
	switch strings.ToLower(val) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
