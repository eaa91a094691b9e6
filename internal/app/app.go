package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"boardgate/internal/binary"
	"boardgate/internal/config"
	"boardgate/internal/core"
	"boardgate/internal/executor"
	"boardgate/internal/gateway"
	"boardgate/internal/modules/host"
	"boardgate/internal/observability"
	"boardgate/internal/transports/events"
	"boardgate/internal/transports/web"
)

// App агрегирует зависимости шлюза.
type App struct {
	Config     config.Config
	Binary     binary.Path
	Version    string
	Service    *gateway.Service
	Transports *core.TransportManager

	runner  core.Runner
	events  *events.Adapter
	logger  zerolog.Logger
	started time.Time
	healthy atomic.Bool
}

// NewApp разрешает путь к бинарнику, проверяет его пробным запуском и собирает
// включенные транспорты. Ошибка пробы возвращается до открытия любого listener.
func NewApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	runner, err := NewRunner(cfg)
	if err != nil {
		return nil, err
	}
	version, err := ProbeBinary(ctx, cfg, runner)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("binary", runner.Path().String()).Str("version", version).Msg("binary probe succeeded")

	observability.RegisterMetrics()
	observability.SetBinaryHealthy(true)

	svc, err := NewService(cfg, runner, logger)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		Binary:     runner.Path(),
		Version:    version,
		Service:    svc,
		Transports: core.NewTransportManager(),
		runner:     runner,
		logger:     logger,
		started:    time.Now(),
	}
	a.healthy.Store(true)

	if err := a.registerTransports(); err != nil {
		return nil, err
	}
	return a, nil
}

// NewRunner разрешает путь к бинарнику один раз и создает исполнитель.
func NewRunner(cfg config.Config) (*executor.ExecRunner, error) {
	path, err := binary.NewResolver(cfg.Binary.Path).Resolve()
	if err != nil {
		return nil, fmt.Errorf("resolve binary: %w", err)
	}
	return executor.NewExecRunner(path, cfg.ExecutionTimeout()), nil
}

// ProbeBinary выполняет пробный запуск с таймаутом из конфигурации.
func ProbeBinary(ctx context.Context, cfg config.Config, runner core.Runner) (string, error) {
	probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout())
	defer cancel()
	return binary.Probe(probeCtx, runner, cfg.Binary.ProbeArgs)
}

// NewService собирает пайплайн validate -> execute -> build.
func NewService(cfg config.Config, runner core.Runner, logger zerolog.Logger) (*gateway.Service, error) {
	registry, err := gateway.NewRegistry()
	if err != nil {
		return nil, fmt.Errorf("build operation catalogue: %w", err)
	}
	opts := gateway.Options{
		Runner:  runner,
		Limiter: gateway.NewRateLimiter(cfg.RateLimit.PerClient, time.Duration(cfg.RateLimit.WindowMS)*time.Millisecond),
		Logger:  logger.With().Str("component", "gateway").Logger(),
	}
	if cfg.Execution.SerializePorts {
		opts.Locks = executor.NewPortLocks()
	}
	return gateway.NewService(registry, opts), nil
}

// registerTransports регистрирует events раньше web: при пустом events.listen_addr
// обработчик событий монтируется на web и должен быть запущен до него.
func (a *App) registerTransports() error {
	var ev *events.Adapter
	if a.Config.Events.Enabled {
		ev = events.NewAdapter(a.Service, events.Config{
			ListenAddr:      a.Config.Events.ListenAddr,
			Path:            a.Config.Events.Path,
			Namespaces:      a.Config.Events.Namespaces,
			WriteTimeout:    time.Duration(a.Config.Events.WriteTimeoutMS) * time.Millisecond,
			MaxMessageBytes: a.Config.Events.MaxMessageBytes,
			AllowedOrigins:  a.Config.Web.CORS.AllowedOrigins,
		}, a.logger)
		if err := a.Transports.Register(ev); err != nil {
			return fmt.Errorf("register events transport: %w", err)
		}
		a.events = ev
	}

	if a.Config.Web.Enabled {
		w := web.NewAdapter(a.Service, a, web.Config{
			ListenAddr:         a.Config.Web.ListenAddr,
			ReadTimeout:        time.Duration(a.Config.Web.ReadTimeoutMS) * time.Millisecond,
			WriteTimeout:       time.Duration(a.Config.Web.WriteTimeoutMS) * time.Millisecond,
			ShutdownTimeout:    a.shutdownTimeout(),
			MaxRequestBody:     a.Config.Web.MaxBodyBytes,
			CORSAllowedOrigins: a.Config.Web.CORS.AllowedOrigins,
		}, a.logger)
		if ev != nil && a.Config.Events.ListenAddr == "" {
			for _, p := range ev.Paths() {
				w.Mount(p, ev)
			}
		}
		if err := a.Transports.Register(w); err != nil {
			return fmt.Errorf("register web transport: %w", err)
		}
	}
	return nil
}

// Serve запускает транспорты и периодическую пробу бинарника до отмены ctx.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Transports.StartAll(ctx); err != nil {
		return fmt.Errorf("start transports: %w", err)
	}
	a.logger.Info().Strs("transports", a.Transports.Names()).Msg("gateway started")
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		if err := a.Transports.StopAll(stopCtx); err != nil {
			a.logger.Error().Err(err).Msg("stop transports")
		}
		a.logger.Info().Msg("gateway stopped")
	}()

	interval := time.Duration(a.Config.Binary.ReprobeIntervalS) * time.Second
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	sched := core.NewScheduler(interval, func(err error) {
		a.logger.Error().Err(err).Msg("binary reprobe failed")
	})
	sched.Add(a.reprobe)
	sched.Start(ctx)
	return nil
}

// reprobe обновляет признак здоровья; разрешенный путь не меняется.
func (a *App) reprobe(ctx context.Context) error {
	version, err := ProbeBinary(ctx, a.Config, a.runner)
	a.healthy.Store(err == nil)
	observability.SetBinaryHealthy(err == nil)
	if err != nil {
		return err
	}
	if version != a.Version {
		a.logger.Warn().Str("was", a.Version).Str("now", version).Msg("binary version changed")
	}
	return nil
}

// Status реализует web.StatusProvider.
func (a *App) Status(ctx context.Context) map[string]any {
	out := map[string]any{
		"binary_path":    a.Binary.String(),
		"binary_version": a.Version,
		"binary_healthy": a.healthy.Load(),
		"transports":     a.Transports.Names(),
		"uptime_s":       int64(time.Since(a.started).Seconds()),
	}
	if a.events != nil {
		out["event_connections"] = a.events.Connections()
	}
	hostCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	snapshot, err := host.Collect(hostCtx)
	if err != nil {
		out["host_error"] = err.Error()
		return out
	}
	out["host"] = snapshot
	return out
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Config.Web.ShutdownTimeoutS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(a.Config.Web.ShutdownTimeoutS) * time.Second
}
