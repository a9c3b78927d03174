package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/troian/healthcheck"
	"go.uber.org/zap"

	"github.com/VolantMQ/vlbolt/broker"
	"github.com/VolantMQ/vlbolt/configuration"
	"github.com/VolantMQ/vlbolt/metrics"
)

type appContext struct {
	healthLock    sync.Mutex
	healthHandler healthcheck.Handler
	registry      *prometheus.Registry
	metrics       *metrics.Metrics
	http          *http.Server
	srv           *broker.Server
}

var _ healthcheck.Checks = (*appContext)(nil)

var logger *zap.SugaredLogger

// these are provided at compile time
var (
	// GitCommit SHA hash
	GitCommit string

	// BuildDate build date
	BuildDate string

	// Version application version
	Version string
)

func init() {
	if Version == "" {
		Version = "UNKNOWN"
	}

	if BuildDate == "" {
		BuildDate = "UNKNOWN"
	}
}

// AddLivenessCheck ...
func (ctx *appContext) AddLivenessCheck(name string, check healthcheck.Check) error {
	ctx.healthLock.Lock()
	defer ctx.healthLock.Unlock()

	return ctx.healthHandler.AddLivenessCheck(name, check)
}

// AddReadinessCheck ...
func (ctx *appContext) AddReadinessCheck(name string, check healthcheck.Check) error {
	ctx.healthLock.Lock()
	defer ctx.healthLock.Unlock()

	return ctx.healthHandler.AddReadinessCheck(name, check)
}

// RemoveLivenessCheck ...
func (ctx *appContext) RemoveLivenessCheck(name string) error {
	ctx.healthLock.Lock()
	defer ctx.healthLock.Unlock()

	return ctx.healthHandler.RemoveLivenessCheck(name)
}

// RemoveReadinessCheck ...
func (ctx *appContext) RemoveReadinessCheck(name string) error {
	ctx.healthLock.Lock()
	defer ctx.healthLock.Unlock()

	return ctx.healthHandler.RemoveReadinessCheck(name)
}

func (ctx *appContext) startHTTP(addr string) {
	if len(addr) == 0 {
		logger.Info("http endpoint disabled")
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/live", ctx.healthHandler.LiveEndpoint)
	mux.HandleFunc("/ready", ctx.healthHandler.ReadyEndpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(ctx.registry, promhttp.HandlerOpts{}))

	ctx.http = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Panicw("http server panic", "panic", r)
			}
		}()

		logger.Info("starting http server on " + addr)
		if err := ctx.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorw("http server", "error", err)
		}
		logger.Info("stopped http server on " + addr)
	}()
}

func main() {
	configFile := flag.String("config", configuration.ConfigFile(), "path to config file, overrides "+configuration.EnvConfigFile)
	flag.Parse()

	logger = configuration.GetLogger()

	defer func() {
		logger.Info("service stopped")

		if r := recover(); r != nil {
			logger.Panic(r)
		}
	}()

	config, err := configuration.ReadConfig(*configFile)
	if err != nil {
		logger.Errorw("reading config", "error", err)
		return
	}

	if err = configuration.ConfigureLoggers(&config.Log); err != nil {
		logger.Errorw("configuring loggers", "error", err)
		return
	}

	logger = configuration.GetLogger()

	logger.Info("starting service...")
	logger.Infof("\n\tbuild info:\n"+
		"\t\tcommit : %s\n"+
		"\t\tdate   : %s\n"+
		"\t\tversion: %s\n", GitCommit, BuildDate, Version)

	ctx := &appContext{
		healthHandler: healthcheck.NewHandler(),
		registry:      prometheus.NewRegistry(),
	}

	ctx.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if ctx.metrics, err = metrics.New("vlbolt", ctx.registry); err != nil {
		logger.Errorw("metrics", "error", err)
		return
	}

	if ctx.srv, err = broker.NewFromConfig(&config.Broker, ctx.metrics, ctx); err != nil {
		logger.Errorw("broker create", "error", err)
		return
	}

	ctx.srv.Version = "vlbolt " + Version
	ctx.srv.TransportStatus = func(id string, status string) {
		logger.Info("listener state: ", "id: ", id, " status: ", status)
	}

	ctx.startHTTP(config.HTTP.Addr)

	logger.Info("starting listeners")
	if err = ctx.srv.Start(); err != nil {
		logger.Errorw("listen and serve", "error", err)
		_ = ctx.srv.Shutdown()
		return
	}

	for _, e := range ctx.srv.Endpoints() {
		logger.Info("\tlistening on ", e.String())
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	sig := <-ch
	logger.Info("service received signal: ", sig.String())

	if err = ctx.srv.Shutdown(); err != nil {
		logger.Errorw("shutdown broker", "error", err)
	}

	if ctx.http != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = ctx.http.Shutdown(sctx)
		cancel()
	}
}
