package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/blukai/fragrelay/internal/metrics"
	"github.com/blukai/fragrelay/internal/protocol"
	"github.com/blukai/fragrelay/internal/relayserver"
	"github.com/blukai/fragrelay/internal/web"
	"github.com/hashicorp/go-multierror"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type Config struct {
	Addr         string        `envconfig:"ADDR" required:"true" default:":5002"`
	AssetsDir    string        `envconfig:"ASSETS_DIR" default:"build/client"`
	FlushHz      int           `envconfig:"FLUSH_HZ" default:"45"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"1s"`
	Welcome      string        `envconfig:"WELCOME" default:"Hello world!"`
	Debug        bool          `envconfig:"DEBUG" default:"false"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("fragrelay", config); err != nil {
		return nil, err
	}
	if config.FlushHz <= 0 {
		return nil, fmt.Errorf("flush rate must be positive, got %d", config.FlushHz)
	}
	return config, nil
}

func configureLogger(debug bool) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}
	if debug {
		logger.Level = log.DebugLevel
	} else {
		logger.Level = log.InfoLevel
	}

	return &logger
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(config.Debug)
	protocol.SetLogger(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	relay := relayserver.NewRelayServer(relayserver.Options{
		FlushInterval: time.Second / time.Duration(config.FlushHz),
		WriteTimeout:  config.WriteTimeout,
		Welcome:       config.Welcome,
		Metrics:       metrics.NewRelay(reg),
	}, logger)

	router := web.NewRouter(relay, web.RouterConfig{
		AssetsDir: config.AssetsDir,
		Debug:     config.Debug,
		Gatherer:  reg,
	}, logger)

	httpServer := &http.Server{
		Addr:              config.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().
		Int("flush_hz", config.FlushHz).
		Str("schema_fingerprint", fmt.Sprintf("%016x", protocol.TableFingerprint())).
		Msgf("starting relay on %s", config.Addr)

	wg := new(sync.WaitGroup)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		errsMu sync.Mutex
		errs   error
	)
	appendErr := func(err error) {
		errsMu.Lock()
		errs = multierror.Append(errs, err)
		errsMu.Unlock()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := relay.Run(ctx); err != nil {
			appendErr(fmt.Errorf("relay run failed: %w", err))
		}
	}()

	serveErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-signalChan:
		logger.Info().Msgf("received %+v signal", sig)
	case err := <-serveErr:
		appendErr(fmt.Errorf("http server failed: %w", err))
	}

	// closing the sessions first lets hijacked websocket handlers return.
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appendErr(fmt.Errorf("could not shut down http server: %w", err))
	}

	wg.Wait()
	return errs
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "fucky wucky! %v\n", err)
		os.Exit(42)
	}
}
