package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/config"
	"github.com/always-cache/offline-cache/host"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	providerFlag       string
	dbFilenameFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.StringVar(&originFlag, "origin", "", "Origin URL of the web application (overrides config)")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin (overrides config)")
	flag.IntVar(&portFlag, "port", 0, "Port to listen on (overrides config)")
	flag.StringVar(&providerFlag, "provider", "", "Storage provider: sqlite, badger or memory (overrides config)")
	flag.StringVar(&dbFilenameFlag, "db", "", "Database file or directory (overrides config)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configFilenameFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid config")
	}

	// set log level
	logLevel, _ := cfg.LogLevel()
	if logLevel == zerolog.NoLevel {
		logLevel = zerolog.DebugLevel
	}
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if cfg.Log.File != "" {
		if logFileOutput, err := os.OpenFile(cfg.Log.File, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Exiting")
	}
}

// applyFlags overrides the config with the flags given on the command line.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			cfg.Origin = originFlag
		case "host":
			cfg.Host = hostFlag
		case "port":
			cfg.Port = portFlag
		case "provider":
			cfg.Storage.Provider = providerFlag
		case "db":
			cfg.Storage.Path = dbFilenameFlag
		case "log-file":
			cfg.Log.File = logFilenameFlag
		}
	})
}

func openStorage(cfg config.Storage) (cache.Storage, error) {
	switch cfg.Provider {
	case config.ProviderSQLite:
		filename := cfg.Path
		// use sqlite memory provider
		if filename == "memory" {
			filename = ""
		}
		s, err := cache.NewSQLiteStorage(filename)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.ProviderBadger:
		s, err := cache.NewBadgerStorage(cfg.Path, &log.Logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.ProviderMemory:
		return cache.NewMemStorage(), nil
	}
	return nil, fmt.Errorf("%w: %s", cache.ErrUnknownProvider, cfg.Provider)
}

func run(cfg config.Config) error {
	originURL, err := cfg.OriginURL()
	if err != nil {
		return err
	}
	registry, err := cfg.Registry()
	if err != nil {
		return err
	}
	storage, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	var (
		metrics  *offlinecache.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = offlinecache.NewMetrics(reg)
		gatherer = reg
	}

	runtime := host.NewRuntime(host.Config{Logger: &log.Logger})
	worker, err := offlinecache.CreateWorker(offlinecache.Config{
		Storage:   storage,
		Registry:  registry,
		OriginURL: *originURL,
		Transport: offlinecache.NewHTTPTransport(offlinecache.HTTPTransportConfig{
			Timeout: cfg.FetchTimeout,
		}),
		Host:             runtime,
		Notifier:         runtime.Notifications(),
		FontCSSHost:      cfg.Fonts.CSSHost,
		FontFileHost:     cfg.Fonts.FileHost,
		AppShell:         cfg.AppShell,
		FontAssets:       cfg.Fonts.Assets,
		RootDocument:     cfg.RootDocument,
		PushNotification: cfg.Push,
		Logger:           &log.Logger,
		Metrics:          metrics,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: host.NewServer(host.ServerConfig{
			Runtime:    runtime,
			Storage:    storage,
			Registry:   registry,
			OriginURL:  *originURL,
			OriginHost: cfg.Host,
			Gatherer:   gatherer,
			Logger:     &log.Logger,
		}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info().Msgf("Serving %s on port %d (cache version %s)", originURL.String(), cfg.Port, registry.Version())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		// requests are passed through until the worker is active
		if err := runtime.Register(ctx, worker); err != nil {
			log.Error().Err(err).Msg("Worker registration failed, passing all requests through")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	worker.Drain()
	log.Info().Msg("Stopped")
	return err
}
