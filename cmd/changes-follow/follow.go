package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	changefeed "github.com/shogotsuneto/go-simple-changefeed"
	"github.com/shogotsuneto/go-simple-changefeed/config"
	"github.com/shogotsuneto/go-simple-changefeed/fasthttptransport"
	"github.com/shogotsuneto/go-simple-changefeed/httptransport"
	"github.com/shogotsuneto/go-simple-changefeed/memory"
	"github.com/shogotsuneto/go-simple-changefeed/natssink"
	"github.com/shogotsuneto/go-simple-changefeed/postgres"
	"github.com/shogotsuneto/go-simple-changefeed/sqlite"
)

func newTransport(cfg config.ServerConfig) (changefeed.Transport, error) {
	switch cfg.Client {
	case config.ClientFastHTTP:
		return fasthttptransport.New(fasthttptransport.Config{
			URL:      cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  cfg.Timeout,
		})
	default:
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = httptransport.DefaultClientTimeout
		}
		return httptransport.New(httptransport.Config{
			URL:      cfg.URL,
			Username: cfg.Username,
			Password: cfg.Password,
			Client:   &http.Client{Timeout: timeout},
		})
	}
}

// openCheckpointStore returns a nil store when checkpointing is disabled.
func openCheckpointStore(ctx context.Context, cfg config.CheckpointConfig) (changefeed.CheckpointStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewCheckpointStore(), noop, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		return store, store.Close, nil
	case config.DriverPostgres:
		store, err := postgres.NewCheckpointStore(postgres.Config{
			ConnectionString: cfg.DSN,
			TableName:        cfg.Table,
		})
		if err != nil {
			return nil, nil, errors.Trace(err)
		}
		if err := store.InitSchema(ctx); err != nil {
			_ = store.Close()
			return nil, nil, errors.Trace(err)
		}
		return store, store.Close, nil
	}
	return nil, noop, nil
}

// serveMetrics exposes registry on /metrics until the returned func is called.
func serveMetrics(listen string, registry *prometheus.Registry) (func(), error) {
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, errors.Annotatef(err, "listening for metrics on %s", listen)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(l); err != nil && err != http.ErrServerClosed {
			logger.Warningf("metrics server stopped: %v", err)
		}
	}()
	logger.Infof("serving metrics on %s", l.Addr())
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// follow runs one reader until it ends or ctx is cancelled.
func follow(ctx context.Context, cfg config.Config, stdout io.Writer) error {
	transport, err := newTransport(cfg.Server)
	if err != nil {
		return errors.Annotate(err, "creating transport")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := changefeed.NewMetrics(registry)
	if cfg.Metrics.Listen != "" {
		stop, err := serveMetrics(cfg.Metrics.Listen, registry)
		if err != nil {
			return errors.Trace(err)
		}
		defer stop()
	}

	cr, err := changefeed.NewChangesReader(changefeed.Config{
		Transport: transport,
		Database:  cfg.Database,
		Metrics:   metrics,
	})
	if err != nil {
		return errors.Trace(err)
	}

	readerCfg := cfg.Reader.ToReaderConfig()
	sinks := []changefeed.Sink{newPrinter(stdout)}

	if cfg.NATS.URL != "" {
		ns, err := natssink.Connect(natssink.Config{
			URL:      cfg.NATS.URL,
			Prefix:   cfg.NATS.Prefix,
			Name:     "changes-follow",
			Database: cfg.Database,
		})
		if err != nil {
			return errors.Trace(err)
		}
		defer func() {
			if err := ns.Close(); err != nil {
				logger.Warningf("closing NATS sink: %v", err)
			}
		}()
		sinks = append(sinks, ns)
	}

	store, closeStore, err := openCheckpointStore(ctx, cfg.Checkpoint)
	if err != nil {
		return errors.Annotate(err, "opening checkpoint store")
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warningf("closing checkpoint store: %v", err)
		}
	}()
	if store != nil {
		name := cfg.CheckpointName()
		since, err := changefeed.ResumeCursor(ctx, store, name, readerCfg.Since)
		if err != nil {
			return errors.Trace(err)
		}
		readerCfg.Since = since
		// Saved last, so a checkpoint never runs ahead of the output.
		sinks = append(sinks, changefeed.NewCheckpointSink(context.Background(), store, name))
	}

	mode, err := cfg.Reader.ParseMode()
	if err != nil {
		return errors.Trace(err)
	}

	readerCtx, cancelReader := context.WithCancel(context.Background())
	defer cancelReader()

	start := cr.Start
	if mode == changefeed.StopOnEmpty {
		start = cr.Get
	}
	r, err := start(readerCtx, readerCfg, changefeed.MultiSink(sinks...))
	if err != nil {
		return errors.Trace(err)
	}

	select {
	case <-ctx.Done():
		logger.Infof("stopping reader %s at %s", r.ID(), r.Cursor())
		r.Stop()
		cancelReader()
	case <-r.Done():
	}
	if err := r.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Annotatef(err, "reader %s", r.ID())
	}
	return nil
}
