// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package cmd

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"grimm.is/flowbridge/internal/api"
	"grimm.is/flowbridge/internal/bridge"
	"grimm.is/flowbridge/internal/capture"
	"grimm.is/flowbridge/internal/config"
	"grimm.is/flowbridge/internal/errors"
	"grimm.is/flowbridge/internal/logging"
	"grimm.is/flowbridge/internal/metrics"
)

const trafficSampleInterval = time.Second

// loadConfig reads path, or returns defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.LoadFile(path)
}

func setupLogging(cfg *config.Config) (*logging.Logger, error) {
	logCfg, err := cfg.LoggingConfig()
	if err != nil {
		return nil, err
	}
	logCfg.Output = Stderr
	logger := logging.New(logCfg)
	logging.SetDefault(logger)
	return logger, nil
}

// RunDaemon runs the bridge in the foreground until SIGINT or SIGTERM.
func RunDaemon(args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(Stderr)
	configPath := fs.String("config", "", "Path to config file (HCL, JSON or YAML)")
	noCapture := fs.Bool("no-capture", false, "Do not attach to the nfqueue (API only)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return errors.Wrap(err, errors.GetKind(err), "load config")
	}
	logger, err := setupLogging(cfg)
	if err != nil {
		return err
	}

	bcfg, err := cfg.BridgeSettings()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var ctrl *bridge.Controller
	m := metrics.NewMetrics(func() float64 {
		return float64(ctrl.Status().ConnectionCount)
	})
	if err := m.Register(reg); err != nil {
		return errors.Wrap(err, errors.KindInternal, "register metrics")
	}

	ctrl, err = bridge.New(bcfg, bridge.Options{Metrics: m, Logger: logger})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	traffic := metrics.NewCollector(ctrl.Totals, logger, trafficSampleInterval)
	go traffic.Start()
	defer traffic.Stop()

	if *cfg.Capture.Enabled && !*noCapture {
		stopCapture, err := startCapture(ctx, cfg, ctrl, logger)
		if err != nil {
			return err
		}
		defer stopCapture()
	}

	g, gctx := errgroup.WithContext(ctx)
	if *cfg.API.Enabled {
		srv, err := api.NewServer(api.ServerOptions{
			Bridge:       ctrl,
			Traffic:      traffic,
			Gatherer:     reg,
			StreamPeriod: cfg.StreamPeriod(),
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.ListenAndServe(gctx, cfg.API.Listen) })
	}
	g.Go(func() error {
		<-gctx.Done()
		if ctx.Err() != nil {
			logger.Info("shutting down")
		}
		return nil
	})

	logger.Info("flowbridge running", "version", bridge.Version, "instance", ctrl.InstanceID())
	return g.Wait()
}

// startCapture attaches the live packet source and, if configured, installs
// the steering rules. The returned func undoes both.
func startCapture(ctx context.Context, cfg *config.Config, ctrl *bridge.Controller, logger *logging.Logger) (func(), error) {
	qcfg := cfg.QueueSettings()
	reader, err := capture.NewSource(qcfg, ctrl, logger)
	if err != nil {
		return nil, err
	}
	if err := reader.Start(ctx); err != nil {
		return nil, err
	}

	if !*cfg.Capture.Steer {
		return reader.Stop, nil
	}

	steering, err := capture.NewSteering(qcfg.QueueNum, qcfg.Mode, logger)
	if err != nil {
		reader.Stop()
		return nil, err
	}
	if err := steering.Apply(ctrl.Status().TargetAddr); err != nil {
		reader.Stop()
		return nil, err
	}
	ctrl.OnTargetChange(steering.Apply)

	return func() {
		// Rules go first so the kernel stops queueing before the reader leaves.
		if err := steering.Remove(); err != nil {
			logger.WithError(err).Warn("remove steering rules")
		}
		reader.Stop()
	}, nil
}
