//go:build linux

// Command pms7003d samples a PMS7003 sensor continuously, exports metrics
// and publishes window averages over MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	pms7003 "github.com/luhtfiimanal/go-pms7003"
	"github.com/luhtfiimanal/go-pms7003/internal/config"
	"github.com/luhtfiimanal/go-pms7003/internal/logging"
	"github.com/luhtfiimanal/go-pms7003/internal/metrics"
	"github.com/luhtfiimanal/go-pms7003/internal/publish"
	"github.com/luhtfiimanal/go-pms7003/internal/sampler"
)

func main() {
	configPath := flag.String("config", "", "Config file (YAML, TOML or JSON).")
	flag.Parse()

	// 1) config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	// 2) logger
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.With(zap.String("device", cfg.Serial.Device))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 3) metrics
	reg := metrics.NewRegistry()
	sensorMetrics := metrics.NewSensorMetrics(reg)
	var httpSrv *http.Server
	if cfg.Metrics.Enable {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, metrics.Handler(reg))
		httpSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", zap.Error(err))
			}
		}()
		log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr), zap.String("path", cfg.Metrics.Path))
	}

	// 4) publisher
	var sinks []sampler.Sink
	if cfg.MQTT.Enable {
		pub, err := publish.New(cfg.MQTT, log.Named("mqtt"))
		if err != nil {
			log.Fatal("mqtt setup failed", zap.Error(err))
		}
		go pub.ConnectRetry(ctx, 10*time.Second)
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	// 5) sampler
	open := func() (sampler.Source, error) {
		s, err := pms7003.Open(pms7003.Config{Device: cfg.Serial.Device, BaudRate: cfg.Serial.BaudRate})
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	smp := sampler.New(sampler.Config{
		ReadTimeout:          cfg.Serial.ReadTimeout,
		Window:               cfg.Sampler.Window,
		MaxConsecutiveErrors: cfg.Sampler.MaxConsecutiveErrors,
		ReopenInterval:       cfg.Sampler.ReopenInterval,
		MaxPM:                cfg.Sampler.MaxPM,
		MaxCount:             cfg.Sampler.MaxCount,
	}, open, log.Named("sampler"), sensorMetrics, sinks...)

	log.Info("sampling started")
	_ = smp.Run(ctx)
	log.Info("shutting down")

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
}
