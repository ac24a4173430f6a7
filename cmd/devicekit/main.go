// Command devicekit runs the device hub on the host: it loads configuration,
// builds the configured devices, polls them and publishes readings onto an
// in-process bus, optionally exposing Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"tinygo.org/x/drivers"

	"devicekit-go/bus"
	"devicekit-go/drivers/aht20/aht20test"
	"devicekit-go/internal/logging"
	"devicekit-go/services/config"
	"devicekit-go/services/heartbeat"
	"devicekit-go/services/hub"

	_ "devicekit-go/devices/aht20"
	_ "devicekit-go/devices/mock"
)

func main() {
	cfgPath := flag.String("config", "", "config file (default $DEVICEKIT_CONFIG or ./devicekit.yaml)")
	watch := flag.Bool("watch", false, "log every published reading")
	flag.Parse()

	if err := run(*cfgPath, *watch); err != nil {
		fmt.Fprintln(os.Stderr, "devicekit:", err)
		os.Exit(1)
	}
}

func run(cfgPath string, watch bool) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	b := bus.NewBus(64)
	config.Publish(b.NewConnection("config"), cfg)

	h := hub.New(b.NewConnection("hub"), hub.Options{
		Logger:     log,
		Registerer: reg,
		I2C:        simulatedI2C(),
	})
	defer func() { _ = h.Close() }()
	if err := h.Apply(ctx, cfg.Hub); err != nil {
		return err
	}

	var wg sync.WaitGroup
	if cfg.Metrics.Enable {
		srv := &http.Server{Addr: cfg.Metrics.Addr, ReadHeaderTimeout: 5 * time.Second}
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv.Handler = mux
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr), zap.String("path", cfg.Metrics.Path))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
			wg.Wait()
		}()
	}

	hbConn := b.NewConnection("heartbeat")
	go heartbeat.New(b, cfg.Heartbeat.Interval, log).Run(ctx, hbConn)

	if watch {
		go logReadings(ctx, b.NewConnection("watch"), log)
	}

	log.Info("devicekit started", zap.Strings("devices", h.IDs()))
	err = h.Run(ctx)
	log.Info("devicekit stopping")
	return err
}

func logReadings(ctx context.Context, conn *bus.Connection, log *zap.Logger) {
	sub := conn.Subscribe(bus.T("dev", "+", "value", "+"))
	defer conn.Disconnect()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-sub.Channel():
			if r, ok := m.Payload.(hub.Reading); ok {
				log.Info("reading", zap.Stringer("topic", m.Topic), zap.Float32s("values", r.Values))
			}
		}
	}
}

// simulatedI2C serves every named bus with a scripted AHT20 so the aht20
// device type runs on hosts without hardware.
func simulatedI2C() func(string) (drivers.I2C, error) {
	var mu sync.Mutex
	buses := map[string]*aht20test.Fake{}
	return func(id string) (drivers.I2C, error) {
		mu.Lock()
		defer mu.Unlock()
		f, ok := buses[id]
		if !ok {
			f = aht20test.New()
			buses[id] = f
		}
		return f, nil
	}
}
