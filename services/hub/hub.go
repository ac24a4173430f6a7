// Package hub owns a set of device instances built from configuration,
// drives their acquisition cycles and publishes readings, status and events
// onto the bus.
package hub

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"devicekit-go/bus"
	"devicekit-go/device"
	"devicekit-go/errcode"
	"devicekit-go/services/config"
	"devicekit-go/services/hub/registry"
	"devicekit-go/x/rtos"
)

const devPrefix = "dev"

// Reading is the retained payload on dev/<id>/value/<type>.
type Reading struct {
	Type   string
	Values []float32
	Time   time.Time
}

// Status is the retained payload on dev/<id>/status.
type Status struct {
	State    string // up | degraded | down
	Err      string // last failure code, "" when up
	Failures int    // consecutive failed cycles
}

// Event is the payload on dev/<id>/event/<type>.
type Event struct {
	Type string
	Err  string
	Data int
}

type Options struct {
	Logger *zap.Logger
	// Registerer receives the hub metrics; nil uses a private registry.
	Registerer prometheus.Registerer
	I2C        registry.I2CFactory
	// DeviceOptions are applied to every instance before per-device ones.
	DeviceOptions []device.Option
}

type entry struct {
	id    string
	typ   string
	inst  device.Instance
	types []device.DataType

	mu       sync.Mutex // serialises cycles on this device
	failures int
}

type Hub struct {
	conn    *bus.Connection
	log     *zap.Logger
	opts    Options
	metrics *metrics

	mu       sync.RWMutex
	cfg      config.HubConfig
	limiter  *rate.Limiter
	devices  map[string]*entry
	order    []string
	busLocks map[string]*rtos.Mutex
	closed   bool
}

func New(conn *bus.Connection, opts Options) *Hub {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	return &Hub{
		conn:     conn,
		log:      opts.Logger.Named("hub"),
		opts:     opts,
		metrics:  newMetrics(opts.Registerer),
		devices:  map[string]*entry{},
		busLocks: map[string]*rtos.Mutex{},
	}
}

// Apply builds, wires and initialises the configured devices. Build errors
// abort; initialisation failures leave the device "down" and are retried by
// later cycles.
func (h *Hub) Apply(ctx context.Context, cfg config.HubConfig) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return errcode.NotInitialized
	}
	h.cfg = cfg
	if cfg.MaxCyclesPerSecond > 0 {
		burst := max(cfg.Burst, 1)
		h.limiter = rate.NewLimiter(rate.Limit(cfg.MaxCyclesPerSecond), burst)
	} else {
		h.limiter = nil
	}
	built := make([]*entry, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		e, err := h.buildLocked(ctx, dc)
		if err != nil {
			h.mu.Unlock()
			for _, b := range built {
				h.remove(b.id)
			}
			return err
		}
		built = append(built, e)
	}
	h.metrics.devices.Set(float64(len(h.devices)))
	h.mu.Unlock()

	for _, e := range built {
		h.initialize(e)
	}
	return nil
}

func (h *Hub) buildLocked(ctx context.Context, dc config.DeviceConfig) (*entry, error) {
	if _, dup := h.devices[dc.ID]; dup {
		return nil, &errcode.E{C: errcode.InvalidParam, Op: "hub.apply", Msg: "duplicate device " + dc.ID}
	}
	b, ok := registry.Lookup(dc.Type)
	if !ok {
		return nil, &errcode.E{C: errcode.Unsupported, Op: "hub.apply", Msg: "unknown device type " + dc.Type}
	}

	var busMu *rtos.Mutex
	if dc.Bus != "" {
		busMu = h.busLocks[dc.Bus]
		if busMu == nil {
			busMu = rtos.NewMutex()
			h.busLocks[dc.Bus] = busMu
		}
	}
	opts := slices.Clone(h.opts.DeviceOptions)
	if h.cfg.LockTimeout > 0 {
		opts = append(opts, device.WithLockTimeout(h.cfg.LockTimeout))
	}
	if h.cfg.NotifyQueueLen > 0 {
		opts = append(opts, device.WithNotifyQueueLen(h.cfg.NotifyQueueLen))
	}
	out, err := b.Build(registry.BuildInput{
		Ctx:      ctx,
		ID:       dc.ID,
		Type:     dc.Type,
		Params:   dc.Params,
		BusID:    dc.Bus,
		BusMutex: busMu,
		I2C:      h.opts.I2C,
		Logger:   h.opts.Logger,
		Options:  opts,
	})
	if err != nil {
		h.log.Error("build failed", zap.String("device", dc.ID), zap.String("type", dc.Type), zap.Error(err))
		return nil, fmt.Errorf("device %s: %w", dc.ID, err)
	}

	e := &entry{id: dc.ID, typ: dc.Type, inst: out.Instance, types: out.Types}
	if err := e.inst.RegisterCallback(h.observer(e.id)); err != nil && !errors.Is(err, errcode.Unsupported) {
		_ = e.inst.Close()
		return nil, fmt.Errorf("device %s: %w", dc.ID, err)
	}
	h.devices[e.id] = e
	h.order = append(h.order, e.id)
	h.log.Info("device added", zap.String("device", e.id), zap.String("type", e.typ), zap.String("bus", dc.Bus))
	return e, nil
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	e := h.devices[id]
	delete(h.devices, id)
	h.order = slices.DeleteFunc(h.order, func(s string) bool { return s == id })
	h.mu.Unlock()
	if e != nil {
		_ = e.inst.Close()
	}
}

// observer publishes device notifications. It runs on the device's
// notification worker.
func (h *Hub) observer(id string) device.Callback {
	return func(n device.EventNotification) {
		h.metrics.events.WithLabelValues(id, n.Type.String()).Inc()
		ev := Event{Type: n.Type.String(), Data: n.Data}
		if n.Err != errcode.OK {
			ev.Err = n.Err.String()
		}
		h.conn.Publish(bus.NewMessage(bus.T(devPrefix, id, "event", ev.Type), ev, false))
	}
}

func (h *Hub) initialize(e *entry) error {
	err := e.inst.Initialize()
	if err == nil {
		err = e.inst.WaitForInitializationComplete(h.initTimeout())
	}
	if err != nil {
		h.log.Warn("device initialisation failed", zap.String("device", e.id), zap.Error(err))
		h.publishStatus(e, "down", errcode.Of(err))
		return err
	}
	h.publishStatus(e, "up", errcode.OK)
	return nil
}

func (h *Hub) initTimeout() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cfg.InitTimeout > 0 {
		return h.cfg.InitTimeout
	}
	return 2 * time.Second
}

func (h *Hub) waitTimeout() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.cfg.WaitTimeout > 0 {
		return h.cfg.WaitTimeout
	}
	return time.Second
}

func (h *Hub) publishStatus(e *entry, state string, code errcode.Code) {
	st := Status{State: state, Failures: e.failures}
	if code != errcode.OK {
		st.Err = code.String()
	}
	h.conn.Publish(bus.NewMessage(bus.T(devPrefix, e.id, "status"), st, true))
}

// Device returns the instance registered under id.
func (h *Hub) Device(id string) (device.Instance, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.devices[id]
	if !ok {
		return nil, false
	}
	return e.inst, true
}

// IDs returns device IDs in configuration order.
func (h *Hub) IDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(h.order)
}

// Cycle runs one acquisition cycle on id and publishes the readings.
func (h *Hub) Cycle(ctx context.Context, id string) error {
	h.mu.RLock()
	e, ok := h.devices[id]
	lim := h.limiter
	h.mu.RUnlock()
	if !ok {
		return &errcode.E{C: errcode.InvalidParam, Op: "hub.cycle", Msg: "unknown device " + id}
	}
	if lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return err
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.inst.IsInitialized() {
		if err := h.initialize(e); err != nil {
			return err
		}
	}

	start := time.Now()
	readings, err := h.acquire(e)
	code := errcode.Of(err)
	h.metrics.cycles.WithLabelValues(id, code.String()).Inc()
	h.metrics.duration.WithLabelValues(id).Observe(time.Since(start).Seconds())

	if err != nil {
		e.failures++
		h.log.Debug("cycle failed", zap.String("device", id), zap.Stringer("code", code))
		h.publishStatus(e, "degraded", code)
		return err
	}
	wasDegraded := e.failures > 0
	e.failures = 0
	for _, r := range readings {
		h.conn.Publish(bus.NewMessage(bus.T(devPrefix, id, "value", r.Type), r, true))
	}
	if wasDegraded {
		h.publishStatus(e, "up", errcode.OK)
	}
	return nil
}

func (h *Hub) acquire(e *entry) ([]Reading, error) {
	if err := e.inst.RequestData(); err != nil {
		return nil, err
	}
	if err := e.inst.WaitForData(h.waitTimeout()); err != nil {
		return nil, err
	}
	if err := e.inst.ProcessData(); err != nil {
		return nil, err
	}
	now := time.Now()
	out := make([]Reading, 0, len(e.types))
	for _, t := range e.types {
		v, err := e.inst.GetData(t).Value()
		if err != nil {
			return nil, err
		}
		out = append(out, Reading{Type: t.String(), Values: v, Time: now})
	}
	return out, nil
}

// CycleAll runs one cycle on every device in parallel. Per-device failures
// are logged and published, not returned.
func (h *Hub) CycleAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range h.IDs() {
		g.Go(func() error {
			err := h.Cycle(gctx, id)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				h.log.Debug("cycle error", zap.String("device", id), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

// Run cycles every device each poll interval until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	h.mu.RLock()
	every := h.cfg.PollInterval
	h.mu.RUnlock()
	if every <= 0 {
		return &errcode.E{C: errcode.InvalidParam, Op: "hub.run", Msg: "poll interval must be positive"}
	}
	t := time.NewTicker(every)
	defer t.Stop()
	h.log.Info("running", zap.Duration("every", every), zap.Int("devices", len(h.IDs())))
	for {
		if err := h.CycleAll(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Close closes every device. The hub is unusable afterwards.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	devs := make([]*entry, 0, len(h.order))
	for _, id := range h.order {
		devs = append(devs, h.devices[id])
	}
	h.devices = map[string]*entry{}
	h.order = nil
	h.metrics.devices.Set(0)
	h.mu.Unlock()

	var errs []error
	for _, e := range devs {
		e.mu.Lock()
		errs = append(errs, e.inst.Close())
		e.mu.Unlock()
		h.conn.Publish(bus.NewMessage(bus.T(devPrefix, e.id, "status"), Status{State: "down"}, true))
	}
	return errors.Join(errs...)
}
