package device

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"devicekit-go/errcode"
	"devicekit-go/x/rtos"
	"devicekit-go/x/timex"
)

type phase uint8

const (
	phaseIdle      phase = iota
	phaseRequested       // trigger issued, result not yet collected
	phaseReady           // raw frame collected, BitDataReady set
	phaseProcessed       // samples available to GetData
)

// Core is the shared acquisition-cycle helper. It implements Instance for any
// Transport and owns the instance mutex, the event group and the notification
// worker. The interface mutex is owned too unless a shared one is supplied.
//
// Lock order where both are held: interface mutex, then instance mutex.
type Core[R any] struct {
	id  string
	tr  Transport[R]
	cfg Config
	log *zap.Logger

	supported map[DataType]bool // nil: every valid type

	imu *rtos.Mutex
	bmu *rtos.Mutex
	eg  *rtos.EventGroup
	ntf *notifier

	ctx    context.Context // cancelled by Close
	cancel context.CancelFunc
	acq    sync.WaitGroup // in-flight acquisitions

	initialized atomic.Bool

	// guarded by imu
	closed  bool
	ph      phase
	gen     uint64 // bumped per request and on Reset
	raw     R
	samples Samples
	lastErr errcode.Code
	cbs     []Callback
	enabled [NumEventTypes]bool
}

var _ Instance = (*Core[struct{}])(nil)

// NewCore builds an instance around tr. Resources are created here, not in
// Initialize.
func NewCore[R any](tr Transport[R], opts ...Option) *Core[R] {
	var cfg Config
	for _, o := range opts {
		o(&cfg)
	}
	cfg = cfg.withDefaults()

	c := &Core[R]{
		id:  cfg.ID,
		tr:  tr,
		cfg: cfg,
		log: cfg.Logger.Named("device").With(zap.String("id", cfg.ID)),
		imu: rtos.NewMutex(),
		bmu: cfg.InterfaceMutex,
		eg:  rtos.NewEventGroup(),
	}
	if c.bmu == nil {
		c.bmu = rtos.NewMutex()
	}
	if len(cfg.Types) > 0 {
		c.supported = make(map[DataType]bool, len(cfg.Types))
		for _, t := range cfg.Types {
			c.supported[t] = true
		}
	}
	for i := range c.enabled {
		c.enabled[i] = true
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.ntf = newNotifier(cfg.NotifyQueueLen, c.log)
	c.log.Debug("created", zap.Int("notify_queue", cfg.NotifyQueueLen))
	return c
}

func (c *Core[R]) ID() string { return c.id }

func (c *Core[R]) InstanceMutex() *rtos.Mutex    { return c.imu }
func (c *Core[R]) InterfaceMutex() *rtos.Mutex   { return c.bmu }
func (c *Core[R]) EventGroup() *rtos.EventGroup { return c.eg }

// Transport exposes the peripheral adapter to the embedding family.
func (c *Core[R]) Transport() Transport[R] { return c.tr }

// Logger is the instance logger, named and tagged with the instance ID.
func (c *Core[R]) Logger() *zap.Logger { return c.log }

func (c *Core[R]) lockInstance(op string) error {
	if !c.imu.LockTimeout(c.cfg.LockTimeout) {
		c.log.Warn("instance lock timeout", zap.String("op", op))
		return errcode.LockFailed
	}
	return nil
}

func (c *Core[R]) lockInterface(op string) error {
	if !c.bmu.LockTimeout(c.cfg.LockTimeout) {
		c.log.Warn("interface lock timeout", zap.String("op", op))
		return errcode.LockFailed
	}
	return nil
}

// ---- Lifecycle ----

// Initialize brings the peripheral up once; later calls return nil.
func (c *Core[R]) Initialize() error {
	if c.imu == nil || c.bmu == nil || c.eg == nil || c.ntf == nil || c.tr == nil {
		return errcode.MemoryFailure
	}
	if c.initialized.Load() {
		return nil
	}
	// The interface lock serialises concurrent initialisers and the bus.
	if err := c.lockInterface("initialize"); err != nil {
		return err
	}
	defer c.bmu.Unlock()
	if c.initialized.Load() {
		return nil
	}
	if c.isClosed() {
		return errcode.NotInitialized
	}

	c.log.Info("initializing")
	if err := c.tr.Init(c.ctx); err != nil {
		code := errcode.MapDriverErr(err)
		c.log.Error("initialization failed", zap.Error(err), zap.Stringer("code", code))
		c.imu.Lock()
		c.emitLocked(EventError, code, 0)
		c.imu.Unlock()
		return code
	}

	if err := c.lockInstance("initialize"); err != nil {
		return err
	}
	defer c.imu.Unlock()
	if c.closed {
		return errcode.NotInitialized
	}
	c.initialized.Store(true)
	c.eg.Set(BitInitialized)
	c.emitLocked(EventInitialized, errcode.OK, 0)
	c.log.Info("initialized")
	return nil
}

func (c *Core[R]) IsInitialized() bool { return c.initialized.Load() }

func (c *Core[R]) WaitForInitializationComplete(timeout time.Duration) error {
	if _, err := c.eg.WaitTimeout(BitInitialized, timeout, rtos.WaitOpts{}); err != nil {
		return errcode.Timeout
	}
	return nil
}

func (c *Core[R]) isClosed() bool {
	c.imu.Lock()
	defer c.imu.Unlock()
	return c.closed
}

// Close waits for in-flight acquisitions, checks both locks are free, and
// stops the notification worker after it has drained. Further operations
// report NotInitialized.
func (c *Core[R]) Close() error {
	c.imu.Lock()
	if c.closed {
		c.imu.Unlock()
		return nil
	}
	c.closed = true
	c.imu.Unlock()

	c.cancel()
	c.acq.Wait()

	c.bmu.Lock()
	c.imu.Lock()
	c.ph = phaseIdle
	c.cbs = nil
	c.lastErr = errcode.NotInitialized
	c.eg.Set(BitError) // release anyone still in WaitForData
	c.imu.Unlock()
	c.bmu.Unlock()

	// Outside the locks: an observer may still call back into the instance.
	c.ntf.close()
	c.log.Debug("closed")
	return nil
}

// Reset returns the instance to its constructed, uninitialised state.
// Observers and event enables are kept. An in-flight acquisition is
// abandoned.
func (c *Core[R]) Reset() {
	c.imu.Lock()
	defer c.imu.Unlock()
	var zero R
	c.initialized.Store(false)
	c.gen++
	c.ph = phaseIdle
	c.raw = zero
	c.samples = nil
	c.lastErr = errcode.OK
	c.eg.Clear(BitInitialized | BitDataReady | BitError)
	c.log.Debug("reset")
}

// ---- Acquisition cycle ----

// RequestData starts one acquisition. It never waits for the conversion: a
// non-zero collect delay is served by a background goroutine. A request
// while a previous one is still converting reports Busy.
func (c *Core[R]) RequestData() error {
	if err := c.lockInstance("request"); err != nil {
		return err
	}
	if !c.initialized.Load() || c.closed {
		c.imu.Unlock()
		c.log.Error("request before initialize")
		return errcode.NotInitialized
	}
	if c.ph == phaseRequested {
		c.imu.Unlock()
		c.log.Debug("request while acquisition outstanding")
		return errcode.Busy
	}
	c.ph = phaseRequested
	c.gen++
	gen := c.gen
	c.samples = nil
	c.eg.Clear(BitDataReady | BitError)
	c.acq.Add(1) // registered before Close can observe closed
	c.imu.Unlock()

	after, err := c.trigger()
	if err != nil {
		code := errcode.MapDriverErr(err)
		c.log.Debug("trigger failed", zap.Error(err))
		c.fail(gen, code)
		c.acq.Done()
		return code
	}

	if after > 0 {
		c.log.Debug("acquisition deferred", zap.Duration("after", after))
		go c.acquire(gen, after)
		return nil
	}

	raw, err := c.collect()
	switch {
	case err == nil:
		c.complete(gen, raw)
		c.acq.Done()
	case errors.Is(err, ErrNotReady):
		go c.acquire(gen, c.cfg.RetryBackoff)
	default:
		c.fail(gen, errcode.MapDriverErr(err))
		c.acq.Done()
	}
	return nil
}

func (c *Core[R]) trigger() (time.Duration, error) {
	if err := c.lockInterface("trigger"); err != nil {
		return 0, err
	}
	defer c.bmu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.TriggerTimeout)
	defer cancel()
	return c.tr.Trigger(ctx)
}

func (c *Core[R]) collect() (R, error) {
	if err := c.lockInterface("collect"); err != nil {
		var zero R
		return zero, err
	}
	defer c.bmu.Unlock()
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.CollectTimeout)
	defer cancel()
	return c.tr.Collect(ctx)
}

// acquire waits for the conversion, then collects with bounded retries.
func (c *Core[R]) acquire(gen uint64, after time.Duration) {
	defer c.acq.Done()
	done := c.ctx.Done()
	t := time.NewTimer(time.Hour)
	defer t.Stop()

	if !timex.SleepContext(done, t, after) {
		c.abandon(gen)
		return
	}
	for retries := 0; ; retries++ {
		raw, err := c.collect()
		switch {
		case err == nil:
			c.complete(gen, raw)
			return
		case errors.Is(err, ErrNotReady) && retries < c.cfg.MaxRetries:
			if !timex.SleepContext(done, t, c.cfg.RetryBackoff) {
				c.abandon(gen)
				return
			}
		case errors.Is(err, ErrNotReady):
			c.log.Warn("collect retries exhausted", zap.Int("retries", retries))
			c.fail(gen, errcode.Timeout)
			return
		default:
			c.log.Debug("collect failed", zap.Error(err))
			c.fail(gen, errcode.MapDriverErr(err))
			return
		}
	}
}

// complete, fail and abandon ignore results from a superseded cycle.
func (c *Core[R]) complete(gen uint64, raw R) {
	c.imu.Lock()
	defer c.imu.Unlock()
	if c.gen != gen || c.ph != phaseRequested || c.closed {
		return
	}
	c.raw = raw
	c.ph = phaseReady
	c.lastErr = errcode.OK
	c.eg.Set(BitDataReady)
	c.emitLocked(EventDataReady, errcode.OK, 0)
}

func (c *Core[R]) fail(gen uint64, code errcode.Code) {
	c.imu.Lock()
	defer c.imu.Unlock()
	if c.gen != gen {
		return
	}
	if c.ph == phaseRequested {
		c.ph = phaseIdle
	}
	c.lastErr = code
	c.eg.Set(BitError)
	c.emitLocked(EventError, code, 0)
}

func (c *Core[R]) abandon(gen uint64) {
	c.imu.Lock()
	defer c.imu.Unlock()
	if c.gen == gen && c.ph == phaseRequested {
		c.ph = phaseIdle
	}
}

// WaitForData blocks until the data-ready or error bit is set. Bits are not
// consumed, so concurrent waiters all observe the same completion.
func (c *Core[R]) WaitForData(timeout time.Duration) error {
	if !c.initialized.Load() {
		return errcode.NotInitialized
	}
	bits, _ := c.eg.WaitTimeout(BitDataReady|BitError, timeout, rtos.WaitOpts{})
	switch {
	case bits&BitDataReady != 0:
		return nil
	case bits&BitError != 0:
		if err := c.lockInstance("wait"); err != nil {
			return err
		}
		code := c.lastErr
		c.imu.Unlock()
		if code == errcode.OK {
			code = errcode.Unknown
		}
		return code
	}
	return errcode.Timeout
}

// ProcessData converts the collected frame into samples. Calling it again
// for the same cycle is a no-op.
func (c *Core[R]) ProcessData() error {
	if err := c.lockInstance("process"); err != nil {
		return err
	}
	defer c.imu.Unlock()
	if !c.initialized.Load() || c.closed {
		return errcode.NotInitialized
	}
	switch c.ph {
	case phaseProcessed:
		return nil
	case phaseReady:
	default:
		c.log.Warn("process without collected data")
		return errcode.DataNotReady
	}

	s, err := c.tr.Process(c.raw)
	if err != nil {
		code := errcode.MapDriverErr(err)
		c.log.Warn("process failed", zap.Error(err))
		c.ph = phaseIdle
		c.lastErr = code
		c.emitLocked(EventError, code, 0)
		return code
	}
	c.samples = s.Clone()
	c.ph = phaseProcessed
	c.log.Debug("processed", zap.Int("types", len(s)))
	return nil
}

// GetData returns a copy of the samples for t from the last processed cycle.
func (c *Core[R]) GetData(t DataType) Result[[]float32] {
	if err := c.lockInstance("get"); err != nil {
		return Fail[[]float32](errcode.LockFailed)
	}
	defer c.imu.Unlock()
	switch {
	case !c.initialized.Load() || c.closed:
		c.log.Error("get before initialize")
		return Fail[[]float32](errcode.NotInitialized)
	case !IsValidDataType(int(t)):
		return Fail[[]float32](errcode.InvalidParam)
	case c.supported != nil && !c.supported[t]:
		return Fail[[]float32](errcode.Unsupported)
	case c.ph != phaseProcessed:
		c.log.Warn("get before process", zap.Stringer("type", t))
		return Fail[[]float32](errcode.DataNotReady)
	}
	v, ok := c.samples[t]
	if !ok {
		c.log.Warn("no data for type", zap.Stringer("type", t))
		return Fail[[]float32](errcode.DataNotReady)
	}
	c.log.Debug("get", zap.Stringer("type", t), zap.Int("n", len(v)))
	return Ok(slices.Clone(v))
}

// ---- Actions ----

// PerformAction forwards a device-specific action to the transport and emits
// a state-changed notification carrying actionID. The valid ID range is
// defined by each family.
func (c *Core[R]) PerformAction(actionID, param int) error {
	if !c.initialized.Load() {
		c.log.Error("action before initialize", zap.Int("action", actionID))
		return errcode.NotInitialized
	}
	act, ok := c.tr.(Actor)
	if !ok {
		return errcode.Unsupported
	}
	if err := c.lockInterface("action"); err != nil {
		return err
	}
	err := act.Action(c.ctx, actionID, param)
	c.bmu.Unlock()
	if err != nil {
		return errcode.MapDriverErr(err)
	}

	if err := c.lockInstance("action"); err != nil {
		return err
	}
	defer c.imu.Unlock()
	if c.closed {
		return errcode.NotInitialized
	}
	c.emitLocked(EventStateChanged, errcode.OK, actionID)
	c.log.Info("action performed", zap.Int("action", actionID), zap.Int("param", param))
	return nil
}

// ---- Observers ----

func (c *Core[R]) RegisterCallback(cb Callback) error {
	if c.cfg.NoCallbacks {
		return errcode.Unsupported
	}
	if cb == nil {
		return errcode.InvalidParam
	}
	if err := c.lockInstance("register"); err != nil {
		return err
	}
	defer c.imu.Unlock()
	if c.closed {
		return errcode.NotInitialized
	}
	c.cbs = append(c.cbs, cb)
	return nil
}

func (c *Core[R]) UnregisterCallbacks() error {
	if c.cfg.NoCallbacks {
		return errcode.Unsupported
	}
	if err := c.lockInstance("unregister"); err != nil {
		return err
	}
	defer c.imu.Unlock()
	c.cbs = nil
	return nil
}

func (c *Core[R]) SetEventNotification(t EventType, enable bool) error {
	if !t.Valid() {
		return errcode.InvalidParam
	}
	if c.cfg.NoCallbacks {
		return errcode.Unsupported
	}
	if err := c.lockInstance("set_event"); err != nil {
		return err
	}
	defer c.imu.Unlock()
	c.enabled[t] = enable
	return nil
}

// CallbackCount reports the number of registered observers.
func (c *Core[R]) CallbackCount() int {
	c.imu.Lock()
	defer c.imu.Unlock()
	return len(c.cbs)
}

// Stats reports notification counters.
func (c *Core[R]) Stats() Stats { return c.ntf.stats() }

// FlushNotifications waits until queued notifications have been delivered.
// rtos.Forever waits indefinitely.
func (c *Core[R]) FlushNotifications(timeout time.Duration) bool {
	return c.ntf.flush(timeout)
}

// emitLocked queues a notification for the enabled observers. imu must be
// held; delivery happens later on the notifier goroutine.
func (c *Core[R]) emitLocked(t EventType, code errcode.Code, data int) {
	if c.closed || !c.enabled[t] || len(c.cbs) == 0 {
		return
	}
	d := dispatch{
		n:   EventNotification{Type: t, Err: code, Data: data},
		cbs: slices.Clone(c.cbs),
	}
	if !c.ntf.post(d) {
		c.log.Warn("notification dropped", zap.Stringer("event", t))
	}
}
