package device

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"devicekit-go/x/rtos"
)

// Config centralises per-instance timings and limits.
type Config struct {
	ID     string
	Logger *zap.Logger

	// LockTimeout bounds every lock acquisition; rtos.Forever waits.
	LockTimeout time.Duration
	// NotifyQueueLen bounds pending notifications; overflow is dropped.
	NotifyQueueLen int

	TriggerTimeout time.Duration
	CollectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int

	// Types restricts GetData to the listed channels; empty allows all.
	Types []DataType
	// InterfaceMutex, when set, is a bus lock shared with other instances
	// on the same physical bus. The bus owner keeps it alive.
	InterfaceMutex *rtos.Mutex
	// NoCallbacks makes the observer operations report Unsupported.
	NoCallbacks bool
}

type Option func(*Config)

func WithID(id string) Option { return func(c *Config) { c.ID = id } }
func WithLogger(l *zap.Logger) Option { return func(c *Config) { c.Logger = l } }
func WithLockTimeout(d time.Duration) Option { return func(c *Config) { c.LockTimeout = d } }
func WithNotifyQueueLen(n int) Option { return func(c *Config) { c.NotifyQueueLen = n } }
func WithDataTypes(ts ...DataType) Option { return func(c *Config) { c.Types = ts } }
func WithInterfaceMutex(m *rtos.Mutex) Option { return func(c *Config) { c.InterfaceMutex = m } }
func WithoutCallbacks() Option { return func(c *Config) { c.NoCallbacks = true } }

// WithCycleTiming overrides the trigger/collect timeouts and the retry policy
// for ErrNotReady collects. Non-positive values keep the defaults.
func WithCycleTiming(trigger, collect, backoff time.Duration, retries int) Option {
	return func(c *Config) {
		c.TriggerTimeout = trigger
		c.CollectTimeout = collect
		c.RetryBackoff = backoff
		c.MaxRetries = retries
	}
}

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = rtos.Forever
	}
	if c.NotifyQueueLen <= 0 {
		c.NotifyQueueLen = 16
	}
	if c.TriggerTimeout <= 0 {
		c.TriggerTimeout = 100 * time.Millisecond
	}
	if c.CollectTimeout <= 0 {
		c.CollectTimeout = 250 * time.Millisecond
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 15 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 6
	}
	return c
}
