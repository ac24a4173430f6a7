// Package registry maps device type names to builders. Device families
// register themselves from init; the hub looks them up while applying
// configuration.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"
	"tinygo.org/x/drivers"

	"devicekit-go/device"
	"devicekit-go/errcode"
	"devicekit-go/x/rtos"
)

// I2CFactory resolves a named bus to a driver-level I2C handle.
type I2CFactory func(busID string) (drivers.I2C, error)

// BuildInput is passed to a device builder.
type BuildInput struct {
	Ctx    context.Context
	ID     string
	Type   string
	Params map[string]any

	// BusID is "" for devices not on a shared bus. BusMutex is the interface
	// lock shared by every device on BusID.
	BusID    string
	BusMutex *rtos.Mutex
	I2C      I2CFactory

	Logger *zap.Logger
	// Options carries hub-wide instance options (queue length, logger...).
	Options []device.Option
}

// DeviceOptions returns the hub-wide options plus the identity and bus lock
// every builder should apply.
func (in BuildInput) DeviceOptions(extra ...device.Option) []device.Option {
	opts := append([]device.Option(nil), in.Options...)
	opts = append(opts, device.WithID(in.ID))
	if in.Logger != nil {
		opts = append(opts, device.WithLogger(in.Logger))
	}
	if in.BusMutex != nil {
		opts = append(opts, device.WithInterfaceMutex(in.BusMutex))
	}
	return append(opts, extra...)
}

// BuildOutput describes a constructed device.
type BuildOutput struct {
	Instance device.Instance
	// Types lists the channels the hub publishes after each cycle.
	Types []device.DataType
}

// Builder creates a device instance from config.
type Builder interface {
	Build(in BuildInput) (BuildOutput, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(in BuildInput) (BuildOutput, error)

func (f BuilderFunc) Build(in BuildInput) (BuildOutput, error) { return f(in) }

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

func RegisterBuilder(deviceType string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builders[deviceType]; exists {
		panic(fmt.Sprintf("device builder already registered for type %q", deviceType))
	}
	builders[deviceType] = b
}

func Lookup(deviceType string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[deviceType]
	return b, ok
}

// Types returns the registered device types, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(builders))
	for k := range builders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DecodeParams decodes a loosely typed params map into out. Durations accept
// strings such as "150ms"; unknown keys are rejected.
func DecodeParams(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return &errcode.E{C: errcode.InvalidParam, Op: "decode_params", Err: err}
	}
	return nil
}
