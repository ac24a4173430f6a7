// Package aht20 adapts the AHT20 driver to the device contract.
package aht20

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"tinygo.org/x/drivers"

	"devicekit-go/device"
	"devicekit-go/drivers/aht20"
	"devicekit-go/errcode"
	"devicekit-go/x/mathx"
)

// Actions accepted by PerformAction.
const (
	ActionSoftReset   = 1
	ActionReconfigure = 2
)

// Types are the channels an AHT20 produces.
var Types = []device.DataType{device.Temperature, device.Humidity}

// Device is an AHT20 behind the device contract.
type Device struct {
	*device.Core[aht20.Sample]
}

// New wraps the sensor at addr on bus. Instances sharing bus must share the
// interface mutex (device.WithInterfaceMutex).
func New(bus drivers.I2C, addr uint16, opts ...device.Option) *Device {
	tr := &transport{drv: aht20.New(bus, addr)}
	opts = append([]device.Option{device.WithDataTypes(Types...)}, opts...)
	d := &Device{Core: device.NewCore[aht20.Sample](tr, opts...)}
	tr.log = d.Logger()
	return d
}

type transport struct {
	drv *aht20.Device
	log *zap.Logger
}

func (t *transport) Init(ctx context.Context) error {
	return t.drv.Configure(ctx)
}

func (t *transport) Trigger(ctx context.Context) (time.Duration, error) {
	if err := t.drv.Trigger(); err != nil {
		return 0, err
	}
	return aht20.DefaultTriggerHint, nil
}

func (t *transport) Collect(ctx context.Context) (aht20.Sample, error) {
	var s aht20.Sample
	err := t.drv.Collect(&s)
	if errors.Is(err, aht20.ErrNotReady) {
		return s, device.ErrNotReady
	}
	return s, err
}

func (t *transport) Process(s aht20.Sample) (device.Samples, error) {
	rh := mathx.Clamp(s.RelHumidity(), 0, 100)
	return device.Samples{
		device.Temperature: {s.Celsius()},
		device.Humidity:    {rh},
	}, nil
}

func (t *transport) Action(ctx context.Context, id, param int) error {
	switch id {
	case ActionSoftReset:
		if err := t.drv.Reset(ctx); err != nil {
			return err
		}
		return t.drv.Configure(ctx)
	case ActionReconfigure:
		return t.drv.Configure(ctx)
	}
	t.log.Debug("unsupported action", zap.Int("action", id))
	return errcode.Unsupported
}
