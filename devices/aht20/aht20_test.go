package aht20

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tinygo.org/x/drivers"

	"devicekit-go/device"
	"devicekit-go/device/devicetest"
	"devicekit-go/drivers/aht20/aht20test"
	"devicekit-go/errcode"
	"devicekit-go/services/hub/registry"
	"devicekit-go/x/rtos"
)

func newDevice(t testing.TB, f *aht20test.Fake, opts ...device.Option) *Device {
	d := New(f, 0, opts...)
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestConformance(t *testing.T) {
	devicetest.RunAll(t, func(t testing.TB) device.Instance {
		return newDevice(t, aht20test.New())
	}, device.Temperature)
}

func TestCycleConvertsUnits(t *testing.T) {
	d := newDevice(t, aht20test.New())
	require.NoError(t, d.Initialize())

	start := time.Now()
	require.NoError(t, d.RequestData())
	require.Less(t, time.Since(start), 50*time.Millisecond, "request must not wait for conversion")
	require.NoError(t, d.WaitForData(time.Second))
	require.NoError(t, d.ProcessData())

	temp, err := d.GetData(device.Temperature).Value()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{25}, temp, 0.01)
	rh, err := d.GetData(device.Humidity).Value()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{55}, rh, 0.01)

	assert.Equal(t, errcode.Unsupported, d.GetData(device.Pressure).Code())
}

func TestSlowConversionIsRetried(t *testing.T) {
	f := aht20test.New()
	f.Conversion = 120 * time.Millisecond
	d := newDevice(t, f, device.WithCycleTiming(0, 0, 10*time.Millisecond, 10))
	require.NoError(t, d.Initialize())
	require.NoError(t, d.RequestData())
	require.NoError(t, d.WaitForData(time.Second))
}

func TestBusFailure(t *testing.T) {
	f := aht20test.New()
	d := newDevice(t, f)
	require.NoError(t, d.Initialize())

	f.SetNACK(true)
	require.ErrorIs(t, d.RequestData(), errcode.CommFailure)
	f.SetNACK(false)
	require.NoError(t, d.RequestData())
	require.NoError(t, d.WaitForData(time.Second))
}

func TestInitializeFailsWithoutSensor(t *testing.T) {
	f := aht20test.New()
	f.SetNACK(true)
	d := newDevice(t, f)
	require.ErrorIs(t, d.Initialize(), errcode.CommFailure)
	require.False(t, d.IsInitialized())
}

func TestCRCFailureSurfacesOnWait(t *testing.T) {
	f := aht20test.New()
	f.BadCRC = true
	d := newDevice(t, f)
	require.NoError(t, d.Initialize())
	require.NoError(t, d.RequestData())
	require.ErrorIs(t, d.WaitForData(time.Second), errcode.CommFailure)
}

func TestActions(t *testing.T) {
	f := aht20test.New()
	d := newDevice(t, f)
	require.NoError(t, d.Initialize())

	require.NoError(t, d.PerformAction(ActionSoftReset, 0))
	require.NoError(t, d.PerformAction(ActionReconfigure, 0))
	require.ErrorIs(t, d.PerformAction(-1, 0), errcode.Unsupported)
	require.ErrorIs(t, d.PerformAction(3, 0), errcode.Unsupported)

	_, resets, _ := f.Counts()
	assert.Equal(t, 1, resets)
}

func TestSharedBusSerialises(t *testing.T) {
	f := aht20test.New()
	bus := rtos.NewMutex()
	a := newDevice(t, f, device.WithInterfaceMutex(bus), device.WithLockTimeout(20*time.Millisecond))
	b := newDevice(t, f, device.WithInterfaceMutex(bus), device.WithLockTimeout(20*time.Millisecond))
	require.NoError(t, a.Initialize())
	require.NoError(t, b.Initialize())

	bus.Lock()
	require.ErrorIs(t, a.RequestData(), errcode.LockFailed)
	bus.Unlock()
	require.NoError(t, a.RequestData())
	require.NoError(t, a.WaitForData(time.Second))
	require.NoError(t, b.RequestData())
	require.NoError(t, b.WaitForData(time.Second))
}

func TestBuilder(t *testing.T) {
	b, ok := registry.Lookup("aht20")
	require.True(t, ok)
	f := aht20test.New()
	factory := func(id string) (drivers.I2C, error) {
		if id != "i2c0" {
			return nil, errcode.InvalidParam
		}
		return f, nil
	}

	out, err := b.Build(registry.BuildInput{
		Ctx: context.Background(), ID: "env0", BusID: "i2c0", I2C: factory,
		Params: map[string]any{"addr": 0x38},
	})
	require.NoError(t, err)
	defer out.Instance.Close()
	assert.Equal(t, Types, out.Types)
	require.NoError(t, out.Instance.Initialize())

	_, err = b.Build(registry.BuildInput{ID: "env1", I2C: factory})
	require.ErrorIs(t, err, errcode.InvalidParam)
	_, err = b.Build(registry.BuildInput{ID: "env2", BusID: "i2c9", I2C: factory})
	require.ErrorIs(t, err, errcode.CommFailure)
}
