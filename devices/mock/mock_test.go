package mock

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devicekit-go/device"
	"devicekit-go/device/devicetest"
	"devicekit-go/errcode"
)

func newReady(t *testing.T, dataDelay time.Duration) *Device {
	t.Helper()
	d := New(0, dataDelay)
	t.Cleanup(func() { _ = d.Close() })
	d.SetTestData(device.Temperature, []float32{25.5, 26.0, 24.8})
	require.NoError(t, d.Initialize())
	return d
}

type events struct {
	mu  sync.Mutex
	got []device.EventNotification
}

func (e *events) cb(n device.EventNotification) {
	e.mu.Lock()
	e.got = append(e.got, n)
	e.mu.Unlock()
}

func (e *events) count(t device.EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.got {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (e *events) last() device.EventNotification {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.got[len(e.got)-1]
}

func TestConformance(t *testing.T) {
	for _, delay := range []time.Duration{0, 5 * time.Millisecond} {
		t.Run(delay.String(), func(t *testing.T) {
			devicetest.RunAll(t, func(t testing.TB) device.Instance {
				d := New(0, delay)
				t.Cleanup(func() { _ = d.Close() })
				d.SetTestData(device.Temperature, []float32{21})
				return d
			}, device.Temperature)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	for _, delay := range []time.Duration{0, 10 * time.Millisecond} {
		d := newReady(t, delay)
		want := []float32{1.5, -3.25, 0, 1e3}
		d.SetTestData(device.Pressure, want)

		require.NoError(t, d.RequestData())
		require.NoError(t, d.WaitForData(time.Second))
		require.NoError(t, d.ProcessData())
		got, err := d.GetData(device.Pressure).Value()
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 0.01)

		temp, err := d.GetData(device.Temperature).Value()
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float32{25.5, 26.0, 24.8}, temp, 0.01)
	}
}

func TestUnconfiguredTypeNotReady(t *testing.T) {
	d := newReady(t, 0)
	require.NoError(t, d.RequestData())
	require.NoError(t, d.WaitForData(time.Second))
	require.NoError(t, d.ProcessData())
	assert.Equal(t, errcode.DataNotReady, d.GetData(device.Humidity).Code())
}

func TestGetDataBeforeProcess(t *testing.T) {
	d := newReady(t, 0)
	require.NoError(t, d.RequestData())
	require.NoError(t, d.WaitForData(time.Second))
	assert.Equal(t, errcode.DataNotReady, d.GetData(device.Temperature).Code())
}

func TestNoStaleDataFromPriorCycle(t *testing.T) {
	d := newReady(t, 10*time.Millisecond)
	require.NoError(t, d.RequestData())
	require.NoError(t, d.WaitForData(time.Second))
	require.NoError(t, d.ProcessData())
	require.True(t, d.GetData(device.Temperature).OK())

	d.SetTestData(device.Temperature, []float32{99})
	require.NoError(t, d.RequestData())
	assert.Equal(t, errcode.DataNotReady, d.GetData(device.Temperature).Code())
	require.NoError(t, d.WaitForData(time.Second))
	require.NoError(t, d.ProcessData())
	v, _ := d.GetData(device.Temperature).Value()
	assert.Equal(t, []float32{99}, v)
}

func TestNotInitialized(t *testing.T) {
	d := New(0, 0)
	defer d.Close()
	assert.False(t, d.IsInitialized())
	require.ErrorIs(t, d.RequestData(), errcode.NotInitialized)
	require.ErrorIs(t, d.PerformAction(1, 1), errcode.NotInitialized)
	assert.Equal(t, errcode.NotInitialized, d.GetData(device.Temperature).Code())
	assert.Empty(t, d.PerformedActions())
}

func TestInitializationDelay(t *testing.T) {
	d := New(30*time.Millisecond, 0)
	defer d.Close()
	ready := make(chan error, 1)
	go func() { ready <- d.WaitForInitializationComplete(time.Second) }()
	require.ErrorIs(t, d.WaitForInitializationComplete(time.Millisecond), errcode.Timeout)

	start := time.Now()
	require.NoError(t, d.Initialize())
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
	require.NoError(t, <-ready)
}

func TestDataDelayIsDeferred(t *testing.T) {
	d := newReady(t, 40*time.Millisecond)
	start := time.Now()
	require.NoError(t, d.RequestData())
	assert.Less(t, time.Since(start), 30*time.Millisecond)
	require.ErrorIs(t, d.RequestData(), errcode.Busy)
	require.ErrorIs(t, d.WaitForData(time.Millisecond), errcode.Timeout)
	require.NoError(t, d.WaitForData(time.Second))
}

func TestInjectError(t *testing.T) {
	d := newReady(t, 0)
	ev := &events{}
	require.NoError(t, d.RegisterCallback(ev.cb))

	d.InjectError(errcode.CommFailure)
	require.ErrorIs(t, d.RequestData(), errcode.CommFailure)
	require.ErrorIs(t, d.WaitForData(10*time.Millisecond), errcode.CommFailure)
	require.True(t, d.FlushNotifications(time.Second))
	assert.Equal(t, 1, ev.count(device.EventError))
	assert.Equal(t, errcode.CommFailure, ev.last().Err)

	// The latch fires once.
	require.NoError(t, d.RequestData())
	require.NoError(t, d.WaitForData(time.Second))
}

func TestInjectErrorWithErrorEventsDisabled(t *testing.T) {
	d := newReady(t, 0)
	ev := &events{}
	require.NoError(t, d.RegisterCallback(ev.cb))
	require.NoError(t, d.SetEventNotification(device.EventError, false))
	d.InjectError(errcode.Busy)
	require.ErrorIs(t, d.RequestData(), errcode.Busy)
	require.True(t, d.FlushNotifications(time.Second))
	assert.Zero(t, ev.count(device.EventError))
}

func TestInjectErrorOKClears(t *testing.T) {
	d := newReady(t, 0)
	d.InjectError(errcode.Timeout)
	d.InjectError(errcode.OK)
	require.NoError(t, d.RequestData())
}

func TestInjectAcquisitionError(t *testing.T) {
	for _, delay := range []time.Duration{0, 5 * time.Millisecond} {
		d := newReady(t, delay)
		d.InjectAcquisitionError(errcode.Timeout)
		require.NoError(t, d.RequestData())
		require.ErrorIs(t, d.WaitForData(time.Second), errcode.Timeout)
		require.ErrorIs(t, d.ProcessData(), errcode.DataNotReady)

		require.NoError(t, d.RequestData())
		require.NoError(t, d.WaitForData(time.Second))
	}
}

func TestPerformAction(t *testing.T) {
	d := newReady(t, 0)
	ev := &events{}
	require.NoError(t, d.RegisterCallback(ev.cb))

	require.NoError(t, d.PerformAction(1, 100))
	require.NoError(t, d.PerformAction(-5, -1))
	require.True(t, d.FlushNotifications(time.Second))

	assert.Equal(t, []Action{{1, 100}, {-5, -1}}, d.PerformedActions())
	assert.Equal(t, 2, ev.count(device.EventStateChanged))
	assert.Equal(t, device.EventNotification{Type: device.EventStateChanged, Data: -5}, ev.last())
}

func TestEventGating(t *testing.T) {
	d := newReady(t, 0)
	ev := &events{}
	require.NoError(t, d.RegisterCallback(ev.cb))

	require.NoError(t, d.SetEventNotification(device.EventDataReady, false))
	require.NoError(t, d.RequestData())
	require.NoError(t, d.WaitForData(time.Second))
	require.True(t, d.FlushNotifications(time.Second))
	assert.Zero(t, ev.count(device.EventDataReady))

	require.NoError(t, d.SetEventNotification(device.EventDataReady, true))
	require.NoError(t, d.RequestData())
	require.NoError(t, d.WaitForData(time.Second))
	require.True(t, d.FlushNotifications(time.Second))
	assert.Equal(t, 1, ev.count(device.EventDataReady))
}

func TestMultipleObserversAndUnregister(t *testing.T) {
	d := New(0, 0)
	defer d.Close()
	a, b := &events{}, &events{}
	require.NoError(t, d.RegisterCallback(a.cb))
	require.NoError(t, d.RegisterCallback(b.cb))
	assert.Equal(t, 2, d.CallbackCount())

	require.NoError(t, d.Initialize())
	require.True(t, d.FlushNotifications(time.Second))
	assert.Equal(t, 1, a.count(device.EventInitialized))
	assert.Equal(t, 1, b.count(device.EventInitialized))

	require.NoError(t, d.UnregisterCallbacks())
	assert.Zero(t, d.CallbackCount())
	require.NoError(t, d.PerformAction(3, 0))
	require.True(t, d.FlushNotifications(time.Second))
	assert.Zero(t, a.count(device.EventStateChanged))

	c := &events{}
	require.NoError(t, d.RegisterCallback(c.cb))
	require.NoError(t, d.PerformAction(4, 0))
	require.True(t, d.FlushNotifications(time.Second))
	assert.Equal(t, 1, c.count(device.EventStateChanged))
	assert.Zero(t, a.count(device.EventStateChanged))
}

func TestInvalidEventType(t *testing.T) {
	d := New(0, 0)
	defer d.Close()
	require.ErrorIs(t, d.SetEventNotification(device.NumEventTypes, true), errcode.InvalidParam)
	require.ErrorIs(t, d.SetEventNotification(device.EventType(255), true), errcode.InvalidParam)
}

func TestConcurrentCycles(t *testing.T) {
	for _, delay := range []time.Duration{0, 2 * time.Millisecond} {
		d := newReady(t, delay)
		ok, _ := devicetest.VerifyConcurrentAccess(t, d, device.Temperature, 4, 10)
		assert.Positive(t, ok)
	}
}

func TestReset(t *testing.T) {
	d := newReady(t, 0)
	ev := &events{}
	require.NoError(t, d.RegisterCallback(ev.cb))
	require.NoError(t, d.PerformAction(1, 1))
	d.InjectError(errcode.Busy)

	d.Reset()
	assert.False(t, d.IsInitialized())
	assert.Empty(t, d.PerformedActions())
	assert.Zero(t, d.EventGroup().Get())
	assert.Equal(t, 1, d.CallbackCount())

	require.NoError(t, d.Initialize())
	require.NoError(t, d.RequestData(), "injected error cleared by Reset")
	require.NoError(t, d.WaitForData(time.Second))
	require.NoError(t, d.ProcessData())
	assert.Equal(t, errcode.DataNotReady, d.GetData(device.Temperature).Code(), "test data cleared by Reset")
}

func TestConcurrentWaitersAllWake(t *testing.T) {
	d := newReady(t, 20*time.Millisecond)
	require.NoError(t, d.RequestData())
	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- d.WaitForData(time.Second)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}
