// Package devicetest is a conformance kit for device.Instance
// implementations. Each helper asserts one part of the contract and can be
// called from any implementation's tests.
package devicetest

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"devicekit-go/device"
	"devicekit-go/errcode"
)

// DataTimeout bounds every WaitForData issued by the kit.
var DataTimeout = 5 * time.Second

// Factory returns a fresh, uninitialised instance.
type Factory func(t testing.TB) device.Instance

// VerifyInitialization checks the Uninitialized -> Ready transition and
// idempotence.
func VerifyInitialization(t testing.TB, d device.Instance) {
	t.Helper()
	require.NotNil(t, d, "device instance is nil")
	require.False(t, d.IsInitialized(), "initialized before Initialize")
	require.ErrorIs(t, d.RequestData(), errcode.NotInitialized)
	require.ErrorIs(t, d.PerformAction(0, 0), errcode.NotInitialized)

	require.NoError(t, d.Initialize())
	require.True(t, d.IsInitialized(), "not initialized after Initialize")
	require.NoError(t, d.WaitForInitializationComplete(DataTimeout))

	require.NoError(t, d.Initialize(), "Initialize must be idempotent")
	require.True(t, d.IsInitialized())
}

// VerifyDataAcquisition runs one full cycle and checks GetData for dt.
func VerifyDataAcquisition(t testing.TB, d device.Instance, dt device.DataType, expectSuccess bool) {
	t.Helper()
	if !d.IsInitialized() {
		require.ErrorIs(t, d.RequestData(), errcode.NotInitialized)
		return
	}
	require.NoError(t, d.RequestData())
	require.NoError(t, d.WaitForData(DataTimeout))
	require.NoError(t, d.ProcessData())

	r := d.GetData(dt)
	if !expectSuccess {
		require.False(t, r.OK(), "GetData(%s) should fail", dt)
		return
	}
	v, err := r.Value()
	require.NoError(t, err, "GetData(%s)", dt)
	require.NotEmpty(t, v, "GetData(%s) returned no values", dt)
}

// VerifyConcurrentAccess drives tasks*cycles acquisition cycles from
// concurrent goroutines and checks every cycle is accounted for.
func VerifyConcurrentAccess(t testing.TB, d device.Instance, dt device.DataType, tasks, cycles int) (ok, failed int64) {
	t.Helper()
	if !d.IsInitialized() {
		require.NoError(t, d.Initialize())
	}
	var okN, failN atomic.Int64
	var g errgroup.Group
	for range tasks {
		g.Go(func() error {
			for range cycles {
				if runCycle(d, dt) {
					okN.Add(1)
				} else {
					failN.Add(1)
				}
				time.Sleep(time.Millisecond)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Duration(tasks*cycles)*DataTimeout + time.Second):
		require.FailNow(t, "concurrent cycles did not finish; deadlock suspected")
	}
	ok, failed = okN.Load(), failN.Load()
	require.EqualValues(t, tasks*cycles, ok+failed, "every cycle must complete")
	return ok, failed
}

func runCycle(d device.Instance, dt device.DataType) bool {
	if d.RequestData() != nil {
		return false
	}
	if d.WaitForData(time.Second) != nil {
		return false
	}
	_ = d.ProcessData()
	return d.GetData(dt).OK()
}

// VerifyErrorHandling checks that short waits and arbitrary actions report
// codes from the contract vocabulary.
func VerifyErrorHandling(t testing.TB, d device.Instance) {
	t.Helper()
	if d.IsInitialized() {
		if err := d.RequestData(); err == nil {
			code := errcode.Of(d.WaitForData(time.Millisecond))
			assert.Contains(t, []errcode.Code{errcode.OK, errcode.Timeout}, code)
			_ = d.WaitForData(DataTimeout)
		}
	}
	code := errcode.Of(d.PerformAction(-1, -1))
	assert.True(t, code.Valid(), "PerformAction returned %v", code)

	assert.Equal(t, errcode.InvalidParam, d.GetData(device.DataType(-1)).Code())
	assert.ErrorIs(t, d.SetEventNotification(device.NumEventTypes, true), errcode.InvalidParam)
}

// VerifyResources checks the owned synchronisation handles.
func VerifyResources(t testing.TB, d device.Instance) {
	t.Helper()
	require.NotNil(t, d.InstanceMutex(), "instance mutex")
	require.NotNil(t, d.InterfaceMutex(), "interface mutex")
	require.NotSame(t, d.InstanceMutex(), d.InterfaceMutex(), "instance and interface mutexes must differ")
	require.NotNil(t, d.EventGroup(), "event group")
}

// VerifyCallbacks registers an observer, triggers an event and checks
// delivery. Instances without observer support skip.
func VerifyCallbacks(t testing.TB, d device.Instance) {
	t.Helper()
	got := make(chan device.EventNotification, 16)
	err := d.RegisterCallback(func(n device.EventNotification) {
		select {
		case got <- n:
		default:
		}
	})
	if errcode.Of(err) == errcode.Unsupported {
		t.Skip("device does not support callbacks")
	}
	require.NoError(t, err)

	if !d.IsInitialized() {
		require.NoError(t, d.Initialize())
	} else {
		require.NoError(t, d.RequestData())
		_ = d.WaitForData(DataTimeout)
	}
	select {
	case n := <-got:
		assert.True(t, n.Type.Valid())
	case <-time.After(DataTimeout):
		require.FailNow(t, "no notification delivered")
	}
	require.NoError(t, d.UnregisterCallbacks())
}

// RunAll runs every check as a subtest, each on a fresh instance from f.
func RunAll(t *testing.T, f Factory, dt device.DataType) {
	t.Run("Resources", func(t *testing.T) {
		d := f(t)
		VerifyResources(t, d)
	})
	t.Run("Initialization", func(t *testing.T) {
		VerifyInitialization(t, f(t))
	})
	t.Run("DataAcquisition", func(t *testing.T) {
		d := f(t)
		VerifyDataAcquisition(t, d, dt, true)
		require.NoError(t, d.Initialize())
		VerifyDataAcquisition(t, d, dt, true)
	})
	t.Run("ConcurrentAccess", func(t *testing.T) {
		VerifyConcurrentAccess(t, f(t), dt, 3, 5)
	})
	t.Run("ErrorHandling", func(t *testing.T) {
		d := f(t)
		require.NoError(t, d.Initialize())
		VerifyErrorHandling(t, d)
	})
	t.Run("Callbacks", func(t *testing.T) {
		VerifyCallbacks(t, f(t))
	})
}
