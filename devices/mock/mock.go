// Package mock provides a fully working in-memory device with simulated
// latency, error injection and a configurable sample table.
package mock

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"devicekit-go/device"
	"devicekit-go/errcode"
	"devicekit-go/x/timex"
)

// Action is one recorded PerformAction call.
type Action struct {
	ID    int
	Param int
}

// Device is the reference double. The embedded Core supplies the contract;
// the simulated peripheral below supplies latency, data and faults.
type Device struct {
	*device.Core[device.Samples]
	sim *sim
}

var _ device.Instance = (*Device)(nil)

// New builds a double that takes initDelay to initialise and dataDelay per
// acquisition. A zero dataDelay completes acquisitions inside RequestData.
func New(initDelay, dataDelay time.Duration, opts ...device.Option) *Device {
	s := &sim{initDelay: initDelay, dataDelay: dataDelay, table: device.Samples{}}
	d := &Device{sim: s}
	d.Core = device.NewCore[device.Samples](s, opts...)
	s.log = d.Core.Logger()
	return d
}

// SetTestData configures the samples returned for t on every later cycle.
func (d *Device) SetTestData(t device.DataType, values []float32) {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	d.sim.table[t] = append([]float32(nil), values...)
}

// InjectError makes the next RequestData fail with code. errcode.OK clears
// a pending injection.
func (d *Device) InjectError(code errcode.Code) {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	d.sim.nextErr = code
}

// InjectAcquisitionError makes the next collect fail with code; WaitForData
// reports it. errcode.OK clears a pending injection.
func (d *Device) InjectAcquisitionError(code errcode.Code) {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	d.sim.acqErr = code
}

// PerformedActions returns the recorded actions in call order.
func (d *Device) PerformedActions() []Action {
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	return append([]Action(nil), d.sim.actions...)
}

// Reset returns the double to its constructed state: uninitialised, no
// data, no actions, no pending faults. Observers stay registered.
func (d *Device) Reset() {
	d.Core.Reset()
	d.sim.mu.Lock()
	defer d.sim.mu.Unlock()
	d.sim.table = device.Samples{}
	d.sim.actions = nil
	d.sim.nextErr = errcode.OK
	d.sim.acqErr = errcode.OK
}

// sim is the simulated peripheral behind the double.
type sim struct {
	initDelay time.Duration
	dataDelay time.Duration
	log       *zap.Logger

	mu      sync.Mutex
	table   device.Samples
	actions []Action
	nextErr errcode.Code
	acqErr  errcode.Code
}

func (s *sim) Init(ctx context.Context) error {
	if s.initDelay <= 0 {
		return nil
	}
	t := time.NewTimer(s.initDelay)
	defer t.Stop()
	if !timex.SleepContext(ctx.Done(), t, s.initDelay) {
		return ctx.Err()
	}
	return nil
}

func (s *sim) Trigger(ctx context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextErr != errcode.OK {
		code := s.nextErr
		s.nextErr = errcode.OK
		s.log.Debug("injected request failure", zap.Stringer("code", code))
		return 0, code
	}
	return s.dataDelay, nil
}

func (s *sim) Collect(ctx context.Context) (device.Samples, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acqErr != errcode.OK {
		code := s.acqErr
		s.acqErr = errcode.OK
		s.log.Debug("injected acquisition failure", zap.Stringer("code", code))
		return nil, code
	}
	return s.table.Clone(), nil
}

func (s *sim) Process(raw device.Samples) (device.Samples, error) {
	return raw, nil
}

// Action records every ID, negative ones included.
func (s *sim) Action(ctx context.Context, id, param int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, Action{ID: id, Param: param})
	return nil
}
