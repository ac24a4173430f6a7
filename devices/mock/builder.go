package mock

import (
	"slices"
	"time"

	"devicekit-go/device"
	"devicekit-go/errcode"
	"devicekit-go/services/hub/registry"
)

func init() { registry.RegisterBuilder("mock", builder{}) }

// Params configures a hub-built double.
type Params struct {
	InitDelay time.Duration
	DataDelay time.Duration
	// Samples maps data type names to the values each cycle returns.
	Samples map[string][]float32
}

type builder struct{}

func (builder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	var p Params
	if err := registry.DecodeParams(in.Params, &p); err != nil {
		return registry.BuildOutput{}, err
	}
	if p.InitDelay < 0 || p.DataDelay < 0 {
		return registry.BuildOutput{}, errcode.InvalidParam
	}
	types := make([]device.DataType, 0, len(p.Samples))
	for name := range p.Samples {
		t, ok := device.ParseDataType(name)
		if !ok {
			return registry.BuildOutput{}, &errcode.E{C: errcode.InvalidParam, Op: "mock", Msg: "unknown data type " + name}
		}
		types = append(types, t)
	}

	d := New(p.InitDelay, p.DataDelay, in.DeviceOptions()...)
	for _, t := range types {
		d.SetTestData(t, p.Samples[t.String()])
	}
	slices.Sort(types)
	return registry.BuildOutput{Instance: d, Types: types}, nil
}
