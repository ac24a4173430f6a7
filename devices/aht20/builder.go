package aht20

import (
	"devicekit-go/errcode"
	"devicekit-go/services/hub/registry"
)

func init() { registry.RegisterBuilder("aht20", builder{}) }

type Params struct {
	Addr uint16 // defaults to 0x38 if zero
}

type builder struct{}

func (builder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	var p Params
	if err := registry.DecodeParams(in.Params, &p); err != nil {
		return registry.BuildOutput{}, err
	}
	if in.BusID == "" || in.I2C == nil {
		return registry.BuildOutput{}, &errcode.E{C: errcode.InvalidParam, Op: "aht20", Msg: "i2c bus required"}
	}
	bus, err := in.I2C(in.BusID)
	if err != nil {
		return registry.BuildOutput{}, errcode.Wrap(errcode.CommFailure, "aht20", err)
	}
	d := New(bus, p.Addr, in.DeviceOptions()...)
	return registry.BuildOutput{Instance: d, Types: Types}, nil
}
