// Package aht20 is a register-level driver for the AHT20 temperature and
// humidity sensor. Measurements are two-phase:
//
//	err := d.Trigger()       // start a conversion (fast)
//	err = d.Collect(&s)      // ErrNotReady while the sensor is busy
//
// Read performs trigger plus bounded polling for callers that can block.
//
// I2C.Tx MUST perform a write followed by a repeated-start read when both w
// and r are provided, without releasing the bus.
package aht20

import (
	"context"
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

// Address is the fixed 7-bit I2C address.
const Address = 0x38

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08

	// Conversion time from the datasheet.
	DefaultTriggerHint = 80 * time.Millisecond
	// Settling time after initialisation or soft reset.
	settleTime = 20 * time.Millisecond
)

var (
	ErrNotReady = errors.New("aht20: not ready")
	ErrCRC      = errors.New("aht20: crc mismatch")
	ErrTimeout  = errors.New("aht20: timeout")
)

// Device is one sensor on a bus. Methods are not safe for concurrent use;
// callers serialise bus access.
type Device struct {
	bus     drivers.I2C
	Address uint16

	// PollInterval paces Read between Collect attempts.
	PollInterval time.Duration
	// NoCRC skips checksum validation for clones without the CRC byte.
	NoCRC bool

	buf [7]byte
}

// New returns a driver for the sensor at addr; zero selects Address. The bus
// is not touched.
func New(bus drivers.I2C, addr uint16) *Device {
	if addr == 0 {
		addr = Address
	}
	return &Device{bus: bus, Address: addr, PollInterval: 15 * time.Millisecond}
}

// Configure calibrates the sensor unless it already reports calibrated.
func (d *Device) Configure(ctx context.Context) error {
	st, err := d.Status()
	if err != nil {
		return err
	}
	if st&statusCalibrated != 0 {
		return nil
	}
	if err := d.bus.Tx(d.Address, []byte{cmdInitialize, 0x08, 0x00}, nil); err != nil {
		return err
	}
	return sleep(ctx, settleTime)
}

// Reset issues a soft reset and waits for the sensor to settle.
func (d *Device) Reset(ctx context.Context) error {
	if err := d.bus.Tx(d.Address, []byte{cmdSoftReset}, nil); err != nil {
		return err
	}
	return sleep(ctx, settleTime)
}

// Status reads the status byte.
func (d *Device) Status() (byte, error) {
	st := d.buf[:1]
	if err := d.bus.Tx(d.Address, []byte{cmdStatus}, st); err != nil {
		return 0, err
	}
	return st[0], nil
}

// Trigger starts a conversion. It does not wait; see DefaultTriggerHint.
func (d *Device) Trigger() error {
	return d.bus.Tx(d.Address, []byte{cmdTrigger, 0x33, 0x00}, nil)
}

// Collect reads one measurement. ErrNotReady means the conversion is still
// running; bus errors are returned as-is.
func (d *Device) Collect(out *Sample) error {
	data := d.buf[:]
	if err := d.bus.Tx(d.Address, nil, data); err != nil {
		return err
	}
	if data[0]&statusCalibrated == 0 || data[0]&statusBusy != 0 {
		return ErrNotReady
	}
	if !d.NoCRC && CRC8(data[:6]) != data[6] {
		return ErrCRC
	}
	if out != nil {
		out.RawHumidity = uint32(data[1])<<12 | uint32(data[2])<<4 | uint32(data[3])>>4
		out.RawTemp = uint32(data[3]&0x0F)<<16 | uint32(data[4])<<8 | uint32(data[5])
	}
	return nil
}

// Read triggers and polls until a sample arrives or ctx ends.
func (d *Device) Read(ctx context.Context, out *Sample) error {
	if err := d.Trigger(); err != nil {
		return err
	}
	if err := sleep(ctx, DefaultTriggerHint); err != nil {
		return err
	}
	for {
		err := d.Collect(out)
		if !errors.Is(err, ErrNotReady) {
			return err
		}
		if err := sleep(ctx, d.PollInterval); err != nil {
			return ErrTimeout
		}
	}
}

// CRC8 is the sensor checksum: polynomial 0x31, initial value 0xFF.
func CRC8(b []byte) byte {
	crc := byte(0xFF)
	for _, v := range b {
		crc ^= v
		for range 8 {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sample holds one raw 20-bit reading pair.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

// DeciRelHumidity returns tenths of %RH.
func (s Sample) DeciRelHumidity() int32 {
	return int32(uint64(s.RawHumidity) * 1000 / 0x100000)
}

// DeciCelsius returns tenths of °C.
func (s Sample) DeciCelsius() int32 {
	return int32(uint64(s.RawTemp)*2000/0x100000) - 500
}

func (s Sample) RelHumidity() float32 {
	return float32(s.RawHumidity) * 100 / 0x100000
}

func (s Sample) Celsius() float32 {
	return float32(s.RawTemp)*200/0x100000 - 50
}
