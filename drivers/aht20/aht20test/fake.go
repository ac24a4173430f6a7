// Package aht20test provides a scripted AHT20 on a fake I2C bus.
package aht20test

import (
	"errors"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	"devicekit-go/drivers/aht20"
)

var _ drivers.I2C = (*Fake)(nil)

// ErrNACK is returned by Tx while Fake.NACK is set.
var ErrNACK = errors.New("aht20test: nack")

// Raw values for 25.0 °C and 55.0 %RH.
const (
	RawTemp25C  = 393_216
	RawHum55Pct = 576_717
)

// Fake answers the AHT20 command set. Conversions finish Conversion after
// the trigger.
type Fake struct {
	mu sync.Mutex

	Calibrated bool
	Conversion time.Duration
	HRaw, TRaw uint32
	NACK       bool // every transaction fails
	BadCRC     bool

	busyUntil time.Time
	triggers  int
	resets    int
	inits     int
}

// New returns a calibrated sensor reading 25.0 °C and 55.0 %RH.
func New() *Fake {
	return &Fake{Calibrated: true, Conversion: 30 * time.Millisecond, HRaw: RawHum55Pct, TRaw: RawTemp25C}
}

func (f *Fake) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NACK || addr != aht20.Address {
		return ErrNACK
	}
	now := time.Now()
	busy := now.Before(f.busyUntil)

	switch {
	case len(w) == 1 && w[0] == 0x71 && len(r) == 1:
		r[0] = f.status(busy)
	case len(w) == 3 && w[0] == 0xAC:
		f.triggers++
		f.busyUntil = now.Add(f.Conversion)
	case len(w) == 3 && w[0] == 0xBE:
		f.inits++
		f.Calibrated = true
	case len(w) == 1 && w[0] == 0xBA:
		f.resets++
	case len(w) == 0 && len(r) == 7:
		h, t := f.HRaw, f.TRaw
		r[0] = f.status(busy)
		r[1] = byte(h >> 12)
		r[2] = byte(h >> 4)
		r[3] = byte(h&0xF)<<4 | byte(t>>16)&0x0F
		r[4] = byte(t >> 8)
		r[5] = byte(t)
		r[6] = aht20.CRC8(r[:6])
		if f.BadCRC {
			r[6] ^= 0xFF
		}
	default:
		return errors.New("aht20test: unexpected transaction")
	}
	return nil
}

func (f *Fake) status(busy bool) byte {
	var s byte
	if f.Calibrated {
		s |= 0x08
	}
	if busy {
		s |= 0x80
	}
	return s
}

// SetNACK toggles bus failures.
func (f *Fake) SetNACK(v bool) {
	f.mu.Lock()
	f.NACK = v
	f.mu.Unlock()
}

// Counts reports triggers, soft resets and calibration commands seen.
func (f *Fake) Counts() (triggers, resets, inits int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.triggers, f.resets, f.inits
}
