package aht20_test

import (
	"context"
	"testing"
	"time"

	"devicekit-go/drivers/aht20"
	"devicekit-go/drivers/aht20/aht20test"
)

func TestCollectBeforeConversionIsNotReady(t *testing.T) {
	f := aht20test.New()
	d := aht20.New(f, 0)
	if err := d.Trigger(); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	var s aht20.Sample
	if err := d.Collect(&s); err != aht20.ErrNotReady {
		t.Fatalf("want ErrNotReady, got %v", err)
	}
	time.Sleep(40 * time.Millisecond)
	if err := d.Collect(&s); err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := s.DeciCelsius(); got != 250 {
		t.Fatalf("deci °C = %d, want 250", got)
	}
	if got := s.DeciRelHumidity(); got != 550 {
		t.Fatalf("deci %%RH = %d, want 550", got)
	}
}

func TestReadPolls(t *testing.T) {
	f := aht20test.New()
	f.Conversion = 100 * time.Millisecond
	d := aht20.New(f, aht20.Address)
	d.PollInterval = 5 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var s aht20.Sample
	if err := d.Read(ctx, &s); err != nil {
		t.Fatalf("read: %v", err)
	}
	if c := s.Celsius(); c < 24.99 || c > 25.01 {
		t.Fatalf("°C = %v", c)
	}
}

func TestCRCMismatch(t *testing.T) {
	f := aht20test.New()
	f.Conversion = 0
	f.BadCRC = true
	d := aht20.New(f, 0)
	_ = d.Trigger()
	if err := d.Collect(nil); err != aht20.ErrCRC {
		t.Fatalf("want ErrCRC, got %v", err)
	}
	d.NoCRC = true
	if err := d.Collect(nil); err != nil {
		t.Fatalf("collect without crc: %v", err)
	}
}

func TestConfigureCalibratesOnce(t *testing.T) {
	f := aht20test.New()
	f.Calibrated = false
	d := aht20.New(f, 0)
	ctx := context.Background()
	if err := d.Configure(ctx); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := d.Configure(ctx); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if _, _, inits := f.Counts(); inits != 1 {
		t.Fatalf("calibration commands = %d, want 1", inits)
	}
}

func TestBusErrorPassesThrough(t *testing.T) {
	f := aht20test.New()
	f.SetNACK(true)
	d := aht20.New(f, 0)
	if err := d.Trigger(); err != aht20test.ErrNACK {
		t.Fatalf("want ErrNACK, got %v", err)
	}
}

func TestCRC8KnownVector(t *testing.T) {
	// Sensirion/Aosong reference: CRC8(0xBE, 0xEF) = 0x92.
	if got := aht20.CRC8([]byte{0xBE, 0xEF}); got != 0x92 {
		t.Fatalf("crc = %#x, want 0x92", got)
	}
}
