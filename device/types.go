package device

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"devicekit-go/errcode"
	"devicekit-go/x/rtos"
)

// ---- Data types (extensible registry) ----

// DataType identifies one logical sensor/actuator channel.
type DataType int

// Built-in channels. Implementations extend the range with RegisterDataType.
const (
	Temperature DataType = iota // °C
	Humidity                    // %RH, 0..100
	Pressure                    // hPa
	RelayState                  // 0 = off, 1 = on
)

var (
	typeMu    sync.RWMutex
	typeNames = []string{"temperature", "humidity", "pressure", "relay_state"}
)

// RegisterDataType appends a channel to the registry and returns its value.
// Registration normally happens from package init; duplicate or empty names
// panic.
func RegisterDataType(name string) DataType {
	if name == "" {
		panic("device: empty data type name")
	}
	typeMu.Lock()
	defer typeMu.Unlock()
	if slices.Contains(typeNames, name) {
		panic(fmt.Sprintf("device: data type %q already registered", name))
	}
	typeNames = append(typeNames, name)
	return DataType(len(typeNames) - 1)
}

// NumDataTypes is the current sentinel: valid values are 0 <= t < NumDataTypes().
func NumDataTypes() DataType {
	typeMu.RLock()
	defer typeMu.RUnlock()
	return DataType(len(typeNames))
}

// IsValidDataType reports whether v falls inside the registered range.
func IsValidDataType(v int) bool {
	return v >= 0 && v < int(NumDataTypes())
}

// ParseDataType looks a channel up by its registered name.
func ParseDataType(name string) (DataType, bool) {
	typeMu.RLock()
	defer typeMu.RUnlock()
	i := slices.Index(typeNames, name)
	return DataType(i), i >= 0
}

func (t DataType) String() string {
	typeMu.RLock()
	defer typeMu.RUnlock()
	if t < 0 || int(t) >= len(typeNames) {
		return fmt.Sprintf("datatype(%d)", int(t))
	}
	return typeNames[t]
}

// Samples maps each channel to its readings for one acquisition cycle.
type Samples map[DataType][]float32

// Clone returns a deep copy.
func (s Samples) Clone() Samples {
	if s == nil {
		return nil
	}
	out := make(Samples, len(s))
	for k, v := range s {
		out[k] = slices.Clone(v)
	}
	return out
}

// Types returns the channels present, in ascending order.
func (s Samples) Types() []DataType {
	return slices.Sorted(maps.Keys(s))
}

// ---- Events ----

// EventType classifies notifications delivered to observers.
type EventType uint8

const (
	EventInitialized EventType = iota
	EventDataReady
	EventError
	EventStateChanged
	EventCustom

	NumEventTypes
)

var eventNames = [NumEventTypes]string{
	EventInitialized:  "initialized",
	EventDataReady:    "data_ready",
	EventError:        "error",
	EventStateChanged: "state_changed",
	EventCustom:       "custom",
}

func (e EventType) Valid() bool { return e < NumEventTypes }

func (e EventType) String() string {
	if !e.Valid() {
		return fmt.Sprintf("event(%d)", uint8(e))
	}
	return eventNames[e]
}

// EventNotification is delivered once per trigger to each enabled observer.
type EventNotification struct {
	Type EventType
	Err  errcode.Code
	Data int // device-specific context, e.g. the action ID for state changes
}

// Callback observes device events. It runs on the device's notification
// worker, outside every device lock, and must not block indefinitely.
type Callback func(EventNotification)

// ---- Signal bits ----

// Bits used on every instance's event group. Waits never clear them.
const (
	BitInitialized rtos.Bits = 1 << 0
	BitDataReady   rtos.Bits = 1 << 1
	BitError       rtos.Bits = 1 << 2
)
