package device

import (
	"time"

	"devicekit-go/x/rtos"
)

// Instance is the contract every peripheral family implements.
//
// Void operations return nil or an errcode.Code; GetData returns a Result.
// Only the two Wait methods may block beyond lock contention.
type Instance interface {
	ID() string

	// Lifecycle
	Initialize() error
	IsInitialized() bool
	WaitForInitializationComplete(timeout time.Duration) error

	// Acquisition cycle: request -> wait -> process -> get.
	RequestData() error
	WaitForData(timeout time.Duration) error
	ProcessData() error
	GetData(t DataType) Result[[]float32]

	PerformAction(actionID, param int) error

	// Observers
	RegisterCallback(cb Callback) error
	UnregisterCallbacks() error
	SetEventNotification(t EventType, enable bool) error

	// Owned resources, exposed for external coordination. Callers must not
	// retain them beyond Close.
	InstanceMutex() *rtos.Mutex
	InterfaceMutex() *rtos.Mutex
	EventGroup() *rtos.EventGroup

	Close() error
}
