// Package device defines the contract every peripheral family implements and
// the shared acquisition-cycle helper most families are built from.
//
// A caller initializes an Instance, waits for readiness and then drives the
// cycle:
//
//	RequestData -> WaitForData -> ProcessData -> GetData
//
// RequestData never waits for the conversion itself. Completion is signalled
// on the instance's event group (BitDataReady or BitError); waits do not
// consume bits, so any number of goroutines may wait on the same cycle.
//
// Observers registered with RegisterCallback are notified from a per-instance
// worker goroutine fed by a bounded queue. Callbacks never run under a device
// lock and may call back into the instance.
//
// Families compose Core with a Transport: Core owns the state machine, the
// instance and interface mutexes, the event group and the notifier; the
// Transport talks to the peripheral.
package device
