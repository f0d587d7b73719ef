package fleet

import "errors"

// Allocation and liveness errors. Callers distinguish these with errors.Is;
// anything else coming out of the core is a store or wiring failure.
var (
	ErrDeviceOffline     = errors.New("device offline")
	ErrDeviceBusy        = errors.New("device busy")
	ErrNotReserved       = errors.New("device not reserved")
	ErrNotOwner          = errors.New("reservation held by another user")
	ErrNoDeviceAvailable = errors.New("no device available")
	ErrSlaveUnknown      = errors.New("unknown slave")

	// ErrStoreConflict marks a transient serialization failure. The allocator
	// retries it once; beyond that the caller decides.
	ErrStoreConflict = errors.New("store conflict")
)
