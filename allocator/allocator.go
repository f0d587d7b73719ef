package allocator

import (
	"errors"
	"log"
	"time"

	"fleetcore/fleet"
	"fleetcore/statecache"
	"fleetcore/store"
)

// Emitter is the interface adapters must satisfy to bridge allocation
// events to the engine.
type Emitter interface {
	EmitDeviceAllocated(res *store.Reservation)
	EmitDeviceReleased(res *store.Reservation)
	EmitReservationReclaimed(res *store.Reservation, reason string)
}

// Allocator is the exclusive-reservation engine. The store enforces
// at-most-one-open-reservation per device; this layer adds cache
// invalidation, event emission, and a single retry on transient conflicts.
// It never retries beyond that: a failed Allocate leaves no partial state,
// so the caller decides what to do next.
type Allocator struct {
	db      *store.DB
	cache   *statecache.Manager
	emitter Emitter
}

func New(db *store.DB, cache *statecache.Manager, emitter Emitter) *Allocator {
	return &Allocator{db: db, cache: cache, emitter: emitter}
}

func (a *Allocator) Allocate(deviceID int64, userID string) (*store.Reservation, error) {
	res, err := a.db.AllocateDevice(deviceID, userID, time.Now())
	if errors.Is(err, fleet.ErrStoreConflict) {
		log.Printf("allocator: allocate device %d conflict, retrying: %v", deviceID, err)
		res, err = a.db.AllocateDevice(deviceID, userID, time.Now())
	}
	if err != nil {
		return nil, err
	}
	a.cache.InvalidateDevice(deviceID)
	a.emitter.EmitDeviceAllocated(res)
	return res, nil
}

func (a *Allocator) Release(deviceID int64, userID string) (*store.Reservation, error) {
	res, err := a.db.ReleaseDevice(deviceID, userID, time.Now())
	if errors.Is(err, fleet.ErrStoreConflict) {
		log.Printf("allocator: release device %d conflict, retrying: %v", deviceID, err)
		res, err = a.db.ReleaseDevice(deviceID, userID, time.Now())
	}
	if err != nil {
		return nil, err
	}
	a.cache.InvalidateDevice(deviceID)
	a.emitter.EmitDeviceReleased(res)
	return res, nil
}

// ReclaimStale closes reservations older than idleTimeout and returns how
// many were reclaimed. Runs independently of the heartbeat sweep.
func (a *Allocator) ReclaimStale(idleTimeout time.Duration) int {
	now := time.Now()
	reclaimed, err := a.db.ReclaimStaleReservations(now.Add(-idleTimeout), now)
	if err != nil {
		log.Printf("allocator: reclaim sweep: %v", err)
	}
	for _, res := range reclaimed {
		log.Printf("allocator: reclaimed reservation %d on device %d (idle timeout)", res.ID, res.DeviceID)
		a.cache.InvalidateDevice(res.DeviceID)
		a.emitter.EmitReservationReclaimed(res, store.EndReasonTimeout)
	}
	return len(reclaimed)
}

// RecoverStartup closes reservations orphaned by a crash: open rows whose
// slave is not online. Must run before the first allocation is served.
func (a *Allocator) RecoverStartup() int {
	recovered, err := a.db.RecoverOpenReservations(time.Now())
	if err != nil {
		log.Printf("allocator: startup recovery: %v", err)
	}
	for _, res := range recovered {
		log.Printf("allocator: recovered stale reservation %d on device %d", res.ID, res.DeviceID)
		a.cache.InvalidateDevice(res.DeviceID)
		a.emitter.EmitReservationReclaimed(res, store.EndReasonSlaveOffline)
	}
	return len(recovered)
}
