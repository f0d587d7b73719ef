package scheduler

import (
	"errors"
	"log"

	"fleetcore/allocator"
	"fleetcore/fleet"
	"fleetcore/store"
)

// Scheduler picks which device satisfies a request for "a device of kind
// X". Candidates are tried oldest-last_seen first; a candidate raced away
// between listing and allocation is skipped, not an error.
type Scheduler struct {
	db    *store.DB
	alloc *allocator.Allocator
}

func New(db *store.DB, alloc *allocator.Allocator) *Scheduler {
	return &Scheduler{db: db, alloc: alloc}
}

// RequestDevice allocates some online device of the given kind for the
// user. slaveID narrows candidates to one slave when non-zero.
func (s *Scheduler) RequestDevice(kind, userID string, slaveID int64) (*store.Reservation, error) {
	candidates, err := s.db.ListCandidateDevices(kind, slaveID)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fleet.ErrNoDeviceAvailable
	}

	for _, d := range candidates {
		res, err := s.alloc.Allocate(d.ID, userID)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, fleet.ErrDeviceBusy) || errors.Is(err, fleet.ErrDeviceOffline) {
			// Lost the race on this candidate; try the next one.
			continue
		}
		log.Printf("scheduler: allocate device %d for %s: %v", d.ID, userID, err)
		return nil, err
	}
	return nil, fleet.ErrNoDeviceAvailable
}
