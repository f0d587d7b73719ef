package engine

import "fleetcore/store"

// monitorEmitter bridges the monitor package's emitter interface to the
// EventBus.
type monitorEmitter struct {
	bus *EventBus
}

func (e *monitorEmitter) EmitSlaveOnline(slaveID int64) {
	e.bus.Emit(Event{Type: EventSlaveOnline, Payload: SlaveOnlineEvent{SlaveID: slaveID}})
}

func (e *monitorEmitter) EmitSlaveOffline(slaveID int64, retries int) {
	e.bus.Emit(Event{Type: EventSlaveOffline, Payload: SlaveOfflineEvent{SlaveID: slaveID, Retries: retries}})
}

func (e *monitorEmitter) EmitDeviceOffline(deviceID, slaveID int64) {
	e.bus.Emit(Event{Type: EventDeviceOffline, Payload: DeviceOfflineEvent{DeviceID: deviceID, SlaveID: slaveID}})
}

func (e *monitorEmitter) EmitReservationReclaimed(res *store.Reservation, reason string) {
	e.bus.Emit(Event{Type: EventReservationReclaimed, Payload: ReclaimEvent{
		ReservationID: res.ID,
		DeviceID:      res.DeviceID,
		UserID:        res.UserID,
		Reason:        reason,
	}})
}

// allocatorEmitter bridges the allocator's emitter interface to the
// EventBus.
type allocatorEmitter struct {
	bus *EventBus
}

func (e *allocatorEmitter) EmitDeviceAllocated(res *store.Reservation) {
	e.bus.Emit(Event{Type: EventDeviceAllocated, Payload: AllocationEvent{
		ReservationID: res.ID,
		Token:         res.Token,
		DeviceID:      res.DeviceID,
		UserID:        res.UserID,
	}})
}

func (e *allocatorEmitter) EmitDeviceReleased(res *store.Reservation) {
	e.bus.Emit(Event{Type: EventDeviceReleased, Payload: AllocationEvent{
		ReservationID: res.ID,
		Token:         res.Token,
		DeviceID:      res.DeviceID,
		UserID:        res.UserID,
	}})
}

func (e *allocatorEmitter) EmitReservationReclaimed(res *store.Reservation, reason string) {
	e.bus.Emit(Event{Type: EventReservationReclaimed, Payload: ReclaimEvent{
		ReservationID: res.ID,
		DeviceID:      res.DeviceID,
		UserID:        res.UserID,
		Reason:        reason,
	}})
}
