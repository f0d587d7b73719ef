package engine

import (
	"fleetcore/messaging"
	"fleetcore/store"
)

// wireEventHandlers routes fleet events into the notification outbox. The
// drainer ships them to the external notifier; what that layer does with
// them is not our concern.
func (e *Engine) wireEventHandlers() {
	topic := e.cfg.Messaging.EventsTopic

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(SlaveRegisteredEvent)
		e.enqueue(topic, "slave_registered", ev)
	}, EventSlaveRegistered)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(SlaveOnlineEvent)
		e.logFn("engine: slave %d online", ev.SlaveID)
		e.enqueue(topic, "slave_online", ev)
	}, EventSlaveOnline)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(SlaveOfflineEvent)
		e.logFn("engine: slave %d offline (retries %d)", ev.SlaveID, ev.Retries)
		e.enqueue(topic, "slave_offline", ev)
	}, EventSlaveOffline)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(DeviceOfflineEvent)
		e.enqueue(topic, "device_offline", ev)
	}, EventDeviceOffline)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(AllocationEvent)
		e.logFn("engine: device %d allocated to %s (reservation %d)", ev.DeviceID, ev.UserID, ev.ReservationID)
		e.enqueue(topic, "device_allocated", ev)
	}, EventDeviceAllocated)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(AllocationEvent)
		e.logFn("engine: device %d released by %s", ev.DeviceID, ev.UserID)
		e.enqueue(topic, "device_released", ev)
	}, EventDeviceReleased)

	e.Events.SubscribeTypes(func(evt Event) {
		ev := evt.Payload.(ReclaimEvent)
		e.logFn("engine: reservation %d reclaimed (%s)", ev.ReservationID, ev.Reason)
		e.enqueue(topic, "reservation_reclaimed", ev)
		// On an idle-timeout reclaim the slave is still up, so its daemon
		// holds a binding nobody owns anymore.
		if ev.Reason == store.EndReasonTimeout {
			go e.detachDevice(ev.DeviceID)
		}
	}, EventReservationReclaimed)
}

func (e *Engine) detachDevice(deviceID int64) {
	d, err := e.db.GetDevice(deviceID)
	if err != nil {
		e.logFn("engine: detach lookup device %d: %v", deviceID, err)
		return
	}
	s, err := e.db.GetSlave(d.SlaveID)
	if err != nil || s.Status != store.SlaveOnline {
		return
	}
	if err := e.ForwarderFor(s).Detach(d.Serial); err != nil {
		e.logFn("engine: detach %s on slave %d: %v", d.Serial, s.ID, err)
	}
}

func (e *Engine) enqueue(topic, kind string, payload any) {
	env := messaging.NewEnvelope(kind, e.cfg.MasterID, payload)
	data, err := env.Encode()
	if err != nil {
		e.logFn("engine: encode %s event: %v", kind, err)
		return
	}
	if err := e.db.EnqueueOutbox(topic, data, kind); err != nil {
		e.logFn("engine: enqueue %s event: %v", kind, err)
	}
}
