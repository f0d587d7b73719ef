package engine

const (
	EventSlaveRegistered EventType = iota + 1
	EventSlaveOnline
	EventSlaveOffline
	EventDeviceOffline
	EventDeviceAllocated
	EventDeviceReleased
	EventReservationReclaimed
	EventMessagingConnected
	EventMessagingDisconnected
)

// --- Event payloads ---

type SlaveRegisteredEvent struct {
	SlaveID    int64
	Hostname   string
	Reattached bool
}

type SlaveOnlineEvent struct {
	SlaveID int64
}

type SlaveOfflineEvent struct {
	SlaveID int64
	Retries int
}

type DeviceOfflineEvent struct {
	DeviceID int64
	SlaveID  int64
}

type AllocationEvent struct {
	ReservationID int64
	Token         string
	DeviceID      int64
	UserID        string
}

type ReclaimEvent struct {
	ReservationID int64
	DeviceID      int64
	UserID        string
	Reason        string
}

type ConnectionEvent struct {
	Detail string
}
