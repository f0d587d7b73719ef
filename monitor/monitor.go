package monitor

import (
	"log"
	"sync"
	"time"

	"fleetcore/statecache"
	"fleetcore/store"
)

// Emitter is the interface adapters must satisfy to bridge liveness events
// to the engine.
type Emitter interface {
	EmitSlaveOnline(slaveID int64)
	EmitSlaveOffline(slaveID int64, retries int)
	EmitDeviceOffline(deviceID int64, slaveID int64)
	EmitReservationReclaimed(res *store.Reservation, reason string)
}

// Monitor runs the liveness sweep. A slave that misses heartbeats
// accumulates retries; only exhausting the retry limit demotes it, so a
// single dropped heartbeat never flaps status. Going offline cascades to
// the slave's devices and their open reservations in one transaction.
type Monitor struct {
	db       *store.DB
	cache    *statecache.Manager
	emitter  Emitter
	timeout  time.Duration
	limit    int
	interval time.Duration
	ring     *Ring
	stopChan chan struct{}
	stopOnce sync.Once
}

func New(db *store.DB, cache *statecache.Manager, emitter Emitter, interval, timeout time.Duration, retryLimit int) *Monitor {
	return &Monitor{
		db:       db,
		cache:    cache,
		emitter:  emitter,
		timeout:  timeout,
		limit:    retryLimit,
		interval: interval,
		ring:     NewRing(256),
		stopChan: make(chan struct{}),
	}
}

func (m *Monitor) Start() {
	go m.loop()
	log.Printf("monitor: started (timeout %s, retry limit %d)", m.timeout, m.limit)
}

func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopChan) })
}

func (m *Monitor) Ring() *Ring { return m.ring }

func (m *Monitor) loop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.Sweep(time.Now())
		}
	}
}

// Sweep checks every online slave against the heartbeat timeout. Failures
// on one slave are logged and skipped; one bad row must not stall liveness
// detection for the rest of the fleet.
func (m *Monitor) Sweep(now time.Time) {
	slaves, err := m.db.ListSlaves(store.SlaveOnline)
	if err != nil {
		log.Printf("monitor: sweep list slaves: %v", err)
		return
	}

	cutoff := now.Add(-m.timeout)
	for _, s := range slaves {
		ref := s.CreatedAt
		if s.LastHeartbeat != nil {
			ref = *s.LastHeartbeat
		}
		if !ref.Before(cutoff) {
			continue
		}

		if s.RetryCount < m.limit {
			if err := m.db.IncrementSlaveRetry(s.ID); err != nil {
				log.Printf("monitor: retry slave %d: %v", s.ID, err)
				continue
			}
			m.cache.InvalidateSlave(s.ID)
			continue
		}

		deviceIDs, closed, err := m.db.MarkSlaveOffline(s.ID, now)
		if err != nil {
			log.Printf("monitor: offline slave %d: %v", s.ID, err)
			continue
		}
		log.Printf("monitor: slave %d offline after %d retries (%d devices, %d reservations reclaimed)",
			s.ID, s.RetryCount, len(deviceIDs), len(closed))

		m.cache.InvalidateSlave(s.ID)
		m.cache.InvalidateDevices(deviceIDs)

		m.emitter.EmitSlaveOffline(s.ID, s.RetryCount)
		for _, id := range deviceIDs {
			m.emitter.EmitDeviceOffline(id, s.ID)
		}
		for _, res := range closed {
			m.emitter.EmitReservationReclaimed(res, store.EndReasonSlaveOffline)
		}
	}
}

// RecordHeartbeat handles one heartbeat from a slave: stamps liveness,
// resets the retry counter, revives the slave if it was offline, and
// reconciles the reported device list.
func (m *Monitor) RecordHeartbeat(slaveID int64, reports []store.DeviceReport, now time.Time) error {
	wasOffline, prevRetry, err := m.db.RecordHeartbeat(slaveID, now)
	if err != nil {
		return err
	}
	m.ring.Append(Record{SlaveID: slaveID, ReceivedAt: now, RetryCountAtReceipt: prevRetry})
	m.cache.InvalidateSlave(slaveID)

	if wasOffline {
		log.Printf("monitor: slave %d back online", slaveID)
		m.emitter.EmitSlaveOnline(slaveID)
	}

	if len(reports) > 0 {
		if err := m.db.SyncSlaveDevices(slaveID, reports, now); err != nil {
			log.Printf("monitor: sync devices for slave %d: %v", slaveID, err)
		}
	}

	if wasOffline || len(reports) > 0 {
		devices, err := m.db.ListDevices("", "", slaveID)
		if err == nil {
			for _, d := range devices {
				m.cache.InvalidateDevice(d.ID)
			}
		}
	}
	return nil
}
