package statecache

import (
	"context"
	"log"

	"fleetcore/store"
)

// Manager is the read path for liveness answers: Redis first, SQL on miss,
// SQL only when redis is nil or unreachable. Writers go through the store
// and then call the Invalidate methods here.
type Manager struct {
	db    *store.DB
	redis *RedisStore
}

func NewManager(db *store.DB, redis *RedisStore) *Manager {
	return &Manager{db: db, redis: redis}
}

func (m *Manager) GetSlave(id int64) (*store.Slave, error) {
	ctx := context.Background()
	if m.redis != nil {
		if s, err := m.redis.GetSlave(ctx, id); err == nil {
			return s, nil
		}
	}
	s, err := m.db.GetSlave(id)
	if err != nil {
		return nil, err
	}
	if m.redis != nil {
		m.redis.SetSlave(ctx, s)
	}
	return s, nil
}

func (m *Manager) ListSlaves(status string) ([]*store.Slave, error) {
	ctx := context.Background()
	if m.redis != nil {
		if slaves, err := m.redis.GetSlaveList(ctx, status); err == nil {
			return slaves, nil
		}
	}
	slaves, err := m.db.ListSlaves(status)
	if err != nil {
		return nil, err
	}
	if m.redis != nil {
		m.redis.SetSlaveList(ctx, status, slaves)
	}
	return slaves, nil
}

func (m *Manager) GetDevice(id int64) (*store.Device, error) {
	ctx := context.Background()
	if m.redis != nil {
		if d, err := m.redis.GetDevice(ctx, id); err == nil {
			return d, nil
		}
	}
	d, err := m.db.GetDevice(id)
	if err != nil {
		return nil, err
	}
	if m.redis != nil {
		m.redis.SetDevice(ctx, d)
	}
	return d, nil
}

// InvalidateSlave drops the slave's entry and the list entries that could
// contain it. List keys always go, since a status transition moves the
// slave between lists.
func (m *Manager) InvalidateSlave(id int64) {
	if m.redis == nil {
		return
	}
	ctx := context.Background()
	if err := m.redis.DeleteSlave(ctx, id); err != nil {
		log.Printf("statecache: invalidate slave %d: %v", id, err)
	}
	if err := m.redis.DeleteSlaveLists(ctx); err != nil {
		log.Printf("statecache: invalidate slave lists: %v", err)
	}
}

func (m *Manager) InvalidateDevice(id int64) {
	if m.redis == nil {
		return
	}
	if err := m.redis.DeleteDevice(context.Background(), id); err != nil {
		log.Printf("statecache: invalidate device %d: %v", id, err)
	}
}

func (m *Manager) InvalidateDevices(ids []int64) {
	for _, id := range ids {
		m.InvalidateDevice(id)
	}
}

// SyncFromSQL rebuilds the cache from the store. Called on startup so the
// first reads after a restart do not serve state from a previous run.
func (m *Manager) SyncFromSQL() error {
	if m.redis == nil {
		return nil
	}
	ctx := context.Background()
	m.redis.FlushAll(ctx)

	slaves, err := m.db.ListSlaves("")
	if err != nil {
		return err
	}
	for _, s := range slaves {
		if err := m.redis.SetSlave(ctx, s); err != nil {
			log.Printf("statecache: sync slave %d: %v", s.ID, err)
		}
	}

	devices, err := m.db.ListDevices("", "", 0)
	if err != nil {
		return err
	}
	for _, d := range devices {
		if err := m.redis.SetDevice(ctx, d); err != nil {
			log.Printf("statecache: sync device %d: %v", d.ID, err)
		}
	}

	log.Printf("statecache: synced %d slaves, %d devices to redis", len(slaves), len(devices))
	return nil
}
