package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcore/allocator"
	"fleetcore/config"
	"fleetcore/fleet"
	"fleetcore/statecache"
	"fleetcore/store"
)

type nopEmitter struct{}

func (nopEmitter) EmitDeviceAllocated(*store.Reservation)            {}
func (nopEmitter) EmitDeviceReleased(*store.Reservation)             {}
func (nopEmitter) EmitReservationReclaimed(*store.Reservation, string) {}

func newTestScheduler(t *testing.T) (*Scheduler, *store.DB) {
	t.Helper()
	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "fleet.db")},
	}
	db, err := store.Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	alloc := allocator.New(db, statecache.NewManager(db, nil), nopEmitter{})
	return New(db, alloc), db
}

func seedSlave(t *testing.T, db *store.DB, fingerprint string, reports ...store.DeviceReport) *store.Slave {
	t.Helper()
	s := &store.Slave{Hostname: "host", Address: "10.0.0.8", Fingerprint: fingerprint}
	require.NoError(t, db.CreateSlave(s))
	if len(reports) > 0 {
		require.NoError(t, db.SyncSlaveDevices(s.ID, reports, time.Now()))
	}
	return s
}

func deviceBySerial(t *testing.T, db *store.DB, slaveID int64, serial string) *store.Device {
	t.Helper()
	devices, err := db.ListDevices("", "", slaveID)
	require.NoError(t, err)
	for _, d := range devices {
		if d.Serial == serial {
			return d
		}
	}
	t.Fatalf("device %s not found", serial)
	return nil
}

func TestRequestPrefersLeastRecentlySeen(t *testing.T) {
	sched, db := newTestScheduler(t)
	s := seedSlave(t, db, "aa:bb:cc:dd:ee:40",
		store.DeviceReport{Serial: "NEW", Kind: "usb-key"},
		store.DeviceReport{Serial: "OLD", Kind: "usb-key"},
	)
	old := deviceBySerial(t, db, s.ID, "OLD")
	_, err := db.Exec(db.Q(`UPDATE devices SET last_seen = ? WHERE id = ?`),
		time.Now().Add(-time.Hour).UTC().Format("2006-01-02T15:04:05.000000000Z"), old.ID)
	require.NoError(t, err)

	res, err := sched.RequestDevice("usb-key", "user-a", 0)
	require.NoError(t, err)
	assert.Equal(t, old.ID, res.DeviceID)
}

func TestRequestSkipsBusyCandidates(t *testing.T) {
	sched, db := newTestScheduler(t)
	seedSlave(t, db, "aa:bb:cc:dd:ee:41",
		store.DeviceReport{Serial: "A", Kind: "usb-key"},
		store.DeviceReport{Serial: "B", Kind: "usb-key"},
	)

	first, err := sched.RequestDevice("usb-key", "user-a", 0)
	require.NoError(t, err)
	second, err := sched.RequestDevice("usb-key", "user-b", 0)
	require.NoError(t, err)
	assert.NotEqual(t, first.DeviceID, second.DeviceID)

	_, err = sched.RequestDevice("usb-key", "user-c", 0)
	assert.ErrorIs(t, err, fleet.ErrNoDeviceAvailable)
}

func TestRequestFiltersByKind(t *testing.T) {
	sched, db := newTestScheduler(t)
	seedSlave(t, db, "aa:bb:cc:dd:ee:42",
		store.DeviceReport{Serial: "P1", Kind: "printer"},
	)

	_, err := sched.RequestDevice("usb-key", "user-a", 0)
	assert.ErrorIs(t, err, fleet.ErrNoDeviceAvailable)

	res, err := sched.RequestDevice("printer", "user-a", 0)
	require.NoError(t, err)
	assert.NotZero(t, res.DeviceID)
}

func TestRequestPinnedToSlave(t *testing.T) {
	sched, db := newTestScheduler(t)
	seedSlave(t, db, "aa:bb:cc:dd:ee:43",
		store.DeviceReport{Serial: "K1", Kind: "usb-key"},
	)
	s2 := seedSlave(t, db, "aa:bb:cc:dd:ee:44",
		store.DeviceReport{Serial: "K2", Kind: "usb-key"},
	)

	res, err := sched.RequestDevice("usb-key", "user-a", s2.ID)
	require.NoError(t, err)
	d, err := db.GetDevice(res.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, s2.ID, d.SlaveID)
}

func TestRequestSkipsOfflineSlaves(t *testing.T) {
	sched, db := newTestScheduler(t)
	s := seedSlave(t, db, "aa:bb:cc:dd:ee:45",
		store.DeviceReport{Serial: "K1", Kind: "usb-key"},
	)
	_, _, err := db.MarkSlaveOffline(s.ID, time.Now())
	require.NoError(t, err)

	_, err = sched.RequestDevice("usb-key", "user-a", 0)
	assert.ErrorIs(t, err, fleet.ErrNoDeviceAvailable)
}
