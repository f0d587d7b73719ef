package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetcore/fleet"
)

func TestAllocateExclusive(t *testing.T) {
	db := newTestDB(t)
	s := seedSlave(t, db, "aa:bb:cc:dd:ee:01")
	d := seedDevice(t, db, s.ID, "KEY001", "usb-key")

	res, err := db.AllocateDevice(d.ID, "user-a", time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)
	assert.Equal(t, "user-a", res.UserID)

	device, err := db.GetDevice(d.ID)
	require.NoError(t, err)
	assert.Equal(t, DeviceReserved, device.Status)

	_, err = db.AllocateDevice(d.ID, "user-b", time.Now())
	assert.ErrorIs(t, err, fleet.ErrDeviceBusy)
}

func TestAllocateConcurrent(t *testing.T) {
	db := newTestDB(t)
	s := seedSlave(t, db, "aa:bb:cc:dd:ee:02")
	d := seedDevice(t, db, s.ID, "KEY002", "usb-key")

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = db.AllocateDevice(d.ID, "racer", time.Now())
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, fleet.ErrDeviceBusy)
	}
	assert.Equal(t, 1, wins, "exactly one allocation must win")

	open, err := db.ListOpenReservations()
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestAllocateOfflineSlave(t *testing.T) {
	db := newTestDB(t)
	s := seedSlave(t, db, "aa:bb:cc:dd:ee:03")
	d := seedDevice(t, db, s.ID, "KEY003", "usb-key")

	_, _, err := db.MarkSlaveOffline(s.ID, time.Now())
	require.NoError(t, err)

	_, err = db.AllocateDevice(d.ID, "user-a", time.Now())
	assert.ErrorIs(t, err, fleet.ErrDeviceOffline)
}

func TestReleaseOwnership(t *testing.T) {
	db := newTestDB(t)
	s := seedSlave(t, db, "aa:bb:cc:dd:ee:04")
	d := seedDevice(t, db, s.ID, "KEY004", "usb-key")

	_, err := db.AllocateDevice(d.ID, "owner", time.Now())
	require.NoError(t, err)

	// Wrong user must not close the reservation.
	_, err = db.ReleaseDevice(d.ID, "intruder", time.Now())
	assert.ErrorIs(t, err, fleet.ErrNotOwner)
	open, err := db.GetOpenReservation(d.ID)
	require.NoError(t, err)
	assert.Nil(t, open.EndedAt)

	res, err := db.ReleaseDevice(d.ID, "owner", time.Now())
	require.NoError(t, err)
	assert.Equal(t, EndReasonUserReleased, res.EndReason)

	device, err := db.GetDevice(d.ID)
	require.NoError(t, err)
	assert.Equal(t, DeviceOnline, device.Status)

	_, err = db.ReleaseDevice(d.ID, "owner", time.Now())
	assert.ErrorIs(t, err, fleet.ErrNotReserved)
}

func TestReclaimStaleReservations(t *testing.T) {
	db := newTestDB(t)
	s := seedSlave(t, db, "aa:bb:cc:dd:ee:05")
	old := seedDevice(t, db, s.ID, "OLD", "usb-key")
	fresh := seedDevice(t, db, s.ID, "FRESH", "usb-key")

	started := time.Now().Add(-2 * time.Hour)
	_, err := db.AllocateDevice(old.ID, "user-a", started)
	require.NoError(t, err)
	_, err = db.AllocateDevice(fresh.ID, "user-b", time.Now())
	require.NoError(t, err)

	reclaimed, err := db.ReclaimStaleReservations(time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, old.ID, reclaimed[0].DeviceID)
	assert.Equal(t, EndReasonTimeout, reclaimed[0].EndReason)

	device, err := db.GetDevice(old.ID)
	require.NoError(t, err)
	assert.Equal(t, DeviceOnline, device.Status, "reclaimed device is allocatable again")

	// The fresh reservation stays open.
	_, err = db.GetOpenReservation(fresh.ID)
	require.NoError(t, err)
}

func TestReclaimLeavesReallocatedDeviceAlone(t *testing.T) {
	db := newTestDB(t)
	s := seedSlave(t, db, "aa:bb:cc:dd:ee:07")
	d := seedDevice(t, db, s.ID, "KEY007", "usb-key")

	stale, err := db.AllocateDevice(d.ID, "user-a", time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	// The owner releases and another user grabs the device before the
	// sweep gets around to the stale row it listed.
	_, err = db.ReleaseDevice(d.ID, "user-a", time.Now())
	require.NoError(t, err)
	fresh, err := db.AllocateDevice(d.ID, "user-b", time.Now())
	require.NoError(t, err)

	closed, err := db.closeReservation(stale, EndReasonTimeout, DeviceOnline, time.Now())
	require.NoError(t, err)
	assert.False(t, closed)

	// The new reservation stays open and the device stays reserved.
	device, err := db.GetDevice(d.ID)
	require.NoError(t, err)
	assert.Equal(t, DeviceReserved, device.Status)
	open, err := db.GetOpenReservation(d.ID)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, open.ID)

	res, err := db.ListReservations(d.ID, "user-a", 10)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, EndReasonUserReleased, res[0].EndReason)
}

func TestRecoverOpenReservations(t *testing.T) {
	db := newTestDB(t)
	s := seedSlave(t, db, "aa:bb:cc:dd:ee:06")
	d := seedDevice(t, db, s.ID, "KEY006", "usb-key")

	_, err := db.AllocateDevice(d.ID, "user-a", time.Now())
	require.NoError(t, err)

	// Simulate a crash that left the slave offline with the reservation
	// still open: flip the slave directly, bypassing the cascade.
	_, err = db.Exec(db.Q(`UPDATE slaves SET status = ? WHERE id = ?`), SlaveOffline, s.ID)
	require.NoError(t, err)

	recovered, err := db.RecoverOpenReservations(time.Now())
	require.NoError(t, err)
	require.Len(t, recovered, 1)
	assert.Equal(t, EndReasonSlaveOffline, recovered[0].EndReason)

	open, err := db.ListOpenReservations()
	require.NoError(t, err)
	assert.Empty(t, open)

	device, err := db.GetDevice(d.ID)
	require.NoError(t, err)
	assert.Equal(t, DeviceOffline, device.Status)
}
