package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fleetcore/fleet"
)

const (
	EndReasonUserReleased = "user_released"
	EndReasonSlaveOffline = "slave_offline"
	EndReasonTimeout      = "timeout"
)

type Reservation struct {
	ID        int64      `json:"id"`
	Token     string     `json:"token"`
	DeviceID  int64      `json:"device_id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
}

// AllocateDevice reserves a device for a user, one transaction or nothing.
// The partial unique index on open reservations backstops the in-transaction
// checks, so two racing allocators cannot both commit.
func (db *DB) AllocateDevice(deviceID int64, userID string, now time.Time) (*Reservation, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var deviceStatus, slaveStatus string
	err = tx.QueryRow(db.Q(`SELECT d.status, s.status FROM devices d JOIN slaves s ON s.id = d.slave_id WHERE d.id = ?`)+db.dialect.ForUpdate(), deviceID).
		Scan(&deviceStatus, &slaveStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("device %d: %w", deviceID, sql.ErrNoRows)
	}
	if err != nil {
		return nil, fmt.Errorf("allocate lookup device %d: %w", deviceID, err)
	}
	if slaveStatus != SlaveOnline {
		return nil, fleet.ErrDeviceOffline
	}
	switch deviceStatus {
	case DeviceOnline:
	case DeviceReserved:
		return nil, fleet.ErrDeviceBusy
	default:
		return nil, fleet.ErrDeviceOffline
	}

	var openCount int
	if err := tx.QueryRow(db.Q(`SELECT COUNT(*) FROM reservations WHERE device_id = ? AND ended_at IS NULL`), deviceID).Scan(&openCount); err != nil {
		return nil, err
	}
	if openCount > 0 {
		return nil, fleet.ErrDeviceBusy
	}

	res := &Reservation{
		Token:     uuid.New().String(),
		DeviceID:  deviceID,
		UserID:    userID,
		StartedAt: now.UTC(),
	}
	err = tx.QueryRow(db.Q(`INSERT INTO reservations (token, device_id, user_id, started_at) VALUES (?, ?, ?, ?) RETURNING id`),
		res.Token, deviceID, userID, fmtTime(res.StartedAt)).Scan(&res.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fleet.ErrDeviceBusy
		}
		return nil, mapTxError(fmt.Errorf("insert reservation: %w", err))
	}

	if _, err := tx.Exec(db.Q(`UPDATE devices SET status = ? WHERE id = ?`), DeviceReserved, deviceID); err != nil {
		return nil, fmt.Errorf("reserve device %d: %w", deviceID, err)
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, fleet.ErrDeviceBusy
		}
		return nil, mapTxError(err)
	}
	return res, nil
}

// ReleaseDevice closes the open reservation on a device if userID owns it
// and returns the device to online.
func (db *DB) ReleaseDevice(deviceID int64, userID string, now time.Time) (*Reservation, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := openReservationTx(tx, db, deviceID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fleet.ErrNotReserved
	}
	if res.UserID != userID {
		return nil, fleet.ErrNotOwner
	}

	ended := now.UTC()
	if _, err := tx.Exec(db.Q(`UPDATE reservations SET ended_at = ?, end_reason = ? WHERE id = ? AND ended_at IS NULL`),
		fmtTime(ended), EndReasonUserReleased, res.ID); err != nil {
		return nil, fmt.Errorf("close reservation %d: %w", res.ID, err)
	}
	if _, err := tx.Exec(db.Q(`UPDATE devices SET status = ? WHERE id = ? AND status = ?`),
		DeviceOnline, deviceID, DeviceReserved); err != nil {
		return nil, fmt.Errorf("release device %d: %w", deviceID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	res.EndedAt = &ended
	res.EndReason = EndReasonUserReleased
	return res, nil
}

func (db *DB) GetOpenReservation(deviceID int64) (*Reservation, error) {
	row := db.QueryRow(db.Q(`SELECT id, token, device_id, user_id, started_at, ended_at, end_reason FROM reservations WHERE device_id = ? AND ended_at IS NULL`), deviceID)
	res, err := scanReservation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fleet.ErrNotReserved
	}
	return res, err
}

func (db *DB) ListOpenReservations() ([]*Reservation, error) {
	return db.queryReservations(`SELECT id, token, device_id, user_id, started_at, ended_at, end_reason FROM reservations WHERE ended_at IS NULL ORDER BY started_at`)
}

func (db *DB) ListReservations(deviceID int64, userID string, limit int) ([]*Reservation, error) {
	query := `SELECT id, token, device_id, user_id, started_at, ended_at, end_reason FROM reservations WHERE 1=1`
	var args []any
	if deviceID != 0 {
		query += ` AND device_id = ?`
		args = append(args, deviceID)
	}
	if userID != "" {
		query += ` AND user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	return db.queryReservations(query, args...)
}

// ReclaimStaleReservations closes open reservations started before cutoff
// with end_reason timeout, one transaction per reservation so a bad row
// cannot stall the rest of the sweep.
func (db *DB) ReclaimStaleReservations(cutoff, now time.Time) ([]*Reservation, error) {
	open, err := db.ListOpenReservations()
	if err != nil {
		return nil, err
	}
	var reclaimed []*Reservation
	for _, res := range open {
		if !res.StartedAt.Before(cutoff) {
			continue
		}
		closed, err := db.closeReservation(res, EndReasonTimeout, DeviceOnline, now)
		if err != nil {
			return reclaimed, fmt.Errorf("reclaim reservation %d: %w", res.ID, err)
		}
		if !closed {
			continue
		}
		ended := now.UTC()
		res.EndedAt = &ended
		res.EndReason = EndReasonTimeout
		reclaimed = append(reclaimed, res)
	}
	return reclaimed, nil
}

// RecoverOpenReservations is the startup crash-recovery scan: any open
// reservation whose slave is not online is closed with slave_offline and
// its device forced offline. A stale reserved row surviving a restart must
// not block reallocation.
func (db *DB) RecoverOpenReservations(now time.Time) ([]*Reservation, error) {
	rows, err := db.Query(db.Q(`SELECT r.id, r.token, r.device_id, r.user_id, r.started_at, r.ended_at, r.end_reason
		FROM reservations r
		JOIN devices d ON d.id = r.device_id
		JOIN slaves s ON s.id = d.slave_id
		WHERE r.ended_at IS NULL AND s.status != ?`), SlaveOnline)
	if err != nil {
		return nil, err
	}
	var orphaned []*Reservation
	for rows.Next() {
		res, err := scanReservation(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orphaned = append(orphaned, res)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var recovered []*Reservation
	for _, res := range orphaned {
		closed, err := db.closeReservation(res, EndReasonSlaveOffline, DeviceOffline, now)
		if err != nil {
			return recovered, fmt.Errorf("recover reservation %d: %w", res.ID, err)
		}
		if !closed {
			continue
		}
		ended := now.UTC()
		res.EndedAt = &ended
		res.EndReason = EndReasonSlaveOffline
		recovered = append(recovered, res)
	}
	return recovered, nil
}

// closeReservation closes one reservation and sets its device status in a
// single transaction. Returns false without touching the device when the
// reservation was already closed: the row may have been released and the
// device reallocated since the caller listed it, and flipping the status
// then would contradict the new open reservation.
func (db *DB) closeReservation(res *Reservation, reason, deviceStatus string, now time.Time) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	r, err := tx.Exec(db.Q(`UPDATE reservations SET ended_at = ?, end_reason = ? WHERE id = ? AND ended_at IS NULL`),
		fmtTime(now), reason, res.ID)
	if err != nil {
		return false, err
	}
	if n, _ := r.RowsAffected(); n == 0 {
		return false, nil
	}
	if _, err := tx.Exec(db.Q(`UPDATE devices SET status = ? WHERE id = ? AND status = ?`),
		deviceStatus, res.DeviceID, DeviceReserved); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, mapTxError(err)
	}
	return true, nil
}

// closeOpenReservationTx closes the open reservation on a device inside an
// existing transaction. Returns nil when the device has none.
func closeOpenReservationTx(tx *sql.Tx, db *DB, deviceID int64, reason string, now time.Time) (*Reservation, error) {
	row := tx.QueryRow(db.Q(`SELECT id, token, device_id, user_id, started_at, ended_at, end_reason FROM reservations WHERE device_id = ? AND ended_at IS NULL`), deviceID)
	res, err := scanReservation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ended := now.UTC()
	if _, err := tx.Exec(db.Q(`UPDATE reservations SET ended_at = ?, end_reason = ? WHERE id = ?`),
		fmtTime(ended), reason, res.ID); err != nil {
		return nil, err
	}
	res.EndedAt = &ended
	res.EndReason = reason
	return res, nil
}

func openReservationTx(tx *sql.Tx, db *DB, deviceID int64) (*Reservation, error) {
	row := tx.QueryRow(db.Q(`SELECT id, token, device_id, user_id, started_at, ended_at, end_reason FROM reservations WHERE device_id = ? AND ended_at IS NULL`)+db.dialect.ForUpdate(), deviceID)
	res, err := scanReservation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return res, err
}

func (db *DB) queryReservations(query string, args ...any) ([]*Reservation, error) {
	rows, err := db.Query(db.Q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reservations []*Reservation
	for rows.Next() {
		res, err := scanReservation(rows.Scan)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, res)
	}
	return reservations, rows.Err()
}

func scanReservation(scan func(...any) error) (*Reservation, error) {
	var res Reservation
	var startedAt string
	var endedAt sql.NullString
	if err := scan(&res.ID, &res.Token, &res.DeviceID, &res.UserID, &startedAt, &endedAt, &res.EndReason); err != nil {
		return nil, err
	}
	res.StartedAt = parseTime(startedAt)
	res.EndedAt = nullableTime(endedAt)
	return &res, nil
}
