package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"fleetcore/fleet"
)

const (
	SlaveOnline  = "online"
	SlaveOffline = "offline"
)

type Slave struct {
	ID            int64      `json:"id"`
	Hostname      string     `json:"hostname"`
	Address       string     `json:"address"`
	Fingerprint   string     `json:"fingerprint"`
	Status        string     `json:"status"`
	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty"`
	RetryCount    int        `json:"retry_count"`
	CreatedAt     time.Time  `json:"created_at"`
}

func (db *DB) CreateSlave(s *Slave) error {
	s.CreatedAt = time.Now().UTC()
	if s.Status == "" {
		s.Status = SlaveOnline
	}
	err := db.QueryRow(db.Q(`INSERT INTO slaves (hostname, address, fingerprint, status, retry_count, created_at) VALUES (?, ?, ?, ?, 0, ?) RETURNING id`),
		s.Hostname, s.Address, s.Fingerprint, s.Status, fmtTime(s.CreatedAt)).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("create slave: %w", err)
	}
	return nil
}

func (db *DB) GetSlave(id int64) (*Slave, error) {
	return db.scanSlave(db.QueryRow(db.Q(`SELECT id, hostname, address, fingerprint, status, last_heartbeat, retry_count, created_at FROM slaves WHERE id = ?`), id))
}

func (db *DB) GetSlaveByFingerprint(fingerprint string) (*Slave, error) {
	return db.scanSlave(db.QueryRow(db.Q(`SELECT id, hostname, address, fingerprint, status, last_heartbeat, retry_count, created_at FROM slaves WHERE fingerprint = ?`), fingerprint))
}

// ListSlaves returns slaves filtered by status, or all when status is empty.
func (db *DB) ListSlaves(status string) ([]*Slave, error) {
	query := `SELECT id, hostname, address, fingerprint, status, last_heartbeat, retry_count, created_at FROM slaves`
	var args []any
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id`
	rows, err := db.Query(db.Q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var slaves []*Slave
	for rows.Next() {
		s, err := scanSlaveRow(rows)
		if err != nil {
			return nil, err
		}
		slaves = append(slaves, s)
	}
	return slaves, rows.Err()
}

// ReactivateSlave brings a known slave back online after re-registration,
// refreshing its reported hostname and address.
func (db *DB) ReactivateSlave(id int64, hostname, address string) error {
	_, err := db.Exec(db.Q(`UPDATE slaves SET hostname = ?, address = ?, status = ?, retry_count = 0 WHERE id = ?`),
		hostname, address, SlaveOnline, id)
	return err
}

func (db *DB) IncrementSlaveRetry(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE slaves SET retry_count = retry_count + 1 WHERE id = ?`), id)
	return err
}

// RecordHeartbeat stamps a heartbeat and resets the retry counter. This is
// the only path back to online; when the slave was offline its offline
// devices come back online in the same transaction. Reservations closed by
// an earlier cascade stay closed.
func (db *DB) RecordHeartbeat(slaveID int64, now time.Time) (wasOffline bool, prevRetry int, err error) {
	tx, err := db.Begin()
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(db.Q(`SELECT status, retry_count FROM slaves WHERE id = ?`)+db.dialect.ForUpdate(), slaveID).Scan(&status, &prevRetry)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, fleet.ErrSlaveUnknown
	}
	if err != nil {
		return false, 0, fmt.Errorf("heartbeat lookup slave %d: %w", slaveID, err)
	}
	wasOffline = status == SlaveOffline

	if _, err := tx.Exec(db.Q(`UPDATE slaves SET last_heartbeat = ?, retry_count = 0, status = ? WHERE id = ?`),
		fmtTime(now), SlaveOnline, slaveID); err != nil {
		return false, 0, fmt.Errorf("heartbeat update slave %d: %w", slaveID, err)
	}

	if wasOffline {
		if _, err := tx.Exec(db.Q(`UPDATE devices SET status = ? WHERE slave_id = ? AND status = ?`),
			DeviceOnline, slaveID, DeviceOffline); err != nil {
			return false, 0, fmt.Errorf("heartbeat revive devices for slave %d: %w", slaveID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, 0, mapTxError(err)
	}
	return wasOffline, prevRetry, nil
}

// MarkSlaveOffline demotes a slave and cascades in one transaction: owned
// devices go offline and their open reservations close with slave_offline.
// A reader never sees a device online under an offline slave.
func (db *DB) MarkSlaveOffline(slaveID int64, now time.Time) (deviceIDs []int64, closed []*Reservation, err error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(db.Q(`UPDATE slaves SET status = ?, retry_count = 0 WHERE id = ?`), SlaveOffline, slaveID); err != nil {
		return nil, nil, fmt.Errorf("mark slave %d offline: %w", slaveID, err)
	}

	rows, err := tx.Query(db.Q(`SELECT id FROM devices WHERE slave_id = ? AND status IN (?, ?)`),
		slaveID, DeviceOnline, DeviceReserved)
	if err != nil {
		return nil, nil, err
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, err
		}
		deviceIDs = append(deviceIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	for _, deviceID := range deviceIDs {
		if _, err := tx.Exec(db.Q(`UPDATE devices SET status = ? WHERE id = ?`), DeviceOffline, deviceID); err != nil {
			return nil, nil, fmt.Errorf("cascade device %d offline: %w", deviceID, err)
		}
		res, err := closeOpenReservationTx(tx, db, deviceID, EndReasonSlaveOffline, now)
		if err != nil {
			return nil, nil, err
		}
		if res != nil {
			closed = append(closed, res)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, mapTxError(err)
	}
	return deviceIDs, closed, nil
}

func (db *DB) scanSlave(row *sql.Row) (*Slave, error) {
	var s Slave
	var lastHB sql.NullString
	var createdAt string
	err := row.Scan(&s.ID, &s.Hostname, &s.Address, &s.Fingerprint, &s.Status, &lastHB, &s.RetryCount, &createdAt)
	if err != nil {
		return nil, err
	}
	s.LastHeartbeat = nullableTime(lastHB)
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

func scanSlaveRow(rows *sql.Rows) (*Slave, error) {
	var s Slave
	var lastHB sql.NullString
	var createdAt string
	err := rows.Scan(&s.ID, &s.Hostname, &s.Address, &s.Fingerprint, &s.Status, &lastHB, &s.RetryCount, &createdAt)
	if err != nil {
		return nil, err
	}
	s.LastHeartbeat = nullableTime(lastHB)
	s.CreatedAt = parseTime(createdAt)
	return &s, nil
}

func mapTxError(err error) error {
	if isSerializationFailure(err) {
		return fmt.Errorf("%w: %v", fleet.ErrStoreConflict, err)
	}
	return err
}
