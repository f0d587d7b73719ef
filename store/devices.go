package store

import (
	"database/sql"
	"fmt"
	"time"
)

const (
	DeviceOffline  = "offline"
	DeviceOnline   = "online"
	DeviceReserved = "reserved"
	DeviceError    = "error"
)

type Device struct {
	ID          int64      `json:"id"`
	SlaveID     int64      `json:"slave_id"`
	Serial      string     `json:"serial"`
	Kind        string     `json:"kind"`
	DisplayName string     `json:"display_name"`
	Status      string     `json:"status"`
	LastSeen    *time.Time `json:"last_seen,omitempty"`
}

// DeviceReport is one device as announced in a slave heartbeat.
type DeviceReport struct {
	Serial      string `json:"serial"`
	Kind        string `json:"kind"`
	DisplayName string `json:"display_name"`
}

func (db *DB) GetDevice(id int64) (*Device, error) {
	row := db.QueryRow(db.Q(`SELECT id, slave_id, serial, kind, display_name, status, last_seen FROM devices WHERE id = ?`), id)
	return scanDevice(row.Scan)
}

func (db *DB) ListDevices(kind, status string, slaveID int64) ([]*Device, error) {
	query := `SELECT id, slave_id, serial, kind, display_name, status, last_seen FROM devices WHERE 1=1`
	var args []any
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if slaveID != 0 {
		query += ` AND slave_id = ?`
		args = append(args, slaveID)
	}
	query += ` ORDER BY id`
	return db.queryDevices(query, args...)
}

// ListCandidateDevices returns online devices of a kind ordered by
// last_seen ascending, so allocation spreads toward the least recently
// touched device. slaveID zero means any slave.
func (db *DB) ListCandidateDevices(kind string, slaveID int64) ([]*Device, error) {
	query := `SELECT id, slave_id, serial, kind, display_name, status, last_seen FROM devices WHERE kind = ? AND status = ?`
	args := []any{kind, DeviceOnline}
	if slaveID != 0 {
		query += ` AND slave_id = ?`
		args = append(args, slaveID)
	}
	query += ` ORDER BY (last_seen IS NULL) DESC, last_seen ASC, id ASC`
	return db.queryDevices(query, args...)
}

func (db *DB) SetDeviceStatus(id int64, status string) error {
	res, err := db.Exec(db.Q(`UPDATE devices SET status = ? WHERE id = ?`), status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SyncSlaveDevices reconciles the device list a slave reported with the
// stored rows. Known devices get last_seen refreshed (offline ones come
// back online); new serials are inserted online; devices the slave no
// longer reports drop to offline unless reserved or errored, which the
// sweeps handle.
func (db *DB) SyncSlaveDevices(slaveID int64, reports []DeviceReport, now time.Time) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	seen := make(map[string]bool, len(reports))
	for _, r := range reports {
		seen[r.Serial] = true
		res, err := tx.Exec(db.Q(`UPDATE devices SET kind = ?, display_name = ?, last_seen = ?, status = CASE WHEN status = ? THEN ? ELSE status END WHERE slave_id = ? AND serial = ?`),
			r.Kind, r.DisplayName, fmtTime(now), DeviceOffline, DeviceOnline, slaveID, r.Serial)
		if err != nil {
			return fmt.Errorf("sync device %s: %w", r.Serial, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if _, err := tx.Exec(db.Q(`INSERT INTO devices (slave_id, serial, kind, display_name, status, last_seen) VALUES (?, ?, ?, ?, ?, ?)`),
				slaveID, r.Serial, r.Kind, r.DisplayName, DeviceOnline, fmtTime(now)); err != nil {
				return fmt.Errorf("insert device %s: %w", r.Serial, err)
			}
		}
	}

	rows, err := tx.Query(db.Q(`SELECT id, serial FROM devices WHERE slave_id = ? AND status = ?`), slaveID, DeviceOnline)
	if err != nil {
		return err
	}
	var gone []int64
	for rows.Next() {
		var id int64
		var serial string
		if err := rows.Scan(&id, &serial); err != nil {
			rows.Close()
			return err
		}
		if !seen[serial] {
			gone = append(gone, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range gone {
		if _, err := tx.Exec(db.Q(`UPDATE devices SET status = ? WHERE id = ?`), DeviceOffline, id); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

func (db *DB) queryDevices(query string, args ...any) ([]*Device, error) {
	rows, err := db.Query(db.Q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows.Scan)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

func scanDevice(scan func(...any) error) (*Device, error) {
	var d Device
	var lastSeen sql.NullString
	if err := scan(&d.ID, &d.SlaveID, &d.Serial, &d.Kind, &d.DisplayName, &d.Status, &lastSeen); err != nil {
		return nil, err
	}
	d.LastSeen = nullableTime(lastSeen)
	return &d, nil
}
