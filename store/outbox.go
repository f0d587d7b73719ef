package store

import (
	"database/sql"
	"time"
)

// OutboxEntry is a pending notification for the external notifier. Rows are
// written in the same process as the state change and drained by the
// messaging loop, so events survive a restart.
type OutboxEntry struct {
	ID          int64
	Topic       string
	Kind        string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

func (db *DB) EnqueueOutbox(topic string, payload []byte, kind string) error {
	_, err := db.Exec(db.Q(`INSERT INTO events_outbox (topic, kind, payload, created_at) VALUES (?, ?, ?, ?)`),
		topic, kind, payload, fmtTime(time.Now()))
	return err
}

func (db *DB) ListPendingOutbox(limit int) ([]*OutboxEntry, error) {
	rows, err := db.Query(db.Q(`SELECT id, topic, kind, payload, created_at, published_at FROM events_outbox WHERE published_at IS NULL ORDER BY id LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []*OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var createdAt string
		var publishedAt sql.NullString
		if err := rows.Scan(&e.ID, &e.Topic, &e.Kind, &e.Payload, &createdAt, &publishedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		e.PublishedAt = nullableTime(publishedAt)
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (db *DB) MarkOutboxPublished(id int64) error {
	_, err := db.Exec(db.Q(`UPDATE events_outbox SET published_at = ? WHERE id = ?`), fmtTime(time.Now()), id)
	return err
}

// PruneOutbox deletes published rows older than the cutoff.
func (db *DB) PruneOutbox(cutoff time.Time) (int64, error) {
	res, err := db.Exec(db.Q(`DELETE FROM events_outbox WHERE published_at IS NOT NULL AND published_at < ?`), fmtTime(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
