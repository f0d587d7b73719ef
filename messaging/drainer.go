package messaging

import (
	"log"
	"sync"
	"time"

	"fleetcore/config"
	"fleetcore/store"
)

// OutboxDrainer publishes pending outbox rows to the messaging backend.
// Rows stay pending while the broker is down and drain when it returns.
type OutboxDrainer struct {
	db       *store.DB
	client   *Client
	interval time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewOutboxDrainer(db *store.DB, client *Client, interval config.Duration) *OutboxDrainer {
	return &OutboxDrainer{
		db:       db,
		client:   client,
		interval: interval.Std(),
		stopChan: make(chan struct{}),
	}
}

func (d *OutboxDrainer) Start() {
	go d.loop()
}

func (d *OutboxDrainer) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
}

func (d *OutboxDrainer) loop() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
			d.Drain()
		}
	}
}

func (d *OutboxDrainer) Drain() {
	if !d.client.IsConnected() {
		return
	}
	entries, err := d.db.ListPendingOutbox(100)
	if err != nil {
		log.Printf("messaging: list outbox: %v", err)
		return
	}
	for _, e := range entries {
		if err := d.client.Publish(e.Topic, e.Payload); err != nil {
			log.Printf("messaging: publish outbox %d (%s): %v", e.ID, e.Kind, err)
			return
		}
		if err := d.db.MarkOutboxPublished(e.ID); err != nil {
			log.Printf("messaging: mark outbox %d published: %v", e.ID, err)
			return
		}
	}
	if len(entries) > 0 {
		log.Printf("messaging: drained %d outbox events", len(entries))
	}
}
