package registry

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"regexp"

	"fleetcore/statecache"
	"fleetcore/store"
)

// fingerprintPattern matches the MAC-format hardware identifier slaves
// present at registration (aa:bb:cc:dd:ee:ff, colon or dash separated).
var fingerprintPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}$`)

// Registry tracks slave identity. Registration is idempotent by hardware
// fingerprint: a known slave is reactivated in place, never duplicated.
type Registry struct {
	db    *store.DB
	cache *statecache.Manager
}

func New(db *store.DB, cache *statecache.Manager) *Registry {
	return &Registry{db: db, cache: cache}
}

// Register creates or reactivates a slave and returns its id along with
// whether the row already existed.
func (r *Registry) Register(hostname, address, fingerprint string) (int64, bool, error) {
	if !ValidFingerprintFormat(fingerprint) {
		return 0, false, fmt.Errorf("invalid fingerprint format: %q", fingerprint)
	}

	existing, err := r.db.GetSlaveByFingerprint(fingerprint)
	if err == nil {
		if err := r.db.ReactivateSlave(existing.ID, hostname, address); err != nil {
			return 0, false, fmt.Errorf("reactivate slave %d: %w", existing.ID, err)
		}
		r.cache.InvalidateSlave(existing.ID)
		log.Printf("registry: slave %d re-registered (%s)", existing.ID, hostname)
		return existing.ID, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("lookup fingerprint: %w", err)
	}

	slave := &store.Slave{
		Hostname:    hostname,
		Address:     address,
		Fingerprint: fingerprint,
		Status:      store.SlaveOnline,
	}
	if err := r.db.CreateSlave(slave); err != nil {
		return 0, false, err
	}
	r.cache.InvalidateSlave(slave.ID)
	log.Printf("registry: slave %d registered (%s, %s)", slave.ID, hostname, fingerprint)
	return slave.ID, false, nil
}

// Validate confirms a fingerprint is well formed and belongs to a
// registered slave. Fails closed: any lookup error reads as not valid.
func (r *Registry) Validate(fingerprint string) bool {
	if !ValidFingerprintFormat(fingerprint) {
		return false
	}
	if _, err := r.db.GetSlaveByFingerprint(fingerprint); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("registry: validate %s: %v", fingerprint, err)
		}
		return false
	}
	return true
}

func (r *Registry) ListSlaves(status string) ([]*store.Slave, error) {
	return r.cache.ListSlaves(status)
}

func (r *Registry) GetSlave(id int64) (*store.Slave, error) {
	return r.cache.GetSlave(id)
}

func ValidFingerprintFormat(fingerprint string) bool {
	return fingerprintPattern.MatchString(fingerprint)
}
