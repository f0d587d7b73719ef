package statecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fleetcore/store"
)

// RedisStore holds the short-TTL liveness cache. Keys:
//
//	slave:{id}          one slave row
//	slave:list:{status} slave list per status filter ("" for all)
//	device:{id}         one device row
//
// Values are JSON. Every writer that touches slave/device/reservation state
// deletes the keys it affected before returning, so staleness is bounded by
// the commit-to-invalidate window rather than the TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func slaveKey(id int64) string          { return fmt.Sprintf("slave:%d", id) }
func slaveListKey(status string) string { return "slave:list:" + status }
func deviceKey(id int64) string         { return fmt.Sprintf("device:%d", id) }

func (r *RedisStore) GetSlave(ctx context.Context, id int64) (*store.Slave, error) {
	data, err := r.client.Get(ctx, slaveKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var s store.Slave
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *RedisStore) SetSlave(ctx context.Context, s *store.Slave) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, slaveKey(s.ID), data, r.ttl).Err()
}

func (r *RedisStore) GetSlaveList(ctx context.Context, status string) ([]*store.Slave, error) {
	data, err := r.client.Get(ctx, slaveListKey(status)).Bytes()
	if err != nil {
		return nil, err
	}
	var slaves []*store.Slave
	if err := json.Unmarshal(data, &slaves); err != nil {
		return nil, err
	}
	return slaves, nil
}

func (r *RedisStore) SetSlaveList(ctx context.Context, status string, slaves []*store.Slave) error {
	data, err := json.Marshal(slaves)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, slaveListKey(status), data, r.ttl).Err()
}

func (r *RedisStore) GetDevice(ctx context.Context, id int64) (*store.Device, error) {
	data, err := r.client.Get(ctx, deviceKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var d store.Device
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *RedisStore) SetDevice(ctx context.Context, d *store.Device) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, deviceKey(d.ID), data, r.ttl).Err()
}

func (r *RedisStore) DeleteSlave(ctx context.Context, id int64) error {
	return r.client.Del(ctx, slaveKey(id)).Err()
}

func (r *RedisStore) DeleteDevice(ctx context.Context, id int64) error {
	return r.client.Del(ctx, deviceKey(id)).Err()
}

// DeleteSlaveLists drops every slave:list:* entry. The status set is tiny
// and fixed, so enumeration beats SCAN.
func (r *RedisStore) DeleteSlaveLists(ctx context.Context) error {
	return r.client.Del(ctx,
		slaveListKey(""),
		slaveListKey(store.SlaveOnline),
		slaveListKey(store.SlaveOffline),
	).Err()
}

func (r *RedisStore) FlushAll(ctx context.Context) error {
	return r.client.FlushDB(ctx).Err()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
