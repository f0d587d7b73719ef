package www

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"fleetcore/config"
	"fleetcore/engine"
	"fleetcore/messaging"
	"fleetcore/statecache"
	"fleetcore/store"
)

func newTestServer(t *testing.T, mutate func(*config.Config)) (*httptest.Server, *engine.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.Web.SessionKey = "test-session-key"
	cfg.Database.SQLite.Path = filepath.Join(t.TempDir(), "fleet.db")
	cfg.Fleet.RetryLimit = 2
	if mutate != nil {
		mutate(cfg)
	}

	db, err := store.Open(&cfg.Database)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	eng := engine.New(engine.Config{
		AppConfig: cfg,
		DB:        db,
		Cache:     statecache.NewManager(db, nil),
		MsgClient: messaging.NewClient(&cfg.Messaging),
		LogFunc:   t.Logf,
	})

	srv := httptest.NewServer(NewRouter(eng))
	t.Cleanup(srv.Close)
	return srv, eng
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

// Full lifecycle over the HTTP surface: register, report a device, contend
// for it, lose the slave, get it back.
func TestDeviceLifecycle(t *testing.T) {
	srv, eng := newTestServer(t, nil)

	// Register a slave.
	resp, body := postJSON(t, srv.URL+"/api/slaves/register", map[string]any{
		"hostname":    "lab-1",
		"address":     "10.0.0.5",
		"fingerprint": "aa:bb:cc:dd:ee:ff",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	slaveID := int64(body["slave_id"].(float64))

	// Heartbeat with one exported device.
	hbURL := fmt.Sprintf("%s/api/slaves/%d/heartbeat", srv.URL, slaveID)
	resp, _ = postJSON(t, hbURL, map[string]any{
		"devices": []map[string]string{{"serial": "KEY1", "kind": "usb-key"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// First user gets the device.
	resp, body = postJSON(t, srv.URL+"/api/devices/request", map[string]any{
		"kind": "usb-key", "user_id": "u1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["token"])
	deviceID := int64(body["device_id"].(float64))

	// Second user is turned away.
	resp, body = postJSON(t, srv.URL+"/api/devices/request", map[string]any{
		"kind": "usb-key", "user_id": "u2",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "no_device_available", body["error"])

	// Direct allocation of the reserved device reports busy.
	resp, body = postJSON(t, fmt.Sprintf("%s/api/devices/%d/allocate", srv.URL, deviceID),
		map[string]any{"user_id": "u2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "device_busy", body["error"])

	// The slave goes silent. Retry limit is 2, so the third sweep demotes
	// it and reclaims the reservation.
	future := time.Now().Add(time.Hour)
	eng.Monitor().Sweep(future)
	eng.Monitor().Sweep(future)
	eng.Monitor().Sweep(future)

	var device store.Device
	resp = getJSON(t, fmt.Sprintf("%s/api/devices/%d", srv.URL, deviceID), &device)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.DeviceOffline, device.Status)

	var slave store.Slave
	resp = getJSON(t, fmt.Sprintf("%s/api/slaves/%d", srv.URL, slaveID), &slave)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, store.SlaveOffline, slave.Status)

	// The slave comes back and re-reports its device.
	resp, _ = postJSON(t, hbURL, map[string]any{
		"devices": []map[string]string{{"serial": "KEY1", "kind": "usb-key"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Now the second user succeeds.
	resp, body = postJSON(t, srv.URL+"/api/devices/request", map[string]any{
		"kind": "usb-key", "user_id": "u2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(deviceID), body["device_id"])

	// And releases cleanly.
	resp, _ = postJSON(t, fmt.Sprintf("%s/api/devices/%d/release", srv.URL, deviceID),
		map[string]any{"user_id": "u2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHeartbeatChunkedAndEmptyBodies(t *testing.T) {
	srv, eng := newTestServer(t, nil)

	slaveID, _, err := eng.Registry().Register("lab-1", "10.0.0.5", "aa:bb:cc:dd:ee:09")
	require.NoError(t, err)
	hbURL := fmt.Sprintf("%s/api/slaves/%d/heartbeat", srv.URL, slaveID)

	// Wrapping the reader hides its length, so the client sends the body
	// chunked and the server sees ContentLength -1. The device report must
	// still land.
	body := `{"devices":[{"serial":"KEY9","kind":"usb-key"}]}`
	req, err := http.NewRequest(http.MethodPost, hbURL, struct{ io.Reader }{strings.NewReader(body)})
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	devices, err := eng.DB().ListDevices("", "", slaveID)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "KEY9", devices[0].Serial)

	// A bodyless heartbeat is still a valid liveness ping.
	resp, err = http.Post(hbURL, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHeartbeatUnknownSlaveGone(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, body := postJSON(t, srv.URL+"/api/slaves/999/heartbeat", map[string]any{})
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "slave_unknown", body["error"])
}

func TestRegisterValidation(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, _ := postJSON(t, srv.URL+"/api/slaves/register", map[string]any{
		"hostname": "lab-1", "address": "10.0.0.5", "fingerprint": "not-a-mac",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/api/slaves/register", map[string]any{
		"fingerprint": "aa:bb:cc:dd:ee:ff",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReleaseRequiresOwner(t *testing.T) {
	srv, eng := newTestServer(t, nil)

	_, _, err := eng.Registry().Register("lab-1", "10.0.0.5", "aa:bb:cc:dd:ee:01")
	require.NoError(t, err)
	slaves, err := eng.Registry().ListSlaves("")
	require.NoError(t, err)
	require.NoError(t, eng.Monitor().RecordHeartbeat(slaves[0].ID, []store.DeviceReport{
		{Serial: "KEY1", Kind: "usb-key"},
	}, time.Now()))
	devices, err := eng.DB().ListDevices("", "", slaves[0].ID)
	require.NoError(t, err)
	_, err = eng.Allocator().Allocate(devices[0].ID, "owner")
	require.NoError(t, err)

	resp, body := postJSON(t, fmt.Sprintf("%s/api/devices/%d/release", srv.URL, devices[0].ID),
		map[string]any{"user_id": "intruder"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "not_owner", body["error"])
}

func TestAdminEndpointsRequireSession(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Web.AdminPasswordHash = string(hash)
	})

	resp := getJSON(t, srv.URL+"/api/diagnostics", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postJSON(t, srv.URL+"/api/login", map[string]any{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Log in and replay the session cookie against the admin surface.
	data, _ := json.Marshal(map[string]any{"password": "hunter2"})
	loginResp, err := http.Post(srv.URL+"/api/login", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	loginResp.Body.Close()
	require.Equal(t, http.StatusOK, loginResp.StatusCode)
	cookies := loginResp.Cookies()
	require.NotEmpty(t, cookies)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/diagnostics", nil)
	require.NoError(t, err)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	diagResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer diagResp.Body.Close()
	assert.Equal(t, http.StatusOK, diagResp.StatusCode)
}

func TestLoginDisabledWithoutHash(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, _ := postJSON(t, srv.URL+"/api/login", map[string]any{"password": "anything"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	var body map[string]any
	resp := getJSON(t, srv.URL+"/api/health", &body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}
