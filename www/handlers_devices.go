package www

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"fleetcore/store"
)

func (h *Handlers) handleListDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var slaveID int64
	if s := q.Get("slave_id"); s != "" {
		slaveID, _ = strconv.ParseInt(s, 10, 64)
	}
	devices, err := h.engine.DB().ListDevices(q.Get("kind"), q.Get("status"), slaveID)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if devices == nil {
		devices = []*store.Device{}
	}
	h.jsonOK(w, devices)
}

func (h *Handlers) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid device id", http.StatusBadRequest)
		return
	}
	device, err := h.engine.Cache().GetDevice(id)
	if err != nil {
		h.fleetError(w, err)
		return
	}
	h.jsonOK(w, device)
}

func (h *Handlers) handleAllocate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid device id", http.StatusBadRequest)
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		h.jsonError(w, "user_id required", http.StatusBadRequest)
		return
	}

	res, err := h.engine.Allocator().Allocate(id, req.UserID)
	if err != nil {
		h.fleetError(w, err)
		return
	}
	h.jsonOK(w, map[string]any{
		"reservation_id": res.ID,
		"token":          res.Token,
		"device_id":      res.DeviceID,
	})
}

func (h *Handlers) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid device id", http.StatusBadRequest)
		return
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		h.jsonError(w, "user_id required", http.StatusBadRequest)
		return
	}

	if _, err := h.engine.Allocator().Release(id, req.UserID); err != nil {
		h.fleetError(w, err)
		return
	}
	h.jsonOK(w, map[string]string{"status": "released"})
}

func (h *Handlers) handleRequestDevice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind    string `json:"kind"`
		UserID  string `json:"user_id"`
		SlaveID int64  `json:"slave_id,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Kind == "" || req.UserID == "" {
		h.jsonError(w, "kind and user_id required", http.StatusBadRequest)
		return
	}

	res, err := h.engine.Scheduler().RequestDevice(req.Kind, req.UserID, req.SlaveID)
	if err != nil {
		h.fleetError(w, err)
		return
	}
	h.jsonOK(w, map[string]any{
		"reservation_id": res.ID,
		"token":          res.Token,
		"device_id":      res.DeviceID,
	})
}

// handleSetDeviceStatus lets an admin force a device into or out of the
// error state, e.g. after a hardware fault report.
func (h *Handlers) handleSetDeviceStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid device id", http.StatusBadRequest)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	switch req.Status {
	case store.DeviceOnline, store.DeviceOffline, store.DeviceError:
	default:
		h.jsonError(w, "status must be online, offline or error", http.StatusBadRequest)
		return
	}

	if err := h.engine.DB().SetDeviceStatus(id, req.Status); err != nil {
		h.fleetError(w, err)
		return
	}
	h.engine.Cache().InvalidateDevice(id)
	h.jsonOK(w, map[string]string{"status": req.Status})
}

func (h *Handlers) handleListReservations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var deviceID int64
	if s := q.Get("device_id"); s != "" {
		deviceID, _ = strconv.ParseInt(s, 10, 64)
	}
	limit := 100
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}
	reservations, err := h.engine.DB().ListReservations(deviceID, q.Get("user_id"), limit)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if reservations == nil {
		reservations = []*store.Reservation{}
	}
	h.jsonOK(w, reservations)
}
