package www

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"fleetcore/engine"
	"fleetcore/store"
)

func (h *Handlers) handleSlaveRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hostname    string `json:"hostname"`
		Address     string `json:"address"`
		Fingerprint string `json:"fingerprint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if req.Hostname == "" || req.Address == "" {
		h.jsonError(w, "hostname and address required", http.StatusBadRequest)
		return
	}

	slaveID, reattached, err := h.engine.Registry().Register(req.Hostname, req.Address, req.Fingerprint)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.engine.Events.Emit(engine.Event{Type: engine.EventSlaveRegistered, Payload: engine.SlaveRegisteredEvent{
		SlaveID:    slaveID,
		Hostname:   req.Hostname,
		Reattached: reattached,
	}})

	h.jsonOK(w, map[string]any{"slave_id": slaveID})
}

func (h *Handlers) handleSlaveHeartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid slave id", http.StatusBadRequest)
		return
	}

	// Device list is optional; an empty heartbeat is just a liveness ping.
	// ContentLength is -1 on chunked requests, so decode unconditionally.
	var req struct {
		Devices []store.DeviceReport `json:"devices"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}

	if err := h.engine.Monitor().RecordHeartbeat(id, req.Devices, time.Now()); err != nil {
		h.fleetError(w, err)
		return
	}
	h.jsonOK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) handleListSlaves(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	slaves, err := h.engine.Registry().ListSlaves(status)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if slaves == nil {
		slaves = []*store.Slave{}
	}
	h.jsonOK(w, slaves)
}

func (h *Handlers) handleGetSlave(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid slave id", http.StatusBadRequest)
		return
	}
	slave, err := h.engine.Registry().GetSlave(id)
	if err != nil {
		h.fleetError(w, err)
		return
	}
	h.jsonOK(w, slave)
}

// handleProbeSlave asks the forwarding daemon on a slave what it is
// exporting right now. Admin-only; used to diff stored devices against
// reality.
func (h *Handlers) handleProbeSlave(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid slave id", http.StatusBadRequest)
		return
	}
	slave, err := h.engine.Registry().GetSlave(id)
	if err != nil {
		h.fleetError(w, err)
		return
	}
	fw := h.engine.ForwarderFor(slave)
	ping, err := fw.Ping()
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	exports, err := fw.ListExports()
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadGateway)
		return
	}
	h.jsonOK(w, map[string]any{
		"daemon":  ping,
		"exports": exports,
	})
}
