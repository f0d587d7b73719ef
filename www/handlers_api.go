package www

import (
	"net/http"

	"fleetcore/store"
)

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	online, _ := h.engine.Registry().ListSlaves(store.SlaveOnline)
	h.jsonOK(w, map[string]any{
		"status":        "ok",
		"slaves_online": len(online),
		"messaging":     h.engine.MsgClient().IsConnected(),
	})
}

func (h *Handlers) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	heartbeats := h.engine.Monitor().Ring().Snapshot()

	open, err := h.engine.DB().ListOpenReservations()
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	pending, err := h.engine.DB().ListPendingOutbox(25)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.jsonOK(w, map[string]any{
		"heartbeats":        heartbeats,
		"open_reservations": open,
		"outbox_pending":    len(pending),
		"messaging":         h.engine.MsgClient().IsConnected(),
	})
}
