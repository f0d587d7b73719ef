package www

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"

	"fleetcore/engine"
	"fleetcore/fleet"
)

type Handlers struct {
	engine   *engine.Engine
	sessions *sessions.CookieStore
}

func NewRouter(eng *engine.Engine) http.Handler {
	h := &Handlers{
		engine:   eng,
		sessions: sessions.NewCookieStore([]byte(eng.AppConfig().Web.SessionKey)),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// Slave-facing endpoints; slaves authenticate by fingerprint.
		r.Post("/slaves/register", h.handleSlaveRegister)
		r.Post("/slaves/{id}/heartbeat", h.handleSlaveHeartbeat)

		// User-facing endpoints; user identity arrives from the excluded
		// auth layer as user_id.
		r.Get("/slaves", h.handleListSlaves)
		r.Get("/slaves/{id}", h.handleGetSlave)
		r.Get("/devices", h.handleListDevices)
		r.Get("/devices/{id}", h.handleGetDevice)
		r.Post("/devices/{id}/allocate", h.handleAllocate)
		r.Post("/devices/{id}/release", h.handleRelease)
		r.Post("/devices/request", h.handleRequestDevice)

		r.Get("/health", h.handleHealth)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAdmin)
			r.Get("/diagnostics", h.handleDiagnostics)
			r.Get("/reservations", h.handleListReservations)
			r.Post("/devices/{id}/status", h.handleSetDeviceStatus)
			r.Get("/slaves/{id}/probe", h.handleProbeSlave)
		})
	})

	return r
}

func (h *Handlers) jsonOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handlers) jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// fleetError maps the error taxonomy to HTTP statuses 1:1; nothing in the
// taxonomy hides behind a generic 500.
func (h *Handlers) fleetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fleet.ErrDeviceBusy):
		h.jsonError(w, "device_busy", http.StatusConflict)
	case errors.Is(err, fleet.ErrDeviceOffline):
		h.jsonError(w, "device_offline", http.StatusServiceUnavailable)
	case errors.Is(err, fleet.ErrNotReserved):
		h.jsonError(w, "not_reserved", http.StatusNotFound)
	case errors.Is(err, fleet.ErrNotOwner):
		h.jsonError(w, "not_owner", http.StatusForbidden)
	case errors.Is(err, fleet.ErrNoDeviceAvailable):
		h.jsonError(w, "no_device_available", http.StatusConflict)
	case errors.Is(err, fleet.ErrSlaveUnknown):
		h.jsonError(w, "slave_unknown", http.StatusGone)
	case errors.Is(err, fleet.ErrStoreConflict):
		h.jsonError(w, "store_conflict", http.StatusServiceUnavailable)
	case errors.Is(err, sql.ErrNoRows):
		h.jsonError(w, "not_found", http.StatusNotFound)
	default:
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}
