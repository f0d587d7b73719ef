package www

import (
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const sessionName = "fleetcore"

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	hash := h.engine.AppConfig().Web.AdminPasswordHash
	if hash == "" {
		h.jsonError(w, "admin access disabled", http.StatusForbidden)
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request", http.StatusBadRequest)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(req.Password)); err != nil {
		h.jsonError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	session, _ := h.sessions.Get(r, sessionName)
	session.Values["admin"] = true
	if err := session.Save(r, w); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonOK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := h.sessions.Get(r, sessionName)
	session.Options.MaxAge = -1
	session.Save(r, w)
	h.jsonOK(w, map[string]string{"status": "ok"})
}

func (h *Handlers) isAuthenticated(r *http.Request) bool {
	session, err := h.sessions.Get(r, sessionName)
	if err != nil {
		return false
	}
	admin, _ := session.Values["admin"].(bool)
	return admin
}

func (h *Handlers) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.isAuthenticated(r) {
			h.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
