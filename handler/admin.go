package handler

import (
	"net/http"
)

// Health serves GET /healthz.
func (d *Deps) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// BreakerStatus serves GET /v1/admin/breakers.
func (d *Deps) BreakerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"breakers": d.Breakers.StatusAll()})
}

// StorageStats serves GET /v1/admin/storage.
func (d *Deps) StorageStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, d.Blobs.Stats())
}
