package handlers

import (
	"bytes"
	"net/http"

	"teslatv/work/logger"
	"teslatv/work/offline"
	"teslatv/work/station"
)

// HandlePrecache returns the current offline cache generation and its asset list.
func HandlePrecache(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		writeJSON(w, http.StatusOK, offline.Build(st.Config))
	}
}

// HandleServiceWorker serves the service worker script for the current generation.
func HandleServiceWorker(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		if err := offline.WriteWorker(&buf, offline.Build(st.Config)); err != nil {
			logger.Error("{handlers/offline - HandleServiceWorker} %v", err)
			http.Error(w, "Failed to render service worker", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Service-Worker-Allowed", "/")
		w.Write(buf.Bytes())
	}
}
