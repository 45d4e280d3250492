package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"teslatv/work/catalog"
	"teslatv/work/listing"
	"teslatv/work/logger"
	"teslatv/work/metadata"
	"teslatv/work/player"
	"teslatv/work/station"
)

// ViewerCookie holds the viewer id of a browser.
const ViewerCookie = "teslatv_viewer"

// viewerFor returns the viewer of the request, creating one and setting the cookie
// when the browser has none or an unknown one.
func viewerFor(st *station.Station, w http.ResponseWriter, r *http.Request) *station.Viewer {
	id := ""
	if c, err := r.Cookie(ViewerCookie); err == nil {
		id = c.Value
	}

	v, assigned := st.Attach(id)
	if assigned != id {
		http.SetCookie(w, &http.Cookie{
			Name:     ViewerCookie,
			Value:    assigned,
			Path:     "/",
			MaxAge:   int((365 * 24 * time.Hour).Seconds()),
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers - writeJSON} failed to encode response: %v", err)
	}
}

// statusFor maps the application's error types onto HTTP status codes.
func statusFor(err error) int {
	var (
		unsupported *player.UnsupportedFormatError
		playback    *player.PlaybackError
		loadErr     *catalog.LoadError
		lookupErr   *metadata.LookupError
	)
	switch {
	case errors.Is(err, catalog.ErrUnknownCatalog), errors.Is(err, listing.ErrUnknownRow):
		return http.StatusNotFound
	case errors.As(err, &unsupported):
		return http.StatusUnprocessableEntity
	case errors.As(err, &playback), errors.As(err, &loadErr), errors.As(err, &lookupErr):
		return http.StatusBadGateway
	case errors.Is(err, player.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// isPlayerError reports whether err describes a failed session rather than a bad
// request. Those responses still carry the snapshot.
func isPlayerError(err error) bool {
	var (
		unsupported *player.UnsupportedFormatError
		playback    *player.PlaybackError
	)
	return errors.As(err, &unsupported) || errors.As(err, &playback)
}
