package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"teslatv/work/database"
	"teslatv/work/gate"
	"teslatv/work/listing"
	"teslatv/work/logger"
	"teslatv/work/player"
	"teslatv/work/probe"
	"teslatv/work/station"
	"teslatv/work/status"
)

// maxWait bounds how long GET /api/player?wait= may block.
const maxWait = 30 * time.Second

// SelectRequest is the body of the select and play-active endpoints.
type SelectRequest struct {
	ID           string               `json:"id"`
	Capabilities *player.Capabilities `json:"capabilities,omitempty"`
}

// PlayerResponse is the viewer's session together with what its media element should
// be showing.
type PlayerResponse struct {
	Player player.Snapshot `json:"player"`
	Sink   probe.SinkState `json:"sink"`
	Error  string          `json:"error,omitempty"`
}

// GateRequest is the body of POST /api/gate.
type GateRequest struct {
	Secret string `json:"secret"`
}

// GateResponse tells the page where to go after a correct secret.
type GateResponse struct {
	OK       bool   `json:"ok"`
	Redirect string `json:"redirect,omitempty"`
	Message  string `json:"message,omitempty"`
}

// HandleCatalogs lists every configured catalog with its load state.
func HandleCatalogs(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, st.Catalogs.List())
	}
}

// HandleEntries renders a catalog list as JSON, filtered by the q and category query
// parameters.
func HandleEntries(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["catalog"]
		cat, err := st.Entries(name)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		v := viewerFor(st, w, r)
		st.ReportCatalog(v, cat)

		filter := listing.Filter{
			Query:    r.URL.Query().Get("q"),
			Category: r.URL.Query().Get("category"),
		}
		writeJSON(w, http.StatusOK, listing.Render(cat.Entries, v.Selection(name).Active(cat.Entries), filter))
	}
}

// HandleRefresh reloads one catalog from its source, bypassing the payload cache.
func HandleRefresh(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["catalog"]
		if err := st.Catalogs.Reload(r.Context(), name, true); err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		cat, err := st.Entries(name)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, cat.Info())
	}
}

// HandleCatalogHistory returns the recorded load attempts of a catalog.
func HandleCatalogHistory(st *station.Station, db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["catalog"]
		if st.Config.Catalog(name) == nil {
			http.NotFound(w, r)
			return
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		rows, err := db.CatalogLoads(name, limit)
		if err != nil {
			logger.Error("{handlers/api - HandleCatalogHistory} %v", err)
			http.Error(w, "Failed to load history", http.StatusInternalServerError)
			return
		}
		if rows == nil {
			rows = []database.CatalogLoadRow{}
		}
		writeJSON(w, http.StatusOK, rows)
	}
}

// HandleSelect selects a row of a catalog and starts playing it.
func HandleSelect(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SelectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if strings.TrimSpace(req.ID) == "" {
			http.Error(w, "Missing row id", http.StatusBadRequest)
			return
		}

		v := viewerFor(st, w, r)
		snap, err := st.Select(v, mux.Vars(r)["catalog"], req.ID, req.Capabilities)
		writePlayResult(w, v, snap, err)
	}
}

// HandlePlayActive plays the row currently shown as active.
func HandlePlayActive(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// the body is optional here
		var req SelectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		v := viewerFor(st, w, r)
		snap, err := st.PlayActive(v, mux.Vars(r)["catalog"], req.Capabilities)
		writePlayResult(w, v, snap, err)
	}
}

func writePlayResult(w http.ResponseWriter, v *station.Viewer, snap player.Snapshot, err error) {
	if err != nil && !isPlayerError(err) {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	resp := PlayerResponse{Player: snap, Sink: v.Sink.State()}
	code := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		code = statusFor(err)
	}
	writeJSON(w, code, resp)
}

// HandlePlayer returns the viewer's session. With ?wait=<duration> (or seconds) it
// first waits for the session to settle.
func HandlePlayer(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := viewerFor(st, w, r)
		snap := v.Player.Snapshot()

		if raw := r.URL.Query().Get("wait"); raw != "" {
			wait, err := parseWait(raw)
			if err != nil {
				http.Error(w, "Invalid wait value", http.StatusBadRequest)
				return
			}
			ctx, cancel := context.WithTimeout(r.Context(), wait)
			snap, _ = v.Player.Wait(ctx, snap.Session)
			cancel()
		}

		writeJSON(w, http.StatusOK, PlayerResponse{Player: snap, Sink: v.Sink.State()})
	}
}

func parseWait(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		secs, convErr := strconv.Atoi(raw)
		if convErr != nil {
			return 0, err
		}
		d = time.Duration(secs) * time.Second
	}
	if d < 0 {
		d = 0
	}
	if d > maxWait {
		d = maxWait
	}
	return d, nil
}

// HandlePlayerEvent takes an event of the page's decoder or media element and feeds it
// to the viewer's session. An event of a superseded session is answered with 409 and
// the current session.
func HandlePlayerEvent(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var ev player.ClientEvent
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		if ev.Session == 0 {
			http.Error(w, "Missing session", http.StatusBadRequest)
			return
		}

		v := viewerFor(st, w, r)
		snap, err := v.Player.Report(ev)
		resp := PlayerResponse{Player: snap, Sink: v.Sink.State()}
		switch {
		case errors.Is(err, player.ErrStaleEvent):
			resp.Error = err.Error()
			writeJSON(w, http.StatusConflict, resp)
		case err != nil:
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			writeJSON(w, http.StatusOK, resp)
		}
	}
}

// HandleStop tears down the viewer's session.
func HandleStop(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := viewerFor(st, w, r)
		writeJSON(w, http.StatusOK, PlayerResponse{Player: v.Player.Stop(), Sink: v.Sink.State()})
	}
}

// HandleMessages returns the notice on display, or 204 when there is none.
func HandleMessages(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := viewerFor(st, w, r)
		n, ok := v.Board.Latest()
		if !ok {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, n)
	}
}

// HandleDismissMessage clears the notice named by ?id=, or whatever is shown.
func HandleDismissMessage(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		v := viewerFor(st, w, r)
		var id uint64
		if raw := r.URL.Query().Get("id"); raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				http.Error(w, "Invalid notice id", http.StatusBadRequest)
				return
			}
			id = parsed
		}
		writeJSON(w, http.StatusOK, map[string]bool{"dismissed": v.Board.Dismiss(id)})
	}
}

// HandleMetadata looks up a movie title. Lookup failures answer with the placeholder
// poster and rating.
func HandleMetadata(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st.Metadata == nil {
			http.Error(w, "Metadata lookups are disabled", http.StatusServiceUnavailable)
			return
		}
		title := strings.TrimSpace(r.URL.Query().Get("title"))
		if title == "" {
			http.Error(w, "Missing title", http.StatusBadRequest)
			return
		}

		// a failed lookup still carries the placeholder artwork
		md, err := st.Metadata.Lookup(r.Context(), title)
		if err != nil {
			logger.Debug("{handlers/api - HandleMetadata} %v", err)
		}
		writeJSON(w, http.StatusOK, md)
	}
}

// HandleClearMetadata drops the in-memory lookups so the next ones go back to the
// store or upstream.
func HandleClearMetadata(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if st.Metadata == nil {
			http.Error(w, "Metadata lookups are disabled", http.StatusServiceUnavailable)
			return
		}
		st.Metadata.Clear()
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

// HandleGate checks the hidden page password. A wrong secret is not an HTTP error:
// the page shows the notice and lets the user try again.
func HandleGate(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		v := viewerFor(st, w, r)
		redirect, ok := st.Gate.Check(req.Secret)
		if !ok {
			v.Board.Show(player.NoticeWarning, gate.NoticeWrongSecret)
			writeJSON(w, http.StatusOK, GateResponse{OK: false, Message: gate.NoticeWrongSecret})
			return
		}
		writeJSON(w, http.StatusOK, GateResponse{OK: true, Redirect: redirect})
	}
}

// HandleClock returns the page clock text.
func HandleClock(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"time": st.Clock(time.Now()), "layout": status.ClockLayout})
	}
}
