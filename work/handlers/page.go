package handlers

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"teslatv/work/catalog"
	"teslatv/work/listing"
	"teslatv/work/logger"
	"teslatv/work/player"
	"teslatv/work/station"
	"teslatv/work/status"
	"teslatv/work/types"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/page.html"))

// pageData is what templates/page.html renders.
type pageData struct {
	Catalog           types.CatalogInfo
	Nav               []types.CatalogInfo
	View              listing.View
	Clock             string
	Notice            *status.Notice
	Player            player.Snapshot
	DecoderLibraryURL string
	PlaceholderImage  string
	HasHiddenCatalog  bool
}

// HandlePage renders the list page of a catalog: "/" shows the default catalog,
// "/c/{catalog}" any configured one, hidden catalogs included.
func HandlePage(st *station.Station) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["catalog"]
		if name == "" {
			def := st.Config.DefaultCatalog()
			if def == nil {
				http.Error(w, "No catalogs configured", http.StatusServiceUnavailable)
				return
			}
			name = def.Name
		}

		cat, err := st.Entries(name)
		if errors.Is(err, catalog.ErrUnknownCatalog) {
			http.NotFound(w, r)
			return
		}

		v := viewerFor(st, w, r)
		st.ReportCatalog(v, cat)

		filter := listing.Filter{
			Query:    r.URL.Query().Get("q"),
			Category: r.URL.Query().Get("category"),
		}
		data := pageData{
			Catalog:           cat.Info(),
			View:              listing.Render(cat.Entries, v.Selection(name).Active(cat.Entries), filter),
			Clock:             st.Clock(time.Now()),
			Player:            v.Player.Snapshot(),
			DecoderLibraryURL: st.Config.DecoderLibraryURL,
			PlaceholderImage:  st.Config.PlaceholderImage,
		}
		for _, info := range st.Catalogs.List() {
			if info.Hidden {
				data.HasHiddenCatalog = true
				continue
			}
			data.Nav = append(data.Nav, info)
		}
		if n, ok := v.Board.Latest(); ok {
			data.Notice = &n
		}

		var buf bytes.Buffer
		if err := pageTemplate.Execute(&buf, data); err != nil {
			logger.Error("{handlers/page - HandlePage} template failed: %v", err)
			http.Error(w, "Failed to render page", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}
