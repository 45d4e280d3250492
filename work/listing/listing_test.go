package listing

import (
	"errors"
	"reflect"
	"testing"

	"teslatv/work/types"
)

func sampleEntries() []types.ChannelEntry {
	return []types.ChannelEntry{
		{ID: "TF1", Name: "TF1", StreamURL: "http://a/tf1.m3u8", Category: "Généraliste"},
		{ID: "France-24", Name: "France 24", StreamURL: "https://a/f24.m3u8", Category: "Info", NeedsVPN: true},
		{ID: "FR:-Inception", Name: "FR: Inception", Title: "Inception", StreamURL: "https://v/i.mkv", Category: "Films", Genres: []string{"Action", "Sci-Fi"}},
		{ID: "Arte", Name: "Arte", StreamURL: "https://a/arte.m3u8", Category: "Généraliste"},
	}
}

func rowIDs(v View) []string {
	ids := make([]string, 0, len(v.Rows))
	for _, r := range v.Rows {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestRenderFilters(t *testing.T) {
	entries := sampleEntries()
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"no filter", Filter{}, []string{"TF1", "France-24", "FR:-Inception", "Arte"}},
		{"all is no filter", Filter{Category: CategoryAll}, []string{"TF1", "France-24", "FR:-Inception", "Arte"}},
		{"category keeps order", Filter{Category: "Généraliste"}, []string{"TF1", "Arte"}},
		{"genre counts as category", Filter{Category: "Sci-Fi"}, []string{"FR:-Inception"}},
		{"query on cleaned title", Filter{Query: "incep"}, []string{"FR:-Inception"}},
		{"query ignores raw prefix", Filter{Query: "fr:"}, nil},
		{"query case-insensitive", Filter{Query: "FRANCE"}, []string{"France-24"}},
		{"combined", Filter{Query: "a", Category: "Généraliste"}, []string{"Arte"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Render(entries, "", tt.filter)
			got := rowIDs(v)
			if len(got) == 0 && len(tt.want) == 0 {
				if !v.Empty || v.Notice != NoticeNoResults {
					t.Fatalf("empty view = %+v", v)
				}
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("rows = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderDoesNotMutateCatalog(t *testing.T) {
	entries := sampleEntries()
	before := sampleEntries()
	Render(entries, "Arte", Filter{Query: "x", Category: "Info"})
	if !reflect.DeepEqual(entries, before) {
		t.Fatal("Render modified its input")
	}
	first := rowIDs(Render(entries, "", Filter{Category: CategoryAll}))
	second := rowIDs(Render(entries, "", Filter{Category: CategoryAll}))
	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated all filter is not idempotent")
	}
}

func TestRenderEmptyCatalog(t *testing.T) {
	v := Render(nil, "", Filter{})
	if !v.Empty || v.Notice != NoticeEmptyCatalog || len(v.Rows) != 0 {
		t.Fatalf("view = %+v", v)
	}
	if !reflect.DeepEqual(v.Categories, []string{CategoryAll}) {
		t.Fatalf("categories = %v", v.Categories)
	}
}

func TestRenderMarksActiveAndVPN(t *testing.T) {
	v := Render(sampleEntries(), "France-24", Filter{})
	for _, r := range v.Rows {
		if r.Active != (r.ID == "France-24") {
			t.Errorf("row %s active = %v", r.ID, r.Active)
		}
		if r.NeedsVPN != (r.ID == "France-24") {
			t.Errorf("row %s needsVPN = %v", r.ID, r.NeedsVPN)
		}
	}
}

func TestCategories(t *testing.T) {
	got := Categories(sampleEntries())
	want := []string{"all", "Action", "Films", "Généraliste", "Info", "Sci-Fi"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Categories = %v, want %v", got, want)
	}
}

func TestSelection(t *testing.T) {
	entries := sampleEntries()
	var s Selection

	if got := s.Active(entries); got != "TF1" {
		t.Fatalf("initial active = %q", got)
	}
	if s.Selected() != "" {
		t.Fatal("nothing should be selected yet")
	}

	var played []types.ChannelEntry
	onSelect := func(e types.ChannelEntry) error {
		played = append(played, e)
		return nil
	}

	if err := s.Select(entries, "Arte", onSelect); err != nil {
		t.Fatal(err)
	}
	if s.Active(entries) != "Arte" || len(played) != 1 || played[0].StreamURL != "https://a/arte.m3u8" {
		t.Fatalf("after select: active=%q played=%+v", s.Active(entries), played)
	}

	if err := s.Select(entries, "missing", onSelect); !errors.Is(err, ErrUnknownRow) {
		t.Fatalf("unknown row err = %v", err)
	}
	if s.Active(entries) != "Arte" || len(played) != 1 {
		t.Fatal("unknown row changed the selection or played")
	}

	if err := s.PlayActive(entries, onSelect); err != nil {
		t.Fatal(err)
	}
	if len(played) != 2 || played[1].ID != "Arte" {
		t.Fatalf("PlayActive played %+v", played)
	}

	playErr := errors.New("boom")
	if err := s.Select(entries, "TF1", func(types.ChannelEntry) error { return playErr }); !errors.Is(err, playErr) {
		t.Fatalf("err = %v", err)
	}
	if s.Active(entries) != "TF1" {
		t.Fatal("marker should move even when playback fails")
	}
}

func TestSelectionEmptyCatalog(t *testing.T) {
	var s Selection
	called := false
	err := s.PlayActive(nil, func(types.ChannelEntry) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrUnknownRow) || called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}
