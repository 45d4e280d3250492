package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"teslatv/work/config"
)

func TestFetchSetsHeaders(t *testing.T) {
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		w.Write([]byte("0123456789"))
	}))
	defer srv.Close()

	c := NewHeaderSettingClient(&config.Config{UserAgent: "TeslaTV-Test", ReqReferrer: "https://ref.example/"})
	body, err := c.Fetch(context.Background(), srv.URL, 4)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "0123" {
		t.Errorf("body = %q, want limit applied", body)
	}
	if gotUA != "TeslaTV-Test" || gotReferer != "https://ref.example/" {
		t.Errorf("headers = %q, %q", gotUA, gotReferer)
	}
}

func TestFetchNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewHeaderSettingClient(&config.Config{})
	_, err := c.Fetch(context.Background(), srv.URL, 1024)
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusNotFound {
		t.Fatalf("err = %v, want StatusError 404", err)
	}
}
