package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPClientFetchRecentCredits(t *testing.T) {
	var gotPath, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"success","data":[
			{"date":"2025-09-17 18:56:00","amount":"10000","type":"CR","qris":"static","brand":{"name":"DANA"}},
			{"date":"2025-09-17 18:57:00","amount":5001,"type":"CR","qris":"static","brand":"OVO"},
			{"date":"2025-09-17 18:58:00","amount":"7,500.00","type":"DB","qris":"static"},
			{"date":"2025-09-17 18:59:00","amount":"abc","type":"CR","qris":"static"}
		]}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(testLogger(), Options{BaseURL: srv.URL, MerchantID: "OK123", APIKey: "secret"})
	credits, err := client.FetchRecentCredits(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotPath != "/api/mutasi/qris/OK123/secret" {
		t.Fatalf("unexpected path %s", gotPath)
	}
	if gotAgent != "QRIS-Gateway/1.0" {
		t.Fatalf("unexpected user agent %s", gotAgent)
	}
	if len(credits) != 3 {
		t.Fatalf("expected 3 parsable records, got %d", len(credits))
	}
	if credits[0].Brand != "DANA" || credits[1].Brand != "OVO" {
		t.Fatalf("brand not decoded: %+v", credits)
	}
	if credits[2].Amount != 7500 {
		t.Fatalf("expected 7500, got %d", credits[2].Amount)
	}

	amounts := StaticAmounts(credits)
	if len(amounts) != 2 || amounts[0] != 10000 || amounts[1] != 5001 {
		t.Fatalf("unexpected static amounts %v", amounts)
	}
}

func TestHTTPClientDatesAreWIB(t *testing.T) {
	t.Setenv("TZ", "UTC")
	prev := time.Local
	time.Local = time.FixedZone("JST", 9*60*60)
	defer func() { time.Local = prev }()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":"success","data":[
			{"date":"2025-09-17 10:00:00","amount":"10000","type":"CR","qris":"static"}
		]}`)
	}))
	defer srv.Close()

	client := NewHTTPClient(testLogger(), Options{BaseURL: srv.URL, MerchantID: "id", APIKey: "key"})
	credits, err := client.FetchRecentCredits(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	want := time.Date(2025, 9, 17, 3, 0, 0, 0, time.UTC)
	if len(credits) != 1 || !credits[0].Date.Equal(want) {
		t.Fatalf("expected %s, got %+v", want, credits)
	}
}

func TestHTTPClientFailures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}},
		{"error envelope", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"status":"error","data":[]}`)
		}},
		{"garbage body", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `<html>`)
		}},
		{"timeout", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
		}},
	}
	for _, c := range cases {
		srv := httptest.NewServer(c.handler)
		client := NewHTTPClient(testLogger(), Options{BaseURL: srv.URL, MerchantID: "id", APIKey: "key", Timeout: 100 * time.Millisecond})
		_, err := client.FetchRecentCredits(context.Background())
		srv.Close()
		if err == nil {
			t.Fatalf("%s: expected error", c.name)
		}
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("%s: expected ErrUnavailable, got %v", c.name, err)
		}
	}
}

func TestStaticFeed(t *testing.T) {
	s := NewStatic(StaticCredit(100), Credit{Type: "CR", Channel: "dynamic", Amount: 200})
	credits, err := s.FetchRecentCredits(context.Background())
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got := StaticAmounts(credits); len(got) != 1 || got[0] != 100 {
		t.Fatalf("expected only the static credit, got %v", got)
	}

	s.SetError(errors.New("boom"))
	if _, err := s.FetchRecentCredits(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if s.Calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", s.Calls())
	}
}
