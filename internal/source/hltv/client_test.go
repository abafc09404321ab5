package hltv

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	logx "matchwatch/pkg/logx"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, RatePerMin: 6000}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresBaseURL(t *testing.T) {
	t.Parallel()
	if _, err := New(Config{}, logx.Nop()); err == nil {
		t.Fatal("expected an error for a missing base_url")
	}
}

func TestFetchMatches(t *testing.T) {
	t.Parallel()
	start := time.Date(2025, 6, 20, 18, 0, 0, 0, time.UTC)
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events/ev1/matches" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id":"m1","team_a":"NAVI","team_b":"FaZe","is_live":true,"best_of":3},
			{"id":"m2","team_a":"G2","team_b":"Vitality","start_unix":1750442400},
			{"id":"m3","team_a":"MOUZ","team_b":"Spirit","tbd":true}
		]`))
	}))

	got, err := c.FetchMatches(context.Background(), "ev1")
	if err != nil {
		t.Fatalf("FetchMatches: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(got))
	}
	if !got[0].IsLive || got[0].MapsFormat != 3 || !got[0].Scheduled.IsZero() {
		t.Fatalf("live match mapped wrong: %+v", got[0])
	}
	if !got[1].Scheduled.Equal(start) {
		t.Fatalf("scheduled = %v, want %v", got[1].Scheduled, start)
	}
	if !got[2].TBD || !got[2].Scheduled.IsZero() {
		t.Fatalf("tbd match mapped wrong: %+v", got[2])
	}
}

func TestFetchResults(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events/ev1/results" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`[{
			"id":"r1","team_a":"NAVI","team_b":"FaZe","score_a":2,"score_b":1,
			"maps":[{"name":"inferno","score_a":13,"score_b":10}],
			"detail":[{"map":"inferno","rows":[{"name":"s1mple","team":"NAVI","kills":25,"deaths":14,"rating":1.43}]}]
		}]`))
	}))

	got, err := c.FetchResults(context.Background(), "ev1")
	if err != nil {
		t.Fatalf("FetchResults: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 result, got %d", len(got))
	}
	r := got[0]
	if r.ScoreA != 2 || r.ScoreB != 1 || len(r.Maps) != 1 || len(r.Detail) != 1 {
		t.Fatalf("result mapped wrong: %+v", r)
	}
	row := r.Detail[0].Rows[0]
	if row.Name != "s1mple" || row.Kills != 25 || row.Rating != 1.43 {
		t.Fatalf("player row mapped wrong: %+v", row)
	}
}

func TestFetchNonOKStatus(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))

	_, err := c.FetchMatches(context.Background(), "ev1")
	if !errors.Is(err, ErrUpstreamStatus) {
		t.Fatalf("expected ErrUpstreamStatus, got %v", err)
	}
}

func TestFetchBadJSON(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	if _, err := c.FetchResults(context.Background(), "ev1"); err == nil {
		t.Fatal("expected a decode error")
	}
}

func TestFetchHonorsContext(t *testing.T) {
	t.Parallel()
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.FetchMatches(ctx, "ev1"); err == nil {
		t.Fatal("expected a context error")
	}
}
