package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestSimulateStopsWhenBlocked(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Forwarded-For"); got != "10.0.0.50" {
			t.Errorf("X-Forwarded-For=%q", got)
		}
		code := http.StatusUnauthorized
		if calls.Add(1) >= 3 {
			code = http.StatusForbidden
		}
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": http.StatusText(code)})
	}))
	defer srv.Close()

	res, err := simulate(context.Background(), srv.Client(), options{URL: srv.URL, IP: "10.0.0.50", Attempts: 10, Password: "x"}, io.Discard)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !res.Blocked || res.Sent != 3 || res.Codes[http.StatusUnauthorized] != 2 || res.Codes[http.StatusForbidden] != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSimulateRunsAllAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	res, err := simulate(context.Background(), srv.Client(), options{URL: srv.URL, IP: "10.0.0.51", Attempts: 4, Username: "alice"}, io.Discard)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if res.Blocked || res.Sent != 4 {
		t.Fatalf("unexpected result: %+v", res)
	}
}
