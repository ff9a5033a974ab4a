package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPPostWithHeaders(t *testing.T) {
	var gotHeader, gotType, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("x-userinfo")
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
	}))
	defer server.Close()

	client := HTTPClient(time.Second, 5*time.Second)
	resp, err := HTTPPostWithHeaders(context.Background(), client, server.URL, strings.NewReader(`{"id":"x"}`), map[string]string{"x-userinfo": "token"})
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != 200 || gotHeader != "token" || gotType != "application/json" || gotBody != `{"id":"x"}` {
		t.Errorf("unexpected request: %d %s %s %s", resp.StatusCode, gotHeader, gotType, gotBody)
	}
}

func TestHTTPGet(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			w.Write([]byte("content"))
		case "/busy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	client := HTTPClient(time.Second, 5*time.Second)
	if body, err := HTTPGet(ctx, client, server.URL+"/ok"); err != nil || string(body) != "content" {
		t.Errorf("unexpected body %s (%v)", body, err)
	}
	if _, err := HTTPGet(ctx, client, server.URL+"/busy"); err == nil || !Temporary(err) {
		t.Errorf("expected a temporary error, got %v", err)
	}
	if _, err := HTTPGet(ctx, client, server.URL+"/missing"); err == nil || Temporary(err) {
		t.Errorf("expected a permanent error, got %v", err)
	}
}
