package wfs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"syscall"
	"testing"
	"time"
)

func TestHTTPTransport_Send(t *testing.T) {
	var gotUA, gotAccept string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"type":"FeatureCollection","features":[]}`))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(5*time.Second, "wfs-fetch-test/1.0")
	resp, err := tr.Send(context.Background(), PageRequest{
		URL:    srv.URL,
		Accept: "application/json",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if len(resp.Body) == 0 {
		t.Error("Body is empty")
	}
	if gotUA != "wfs-fetch-test/1.0" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotAccept != "application/json" {
		t.Errorf("Accept = %q", gotAccept)
	}
}

func TestHTTPTransport_BasicAuth(t *testing.T) {
	var gotUser, gotPass string
	var gotOK bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, gotOK = r.BasicAuth()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(5*time.Second, "")
	if _, err := tr.Send(context.Background(), PageRequest{
		URL:      srv.URL,
		Username: "gisuser",
		Password: "secret",
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if !gotOK {
		t.Fatal("request carried no basic auth header")
	}
	if gotUser != "gisuser" || gotPass != "secret" {
		t.Errorf("credentials = %q/%q, want gisuser/secret", gotUser, gotPass)
	}
}

func TestHTTPTransport_NoAuthWithoutCredentials(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(5*time.Second, "")
	if _, err := tr.Send(context.Background(), PageRequest{URL: srv.URL}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotHeader != "" {
		t.Errorf("Authorization = %q, want empty", gotHeader)
	}
}

func TestHTTPTransport_ErrorStatusPassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	tr := NewHTTPTransport(5*time.Second, "")
	resp, err := tr.Send(context.Background(), PageRequest{URL: srv.URL})
	if err != nil {
		t.Fatalf("Send: %v (status codes are not errors here)", err)
	}
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want 502", resp.StatusCode)
	}
}

func TestHTTPTransport_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	tr := NewHTTPTransport(5*time.Second, "")
	if _, err := tr.Send(ctx, PageRequest{URL: srv.URL}); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestTransportErrorKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", context.DeadlineExceeded, "timeout"},
		{"connection refused", syscall.ECONNREFUSED, "connection_refused"},
		{"other", syscall.ECONNRESET, "network"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := transportErrorKind(tt.err); got != tt.want {
				t.Errorf("transportErrorKind = %q, want %q", got, tt.want)
			}
		})
	}
}
