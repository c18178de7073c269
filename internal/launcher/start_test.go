package launcher

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"ocrdeploy/internal/config"
)

// A foreign server already answering /health on the port must not make a
// child that died on startup look ready.
func TestStart_ForeignListenerDoesNotMaskEarlyExit(t *testing.T) {
	foreign := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer foreign.Close()
	_, portStr, err := net.SplitHostPort(foreign.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)

	cfg := config.Defaults()
	cfg.Host = "127.0.0.1"
	cfg.Port = port
	pub := NewMemoryPublisher()
	l, err := New(cfg, Options{
		Command:      []string{"/bin/sh", "-c", "echo 'address already in use' >&2; exit 3"},
		ReadyTimeout: 5 * time.Second,
		PollInterval: 300 * time.Millisecond,
		StopGrace:    time.Second,
		Publisher:    pub,
	})
	if err != nil {
		t.Fatal(err)
	}
	err = l.Start(context.Background())
	if !IsEarlyExit(err) {
		t.Fatalf("expected early exit, got %v", err)
	}
	for _, name := range pub.Names() {
		if name == "spawn_ready" {
			t.Fatalf("reported ready for a dead child: %v", pub.Names())
		}
	}
}
