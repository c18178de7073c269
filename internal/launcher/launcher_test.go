//go:build integration

package launcher

import (
	"context"
	"net"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ocrdeploy/internal/config"
)

func buildFakeServer(t *testing.T) string {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "fake_vllm")
	cmd := exec.Command("go", "build", "-o", bin, "./testdata/fake_vllm_server.go")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build fake server: %v: %s", err, string(out))
	}
	return bin
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Defaults()
	cfg.Host = "127.0.0.1"
	cfg.Port = freePort(t)
	return cfg
}

func fastOptions(bin string, pub EventPublisher) Options {
	return Options{
		Command:      []string{bin},
		ReadyTimeout: 10 * time.Second,
		PollInterval: 50 * time.Millisecond,
		StopGrace:    time.Second,
		Publisher:    pub,
	}
}

func TestStartStop(t *testing.T) {
	bin := buildFakeServer(t)
	pub := NewMemoryPublisher()
	l, err := New(testConfig(t), fastOptions(bin, pub))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v (stderr: %s)", err, l.StderrTail())
	}
	if err := l.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-l.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process did not exit")
	}
	names := strings.Join(pub.Names(), ",")
	if names != "spawn_start,spawn_ready,spawn_stop" {
		t.Fatalf("events: %s", names)
	}
	_ = l.Stop()
}

func TestStart_EarlyExitOOM(t *testing.T) {
	bin := buildFakeServer(t)
	t.Setenv("FAKE_VLLM_MODE", "oom")
	pub := NewMemoryPublisher()
	l, _ := New(testConfig(t), fastOptions(bin, pub))
	err := l.Start(context.Background())
	if !IsEarlyExit(err) {
		t.Fatalf("expected early exit, got %v", err)
	}
	if !strings.Contains(err.Error(), "lower GPU_MEMORY_UTILIZATION or MAX_MODEL_LEN") {
		t.Fatalf("missing hint: %v", err)
	}
	if l.Wait() == nil {
		t.Fatal("expected non-zero exit")
	}
}

func TestStart_Timeout(t *testing.T) {
	bin := buildFakeServer(t)
	t.Setenv("FAKE_VLLM_MODE", "hang")
	opts := fastOptions(bin, nil)
	opts.ReadyTimeout = 300 * time.Millisecond
	l, _ := New(testConfig(t), opts)
	if err := l.Start(context.Background()); !IsNotReady(err) {
		t.Fatalf("expected not-ready, got %v", err)
	}
	select {
	case <-l.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("timed-out process was not stopped")
	}
}

func TestStop_KillsAfterGrace(t *testing.T) {
	bin := buildFakeServer(t)
	t.Setenv("FAKE_VLLM_MODE", "ignore-term")
	opts := fastOptions(bin, nil)
	opts.StopGrace = 200 * time.Millisecond
	l, _ := New(testConfig(t), opts)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	start := time.Now()
	_ = l.Stop()
	if time.Since(start) < opts.StopGrace {
		t.Fatal("stop returned before grace period")
	}
}

func TestStart_VerifyFails(t *testing.T) {
	cfg := testConfig(t)
	cfg.ModelPath = filepath.Join(t.TempDir(), "missing")
	opts := fastOptions("/bin/false", nil)
	opts.Verify = true
	opts.Lookup = func(string) (string, bool) { return "", false }
	l, _ := New(cfg, opts)
	err := l.Start(context.Background())
	if !IsVerifyFailed(err) {
		t.Fatalf("expected verify failure, got %v", err)
	}
	if l.Done() != nil {
		t.Fatal("process must not start after failed verification")
	}
}

func TestStart_ContextCanceled(t *testing.T) {
	bin := buildFakeServer(t)
	t.Setenv("FAKE_VLLM_MODE", "hang")
	l, _ := New(testConfig(t), fastOptions(bin, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := l.Start(ctx); err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
