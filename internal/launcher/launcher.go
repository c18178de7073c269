package launcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ocrdeploy/internal/config"
	"ocrdeploy/internal/verify"
)

const (
	// DefaultReadyTimeout covers a cold model download and load.
	DefaultReadyTimeout = 15 * time.Minute
	DefaultPollInterval = 2 * time.Second
	DefaultStopGrace    = 10 * time.Second
	stderrTailBytes     = 4096
)

// Options controls how the server is spawned.
type Options struct {
	// Command prefix; DefaultCommand when empty.
	Command      []string
	Verify       bool
	ReadyTimeout time.Duration
	PollInterval time.Duration
	StopGrace    time.Duration
	// Stdout/Stderr receive the child's output in addition to the captured tail.
	Stdout, Stderr io.Writer
	Logger         zerolog.Logger
	Publisher      EventPublisher
	// Lookup feeds verification; os.LookupEnv when nil.
	Lookup config.LookupFunc
}

func (o Options) withDefaults() Options {
	if len(o.Command) == 0 {
		o.Command = DefaultCommand
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StopGrace <= 0 {
		o.StopGrace = DefaultStopGrace
	}
	if o.Publisher == nil {
		o.Publisher = noopPublisher{}
	}
	if o.Lookup == nil {
		o.Lookup = os.LookupEnv
	}
	return o
}

// Launcher owns one inference server process.
type Launcher struct {
	cfg  config.Config
	opts Options
	http *http.Client

	mu      sync.Mutex
	cmd     *exec.Cmd
	waitErr error
	exited  chan struct{}
	stderr  *tailBuffer
}

// New validates cfg and returns a Launcher.
func New(cfg config.Config, opts Options) (*Launcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	// Timeout=0: every health check carries its own context deadline.
	return &Launcher{cfg: cfg, opts: opts.withDefaults(), http: &http.Client{Timeout: 0}}, nil
}

// BaseURL is where clients reach the server. Wildcard hosts map to loopback.
func (l *Launcher) BaseURL() string {
	host := l.cfg.Host
	switch host {
	case "", "0.0.0.0", "::", "[::]":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(l.cfg.Port))
}

// Argv returns the full command line that Start runs.
func (l *Launcher) Argv() []string { return Argv(l.opts.Command, l.cfg) }

// verifyModel runs the model checks with the launch config layered over the
// environment, since that is what the child will see.
func (l *Launcher) verifyModel() error {
	rep := verify.Run(verify.Options{ModelPath: l.cfg.ModelPath, Lookup: l.cfg.Lookup(l.opts.Lookup)})
	if rep.Passed() {
		return nil
	}
	var msgs []string
	for _, c := range rep.Failures() {
		msgs = append(msgs, c.Name+": "+c.Detail)
	}
	return verifyError{failures: msgs}
}

// Start spawns the server and blocks until /health answers, the process
// exits, the ready timeout elapses or ctx ends.
func (l *Launcher) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.cmd != nil {
		l.mu.Unlock()
		return errors.New("inference server already started")
	}
	l.mu.Unlock()

	if l.opts.Verify {
		if err := l.verifyModel(); err != nil {
			return err
		}
		l.opts.Logger.Info().Str("model_path", l.cfg.ModelPath).Msg("model verification passed")
	}

	argv := l.Argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), l.cfg.Environ()...)
	tail := newTailBuffer(stderrTailBytes)
	if l.opts.Stderr != nil {
		cmd.Stderr = io.MultiWriter(l.opts.Stderr, tail)
	} else {
		cmd.Stderr = tail
	}
	if l.opts.Stdout != nil {
		cmd.Stdout = l.opts.Stdout
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start inference server: %w", err)
	}
	pid := cmd.Process.Pid
	exited := make(chan struct{})
	l.mu.Lock()
	l.cmd, l.exited, l.stderr, l.waitErr = cmd, exited, tail, nil
	l.mu.Unlock()
	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		l.waitErr = err
		l.mu.Unlock()
		close(exited)
	}()

	base := l.BaseURL()
	log := l.opts.Logger.With().Int("pid", pid).Str("url", base).Logger()
	log.Info().Strs("argv", Redact(argv)).Msg("inference server starting")
	l.opts.Publisher.Publish(Event{Name: "spawn_start", Fields: map[string]any{"pid": pid, "url": base}})

	earlyExit := func() error {
		err := l.exitError()
		log.Error().Err(err).Msg("inference server exited before ready")
		l.opts.Publisher.Publish(Event{Name: "spawn_exit", Fields: map[string]any{"pid": pid, "before_ready": true}})
		return err
	}

	// A healthy answer counts only while the child is alive; another
	// listener on the same port can answer /health too.
	deadline := time.NewTimer(l.opts.ReadyTimeout)
	defer deadline.Stop()
	tick := time.NewTicker(l.opts.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-exited:
			return earlyExit()
		case <-deadline.C:
			log.Error().Dur("timeout", l.opts.ReadyTimeout).Msg("inference server not ready in time")
			l.opts.Publisher.Publish(Event{Name: "spawn_timeout", Fields: map[string]any{"pid": pid}})
			_ = l.Stop()
			return notReadyError{url: base}
		case <-ctx.Done():
			_ = l.Stop()
			return ctx.Err()
		case <-tick.C:
		}
		if !l.healthy(ctx, base) {
			continue
		}
		select {
		case <-exited:
			return earlyExit()
		default:
		}
		log.Info().Msg("inference server ready")
		l.opts.Publisher.Publish(Event{Name: "spawn_ready", Fields: map[string]any{"pid": pid, "url": base}})
		return nil
	}
}

func (l *Launcher) exitError() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return earlyExitError{err: l.waitErr, tail: strings.TrimSpace(l.stderr.String())}
}

func (l *Launcher) healthy(ctx context.Context, base string) bool {
	pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(pctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := l.http.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Wait blocks until the process exits and returns its exit error.
func (l *Launcher) Wait() error {
	l.mu.Lock()
	exited := l.exited
	l.mu.Unlock()
	if exited == nil {
		return errors.New("inference server not started")
	}
	<-exited
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waitErr
}

// Done is closed when the process exits. Nil before Start.
func (l *Launcher) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.exited
}

// StderrTail returns the last captured stderr bytes.
func (l *Launcher) StderrTail() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stderr == nil {
		return ""
	}
	return l.stderr.String()
}

// Stop sends SIGTERM and kills the process after the grace period. Safe to
// call more than once.
func (l *Launcher) Stop() error {
	l.mu.Lock()
	cmd, exited := l.cmd, l.exited
	l.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	select {
	case <-exited:
		return nil
	default:
	}
	_ = cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-exited:
	case <-time.After(l.opts.StopGrace):
		l.opts.Logger.Warn().Int("pid", cmd.Process.Pid).Msg("inference server ignored SIGTERM, killing")
		_ = cmd.Process.Kill()
		<-exited
	}
	l.opts.Publisher.Publish(Event{Name: "spawn_stop", Fields: map[string]any{"pid": cmd.Process.Pid}})
	return nil
}
