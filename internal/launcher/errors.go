package launcher

import (
	"errors"
	"fmt"
	"strings"
)

// earlyExitError reports that the server exited before becoming ready.
type earlyExitError struct {
	err  error
	tail string
}

func (e earlyExitError) Error() string {
	var b strings.Builder
	if e.err != nil {
		fmt.Fprintf(&b, "inference server exited early: %v", e.err)
	} else {
		b.WriteString("inference server exited before ready")
	}
	if h := Hint(e.tail); h != "" {
		b.WriteString("; hint: ")
		b.WriteString(h)
	}
	if e.tail != "" {
		b.WriteString("; stderr tail: ")
		b.WriteString(e.tail)
	}
	return b.String()
}

func (e earlyExitError) Unwrap() error { return e.err }

// IsEarlyExit reports whether err means the server died during startup.
func IsEarlyExit(err error) bool {
	var e earlyExitError
	return errors.As(err, &e)
}

// notReadyError reports a readiness timeout.
type notReadyError struct{ url string }

func (e notReadyError) Error() string { return "inference server not ready in time: " + e.url }

// IsNotReady reports whether err is a readiness timeout.
func IsNotReady(err error) bool {
	var e notReadyError
	return errors.As(err, &e)
}

// verifyError reports a failed pre-launch model verification.
type verifyError struct{ failures []string }

func (e verifyError) Error() string {
	return "model verification failed: " + strings.Join(e.failures, "; ")
}

// IsVerifyFailed reports whether err came from pre-launch verification.
func IsVerifyFailed(err error) bool {
	var e verifyError
	return errors.As(err, &e)
}

// Hint maps known failure output to a configuration suggestion.
func Hint(stderr string) string {
	s := strings.ToLower(stderr)
	switch {
	case strings.Contains(s, "out of memory"), strings.Contains(s, "outofmemoryerror"):
		return "GPU out of memory while loading the model; lower GPU_MEMORY_UTILIZATION or MAX_MODEL_LEN"
	case strings.Contains(s, "no module named 'vllm'"), strings.Contains(s, "no module named vllm"):
		return "vLLM is not installed in this Python environment"
	case strings.Contains(s, "trust_remote_code"):
		return "the model ships custom code; set TRUST_REMOTE_CODE=true"
	case strings.Contains(s, "address already in use"):
		return "the port is taken; set PORT to a free port"
	}
	return ""
}
