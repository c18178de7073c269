package ctl

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ocrdeploy/internal/config"
	"ocrdeploy/internal/endpoint"
	"ocrdeploy/internal/launcher"
	"ocrdeploy/internal/smoketest"
	"ocrdeploy/internal/verify"
)

// Actions are variables so tests can stub them.
var (
	fnVerify       = runVerify
	fnTestEndpoint = runTestEndpoint
	fnLaunch       = runLaunch
)

type verifyParams struct {
	ModelPath string
	JSON      bool
	// ConfigPath, when set, layers the resolved file config over the
	// environment the same way launch does.
	ConfigPath string
}

func runVerify(out io.Writer, p verifyParams) error {
	opts := verify.Options{ModelPath: p.ModelPath}
	if p.ConfigPath != "" {
		c, err := config.Resolve(p.ConfigPath, os.LookupEnv)
		if err != nil {
			return err
		}
		if opts.ModelPath == "" {
			opts.ModelPath = c.ModelPath
		}
		opts.Lookup = c.Lookup(os.LookupEnv)
	}
	rep := verify.Run(opts)
	if p.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(struct {
			verify.Report
			Passed bool `json:"passed"`
		}{rep, rep.Passed()}); err != nil {
			return err
		}
	} else {
		rep.Render(out)
	}
	if !rep.Passed() {
		return errChecksFailed
	}
	return nil
}

type endpointParams struct {
	URL            string
	APIKey         string
	ConnectTimeout time.Duration
	JSON           bool
	MetricsOut     string

	// Wait polls /health for up to this long before the suite runs.
	Wait  time.Duration
	Suite smoketest.Options
}

func runTestEndpoint(ctx context.Context, out io.Writer, log zerolog.Logger, p endpointParams) error {
	opts := []endpoint.Option{endpoint.WithUserAgent("ocrctl"), endpoint.WithConnectTimeout(p.ConnectTimeout)}
	if p.APIKey != "" {
		opts = append(opts, endpoint.WithAPIKey(p.APIKey))
	}
	client := endpoint.New(p.URL, opts...)
	log.Info().Str("url", client.BaseURL()).Str("model", p.Suite.Model).Msg("testing endpoint")
	if p.Wait > 0 {
		log.Info().Dur("wait", p.Wait).Msg("waiting for endpoint health")
		wctx, cancel := context.WithTimeout(ctx, p.Wait)
		err := client.WaitHealthy(wctx, 2*time.Second)
		cancel()
		if err != nil {
			return err
		}
	}

	suite := smoketest.New(client, p.Suite, log)
	sum := suite.Run(ctx)
	if p.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(sum); err != nil {
			return err
		}
	} else {
		sum.Render(out)
	}
	if p.MetricsOut != "" {
		if err := suite.WriteMetrics(p.MetricsOut); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
		log.Info().Str("path", p.MetricsOut).Msg("metrics written")
	}
	if !sum.OK() {
		return errChecksFailed
	}
	return nil
}

type launchParams struct {
	Config       config.Config
	SkipVerify   bool
	Command      []string
	ReadyTimeout time.Duration
}

// runLaunch starts the server, waits for it to be ready and then supervises
// it until it exits or the process receives SIGINT/SIGTERM.
func runLaunch(ctx context.Context, log zerolog.Logger, p launchParams) error {
	l, err := launcher.New(p.Config, launcher.Options{
		Command:      p.Command,
		Verify:       !p.SkipVerify,
		ReadyTimeout: p.ReadyTimeout,
		Stdout:       os.Stdout,
		Stderr:       os.Stderr,
		Logger:       log,
	})
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := l.Start(ctx); err != nil {
		switch {
		case launcher.IsVerifyFailed(err):
			log.Error().Msg("model verification failed, run `ocrctl verify` for the full report")
		case launcher.IsEarlyExit(err):
			log.Error().Str("hint", launcher.Hint(l.StderrTail())).Msg("inference server exited during startup")
		case launcher.IsNotReady(err):
			log.Error().Dur("ready_timeout", p.ReadyTimeout).Msg("first loads can be slow, raise --ready-timeout")
		}
		return err
	}
	log.Info().Str("url", l.BaseURL()).Str("model", p.Config.ServedModelName).Msg("serving")
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down inference server")
		return l.Stop()
	case <-l.Done():
		if err := l.Wait(); err != nil {
			return fmt.Errorf("inference server exited: %w", err)
		}
		return nil
	}
}
