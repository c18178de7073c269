package ctl

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ocrdeploy/internal/config"
	"ocrdeploy/internal/endpoint"
	"ocrdeploy/internal/launcher"
)

// usageArgs wraps a positional-args validator so violations exit with 2.
func usageArgs(v cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := v(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

// buildRootCmdWith constructs the command tree wired to the fn* actions.
func buildRootCmdWith(cfg *Config) *cobra.Command {
	var log zerolog.Logger
	root := &cobra.Command{
		Use:           "ocrctl",
		Short:         "Deploy, verify and test a dots.ocr vLLM endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags -> Config
	root.PersistentFlags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error (defaults OCR_LOG_LEVEL or info)")
	root.PersistentFlags().StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "Config file (.yaml|.yml|.json|.toml); env vars override it")
	root.PersistentFlags().StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "dotenv file loaded before reading the environment")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		log = newLogger(cfg.Stderr, cfg.LogLevel)
		loaded, err := config.LoadDotEnv(cfg.EnvFile)
		if err != nil {
			return err
		}
		if loaded != "" {
			log.Debug().Str("path", loaded).Msg("loaded env file")
		}
		return nil
	}
	resolve := func() (config.Config, error) {
		c, err := config.Resolve(cfg.ConfigPath, os.LookupEnv)
		if err != nil {
			return c, err
		}
		return c, c.Validate()
	}

	// verify
	var vp verifyParams
	verifyCmd := &cobra.Command{
		Use:     "verify",
		Short:   "Check environment, model files and config.json",
		Example: "  ocrctl verify\n  ocrctl verify --model-path /models/DotsOCR --json",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			vp.ConfigPath = cfg.ConfigPath
			return fnVerify(cfg.Stdout, vp)
		},
	}
	verifyCmd.Flags().StringVar(&vp.ModelPath, "model-path", "", "Model directory (defaults MODEL_PATH)")
	verifyCmd.Flags().BoolVar(&vp.JSON, "json", false, "Print the report as JSON")
	root.AddCommand(verifyCmd)

	// test-endpoint
	ep := endpointParams{ConnectTimeout: 10 * time.Second}
	testCmd := &cobra.Command{
		Use:     "test-endpoint <url>",
		Aliases: []string{"test"},
		Short:   "Run health, model, OCR and performance tests against an endpoint",
		Example: "  ocrctl test-endpoint http://localhost:8000 --image page.png\n  ocrctl test-endpoint https://api.example.com --api-key $API_KEY --skip-performance",
		Args:    usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			ep.URL = args[0]
			if ep.APIKey == "" {
				ep.APIKey = firstEnv(config.EnvAPIKey, config.EnvAPIKeyAlt)
			}
			if ep.Suite.Model == "" {
				c, err := config.Resolve(cfg.ConfigPath, os.LookupEnv)
				if err != nil {
					return err
				}
				ep.Suite.Model = c.ServedModelName
			}
			return fnTestEndpoint(cmd.Context(), cfg.Stdout, log, ep)
		},
	}
	tf := testCmd.Flags()
	tf.StringVar(&ep.APIKey, "api-key", "", "Bearer token (defaults VLLM_API_KEY or API_KEY)")
	tf.StringVar(&ep.Suite.Model, "model", "", "Model id to request (defaults SERVED_MODEL_NAME or MODEL_NAME)")
	tf.StringVar(&ep.Suite.ImagePath, "image", "", "Image file or URL for the OCR test")
	tf.StringVar(&ep.Suite.OCRPrompt, "prompt", endpoint.DefaultOCRPrompt, "OCR prompt sent with the image")
	tf.BoolVar(&ep.Suite.SkipPerformance, "skip-performance", false, "Skip the performance test")
	tf.IntVar(&ep.Suite.PerformanceRequests, "performance-requests", envInt("OCR_PERF_REQUESTS", 3), "Requests issued by the performance test")
	tf.IntVar(&ep.Suite.Concurrency, "concurrency", 1, "Performance requests in flight at once")
	tf.BoolVar(&ep.Suite.IncludeText, "text", false, "Also run a plain text completion test")
	tf.DurationVar(&ep.ConnectTimeout, "connect-timeout", ep.ConnectTimeout, "TCP connect timeout")
	tf.DurationVar(&ep.Suite.OCRTimeout, "ocr-timeout", 120*time.Second, "OCR request timeout")
	tf.BoolVar(&ep.JSON, "json", false, "Print the summary as JSON")
	tf.StringVar(&ep.MetricsOut, "metrics-out", "", "Write request latency metrics in Prometheus text format to this file")
	tf.DurationVar(&ep.Wait, "wait", 0, "Wait up to this long for /health before testing (0 disables)")
	root.AddCommand(testCmd)

	// launch
	var lp launchParams
	var command string
	launchCmd := &cobra.Command{
		Use:   "launch",
		Short: "Verify the model and run the vLLM OpenAI server until interrupted",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := resolve()
			if err != nil {
				return err
			}
			lp.Config = c
			lp.Command = strings.Fields(command)
			return fnLaunch(cmd.Context(), log, lp)
		},
	}
	launchCmd.Flags().BoolVar(&lp.SkipVerify, "skip-verify", false, "Start without verifying the model directory")
	launchCmd.Flags().StringVar(&command, "command", envStr("VLLM_COMMAND", strings.Join(launcher.DefaultCommand, " ")), "Server command prefix")
	launchCmd.Flags().DurationVar(&lp.ReadyTimeout, "ready-timeout", launcher.DefaultReadyTimeout, "How long to wait for /health")
	root.AddCommand(launchCmd)

	// config
	configCmd := &cobra.Command{Use: "config", Short: "Inspect the effective configuration", Args: usageArgs(cobra.NoArgs), RunE: func(cmd *cobra.Command, args []string) error {
		return usageError{fmt.Errorf("config requires a subcommand: show|args|validate")}
	}}
	var format string
	showCmd := &cobra.Command{Use: "show", Short: "Print the resolved configuration", Args: usageArgs(cobra.NoArgs), RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Resolve(cfg.ConfigPath, os.LookupEnv)
		if err != nil {
			return err
		}
		b, err := config.Encode(c.Redacted(), format)
		if err != nil {
			return usageError{err}
		}
		_, err = cfg.Stdout.Write(b)
		return err
	}}
	showCmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml|json|toml|env")
	argsCmd := &cobra.Command{Use: "args", Short: "Print the server command line", Args: usageArgs(cobra.NoArgs), RunE: func(cmd *cobra.Command, args []string) error {
		c, err := resolve()
		if err != nil {
			return err
		}
		fmt.Fprintln(cfg.Stdout, strings.Join(launcher.Redact(launcher.Argv(strings.Fields(command), c)), " "))
		return nil
	}}
	validateCmd := &cobra.Command{Use: "validate", Short: "Validate the resolved configuration", Args: usageArgs(cobra.NoArgs), RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := resolve(); err != nil {
			return err
		}
		fmt.Fprintln(cfg.Stdout, "configuration is valid")
		return nil
	}}
	configCmd.AddCommand(showCmd, argsCmd, validateCmd)
	root.AddCommand(configCmd)

	// completion command
	completionCmd := &cobra.Command{Use: "completion", Short: "Generate the autocompletion script for the specified shell"}
	completionCmd.AddCommand(&cobra.Command{Use: "bash", Short: "Bash completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenBashCompletion(cfg.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "zsh", Short: "Zsh completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenZshCompletion(cfg.Stdout) }})
	completionCmd.AddCommand(&cobra.Command{Use: "fish", Short: "Fish completion", RunE: func(cmd *cobra.Command, args []string) error { return root.GenFishCompletion(cfg.Stdout, true) }})
	completionCmd.AddCommand(&cobra.Command{Use: "powershell", Short: "PowerShell completion", RunE: func(cmd *cobra.Command, args []string) error {
		return root.GenPowerShellCompletionWithDesc(cfg.Stdout)
	}})
	root.AddCommand(completionCmd)

	return root
}
