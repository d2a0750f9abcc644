package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kitbuilder587/genstream/internal/config"
	"github.com/kitbuilder587/genstream/internal/gateway"
	"github.com/kitbuilder587/genstream/internal/llm"
	"github.com/kitbuilder587/genstream/internal/llm/openai"
	"github.com/kitbuilder587/genstream/internal/metrics"
)

var errCancelled = errors.New("generation cancelled")

type options struct {
	configFile string
	model      string
	buffered   bool
	promptFile string
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "genstream [prompt]",
		Short:         "Stream a completion from an OpenAI-compatible endpoint",
		Long:          "genstream sends one prompt through a pool of API keys, retrying timeouts and rotating keys on failure, and streams the answer to stdout.",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.configFile, "config", "", "optional YAML config file; environment variables override it")
	cmd.Flags().StringVar(&opts.model, "model", "", "override the model name")
	cmd.Flags().BoolVar(&opts.buffered, "buffered", false, "request the whole answer in one response instead of streaming")
	cmd.Flags().StringVarP(&opts.promptFile, "file", "f", "", "read the prompt from a file ('-' for stdin)")

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, opts options, args []string) error {
	cfg, err := config.LoadFile(opts.configFile)
	if err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "config:", err)
		return err
	}
	if opts.model != "" {
		cfg.LLM.Model = opts.model
	}
	if opts.buffered {
		cfg.LLM.Stream = false
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	prompt, err := readPrompt(cmd.InOrStdin(), opts.promptFile, args)
	if err != nil {
		logger.Error("no prompt", zap.Error(err))
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	d := gateway.New(gateway.Deps{
		Transport: openai.New(openai.Config{BaseURL: cfg.LLM.BaseURL}, logger),
		Pool:      gateway.NewCredentialPool(cfg.LLM.APIKeys),
		Logger:    logger,
		Metrics:   metrics.New(reg),
		Config:    gatewayConfig(cfg),
	})
	session := gateway.NewSession(d)

	logger.Info("starting generation",
		zap.String("model", cfg.LLM.Model),
		zap.Bool("stream", cfg.LLM.Stream),
		zap.Int("credentials", len(cfg.LLM.APIKeys)),
	)

	g, gctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HandlerFor(reg))
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			logger.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	out := cmd.OutOrStdout()
	var res *gateway.Result
	g.Go(func() error {
		if srv != nil {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
		}

		r, err := session.Generate(gctx, prompt,
			func(text string) { io.WriteString(out, text) },
			gateway.WithResetHandler(func() {
				fmt.Fprintln(cmd.ErrOrStderr(), "\n[attempt failed, output restarts]")
			}),
		)
		res = r
		return err
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), err)
		return err
	}

	if res.Cancelled() {
		fmt.Fprintln(cmd.ErrOrStderr(), "\ncancelled")
		return errCancelled
	}

	fmt.Fprintln(out)
	if res.Truncated {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: output truncated by the provider's length limit")
	}
	return nil
}

func gatewayConfig(cfg *config.Config) gateway.Config {
	mode := gateway.ModeStream
	if !cfg.LLM.Stream {
		mode = gateway.ModeBuffered
	}
	return gateway.Config{
		Params: llm.GenerationParams{
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxOutputTokens,
		},
		Policy: gateway.TimeoutPolicy{
			BaseTimeout: cfg.Retry.Timeout,
			BackoffStep: cfg.Retry.BackoffStep,
			MaxAttempts: cfg.Retry.MaxAttempts,
			IdleTimeout: cfg.Retry.IdleTimeout,
		},
		Mode: mode,
	}
}

func readPrompt(stdin io.Reader, file string, args []string) (string, error) {
	var prompt string
	switch {
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		prompt = string(b)
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		prompt = string(b)
	default:
		prompt = strings.Join(args, " ")
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt is empty")
	}
	return prompt, nil
}
