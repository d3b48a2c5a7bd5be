package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/selimozcann/RedirectGuard/internal/banner"
	"github.com/selimozcann/RedirectGuard/internal/config"
	"github.com/selimozcann/RedirectGuard/internal/httpclient"
	"github.com/selimozcann/RedirectGuard/internal/loader"
	"github.com/selimozcann/RedirectGuard/internal/logging"
	"github.com/selimozcann/RedirectGuard/internal/model"
	"github.com/selimozcann/RedirectGuard/internal/oracle"
	"github.com/selimozcann/RedirectGuard/internal/output"
	"github.com/selimozcann/RedirectGuard/internal/policy"
	"github.com/selimozcann/RedirectGuard/internal/runner"
	"github.com/selimozcann/RedirectGuard/internal/safebrowsing"
	"github.com/selimozcann/RedirectGuard/internal/ui"
)

func run(ctx context.Context, cmd *cobra.Command, opts *options, args []string) error {
	cfg := opts.cfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	targets, err := buildTargets(opts.url, opts.wordlist, opts.file, args)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return errors.New("no targets generated")
	}
	headers, err := toHeader(opts.headers)
	if err != nil {
		return err
	}

	if opts.noColor {
		color.NoColor = true
	}
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()
	if !opts.noBanner && !opts.silent {
		banner.Print(stderr, version)
	}

	logger, err := logging.New(cfg.Logging.Logger())
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	log := logger.Logger
	defer func() { _ = log.Sync() }()

	reg := prometheus.NewRegistry()
	metrics := safebrowsing.NewMetrics(reg)
	if cfg.Metrics.Addr != "" {
		stopMetrics := serveMetrics(cfg.Metrics.Addr, reg, log)
		defer stopMetrics()
	}

	console := ui.NewConsole(stderr, cfg.UI.InterstitialDir, log)
	registry := safebrowsing.NewTrackerRegistry(metrics, log)
	manager, closeOracle, err := buildOracle(ctx, cfg, console, registry, log)
	if err != nil {
		return err
	}
	defer closeOracle()

	pol := policy.Empty()
	if cfg.Gate.PolicyFile != "" {
		if pol, err = policy.Load(cfg.Gate.PolicyFile); err != nil {
			return err
		}
	}

	var proxy func(*http.Request) (*url.URL, error)
	if cfg.HTTP.Proxy != "" {
		proxyURL, perr := url.Parse(cfg.HTTP.Proxy)
		if perr != nil {
			return fmt.Errorf("invalid proxy URL: %w", perr)
		}
		proxy = http.ProxyURL(proxyURL)
	}
	client := httpclient.New(httpclient.Config{
		Timeout:   cfg.Runner.Timeout,
		Proxy:     proxy,
		Headers:   headers,
		Cookie:    opts.cookie,
		UserAgent: cfg.HTTP.UserAgent,
		Insecure:  cfg.HTTP.Insecure,
		Retries:   cfg.HTTP.Retries,
		Logger:    log,
	})

	ld := loader.New(loader.Options{
		Client:              client,
		Oracle:              manager,
		Policy:              pol,
		Gate:                cfg.Gate.SafeBrowsing(),
		Metrics:             metrics,
		MaxChain:            cfg.Runner.MaxChain,
		BodyLimit:           cfg.HTTP.BodyLimit,
		ScanClientRedirects: cfg.Runner.Follow,
		Logger:              log,
	})
	runr := runner.New(runner.Config{
		Threads:               cfg.Runner.Threads,
		RateLimit:             cfg.Runner.RateLimit,
		Timeout:               cfg.Runner.Timeout,
		MaxChain:              cfg.Runner.MaxChain,
		FollowClientRedirects: cfg.Runner.Follow,
		Linger:                cfg.Runner.Linger,
	}, ld, registry, console, log)

	var jsonl *output.JSONLWriter
	if opts.outputJSONL != "" {
		f, err := createFile(opts.outputJSONL)
		if err != nil {
			return fmt.Errorf("create JSONL file: %w", err)
		}
		defer f.Close()
		jsonl = output.NewJSONLWriter(f)
		defer func() { _ = jsonl.Close() }()
		runr.OnResult = func(res model.Result) {
			if err := jsonl.Write(output.BuildRecord(res)); err != nil {
				log.Error("write JSONL record", zap.String("target", res.Target), zap.Error(err))
			}
		}
	}

	log.Info("starting run",
		zap.Int("targets", len(targets)),
		zap.Int("threads", cfg.Runner.Threads),
		zap.Float64("rate_limit", cfg.Runner.RateLimit),
		zap.Int("max_chain", cfg.Runner.MaxChain))
	results := runr.Run(ctx, targets)
	summary := output.BuildSummary(results)

	if !opts.silent {
		printer := output.NewPrinter(stdout, output.PrinterOptions{
			Summary:   opts.summary,
			OnlyRisky: opts.onlyRisky,
			NoColor:   opts.noColor,
		})
		for i, res := range results {
			printer.PrintResult(i, len(results), res)
		}
		printer.PrintSummary(summary)
	}

	if opts.outputHTML != "" {
		views := make([]output.ResultView, len(results))
		for i, res := range results {
			views[i] = output.BuildResultView(i, res)
		}
		page := output.PageData{
			Title:       "RedirectGuard Report",
			GeneratedAt: time.Now().UTC(),
			Params:      buildParamsMap(opts, len(targets)),
			Summary:     summary,
			Results:     views,
		}
		if err := writeHTMLFile(opts.outputHTML, page); err != nil {
			return err
		}
		log.Info("wrote HTML report", zap.String("path", opts.outputHTML))
	}
	return ctx.Err()
}

// buildOracle wires the verdict mechanisms. The returned func releases them.
func buildOracle(ctx context.Context, cfg *config.Config, uim safebrowsing.UIManager, docs *safebrowsing.TrackerRegistry, log *zap.Logger) (*oracle.Manager, func(), error) {
	opts := oracle.Options{
		Heuristics: cfg.Oracle.BuildHeuristics(),
		UI:         uim,
		Documents:  docs,
		Timeout:    cfg.Oracle.CheckTimeout,
		Logger:     log,
	}
	var store *oracle.HashStore
	if cfg.Oracle.HashDB != "" {
		var err error
		store, err = oracle.OpenHashStore(ctx, cfg.Oracle.HashDB)
		if err != nil {
			return nil, nil, err
		}
		opts.Store = store
	}
	if cfg.Oracle.Endpoint != "" {
		rt, err := oracle.NewRealTimeClient(cfg.Oracle.RealTime(), log)
		if err != nil {
			if store != nil {
				_ = store.Close()
			}
			return nil, nil, err
		}
		opts.RealTime = rt
	}
	m := oracle.NewManager(opts)
	return m, func() {
		m.Close()
		if store != nil {
			if err := store.Close(); err != nil {
				log.Warn("close hash store", zap.Error(err))
			}
		}
	}, nil
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", addr))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

func writeHTMLFile(path string, page output.PageData) error {
	f, err := createFile(path)
	if err != nil {
		return fmt.Errorf("create HTML file: %w", err)
	}
	defer f.Close()
	if err := output.RenderHTML(f, page); err != nil {
		return fmt.Errorf("write HTML: %w", err)
	}
	return nil
}

func createFile(path string) (io.WriteCloser, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return os.Create(path)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
