package main

import (
	"github.com/spf13/cobra"

	"github.com/selimozcann/RedirectGuard/internal/config"
)

type options struct {
	cfg *config.Config

	url         string
	file        string
	wordlist    string
	cookie      string
	headers     []string
	silent      bool
	summary     bool
	onlyRisky   bool
	noBanner    bool
	noColor     bool
	outputJSONL string
	outputHTML  string
}

func newRootCmd() *cobra.Command {
	opts := &options{cfg: config.LoadOrDefault()}
	cfg := opts.cfg

	cmd := &cobra.Command{
		Use:   "redirectguard [url...]",
		Short: "Load URLs through an asynchronous safety gate",
		Long: `redirectguard follows each target's redirect chain and checks every hop
against the configured verdict sources. Responses are held back while checks
are outstanding and loads are cancelled on the first unsafe verdict.

Settings default to REDIRECTGUARD_* environment variables; flags override them.`,
		Args:          cobra.ArbitraryArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd, opts, args)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.url, "url", "u", "", "Target URL (supports FUZZ)")
	f.StringVarP(&opts.file, "file", "f", "", "File with one target URL per line")
	f.StringVarP(&opts.wordlist, "wordlist", "w", "", "Wordlist file (used when FUZZ is in URL)")
	f.StringVar(&opts.cookie, "cookie", "", "Cookie header")
	f.StringArrayVarP(&opts.headers, "header", "H", nil, "Extra HTTP header (repeatable)")
	f.StringVar(&cfg.HTTP.Proxy, "proxy", cfg.HTTP.Proxy, "HTTP(S) proxy URL")
	f.BoolVar(&cfg.HTTP.Insecure, "insecure", cfg.HTTP.Insecure, "Skip TLS verification")
	f.IntVar(&cfg.HTTP.Retries, "retries", cfg.HTTP.Retries, "Retry count")

	f.IntVarP(&cfg.Runner.Threads, "threads", "t", cfg.Runner.Threads, "Concurrent targets")
	f.Float64Var(&cfg.Runner.RateLimit, "rate", cfg.Runner.RateLimit, "Global rate limit (loads per second)")
	f.DurationVar(&cfg.Runner.Timeout, "timeout", cfg.Runner.Timeout, "Per-target timeout")
	f.IntVar(&cfg.Runner.MaxChain, "max-chain", cfg.Runner.MaxChain, "Max redirect hops including client redirects")
	f.BoolVar(&cfg.Runner.Follow, "follow", cfg.Runner.Follow, "Follow meta refresh and script redirects")
	f.DurationVar(&cfg.Runner.Linger, "linger", cfg.Runner.Linger, "Keep documents open this long for late verdicts")

	f.StringVar(&cfg.Gate.PolicyFile, "policy", cfg.Gate.PolicyFile, "YAML skip policy file")
	f.BoolVar(&cfg.Gate.RealTimeLookup, "real-time", cfg.Gate.RealTimeLookup, "Enable remote URL lookups")
	f.BoolVar(&cfg.Gate.HashRealTimeLookup, "hash-real-time", cfg.Gate.HashRealTimeLookup, "Enable remote hash-prefix lookups")
	f.BoolVar(&cfg.Gate.SkipSubresources, "skip-subresources", cfg.Gate.SkipSubresources, "Do not check subresource loads")
	f.StringVar(&cfg.Oracle.HashDB, "hash-db", cfg.Oracle.HashDB, "SQLite hash database path")
	f.StringVar(&cfg.Oracle.Endpoint, "endpoint", cfg.Oracle.Endpoint, "Remote lookup service base URL")
	f.DurationVar(&cfg.Oracle.CheckTimeout, "check-timeout", cfg.Oracle.CheckTimeout, "Upper bound of one URL check")
	f.BoolVar(&cfg.Oracle.Heuristics, "heuristics", cfg.Oracle.Heuristics, "Flag SSRF and credential-spoofing URLs locally")

	f.StringVar(&cfg.UI.InterstitialDir, "interstitial-dir", cfg.UI.InterstitialDir, "Directory for rendered blocking pages")
	f.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "Serve Prometheus metrics on this address")
	f.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	f.BoolVar(&cfg.Logging.Development, "log-dev", cfg.Logging.Development, "Human readable logs")

	f.BoolVar(&opts.silent, "silent", false, "Suppress chain output")
	f.BoolVar(&opts.summary, "summary", false, "Show one-line summary per target")
	f.BoolVar(&opts.onlyRisky, "only-risky", false, "Only print targets that were not plainly safe")
	f.BoolVar(&opts.noBanner, "no-banner", false, "Do not print the banner")
	f.BoolVar(&opts.noColor, "no-color", false, "Disable colored output")
	f.StringVarP(&opts.outputJSONL, "output", "o", "", "JSONL output file")
	f.StringVar(&opts.outputHTML, "html", "", "HTML report output file")

	cmd.AddCommand(newDBCmd(opts))
	return cmd
}
