package main

import (
	"bufio"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// buildTargets collects targets from -u (expanded with the wordlist when it
// holds FUZZ), from -f and from positional arguments.
func buildTargets(urlStr, wordlist, file string, args []string) ([]string, error) {
	hasFuzz := strings.Contains(urlStr, "FUZZ")
	switch {
	case hasFuzz && wordlist == "":
		return nil, errors.New("URL contains FUZZ but no -w wordlist provided")
	case !hasFuzz && wordlist != "":
		return nil, errors.New("-w supplied but target URL has no FUZZ placeholder")
	case urlStr == "" && file == "" && len(args) == 0:
		return nil, errors.New("no target: pass -u, -f or URLs as arguments")
	}

	var targets []string
	switch {
	case hasFuzz:
		words, err := loadLines(wordlist)
		if err != nil {
			return nil, fmt.Errorf("wordlist: %w", err)
		}
		if len(words) == 0 {
			return nil, fmt.Errorf("wordlist %q produced no payloads", wordlist)
		}
		for _, payload := range words {
			targets = append(targets, strings.Replace(urlStr, "FUZZ", payload, 1))
		}
	case urlStr != "":
		targets = append(targets, urlStr)
	}
	if file != "" {
		lines, err := loadLines(file)
		if err != nil {
			return nil, fmt.Errorf("target file: %w", err)
		}
		targets = append(targets, lines...)
	}
	return append(targets, args...), nil
}

// loadLines returns the non-empty lines of path. Lines starting with # are
// comments.
func loadLines(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)
	var entries []string
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %q: %w", path, err)
	}
	return entries, nil
}

func toHeader(headers []string) (http.Header, error) {
	hdr := make(http.Header)
	for _, h := range headers {
		key, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q (expected Key: Value)", h)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid header %q (empty key)", h)
		}
		hdr.Add(key, strings.TrimSpace(value))
	}
	return hdr, nil
}

func buildParamsMap(opts *options, targetCount int) map[string]string {
	cfg := opts.cfg
	params := map[string]string{
		"threads":           strconv.Itoa(cfg.Runner.Threads),
		"rate_limit":        strconv.FormatFloat(cfg.Runner.RateLimit, 'f', -1, 64),
		"timeout":           cfg.Runner.Timeout.String(),
		"max_chain":         strconv.Itoa(cfg.Runner.MaxChain),
		"follow":            strconv.FormatBool(cfg.Runner.Follow),
		"linger":            cfg.Runner.Linger.String(),
		"retries":           strconv.Itoa(cfg.HTTP.Retries),
		"insecure":          strconv.FormatBool(cfg.HTTP.Insecure),
		"real_time":         strconv.FormatBool(cfg.Gate.RealTimeLookup),
		"hash_real_time":    strconv.FormatBool(cfg.Gate.HashRealTimeLookup),
		"check_timeout":     cfg.Oracle.CheckTimeout.String(),
		"heuristics":        strconv.FormatBool(cfg.Oracle.Heuristics),
		"targets_generated": strconv.Itoa(targetCount),
	}
	optional := map[string]string{
		"target":       opts.url,
		"target_file":  opts.file,
		"wordlist":     opts.wordlist,
		"policy":       cfg.Gate.PolicyFile,
		"hash_db":      cfg.Oracle.HashDB,
		"endpoint":     cfg.Oracle.Endpoint,
		"proxy":        cfg.HTTP.Proxy,
		"output_jsonl": opts.outputJSONL,
		"output_html":  opts.outputHTML,
	}
	for k, v := range optional {
		if v != "" {
			params[k] = v
		}
	}
	if opts.cookie != "" {
		params["cookie"] = "(set)"
	}
	if len(opts.headers) > 0 {
		params["headers"] = strings.Join(opts.headers, "; ")
	}
	return params
}
