package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/fetch"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/linkprobe"
	applog "github.com/wbt-web-support/web-audit-v2-sub000/pkg/log"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/models"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/watch"
)

// runCheckLinks handles the check-links subcommand
func runCheckLinks(args []string) {
	fs := flag.NewFlagSet("check-links", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	projectID := fs.String("project", "", "Project id to check (required)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if *projectID == "" {
		fmt.Fprintln(os.Stderr, "Error: -project is required")
		os.Exit(1)
	}

	log := setupLogger(os.Stderr, *logLevel)
	appCfg := loadAndValidateConfig(*configFile, log)
	ctx, cancel := signalContext(log)
	defer cancel()

	p, err := buildPipeline(ctx, appCfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}
	exitCode := checkLinks(ctx, p, *projectID)
	p.Close(log)
	os.Exit(exitCode)
}

// checkLinks runs one link check, printing broken URLs to stdout and progress to stderr
func checkLinks(ctx context.Context, p *pipeline, projectID string) int {
	progress, err := p.checker.CheckProject(ctx, projectID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", utils.UserMessage(err))
		return 1
	}

	exitCode := 0
	for pr := range progress {
		if !pr.Done {
			fmt.Fprintf(os.Stderr, "batch %d/%d: %d/%d checked, %d broken\n", pr.Batch, pr.Batches, pr.Checked, pr.Total, pr.Broken)
			if pr.PersistErr != nil {
				fmt.Fprintf(os.Stderr, "  warning: %s\n", utils.UserMessage(pr.PersistErr))
			}
			continue
		}
		broken := make([]string, 0, pr.Broken)
		for url, status := range pr.Statuses {
			if status == models.LinkStatusBroken {
				broken = append(broken, url)
			}
		}
		sort.Strings(broken)
		for _, url := range broken {
			fmt.Println(url)
		}
		fmt.Fprintf(os.Stderr, "%d links checked, %d broken\n", pr.Checked, pr.Broken)
		if pr.Err != nil {
			fmt.Fprintf(os.Stderr, "Link check stopped early: %s\n", utils.UserMessage(pr.Err))
			exitCode = 1
		}
	}
	return exitCode
}

// runWatch handles the watch subcommand
func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	projects := fs.String("projects", "", "Comma-separated project ids (default: every completed project)")
	interval := fs.String("interval", "", "Re-check interval (e.g., 30m, 1h, 24h, 7d); defaults to watch.interval")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: web-audit watch [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  web-audit watch --interval 24h\n")
		fmt.Fprintf(os.Stderr, "  web-audit watch -projects 0b6f...,91c2... --interval 7d\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(os.Stderr, *logLevel)
	appCfg := loadAndValidateConfig(*configFile, log)

	every := appCfg.Watch.Interval
	if *interval != "" {
		d, err := watch.ParseInterval(*interval)
		if err != nil {
			log.Fatalf("Invalid interval: %v", err)
		}
		every = d
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	p, err := buildPipeline(ctx, appCfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	scheduler := watch.NewScheduler(p.checker, p.store, splitList(*projects), every, appCfg.StateDir, applog.Component(log, "watch"))
	err = scheduler.Run(ctx)
	p.Close(log)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("Watch stopped: %s", utils.UserMessage(err))
		os.Exit(1)
	}
	log.Info("Watch mode stopped.")
}

// runProbeServer handles the probe-server subcommand
func runProbeServer(args []string) {
	fs := flag.NewFlagSet("probe-server", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	addr := fs.String("addr", "", "Listen address (defaults to probe_server.listen_addr)")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(os.Stderr, *logLevel)
	appCfg := loadAndValidateConfig(*configFile, log)
	ps := appCfg.ProbeServer
	if *addr != "" {
		ps.ListenAddr = *addr
	}
	if appCfg.LinkCheck.TokenSecret == "" {
		log.Fatal("link_check.token_secret is required to verify probe tokens")
	}

	entry := applog.Component(log, "probe")
	settings := appCfg.HTTPClientSettings
	settings.DenyPrivateNetworks = !ps.AllowPrivateTargets
	client := fetch.NewClient(settings, entry)
	client.Timeout = ps.ProbeTimeout
	limiter := fetch.NewRateLimiter(ps.DelayPerHost, entry)
	var robots *fetch.RobotsHandler
	if ps.RespectRobots {
		robots = fetch.NewRobotsHandler(fetch.NewFetcher(client, 1, 500*time.Millisecond, 2*time.Second, entry), limiter, ps.UserAgent, entry)
	}
	prober := linkprobe.NewProber(client, fetch.NewHostSemaphorePool(ps.MaxRequestsPerHost, entry), limiter, robots, ps, entry)

	srv := &http.Server{
		Addr:              ps.ListenAddr,
		Handler:           linkprobe.NewServer(prober, appCfg, appCfg.LinkCheck.TokenSecret, ps, entry).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signalContext(log)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorf("Probe server shutdown: %v", err)
		}
	}()

	log.Infof("Probe server listening on %s", ps.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Probe server failed: %v", err)
	}
	log.Info("Probe server stopped.")
}
