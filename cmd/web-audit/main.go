package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	applog "github.com/wbt-web-support/web-audit-v2-sub000/pkg/log"
)

const version = "0.4.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "audit":
		runAudit(os.Args[2:])
	case "reset":
		runReset(os.Args[2:])
	case "check-links":
		runCheckLinks(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "probe-server":
		runProbeServer(os.Args[2:])
	case "list-projects":
		runListProjects(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "mcp-server":
		runMcpServer(os.Args[2:])
	case "version":
		fmt.Printf("web-audit %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `web-audit - Website audit pipeline

Usage:
  web-audit <command> [options]

Commands:
  audit          Crawl configured projects (or one -url) and store the results
  reset          Put a failed or stalled project back to pending
  check-links    Check every link of an audited project
  watch          Re-check links of audited projects on a schedule
  probe-server   Serve POST /api/check-link for link checks
  list-projects  List stored audit projects
  validate       Validate configuration file
  mcp-server     Start MCP server for AI tool integration
  version        Show version info

Run 'web-audit <command> -h' for command-specific help.`)
}

// runValidate handles the validate subcommand
func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: web-audit validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "OK: %d crawl endpoints, failover '%s', mode '%s'\n",
		len(appCfg.Crawler.Endpoints), appCfg.Crawler.Failover, appCfg.Crawler.Mode)
	keys := make([]string, 0, len(appCfg.Projects))
	for k := range appCfg.Projects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(stdout, "OK: [%s] %s\n", key, appCfg.Projects[key].SiteURL)
	}
	if appCfg.HasFeature(config.FeatureBrokenLinksCheck) {
		fmt.Fprintln(stdout, "OK: broken_links_check enabled")
	}

	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// setupLogger creates the process logger writing to out
func setupLogger(out io.Writer, logLevelStr string) *logrus.Logger {
	log := applog.New(out, logLevelStr)
	log.Debugf("Log level: %s", log.GetLevel())
	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, err := config.Load(configFile)
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	logAppConfig(appCfg, log)
	return appCfg
}

// signalContext returns a context cancelled on SIGINT or SIGTERM. A second signal,
// or a stalled shutdown, forces the process to exit.
func signalContext(log *logrus.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		select {
		case sig := <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// splitList splits a comma-separated flag value, dropping empty items
func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	cr := appCfg.Crawler
	log.Infof("Crawler: Endpoints:%d, Failover:%s, MaxRetries:%d, PerAttempt:%v, BaseDelay:%v",
		len(cr.Endpoints), cr.Failover, cr.MaxRetries, cr.PerAttemptTimeout, cr.BaseDelay)
	log.Infof("Crawler: Mode:%s, MaxPages:%d, MaxConcurrentAudits:%d, OriginScheme:%s",
		cr.Mode, cr.MaxPages, cr.MaxConcurrentAudits, cr.OriginScheme)
	log.Infof("Link check: Endpoint:%q, BatchSize:%d, BatchDelay:%v, Features:%v",
		appCfg.LinkCheck.Endpoint, appCfg.LinkCheck.BatchSize, appCfg.LinkCheck.BatchDelay, appCfg.Features)
	log.Infof("PageSpeed: Enabled:%t, Strategy:%s, Timeout:%v",
		appCfg.PageSpeed.Enabled, appCfg.PageSpeed.Strategy, appCfg.PageSpeed.Timeout)
	log.Infof("State: Dir:%s, CacheTTL:%v", appCfg.StateDir, appCfg.CacheTTL)
}
