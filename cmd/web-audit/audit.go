package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/config"
	applog "github.com/wbt-web-support/web-audit-v2-sub000/pkg/log"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/orchestrate"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/storage"
	"github.com/wbt-web-support/web-audit-v2-sub000/pkg/utils"
)

// adHocKey names the project built from the -url flag
const adHocKey = "adhoc"

// runAudit handles the audit subcommand
func runAudit(args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	projects := fs.String("projects", "", "Comma-separated project keys from config")
	allProjects := fs.Bool("all-projects", false, "Audit every configured project")
	siteURL := fs.String("url", "", "Audit a single site URL not listed in config")
	mode := fs.String("mode", "", "Crawl mode for -url (single, multipage)")
	maxPages := fs.Int("max-pages", 0, "Page budget for -url in multipage mode")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: web-audit audit [options]\n\nOptions:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  web-audit audit -projects acme,globex\n")
		fmt.Fprintf(os.Stderr, "  web-audit audit --all-projects\n")
		fmt.Fprintf(os.Stderr, "  web-audit audit -url https://example.com -mode multipage -max-pages 20\n")
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(os.Stderr, *logLevel)
	appCfg := loadAndValidateConfig(*configFile, log)

	var keys []string
	switch {
	case *siteURL != "":
		if appCfg.Projects == nil {
			appCfg.Projects = map[string]config.ProjectConfig{}
		}
		appCfg.Projects[adHocKey] = config.ProjectConfig{SiteURL: *siteURL, Mode: *mode, MaxPages: *maxPages}
		keys = []string{adHocKey}
	case *allProjects:
		keys = orchestrate.AllProjectKeys(appCfg)
	case *projects != "":
		keys = splitList(*projects)
	default:
		fmt.Fprintln(os.Stderr, "Error: one of -url, -projects, or --all-projects is required")
		fs.Usage()
		os.Exit(1)
	}
	if len(keys) == 0 {
		log.Fatal("No projects to audit")
	}
	if err := orchestrate.ValidateProjectKeys(appCfg, keys); err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signalContext(log)
	defer cancel()

	p, err := buildPipeline(ctx, appCfg, log)
	if err != nil {
		log.Fatalf("Failed to initialize pipeline: %v", err)
	}

	orch := orchestrate.NewOrchestrator(p.dispatcher, p.store, appCfg.Crawler.MaxConcurrentAudits, applog.Component(log, "orchestrate"))
	results := orch.Run(ctx, appCfg.Projects, keys)
	p.Close(log)

	exitCode := 0
	for _, r := range results {
		if r.Success {
			fmt.Printf("%s\t%s\t%s\n", r.Key, r.ProjectID, r.SiteURL)
			continue
		}
		exitCode = 1
		fmt.Fprintf(os.Stderr, "%s: %s\n", r.Key, utils.UserMessage(r.Error))
	}
	if ctx.Err() != nil {
		log.Warn("Audit cancelled.")
	}
	os.Exit(exitCode)
}

// runReset handles the reset subcommand
func runReset(args []string) {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	projectID := fs.String("project", "", "Project id to reset (required)")
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
	project, err := p.dispatcher.Reset(ctx, *projectID)
	p.Close(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", utils.UserMessage(err))
		if errors.Is(err, utils.ErrInvalidTransition) {
			fmt.Fprintln(os.Stderr, "Only failed or unfinished projects can be reset.")
		}
		os.Exit(1)
	}
	fmt.Printf("%s\t%s\n", project.ID, project.Status)
}

// runListProjects handles the list-projects subcommand
func runListProjects(args []string) {
	fs := flag.NewFlagSet("list-projects", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	log := setupLogger(os.Stderr, "warn")
	appCfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	appCfg.Validate()

	ctx := context.Background()
	store, err := storage.NewBadgerStore(ctx, appCfg.StateDir, applog.Component(log, "storage"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	exitCode := doListProjects(ctx, store, os.Stdout, os.Stderr)
	store.Close()
	os.Exit(exitCode)
}

// doListProjects writes one block per stored project.
// Returns exit code (0 = success, 1 = error).
func doListProjects(ctx context.Context, store storage.ProjectStore, stdout, stderr io.Writer) int {
	projects, err := store.ListAuditProjects(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %s\n", utils.UserMessage(err))
		return 1
	}
	if len(projects) == 0 {
		fmt.Fprintln(stdout, "No audit projects stored.")
		return 0
	}

	fmt.Fprintf(stdout, "Audit projects (%d):\n\n", len(projects))
	for _, p := range projects {
		name := p.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(stdout, "  %s  %s\n", p.ID, name)
		fmt.Fprintf(stdout, "    Site: %s\n", p.SiteURL)
		fmt.Fprintf(stdout, "    Status: %s (%d%%)\n", p.Status, p.Progress)
		if p.TotalPages > 0 {
			fmt.Fprintf(stdout, "    Pages: %d, Links: %d, Images: %d\n", p.TotalPages, p.TotalLinks, p.TotalImages)
		}
		if p.Score != nil {
			fmt.Fprintf(stdout, "    SEO score: %.0f\n", *p.Score)
		}
		if p.ErrorMessage != "" {
			fmt.Fprintf(stdout, "    Error: %s\n", p.ErrorMessage)
		}
		fmt.Fprintln(stdout)
	}
	return 0
}
